package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
)

// New builds the process logger from the log section of the config.
func New(cfg config.LogConfig) (*logrus.Logger, error) {
	return NewWithOutput(cfg, os.Stderr)
}

func NewWithOutput(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(parsed)

	switch cfg.Format {
	case "", "console":
		logger.SetFormatter(&ConsoleFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	return logger, nil
}

// Discard returns a logger that drops everything, for tests and library
// callers that do not pass one.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ConsoleFormatter prints one compact line per entry:
// [15:04:05] [+] message key=value ...
type ConsoleFormatter struct{}

func (f *ConsoleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var symbol string
	switch entry.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		symbol = "[!]"
	case logrus.WarnLevel:
		symbol = "[~]"
	case logrus.InfoLevel:
		symbol = "[+]"
	default:
		symbol = "[*]"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "[%s] %s %s", entry.Time.Format("15:04:05"), symbol, entry.Message)

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			value := fmt.Sprint(entry.Data[k])
			if strings.ContainsAny(value, " \t\n") {
				value = fmt.Sprintf("%q", value)
			}
			fmt.Fprintf(&b, " %s=%s", k, value)
		}
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
