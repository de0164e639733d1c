package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
)

func TestConsoleFormatterSortsFields(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, err := NewWithOutput(config.LogConfig{Level: "debug", Format: "console"}, &out)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.WithFields(logrus.Fields{"media_type": "audio", "chunk_id": "c1", "detail": "two words"}).Warn("send failed")

	line := out.String()
	if !strings.Contains(line, "[~] send failed") {
		t.Fatalf("missing level symbol or message: %q", line)
	}
	if !strings.Contains(line, `chunk_id=c1 detail="two words" media_type=audio`) {
		t.Fatalf("fields not sorted or quoted: %q", line)
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	t.Parallel()

	if _, err := NewWithOutput(config.LogConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected invalid level error")
	}
	if _, err := NewWithOutput(config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected invalid format error")
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, err := NewWithOutput(config.LogConfig{Level: "warn", Format: "json"}, &out)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("hidden")
	logger.Error("shown")

	if strings.Contains(out.String(), "hidden") {
		t.Fatalf("info entry should be filtered: %q", out.String())
	}
	if !strings.Contains(out.String(), `"msg":"shown"`) {
		t.Fatalf("expected json error entry: %q", out.String())
	}
}
