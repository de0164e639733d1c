package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/config"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/logging"
)

// Dependencies are filled in lazily before any subcommand runs, so tests can
// inject a config, logger or output.
type Dependencies struct {
	Config *config.Config
	Log    *logrus.Logger
	In     io.Reader
	Out    io.Writer
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	var configPath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "media-analyzer",
		Short: "Stream audio and screen captures to a model for live analysis",
		Long: "Capture microphone audio and the screen in timesliced chunks, send them to the analysis\n" +
			"server and print the model's running description of each chunk.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return deps.init(configPath, logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MEDIA_ANALYZER_CONFIG"), "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewCaptureCmd(deps))
	rootCmd.AddCommand(NewRecordingsCmd(deps))

	return rootCmd
}

func (d *Dependencies) init(configPath, logLevel string) error {
	if d.Config == nil {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		d.Config = cfg
	}
	if logLevel != "" {
		d.Config.Log.Level = logLevel
	}
	if d.Log == nil {
		log, err := logging.New(d.Config.Log)
		if err != nil {
			return err
		}
		d.Log = log
	}
	if d.In == nil {
		d.In = os.Stdin
	}
	if d.Out == nil {
		d.Out = os.Stdout
	}
	return nil
}
