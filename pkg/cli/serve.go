package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepts224/AI-multi-model-assistant/pkg/analysis"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/api"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/pipeline"
	"github.com/sandeepts224/AI-multi-model-assistant/pkg/storage"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var addr string
	var driver string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis server",
		Long:  "Accept chunks over /ws/analyze and /analyze, analyze them with Gemini and keep per-recording feedback.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				deps.Config.Server.Address = addr
			}
			if driver != "" {
				deps.Config.Storage.Driver = driver
			}
			return runServe(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.address)")
	cmd.Flags().StringVar(&driver, "storage", "", "Storage driver: memory, badger or sqlite")

	return cmd
}

func runServe(ctx context.Context, deps *Dependencies) error {
	cfg := deps.Config
	log := deps.Log
	out := NewFormatter(deps.Out)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	analyzer, err := analysis.NewGeminiClient(ctx, cfg.Gemini, log)
	if err != nil {
		return err
	}

	pipelineManager := pipeline.NewManager(cfg.Pipeline, analyzer, store, log)
	if err := pipelineManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer pipelineManager.Stop()

	handlers := api.NewHandlers(pipelineManager, analyzer, store, cfg.Server, log)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handlers.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("address", cfg.Server.Address).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	out.ServerListening(cfg.Server.Address)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.WithField("stats", pipelineManager.Stats()).Info("Server exited")
	return nil
}
