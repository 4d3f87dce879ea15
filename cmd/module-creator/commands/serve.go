package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/module-creator/internal/api"
	"github.com/spherical/module-creator/pkg/creator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP server that accepts uploads, reports progress over SSE and serves the current document.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := creator.NewClientWithConfig(cfg, creator.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("cleanup failed")
		}
	}()

	srv := api.NewServer(logger, client.Controller(), client.Broker(), api.Config{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RunContext:     ctx,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(srv),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	// Ends open event streams so Shutdown does not wait on them.
	server.RegisterOnShutdown(func() { _ = client.Broker().Close() })

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("model", cfg.LLM.Model).
			Str("extractor", cfg.Extractor.Backend).
			Msg("starting module-creator server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
