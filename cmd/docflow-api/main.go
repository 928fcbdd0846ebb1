package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/z-wentao/docflow/pkg/api"
	"github.com/z-wentao/docflow/pkg/bootstrap"
	"github.com/z-wentao/docflow/pkg/config"
	"github.com/z-wentao/docflow/pkg/logging"
)

const (
	shutdownTimeout = 30 * time.Second
	ledgerCleanup   = time.Hour
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "docflow-api",
		Short:         "HTTP front end for the document conversion queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file path; defaults and DOCFLOW_* environment apply without one")

	return cmd
}

func run(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	go bootstrap.CleanupLedger(ctx, app.Store, ledgerCleanup, logger)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewServer(app.Processor, app.Store, cfg.Server.MaxUploadSize, logger).Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Int("port", cfg.Server.Port).
			Int("workers", cfg.Queue.Workers).
			Str("converter", cfg.Converter.Type).
			Str("storage", cfg.Storage.Type).
			Msg("docflow listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var listenErr error
	select {
	case <-ctx.Done():
	case listenErr = <-serveErr:
		if listenErr != nil {
			logger.Error().Err(listenErr).Msg("http server failed")
		}
	}

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := app.Close(shutdownCtx); err != nil {
		return err
	}

	logger.Info().Msg("docflow stopped")
	return listenErr
}
