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

	_ "GraderUsageETL/docs"
	"GraderUsageETL/internal/app"
	"GraderUsageETL/internal/auth"
	"GraderUsageETL/internal/config"
	"GraderUsageETL/internal/handler"
	"GraderUsageETL/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	var configPath, addr string

	cmd := &cobra.Command{
		Use:          "api",
		Short:        "Serve the grader usage ETL HTTP API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if err := errors.Join(cfg.Validate(), cfg.ValidateServer()); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			zlog, closeLog, err := logger.New(logger.Options{Dir: cfg.Logging.Dir, Level: cfg.Logging.Level})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer closeLog()

			if err := run(cmd.Context(), cfg, zlog); err != nil {
				zlog.Error("API server stopped with error", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config/etl.yaml", "path to the YAML configuration")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides SERVER_ADDR")
	return cmd
}

// @title                       Grader usage ETL API
// @version                     1.0
// @description                 Warehouse statistics, run history and run triggering for the grader usage ETL.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(parent context.Context, cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logFile := logger.LogFilePath(cfg.Logging.Dir, time.Now())
	a, err := app.New(ctx, cfg, zlog, logFile)
	if err != nil {
		return err
	}
	defer a.Close()

	issuer, err := auth.NewIssuer(cfg.Server.JWTSecret, 24*time.Hour)
	if err != nil {
		return err
	}

	hub := handler.NewHub(zlog)
	a.Pipeline.Observe(hub.Publish)

	// Runs started over HTTP keep going until shutdown, not until the request ends.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	h := handler.New(runCtx, handler.Deps{
		Issuer:  issuer,
		Admin:   handler.Admin{Username: cfg.Server.AdminUsername, PasswordHash: cfg.Server.AdminPasswordHash},
		Stats:   a.Warehouse,
		Runs:    a.State,
		Runner:  a.Pipeline,
		Resolve: a.ResolveWindow,
		Hub:     hub,
	}, zlog)

	router := handler.NewRouter(h, handler.RouterOptions{
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
	}, zlog)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("API server listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	zlog.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	hub.Close()
	err = srv.Shutdown(shutdownCtx)
	cancelRuns()
	h.Wait()
	return err
}
