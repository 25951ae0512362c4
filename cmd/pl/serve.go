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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"pressline/internal/app"
	"pressline/internal/config"
	"pressline/internal/logging"
	"pressline/internal/server"
	"pressline/internal/webhook"
	"pressline/internal/worker"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noSweeper, allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the HTTP API and runs the background workers: the scheduled-publication sweeper and, when webhooks are configured, the webhook dispatcher.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: "stderr"})
			if err != nil {
				return err
			}
			defer logger.Sync()

			e, conn, err := app.Open(workspace, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PRESSLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowActorHeader,
				Logger:                 logger.Named("auth"),
			}
			if authCfg.JWTSecret == "" {
				logger.Warn("PRESSLINE_JWT_SECRET is not set; bearer tokens are rejected and only API keys authenticate")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			workers := worker.NewManager(logger)
			if !noSweeper {
				workers.Register(worker.NewSweepScheduler(e, cfg.SweepInterval(), logger.Named("sweeper")))
			}
			if len(cfg.Webhooks) > 0 {
				workers.Register(webhook.NewDispatcher(e.Repo, cfg.Webhooks, logger.Named("webhook")))
			}
			if err := workers.StartAll(ctx); err != nil {
				return fmt.Errorf("start workers: %w", err)
			}
			defer workers.StopAll()

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("server shutdown", zap.Error(err))
				}
			}()
			logger.Info("serving Pressline API",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.Int("workers", workers.Count()),
			)
			fmt.Printf("Serving Pressline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&noSweeper, "no-sweeper", false, "do not run the scheduled-publication sweeper")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept the unauthenticated X-Actor-Id header (local development only)")
	return cmd
}
