package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/api"
	"github.com/sells-group/catchment-cli/internal/metrics"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves upstream resolution, forest-change statistics, run history and Prometheus metrics over HTTP.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		m := metrics.New()
		env, err := initEnv(ctx, m)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := api.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Defaults: api.Defaults{
				Level:          cfg.Analysis.DefaultLevel,
				Threshold:      cfg.Analysis.DefaultThreshold,
				StartYear:      cfg.Analysis.DefaultStartYear,
				EndYear:        cfg.Analysis.DefaultEndYear,
				MaxChartBasins: cfg.Analysis.MaxChartBasins,
			},
			Metrics: m.Handler(),
		}
		if env.Runs != nil {
			opts.Runs = env.Runs
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.New(env.Service, opts).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
