package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	httpAdapter "github.com/aretw0/mealycache/internal/adapters/http"
	"github.com/aretw0/mealycache/internal/cli"
	"github.com/aretw0/mealycache/pkg/persistence/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only inspection API",
	Long:  `Builds the caching stack from the configuration, warms it from the store and serves /stats, /lookup, /observations, /majority and /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, baseDir, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Serve.Addr = addr
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		stack, backend, err := cli.BuildStack(ctx, cfg, baseDir, logger, reg)
		if err != nil {
			return err
		}
		defer backend.Close()

		store := stack.Store()
		if store != nil {
			store = middleware.NewReadOnlyMiddleware()(store)
		}

		srv := &http.Server{
			Addr: cfg.Serve.Addr,
			Handler: httpAdapter.NewHandler(&httpAdapter.Server{
				Cache:    stack.Cache(),
				Store:    store,
				Gatherer: reg,
				Logger:   logger,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("inspection API listening", "addr", srv.Addr, "store", cfg.Store.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
			logger.Info("shutting down", "signal", ctx.Signal())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown did not complete", "error", err)
				return srv.Close()
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Listen address (overrides serve.addr)")
}
