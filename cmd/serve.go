package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/corpaction-cli/internal/api"
	"github.com/sells-group/corpaction-cli/internal/monitoring"
)

var (
	servePort       int
	serveNoSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, feed scheduler and alert checker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := newEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		handler := api.NewRouter(api.Deps{
			Store:         env.Store,
			Resolver:      env.Resolver,
			Reconcile:     env.Reconcile,
			Detector:      env.Detector,
			Syncer:        env.Syncer,
			Collector:     env.Collector,
			Admin:         env.Admin,
			Auth:          env.Auth,
			Calls:         env.Calls,
			LookbackHours: cfg.Monitoring.LookbackWindowHours,
		}, cfg.Server)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring, env.Admin.AlertPolicy)

		g, gctx := errgroup.WithContext(ctx)
		if !serveNoSchedule {
			g.Go(func() error { return env.Syncer.Run(gctx) })
		}
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			zap.L().Info("starting server",
				zap.Int("port", port),
				zap.Bool("auth", env.Auth.Enabled()),
				zap.Bool("scheduler", !serveNoSchedule),
			)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				stop()
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "do not sync sources in the background")
	rootCmd.AddCommand(serveCmd)
}
