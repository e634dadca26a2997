package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aretw0/stepflow/internal/cli"
	httpAdapter "github.com/aretw0/stepflow/pkg/adapters/http"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serves flow instances as a JSON API with server-sent events for state changes.
With http.metrics_addr set, Prometheus metrics are served on a separate listener;
otherwise they are exposed at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		app, err := loadApp(sc, cmd)
		if err != nil {
			return err
		}
		defer app.Close(context.WithoutCancel(sc))

		opts := []httpAdapter.Option{
			httpAdapter.WithLogger(app.Logger),
			httpAdapter.WithVersion(app.Version),
		}
		var servers []*http.Server
		if app.Config.HTTP.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", app.Metrics.Handler())
			servers = append(servers, &http.Server{Addr: app.Config.HTTP.MetricsAddr, Handler: mux})
		} else {
			opts = append(opts, httpAdapter.WithMetrics(app.Metrics.Handler()))
		}
		api := &http.Server{
			Addr:              app.Config.HTTP.Addr,
			Handler:           httpAdapter.NewHandler(app.Manager, opts...),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append([]*http.Server{api}, servers...)

		g, ctx := errgroup.WithContext(sc)
		for _, srv := range servers {
			srv := srv
			g.Go(func() error {
				app.Logger.Info("listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		}
		g.Go(func() error {
			<-ctx.Done()
			app.Logger.Info("shutting down", "signal", sc.Signal())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			var errs []error
			for _, srv := range servers {
				if err := srv.Shutdown(shutdownCtx); err != nil {
					app.Logger.Warn("graceful shutdown did not complete", "addr", srv.Addr, "error", err)
					errs = append(errs, srv.Close())
				}
			}
			return errors.Join(errs...)
		})

		if err := g.Wait(); err != nil {
			return err
		}
		app.Logger.Info("server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
}
