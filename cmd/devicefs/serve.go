package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/devicefs/ftp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var listen []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the FTP command server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if len(listen) > 0 {
				cfg.Server.Listen = listen
			}

			fsys, err := cfg.OpenStorage()
			if err != nil {
				return err
			}
			pool, err := cfg.NewPool()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := ftp.NewServer(cfg.FTP(), fsys, pool)
			if err := srv.Start(ctx); err != nil {
				return err
			}

			var metrics *http.Server
			if cfg.Server.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(srv.Metrics().Registry(), promhttp.HandlerOpts{}))
				metrics = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logrus.WithFields(logrus.Fields{
							"function": "serve",
							"address":  cfg.Server.MetricsAddr,
							"error":    err.Error(),
						}).Error("Metrics endpoint failed")
					}
				}()
			}

			<-ctx.Done()

			if metrics != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				metrics.Shutdown(shutdownCtx)
			}
			return srv.Stop()
		},
	}

	cmd.Flags().StringSliceVar(&listen, "listen", nil, "Control listen addresses (overrides server.listen)")
	return cmd
}
