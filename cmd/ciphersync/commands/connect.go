package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ciphersync/internal/app"
	"ciphersync/internal/metrics"
)

// connect: stay online, receive pushes and keep the session alive.
func connectCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Stay connected to the relay, receiving messages as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				metrics.Register(reg)
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 2 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						wire.Logger.Error("metrics server", zap.Error(err))
					}
				}()
				defer srv.Close()
			}

			err := wire.Run(ctx, func(ctx context.Context, c *app.Client) {
				fmt.Printf("Connected as %s\n", c.Local)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. :9101)")
	return cmd
}
