package main

import (
	"context"
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

	"ciphersync/internal/metrics"
	"ciphersync/internal/relay"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		addr     string
		lowWater int
		pushWait time.Duration
		dev      bool
	)
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "In-memory development relay for ciphersync",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(dev)
			if err != nil {
				return err
			}
			defer log.Sync()

			reg := prometheus.NewRegistry()
			metrics.Register(reg)

			srv := relay.NewServer(relay.ServerOptions{
				PushTimeout:    pushWait,
				PreKeyLowWater: lowWater,
				Logger:         log,
			})

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			mux.Handle("/ws", srv)

			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 2 * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdown)
			}()

			log.Info("relay listening", zap.String("addr", addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server error", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().IntVar(&lowWater, "prekey-low-water", relay.DefaultPreKeyLowWater, "ask devices for more one-time prekeys below this count")
	cmd.Flags().DurationVar(&pushWait, "push-timeout", relay.DefaultPushTimeout, "how long a live push waits before falling back to the mailbox")
	cmd.Flags().BoolVar(&dev, "dev", false, "human-readable development logging")
	return cmd
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
