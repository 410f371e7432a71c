package app

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ciphersync/internal/domain"
)

func (w *Wire) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if w.Config.Relay.Reconnect.Initial > 0 {
		b.InitialInterval = w.Config.Relay.Reconnect.Initial
	}
	if w.Config.Relay.Reconnect.Max > 0 {
		b.MaxInterval = w.Config.Relay.Reconnect.Max
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run keeps a session to the relay alive until ctx is done. Every new
// connection runs OnConnect, then onSession when set. Lost connections are
// redialled with exponential backoff; a provisioning failure or a missing
// account ends Run.
func (w *Wire) Run(ctx context.Context, onSession func(context.Context, *Client)) error {
	log := w.Logger.Named("run")
	b := w.newBackOff()
	for {
		var c *Client
		err := backoff.RetryNotify(func() error {
			var err error
			c, err = w.Connect(ctx)
			if errors.Is(err, domain.ErrNoAccount) {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
			log.Warn("connect failed", zap.Error(err), zap.Duration("retry_in", next))
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		b.Reset()

		if _, _, err := c.OnConnect(ctx); err != nil {
			log.Warn("connect pass incomplete", zap.Error(err))
		}
		if onSession != nil {
			onSession(ctx, c)
		}

		err = c.Wait(ctx)
		_ = c.Close()
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrProvisioning):
			return err
		}
		log.Warn("connection lost, reconnecting", zap.Error(err))
	}
}
