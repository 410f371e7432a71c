package app

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ciphersync/internal/domain"
	"ciphersync/internal/relay"
	"ciphersync/internal/services/cipher"
	"ciphersync/internal/services/delivery"
	"ciphersync/internal/services/mailbox"
	"ciphersync/internal/services/prekey"
	"ciphersync/internal/services/resend"
	"ciphersync/internal/services/session"
)

// ErrProvisioning ends a session whose key material could not be published.
// Run does not reconnect after it.
var ErrProvisioning = errors.New("key provisioning failed")

// Components is every service built on top of one transport.
type Components struct {
	Provisioner  *prekey.Provisioner
	Synchronizer *session.Synchronizer
	Gateway      *cipher.Gateway
	Orchestrator *delivery.Orchestrator
	Reconciler   *mailbox.Reconciler
	Inbound      *mailbox.Inbound
	Resumer      *resend.Resumer
}

// Build wires the core services onto transport. Wire-level state (engine,
// message store, address locks) is shared across transports.
func (w *Wire) Build(transport domain.Transport) *Components {
	cfg := w.Config
	prov := prekey.New(w.Engine, transport, cfg.PreKeys.Batch, w.Logger)
	syn := session.New(w.Engine, transport, w.Locks, w.Logger)
	gw := cipher.New(w.Engine, transport, w.Messages, w.Locks,
		cipher.RecoveryPolicy{MaxRetries: cfg.Recovery.MaxRetries}, w.Logger)
	orch := delivery.New(syn, gw, transport, w.Messages, cfg.Delivery.Concurrency, w.Logger)
	rec := mailbox.New(transport, gw, w.Messages, w.Messages, w.Logger)
	res := resend.New(w.Engine, orch, w.Messages, resend.ResendPolicy{
		MaxAttempts:   cfg.Resend.MaxAttempts,
		RatePerSecond: cfg.Resend.RatePerSecond,
	}, w.Logger)
	return &Components{
		Provisioner:  prov,
		Synchronizer: syn,
		Gateway:      gw,
		Orchestrator: orch,
		Reconciler:   rec,
		Inbound:      mailbox.NewInbound(rec),
		Resumer:      res,
	}
}

// Client is one live relay connection with the services wired onto it.
type Client struct {
	*Components
	Transport *relay.Client
	Local     domain.Address

	log   *zap.Logger
	ready chan struct{}

	mu      sync.Mutex
	fatal   error
	stopped chan struct{}
	once    sync.Once
}

// Connect dials the relay as the registered account. Pushes that arrive
// before the services are wired wait for them.
func (w *Wire) Connect(ctx context.Context) (*Client, error) {
	profile, err := w.Profile()
	if err != nil {
		return nil, err
	}
	c := &Client{
		Local:   profile.Address,
		log:     w.Logger.Named("client").With(zap.Stringer("local", profile.Address)),
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
	}
	t, err := relay.Dial(ctx, profile, relay.Options{
		RequestTimeout:      w.Config.Relay.RequestTimeout,
		OnIncomingMessage:   c.onIncomingMessage,
		OnBundleRequirement: c.onBundleRequirement,
		Logger:              w.Logger,
	})
	if err != nil {
		return nil, err
	}
	c.Transport = t
	c.Components = w.Build(t)
	close(c.ready)
	return c, nil
}

func (c *Client) onIncomingMessage(ctx context.Context, sender domain.Address, env domain.Envelope) domain.IncomingAck {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return domain.IncomingAck{IsProcessed: false}
	}
	return c.Inbound.Accept(ctx, sender, env)
}

// onBundleRequirement publishes what the relay asks for. A failure ends the
// session: a device the relay cannot hand out bundles for is unreachable.
func (c *Client) onBundleRequirement(ctx context.Context, req domain.KeyBundleRequirement) {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return
	}
	if !req.Any() {
		return
	}
	if err := c.Provisioner.Provision(ctx, req); err != nil {
		c.log.Error("provisioning failed, closing", zap.Error(err))
		c.stop(errors.WithMessage(ErrProvisioning, err.Error()))
	}
}

// OnConnect runs the reconnect work: the pending-send resume pass and the
// mailbox reconcile pass, concurrently. Neither pass cancels the other.
// Failed mails stay in the local backlog and are retried on the next
// connect.
func (c *Client) OnConnect(ctx context.Context) (resend.Report, []domain.Mail, error) {
	var (
		report resend.Report
		failed []domain.Mail
	)
	err := runPasses(ctx,
		func(ctx context.Context) (err error) {
			report, err = c.Resumer.Resume(ctx)
			return errors.WithMessage(err, "resume pending sends")
		},
		func(ctx context.Context) (err error) {
			failed, err = c.Reconciler.Reconcile(ctx)
			return errors.WithMessage(err, "reconcile mailbox")
		},
	)
	c.log.Info("connect pass done",
		zap.Int("pending", report.Pending),
		zap.Int("resent", report.Resent),
		zap.Int("delivered", report.Delivered),
		zap.Int("mail_failed", len(failed)),
		zap.Error(err))
	return report, failed, err
}

// runPasses runs every pass concurrently on ctx and combines their errors.
// A failing pass does not cancel the others.
func runPasses(ctx context.Context, passes ...func(context.Context) error) error {
	errs := make([]error, len(passes))
	var g errgroup.Group
	for i, pass := range passes {
		i, pass := i, pass
		g.Go(func() error {
			errs[i] = pass(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return multierr.Combine(errs...)
}

// Send is the user send path for one message to handle.
func (c *Client) Send(ctx context.Context, handle domain.Handle, msg domain.LocalMessage) (domain.LocalMessage, domain.DeliveryOutcome, error) {
	return c.Orchestrator.Submit(ctx, c.Local, handle, msg)
}

// Wait blocks until the connection drops, the session is stopped or ctx is
// done, and returns the reason.
func (c *Client) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return c.err()
	case <-c.Transport.Done():
		// stop closes stopped before the transport.
		select {
		case <-c.stopped:
			return c.err()
		default:
		}
		if err := c.Transport.Err(); err != nil {
			return err
		}
		return relay.ErrClosed
	}
}

func (c *Client) stop(reason error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.fatal = reason
		c.mu.Unlock()
		close(c.stopped)
		_ = c.Transport.Close()
	})
}

func (c *Client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Close ends the session.
func (c *Client) Close() error {
	c.stop(nil)
	return nil
}
