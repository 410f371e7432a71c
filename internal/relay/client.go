package relay

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ciphersync/internal/domain"
	"ciphersync/internal/metrics"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

// IncomingHandler handles an inComingMessage push. Its answer tells the relay
// whether to drop the message or keep it in the mailbox.
type IncomingHandler func(ctx context.Context, sender domain.Address, env domain.Envelope) domain.IncomingAck

// RequirementHandler handles a bundleRequirement push.
type RequirementHandler func(ctx context.Context, req domain.KeyBundleRequirement)

// Options tunes a Client. Push handlers are fixed at dial time because the
// relay may push as soon as the connection is up.
type Options struct {
	RequestTimeout      time.Duration
	WriteTimeout        time.Duration
	OnIncomingMessage   IncomingHandler
	OnBundleRequirement RequirementHandler
	Logger              *zap.Logger
}

// Client is the websocket implementation of domain.Transport.
type Client struct {
	p       *peer
	address domain.Address
	timeout time.Duration
	opts    Options
	logger  *zap.Logger
}

var _ domain.Transport = (*Client)(nil)

// Dial connects to the relay at profile.ServerURL as profile.Address.
func Dial(ctx context.Context, profile domain.AccountProfile, opts Options) (*Client, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("relay").With(zap.Stringer("local", profile.Address))

	u, err := url.Parse(profile.ServerURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse relay url %q", profile.ServerURL)
	}
	q := u.Query()
	q.Set(paramName, profile.Address.Handle.String())
	q.Set(paramDeviceID, strconv.FormatUint(uint64(profile.Address.DeviceID), 10))
	q.Set(paramRegistrationID, strconv.FormatUint(uint64(profile.RegistrationID), 10))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", profile.ServerURL)
	}
	c := &Client{
		address: profile.Address,
		timeout: opts.RequestTimeout,
		opts:    opts,
		logger:  logger,
	}
	c.p = newPeer(ws, opts.WriteTimeout, c.handlePush, logger)
	c.p.start()
	logger.Info("connected", zap.String("url", profile.ServerURL))
	return c, nil
}

// Address is the address this connection speaks for.
func (c *Client) Address() domain.Address { return c.address }

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} { return c.p.done() }

// Err reports why the connection ended; nil while it is up or after Close.
func (c *Client) Err() error { return c.p.cause() }

// Close shuts the connection down.
func (c *Client) Close() error {
	_ = c.p.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.p.close(nil)
	return nil
}

func (c *Client) call(ctx context.Context, event string, args any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	timer := prometheus.NewTimer(metrics.RelayRequestSeconds.WithLabelValues(event))
	defer timer.ObserveDuration()
	return errors.WithMessage(c.p.request(ctx, event, args, result), "relay")
}

func (c *Client) CheckMailbox(ctx context.Context) ([]domain.Mail, error) {
	var mails []domain.Mail
	if err := c.call(ctx, EventCheckMailbox, struct{}{}, &mails); err != nil {
		return nil, err
	}
	return mails, nil
}

func (c *Client) UploadIdentityKey(ctx context.Context, key domain.IdentityKey) (bool, error) {
	var ok bool
	err := c.call(ctx, EventUploadIdentityKey, key, &ok)
	return ok, err
}

func (c *Client) UploadSignedPreKey(ctx context.Context, key domain.SignedPreKey) (bool, error) {
	var ok bool
	err := c.call(ctx, EventUploadSignedPreKey, key, &ok)
	return ok, err
}

func (c *Client) UploadPreKeys(ctx context.Context, keys []domain.OneTimePreKey) (bool, error) {
	var ok bool
	err := c.call(ctx, EventUploadPreKeys, keys, &ok)
	return ok, err
}

func (c *Client) GetAddresses(ctx context.Context, handle domain.Handle) ([]domain.Address, error) {
	var addrs []domain.Address
	if err := c.call(ctx, EventGetAddresses, handleArgs{Name: handle}, &addrs); err != nil {
		return nil, err
	}
	return addrs, nil
}

// GetPreKeyBundle returns domain.ErrBundleNotFound when the relay answers null.
func (c *Client) GetPreKeyBundle(ctx context.Context, address domain.Address) (domain.PreKeyBundle, error) {
	var bundle *domain.PreKeyBundle
	if err := c.call(ctx, EventGetPreKeyBundle, address, &bundle); err != nil {
		return domain.PreKeyBundle{}, err
	}
	if bundle == nil {
		return domain.PreKeyBundle{}, errors.Wrapf(domain.ErrBundleNotFound, "%s", address)
	}
	return *bundle, nil
}

func (c *Client) OutGoingMessage(
	ctx context.Context,
	from domain.Address,
	to domain.Address,
	envelope domain.Envelope,
) (domain.SendResult, error) {
	var res domain.SendResult
	err := c.call(ctx, EventOutGoingMessage, outGoingArgs{From: from, To: to, Message: envelope}, &res)
	return res, err
}

func (c *Client) AcknowledgeReceipt(ctx context.Context, handle domain.Handle) error {
	return c.call(ctx, EventAcknowledgeReceipt, handleArgs{Name: handle}, nil)
}

func (c *Client) handlePush(ctx context.Context, event string, args json.RawMessage) (any, error) {
	switch event {
	case EventInComingMessage:
		var in inComingArgs
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, errors.Wrap(err, "decode inComingMessage")
		}
		if c.opts.OnIncomingMessage == nil {
			return domain.IncomingAck{IsProcessed: false}, nil
		}
		return c.opts.OnIncomingMessage(ctx, in.Sender, in.Message), nil
	case EventBundleRequirement:
		var req domain.KeyBundleRequirement
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, errors.Wrap(err, "decode bundleRequirement")
		}
		if c.opts.OnBundleRequirement != nil {
			c.opts.OnBundleRequirement(ctx, req)
		}
		return nil, nil
	default:
		c.logger.Warn("unknown push", zap.String("event", event))
		return nil, errors.Errorf("unknown event %q", event)
	}
}
