package delivery

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ciphersync/internal/domain"
	"ciphersync/internal/metrics"
)

// DefaultConcurrency caps how many devices are sent to at once.
const DefaultConcurrency = 4

// ErrSendFailed is recorded for an address whose send the relay answered
// with FAILED.
var ErrSendFailed = errors.New("relay did not confirm send")

// Encryptor is the part of the cipher gateway delivery needs.
type Encryptor interface {
	EncryptFor(address domain.Address, plaintext []byte) (domain.CipherMessage, error)
}

// Orchestrator fans one logical message out to every device of a recipient.
type Orchestrator struct {
	sessions    domain.SessionSynchronizer
	cipher      Encryptor
	transport   domain.Transport
	messages    domain.MessageStore
	concurrency int
	log         *zap.Logger
}

// New constructs an Orchestrator. concurrency <= 0 uses DefaultConcurrency.
func New(
	sessions domain.SessionSynchronizer,
	cipher Encryptor,
	transport domain.Transport,
	messages domain.MessageStore,
	concurrency int,
	logger *zap.Logger,
) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions:    sessions,
		cipher:      cipher,
		transport:   transport,
		messages:    messages,
		concurrency: concurrency,
		log:         logger.Named("delivery"),
	}
}

// Send encrypts msg separately for every device of handle and transmits
// each copy. The outcome is delivered as soon as one device confirmed; an
// empty device list is not delivered. Failed devices are not retried here.
// The error is non-nil only when the device list itself could not be built.
func (o *Orchestrator) Send(
	ctx context.Context,
	local domain.Address,
	handle domain.Handle,
	msg domain.LocalMessage,
) (domain.DeliveryOutcome, error) {
	addrs, err := o.sessions.EnsureSessions(ctx, handle)
	if err != nil {
		return domain.DeliveryOutcome{}, err
	}

	results := make([]domain.AddressResult, len(addrs))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			results[i] = o.deliver(ctx, local, addr, msg)
			return nil
		})
	}
	_ = g.Wait()

	outcome := domain.DeliveryOutcome{Results: results}
	for _, r := range results {
		if r.Err == nil {
			outcome.Delivered = true
			break
		}
	}
	o.log.Debug("fan-out finished",
		zap.String("handle", handle.String()),
		zap.Int("devices", len(addrs)),
		zap.Bool("delivered", outcome.Delivered))
	return outcome, nil
}

func (o *Orchestrator) deliver(
	ctx context.Context,
	local, addr domain.Address,
	msg domain.LocalMessage,
) domain.AddressResult {
	res := domain.AddressResult{Address: addr}
	log := o.log.With(zap.Stringer("address", addr))

	cm, err := o.cipher.EncryptFor(addr, msg.Data)
	if err != nil {
		log.Warn("skip device: encrypt failed", zap.Error(err))
		res.Err = err
		metrics.DeliveryResults.WithLabelValues("failed").Inc()
		return res
	}

	env := domain.Envelope{
		Data:      cm,
		Type:      msg.Type,
		Timestamp: msg.Timestamp,
		FileInfo:  msg.FileInfo,
	}
	sent, err := o.transport.OutGoingMessage(ctx, local, addr, env)
	res.SentAt = sent
	switch {
	case err != nil:
		res.Err = errors.WithMessagef(err, "send to %s", addr)
	case !sent.Sent():
		res.Err = errors.Wrapf(ErrSendFailed, "%s", addr)
	}
	if res.Err != nil {
		log.Warn("send failed", zap.Error(res.Err))
		metrics.DeliveryResults.WithLabelValues("failed").Inc()
		return res
	}
	metrics.DeliveryResults.WithLabelValues("sent").Inc()
	return res
}

// Submit records msg as a SENDING message of the conversation with handle,
// sends it and promotes it to SENT when delivered. A message that stays
// SENDING is picked up again by the resend pass on the next connect.
// Storage failures are logged; the send still happens.
func (o *Orchestrator) Submit(
	ctx context.Context,
	local domain.Address,
	handle domain.Handle,
	msg domain.LocalMessage,
) (domain.LocalMessage, domain.DeliveryOutcome, error) {
	msg.Owner = domain.OwnerSelf
	msg.State = domain.StateSending
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	id, err := o.messages.SaveMessage(ctx, handle, msg)
	if err != nil {
		o.log.Error("save outgoing message", zap.String("handle", handle.String()), zap.Error(err))
	}
	msg.ID = id

	outcome, err := o.Send(ctx, local, handle, msg)
	if err != nil {
		return msg, outcome, err
	}
	if outcome.Delivered {
		msg.State = domain.StateSent
		if id != 0 {
			if err := o.messages.UpdateMessageState(ctx, id, domain.StateSent); err != nil {
				o.log.Error("mark message sent", zap.Int64("id", int64(id)), zap.Error(err))
			}
		}
	}
	return msg, outcome, nil
}

// Compile-time assertion that Orchestrator implements domain.Sender.
var _ domain.Sender = (*Orchestrator)(nil)
