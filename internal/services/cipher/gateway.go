package cipher

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ciphersync/internal/domain"
	"ciphersync/internal/metrics"
	"ciphersync/internal/util/addrlock"
)

// RecoveryPolicy bounds the recovery handshake. MaxRetries is how many
// times the original message is decrypted again after the single EMPTY message.
type RecoveryPolicy struct {
	MaxRetries int
}

// DefaultRecoveryPolicy retries once.
func DefaultRecoveryPolicy() RecoveryPolicy { return RecoveryPolicy{MaxRetries: 1} }

// Gateway encrypts and decrypts for single addresses and repairs diverged
// sessions with an EMPTY message.
type Gateway struct {
	engine    domain.SessionEngine
	transport domain.Transport
	messages  domain.MessageStore
	locks     *addrlock.Locker[domain.Address]
	policy    RecoveryPolicy
	log       *zap.Logger
}

// New constructs a Gateway. locks must be the same Locker the session
// synchronizer uses.
func New(
	engine domain.SessionEngine,
	transport domain.Transport,
	messages domain.MessageStore,
	locks *addrlock.Locker[domain.Address],
	policy RecoveryPolicy,
	logger *zap.Logger,
) *Gateway {
	if policy.MaxRetries < 1 {
		policy.MaxRetries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		engine:    engine,
		transport: transport,
		messages:  messages,
		locks:     locks,
		policy:    policy,
		log:       logger.Named("cipher"),
	}
}

// EncryptFor encrypts plaintext on the existing session with address. The
// message type is whatever the engine emits.
func (g *Gateway) EncryptFor(address domain.Address, plaintext []byte) (domain.CipherMessage, error) {
	unlock := g.locks.Lock(address)
	defer unlock()

	msg, err := g.engine.Encrypt(address, plaintext)
	if err != nil {
		return domain.CipherMessage{}, errors.WithMessagef(err, "encrypt for %s", address)
	}
	return msg, nil
}

// DecryptFrom decrypts message from address. A PREKEY message on a
// conversation that already has history yields RecoveryNeeded without
// touching the session.
func (g *Gateway) DecryptFrom(
	ctx context.Context,
	address domain.Address,
	message domain.CipherMessage,
) domain.DecryptOutcome {
	switch message.Type {
	case domain.CipherPreKey:
		// Without the history a PREKEY message could replace a live session,
		// so a failed lookup leaves the message undecrypted.
		has, err := g.messages.HasMessages(ctx, address.Handle)
		if err != nil {
			g.log.Warn("history lookup failed", zap.Stringer("address", address), zap.Error(err))
			return domain.Failed{Reason: errors.WithMessage(err, "history lookup")}
		}
		if has {
			return domain.RecoveryNeeded{}
		}
	case domain.CipherStandard:
	default:
		return domain.Failed{Reason: errors.Wrapf(domain.ErrCorruptCipher, "cipher type %d", message.Type)}
	}
	return g.decrypt(address, message)
}

func (g *Gateway) decrypt(address domain.Address, message domain.CipherMessage) domain.DecryptOutcome {
	unlock := g.locks.Lock(address)
	defer unlock()

	pt, err := g.engine.Decrypt(address, message)
	if err != nil {
		return domain.Failed{Reason: err}
	}
	return domain.Plaintext(pt)
}

// Open decrypts message from sender, running the recovery handshake when
// the session has diverged.
func (g *Gateway) Open(ctx context.Context, sender domain.Address, message domain.CipherMessage) ([]byte, error) {
	switch out := g.DecryptFrom(ctx, sender, message).(type) {
	case domain.Plaintext:
		return out, nil
	case domain.Failed:
		return nil, out.Reason
	case domain.RecoveryNeeded:
		return g.recover(ctx, sender, message)
	default:
		return nil, errors.Errorf("unexpected decrypt outcome %T", out)
	}
}

// recover sends one EMPTY message back to sender, then decrypts the original
// message again, skipping the history check, at most policy.MaxRetries times.
func (g *Gateway) recover(ctx context.Context, sender domain.Address, message domain.CipherMessage) ([]byte, error) {
	log := g.log.With(zap.Stringer("address", sender))
	log.Info("session diverged, sending recovery message")

	local, err := g.engine.LocalAddress()
	if err != nil {
		return nil, errors.WithMessage(err, "recovery: local address")
	}
	empty, err := g.EncryptFor(sender, nil)
	if err != nil {
		return nil, errors.WithMessage(err, "recovery")
	}
	env := domain.Envelope{Data: empty, Type: domain.MessageEmpty, Timestamp: time.Now().UTC()}
	if res, err := g.transport.OutGoingMessage(ctx, local, sender, env); err != nil {
		return nil, errors.WithMessage(err, "recovery: send")
	} else if !res.Sent() {
		log.Warn("recovery message not acknowledged")
	}

	var last error
	for i := 0; i < g.policy.MaxRetries; i++ {
		switch out := g.decrypt(sender, message).(type) {
		case domain.Plaintext:
			metrics.RecoveryHandshakes.WithLabelValues("recovered").Inc()
			log.Info("session recovered", zap.Int("retries", i+1))
			return out, nil
		case domain.Failed:
			last = out.Reason
		}
	}
	metrics.RecoveryHandshakes.WithLabelValues("unrecoverable").Inc()
	log.Warn("recovery failed", zap.Error(last))
	return nil, errors.Wrapf(domain.ErrUnrecoverable, "%s: %v", sender, last)
}

// Receive decrypts an inbound envelope into a local message owned by the
// partner. EMPTY messages decrypt (advancing the session) but return nil.
func (g *Gateway) Receive(
	ctx context.Context,
	sender domain.Address,
	envelope domain.Envelope,
) (*domain.LocalMessage, error) {
	pt, err := g.Open(ctx, sender, envelope.Data)
	if err != nil {
		return nil, err
	}
	if envelope.Type == domain.MessageEmpty {
		return nil, nil
	}
	return &domain.LocalMessage{
		Owner:     domain.OwnerPartner,
		Data:      pt,
		Type:      envelope.Type,
		Timestamp: envelope.Timestamp,
		FileInfo:  envelope.FileInfo,
		State:     domain.StateUnknown,
	}, nil
}

// Compile-time assertion that Gateway implements domain.CipherGateway.
var _ domain.CipherGateway = (*Gateway)(nil)
