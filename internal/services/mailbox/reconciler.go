package mailbox

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ciphersync/internal/domain"
	"ciphersync/internal/metrics"
)

// Reconciler drains the relay mailbox after a (re)connect and the Inbound
// handler processes live pushes. Both decrypt through the cipher gateway and
// persist plaintext as UNKNOWN-state partner messages.
type Reconciler struct {
	transport domain.Transport
	cipher    domain.CipherGateway
	messages  domain.MessageStore
	backlog   domain.MailBacklog
	log       *zap.Logger
}

// New constructs a Reconciler. With a nil backlog, mails that fail are only
// reported back to the caller.
func New(
	transport domain.Transport,
	cipher domain.CipherGateway,
	messages domain.MessageStore,
	backlog domain.MailBacklog,
	logger *zap.Logger,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		transport: transport,
		cipher:    cipher,
		messages:  messages,
		backlog:   backlog,
		log:       logger.Named("mailbox"),
	}
}

// Reconcile drains the relay mailbox and processes every held mail in
// arrival order. Drained mails are held locally before anything is
// decrypted, and a mail is released only once processed, so mails that fail
// are retried on the next pass. A failing mail does not stop the ones after
// it. The failed mails of this pass are returned.
func (r *Reconciler) Reconcile(ctx context.Context) ([]domain.Mail, error) {
	fresh, err := r.transport.CheckMailbox(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "check mailbox")
	}

	queue, err := r.stage(ctx, fresh)
	if err != nil {
		return nil, err
	}

	var failed []domain.Mail
	for _, held := range queue {
		mail := held.Mail
		stored, err := r.accept(ctx, mail.Sender, mail.Message)
		if err != nil {
			failed = append(failed, mail)
			continue
		}
		if held.ID != 0 {
			if err := r.backlog.ReleaseMail(ctx, held.ID); err != nil {
				r.log.Error("release held mail", zap.Int64("id", held.ID), zap.Error(err))
			}
		}
		if stored {
			if err := r.transport.AcknowledgeReceipt(ctx, mail.Sender.Handle); err != nil {
				r.log.Warn("acknowledge receipt", zap.Stringer("sender", mail.Sender), zap.Error(err))
			}
		}
	}

	r.log.Info("mailbox reconciled",
		zap.Int("fresh", len(fresh)),
		zap.Int("mails", len(queue)),
		zap.Int("failed", len(failed)),
	)
	return failed, nil
}

// stage holds the fresh mails and returns the whole backlog. When the
// backlog cannot take them the fresh mails are processed from memory with a
// zero id; the relay has already forgotten them.
func (r *Reconciler) stage(ctx context.Context, fresh []domain.Mail) ([]domain.HeldMail, error) {
	inMemory := func() []domain.HeldMail {
		out := make([]domain.HeldMail, len(fresh))
		for i, m := range fresh {
			out[i] = domain.HeldMail{Mail: m}
		}
		return out
	}
	if r.backlog == nil {
		return inMemory(), nil
	}
	if err := r.backlog.HoldMails(ctx, fresh); err != nil {
		r.log.Error("hold drained mails", zap.Int("mails", len(fresh)), zap.Error(err))
		return inMemory(), nil
	}
	queue, err := r.backlog.HeldMails(ctx)
	if err != nil {
		// The fresh mails are held and will be picked up next pass.
		return nil, errors.WithMessage(err, "list held mails")
	}
	return queue, nil
}

// accept decrypts and stores one envelope. stored is false for EMPTY messages,
// which are consumed without being persisted.
func (r *Reconciler) accept(ctx context.Context, sender domain.Address, env domain.Envelope) (stored bool, err error) {
	log := r.log.With(zap.Stringer("sender", sender), zap.Stringer("type", env.Type))

	msg, err := r.cipher.Receive(ctx, sender, env)
	if err != nil {
		log.Warn("decrypt failed", zap.Error(err))
		metrics.MailboxProcessed.WithLabelValues("failed").Inc()
		return false, err
	}
	if msg == nil {
		metrics.MailboxProcessed.WithLabelValues("processed").Inc()
		return false, nil
	}

	if _, err := r.messages.SaveMessage(ctx, sender.Handle, *msg); err != nil {
		// The session has already advanced past this message.
		log.Error("persist inbound message", zap.Error(err))
		metrics.MailboxProcessed.WithLabelValues("failed").Inc()
		return false, errors.WithMessage(err, "persist inbound message")
	}
	metrics.MailboxProcessed.WithLabelValues("processed").Inc()
	return true, nil
}

// Inbound handles inComingMessage pushes from the relay.
type Inbound struct {
	r *Reconciler
}

// NewInbound returns the live push handler sharing r's collaborators.
func NewInbound(r *Reconciler) *Inbound { return &Inbound{r: r} }

// Accept decrypts and stores one pushed envelope. IsProcessed false tells
// the relay to keep the message in the mailbox.
func (in *Inbound) Accept(ctx context.Context, sender domain.Address, env domain.Envelope) domain.IncomingAck {
	_, err := in.r.accept(ctx, sender, env)
	return domain.IncomingAck{IsProcessed: err == nil}
}
