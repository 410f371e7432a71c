package resend

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"ciphersync/internal/domain"
	"ciphersync/internal/metrics"
)

// ResendPolicy bounds the resend pass. MaxAttempts 0 means no bound;
// RatePerSecond 0 means no throttling.
type ResendPolicy struct {
	MaxAttempts   int
	RatePerSecond int
}

// Report summarises one Resume pass.
type Report struct {
	Pending   int
	Resent    int
	Delivered int
	Skipped   int
	Failed    int
}

// LocalAddresser resolves this device's own address.
type LocalAddresser interface {
	LocalAddress() (domain.Address, error)
}

// Resumer re-sends every message still in SENDING state. It runs once per
// connect.
type Resumer struct {
	local    LocalAddresser
	sender   domain.Sender
	messages domain.MessageStore
	policy   ResendPolicy
	limiter  ratelimit.Limiter
	log      *zap.Logger
}

// New constructs a Resumer.
func New(
	local LocalAddresser,
	sender domain.Sender,
	messages domain.MessageStore,
	policy ResendPolicy,
	logger *zap.Logger,
) *Resumer {
	limiter := ratelimit.NewUnlimited()
	if policy.RatePerSecond > 0 {
		limiter = ratelimit.New(policy.RatePerSecond, ratelimit.WithoutSlack)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resumer{
		local:    local,
		sender:   sender,
		messages: messages,
		policy:   policy,
		limiter:  limiter,
		log:      logger.Named("resend"),
	}
}

// Resume re-sends SENDING messages across all conversations and promotes
// the delivered ones to SENT. Messages already SENT are never touched, so
// running it twice only retries what is still pending.
func (r *Resumer) Resume(ctx context.Context) (Report, error) {
	var report Report

	local, err := r.local.LocalAddress()
	if err != nil {
		return report, errors.WithMessage(err, "resume")
	}
	pending, err := r.messages.QueryMessagesByState(ctx, domain.StateSending)
	if err != nil {
		return report, errors.WithMessage(err, "query sending messages")
	}
	report.Pending = len(pending)

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log := r.log.With(zap.Int64("id", int64(p.Message.ID)), zap.String("handle", p.Handle.String()))

		if r.policy.MaxAttempts > 0 && p.Message.Attempts >= r.policy.MaxAttempts {
			log.Warn("resend attempts exhausted", zap.Int("attempts", p.Message.Attempts))
			report.Skipped++
			continue
		}

		r.limiter.Take()
		if _, err := r.messages.RecordAttempt(ctx, p.Message.ID); err != nil {
			log.Warn("record resend attempt", zap.Error(err))
		}
		report.Resent++
		metrics.ResendAttempts.Inc()

		outcome, err := r.sender.Send(ctx, local, p.Handle, p.Message)
		if err != nil {
			log.Warn("resend failed", zap.Error(err))
			report.Failed++
			continue
		}
		if !outcome.Delivered {
			report.Failed++
			continue
		}
		report.Delivered++
		if err := r.messages.UpdateMessageState(ctx, p.Message.ID, domain.StateSent); err != nil {
			log.Error("mark message sent", zap.Error(err))
		}
	}

	r.log.Info("resend pass finished",
		zap.Int("pending", report.Pending),
		zap.Int("delivered", report.Delivered),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}
