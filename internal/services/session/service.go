package session

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ciphersync/internal/domain"
	"ciphersync/internal/util/addrlock"
)

// Synchronizer makes sure every known device of a handle has a session
// before anything is encrypted for it.
//
// For each address the relay lists it:
//   - checks the engine for an existing session,
//   - fetches a prekey bundle from the relay when there is none,
//   - runs X3DH through the engine to establish one,
//   - re-checks that the session now exists.
//
// All of this happens under the address lock shared with the cipher
// gateway, so a concurrent encrypt or decrypt never sees half a session.
type Synchronizer struct {
	engine    domain.SessionEngine
	transport domain.Transport
	locks     *addrlock.Locker[domain.Address]
	log       *zap.Logger
}

// New constructs a Synchronizer.
func New(
	engine domain.SessionEngine,
	transport domain.Transport,
	locks *addrlock.Locker[domain.Address],
	logger *zap.Logger,
) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		engine:    engine,
		transport: transport,
		locks:     locks,
		log:       logger.Named("session"),
	}
}

// EnsureSessions returns every address of handle, establishing sessions
// where they are missing. Per-address failures are logged and do not stop
// the loop; callers learn about them from the delivery outcome.
func (s *Synchronizer) EnsureSessions(ctx context.Context, handle domain.Handle) ([]domain.Address, error) {
	addrs, err := s.transport.GetAddresses(ctx, handle)
	if err != nil {
		return nil, errors.WithMessagef(err, "get addresses of %s", handle)
	}
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return addrs, err
		}
		s.ensure(ctx, addr)
	}
	return addrs, nil
}

func (s *Synchronizer) ensure(ctx context.Context, addr domain.Address) {
	unlock := s.locks.Lock(addr)
	defer unlock()

	log := s.log.With(zap.Stringer("address", addr))

	// Re-checked under the lock: another caller may have just established it.
	has, err := s.engine.HasSession(addr)
	if err != nil {
		log.Warn("session lookup failed", zap.Error(err))
		return
	}
	if has {
		return
	}

	bundle, err := s.transport.GetPreKeyBundle(ctx, addr)
	if err != nil {
		if errors.Is(err, domain.ErrBundleNotFound) {
			log.Info("no prekey bundle published")
		} else {
			log.Warn("fetch prekey bundle", zap.Error(err))
		}
		return
	}

	if err := s.engine.EstablishSession(addr, bundle); err != nil {
		if errors.Is(err, domain.ErrInvalidBundle) {
			log.Warn("rejected prekey bundle", zap.Error(err))
		} else {
			log.Error("establish session", zap.Error(err))
		}
		return
	}

	if has, err := s.engine.HasSession(addr); err != nil || !has {
		log.Error("session missing after establish", zap.Error(err))
		return
	}
	log.Info("session established")
}

// Compile-time assertion that Synchronizer implements domain.SessionSynchronizer.
var _ domain.SessionSynchronizer = (*Synchronizer)(nil)
