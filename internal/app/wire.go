package app

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ciphersync/internal/domain"
	"ciphersync/internal/engine"
	identitysvc "ciphersync/internal/services/identity"
	"ciphersync/internal/store"
	"ciphersync/internal/store/messagedb"
	"ciphersync/internal/util/addrlock"
)

const (
	// messageDBName is the SQLite file under Config.Home.
	messageDBName = "messages.db"
	// homeLockName guards Config.Home against a second process.
	homeLockName = ".lock"
)

// ErrHomeLocked is returned when another process already uses the home
// directory.
var ErrHomeLocked = errors.New("home directory is in use by another process")

// Wire bundles the stores and connection-independent services.
type Wire struct {
	Config   Config
	Logger   *zap.Logger
	Identity *identitysvc.Service
	Accounts *store.AccountFileStore
	PreKeys  *store.PrekeyFileStore
	Engine   *engine.Engine
	Messages *messagedb.DB
	// Locks is shared by every component that calls the engine.
	Locks *addrlock.Locker[domain.Address]

	home *flock.Flock
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config, logger *zap.Logger) (*Wire, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create home %s", cfg.Home)
	}

	// One process per home: session state lives in plain files.
	home := flock.New(filepath.Join(cfg.Home, homeLockName))
	locked, err := home.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "lock home %s", cfg.Home)
	}
	if !locked {
		return nil, errors.Wrap(ErrHomeLocked, cfg.Home)
	}

	// File-based stores
	identityStore := store.NewIdentityFileStore(cfg.Home)
	prekeyStore := store.NewPrekeyFileStore(cfg.Home)
	sessionStore := store.NewSessionFileStore(cfg.Home)
	accountStore := store.NewAccountFileStore(cfg.Home)

	messages, err := messagedb.Open(filepath.Join(cfg.Home, messageDBName))
	if err != nil {
		_ = home.Unlock()
		return nil, err
	}

	eng := engine.New(engine.Stores{
		Identity: identityStore,
		PreKeys:  prekeyStore,
		Sessions: sessionStore,
		Accounts: accountStore,
	}, cfg.Relay.URL, cfg.Passphrase, logger)

	return &Wire{
		Config:   cfg,
		Logger:   logger,
		Identity: identitysvc.New(identityStore, accountStore),
		Accounts: accountStore,
		PreKeys:  prekeyStore,
		Engine:   eng,
		Messages: messages,
		Locks:    &addrlock.Locker[domain.Address]{},
		home:     home,
	}, nil
}

// Profile returns the account registered for the configured relay.
func (w *Wire) Profile() (domain.AccountProfile, error) {
	p, ok, err := w.Accounts.LoadAccountProfile(w.Config.Relay.URL)
	if err != nil {
		return domain.AccountProfile{}, err
	}
	if !ok {
		return domain.AccountProfile{}, domain.ErrNoAccount
	}
	return p, nil
}

// Close releases the message database and the home lock, and flushes the
// logger.
func (w *Wire) Close() error {
	err := w.Messages.Close()
	err = multierr.Append(err, errors.Wrap(w.home.Unlock(), "unlock home"))
	if syncErr := w.Logger.Sync(); syncErr != nil && !isIgnorableSyncError(syncErr) {
		err = multierr.Append(err, syncErr)
	}
	return err
}

// isIgnorableSyncError covers zap's Sync on a terminal stdout/stderr.
func isIgnorableSyncError(err error) bool {
	var pe *os.PathError
	return errors.As(err, &pe)
}
