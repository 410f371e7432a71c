package engine

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ciphersync/internal/crypto"
	"ciphersync/internal/domain"
	"ciphersync/internal/metrics"
	"ciphersync/internal/protocol/ratchet"
	"ciphersync/internal/protocol/x3dh"
)

// Stores groups the persistence the engine needs.
type Stores struct {
	Identity domain.IdentityStore
	PreKeys  domain.PreKeyStore
	Sessions domain.SessionStore
	Accounts domain.AccountStore
}

// Engine implements domain.SessionEngine.
type Engine struct {
	stores     Stores
	serverURL  string
	passphrase string
	log        *zap.Logger

	mu       sync.Mutex
	identity *domain.Identity
	profile  *domain.AccountProfile
}

// New builds an Engine for the account registered against serverURL.
func New(stores Stores, serverURL, passphrase string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		stores:     stores,
		serverURL:  serverURL,
		passphrase: passphrase,
		log:        logger.Named("engine"),
	}
}

// LocalAddress returns this device's address from the account profile.
func (e *Engine) LocalAddress() (domain.Address, error) {
	p, err := e.loadProfile()
	if err != nil {
		return domain.Address{}, err
	}
	return p.Address, nil
}

// HasSession reports whether a session record exists for address.
func (e *Engine) HasSession(address domain.Address) (bool, error) {
	_, ok, err := e.stores.Sessions.LoadSession(address)
	if err != nil {
		return false, errors.Wrapf(err, "load session %s", address)
	}
	return ok, nil
}

// EstablishSession runs X3DH as initiator against bundle and stores a session
// whose outgoing messages carry the handshake until the peer replies.
func (e *Engine) EstablishSession(address domain.Address, bundle domain.PreKeyBundle) error {
	if err := validateBundle(address, bundle); err != nil {
		return err
	}
	id, err := e.loadIdentity()
	if err != nil {
		return err
	}
	profile, err := e.loadProfile()
	if err != nil {
		return err
	}

	root, ephemeral, err := x3dh.InitiatorRoot(id, bundle)
	if err != nil {
		if errors.Is(err, x3dh.ErrBadSPK) || errors.Is(err, x3dh.ErrLowOrderKey) {
			return errors.Wrapf(domain.ErrInvalidBundle, "%s: %v", address, err)
		}
		return errors.Wrap(err, "x3dh initiator")
	}
	state, err := ratchet.InitAsInitiator(root, bundle.IdentityKey.DH)
	if err != nil {
		return errors.Wrap(err, "init ratchet")
	}

	record := domain.SessionRecord{
		Address:            address,
		PeerIdentityKey:    bundle.IdentityKey,
		PeerRegistrationID: bundle.RegistrationID,
		BaseKey:            ephemeral,
		PendingPreKey: &domain.PreKeyMessage{
			RegistrationID:       profile.RegistrationID,
			InitiatorIdentityKey: id.Public(),
			EphemeralKey:         ephemeral,
			SignedPreKeyID:       bundle.SignedPreKeyID,
			OneTimePreKeyID:      bundle.PreKeyID,
		},
		State:      state,
		CreatedUTC: time.Now().Unix(),
	}
	if err := e.stores.Sessions.SaveSession(record); err != nil {
		return errors.Wrapf(err, "save session %s", address)
	}
	metrics.SessionsEstablished.WithLabelValues("initiator").Inc()
	e.log.Debug("session established", zap.Stringer("address", address),
		zap.Bool("one_time_prekey", bundle.PreKeyID != nil))
	return nil
}

// Encrypt seals plaintext for address on its current session.
func (e *Engine) Encrypt(address domain.Address, plaintext []byte) (domain.CipherMessage, error) {
	record, ok, err := e.stores.Sessions.LoadSession(address)
	if err != nil {
		return domain.CipherMessage{}, errors.Wrapf(err, "load session %s", address)
	}
	if !ok {
		return domain.CipherMessage{}, errors.Wrapf(domain.ErrNoSession, "%s", address)
	}
	id, err := e.loadIdentity()
	if err != nil {
		return domain.CipherMessage{}, err
	}

	state := ratchet.Clone(record.State)
	header, ct, err := ratchet.Encrypt(&state, associatedData(id.XPub, record.PeerIdentityKey.DH), plaintext)
	if err != nil {
		return domain.CipherMessage{}, errors.Wrap(err, "ratchet encrypt")
	}

	frame := domain.RatchetFrame{PreKey: record.PendingPreKey, Header: header, Cipher: ct}
	payload, err := json.Marshal(frame)
	if err != nil {
		return domain.CipherMessage{}, errors.Wrap(err, "encode frame")
	}

	record.State = state
	if err := e.stores.Sessions.SaveSession(record); err != nil {
		return domain.CipherMessage{}, errors.Wrapf(err, "save session %s", address)
	}

	typ := domain.CipherStandard
	if record.PendingPreKey != nil {
		typ = domain.CipherPreKey
	}
	return domain.CipherMessage{Type: typ, Payload: payload}, nil
}

// Decrypt opens message from address. A PREKEY message with an unseen
// ephemeral key replaces any existing session for address.
func (e *Engine) Decrypt(address domain.Address, message domain.CipherMessage) ([]byte, error) {
	var frame domain.RatchetFrame
	if err := json.Unmarshal(message.Payload, &frame); err != nil {
		return nil, errors.Wrapf(domain.ErrCorruptCipher, "decode frame: %v", err)
	}
	id, err := e.loadIdentity()
	if err != nil {
		return nil, err
	}

	record, ok, err := e.stores.Sessions.LoadSession(address)
	if err != nil {
		return nil, errors.Wrapf(err, "load session %s", address)
	}

	var restore func()
	switch message.Type {
	case domain.CipherPreKey:
		if frame.PreKey == nil {
			return nil, errors.Wrap(domain.ErrCorruptCipher, "prekey message without handshake")
		}
		if !ok || record.BaseKey != frame.PreKey.EphemeralKey {
			record, restore, err = e.bootstrap(address, id, *frame.PreKey, frame.Header)
			if err != nil {
				return nil, err
			}
		}
	case domain.CipherStandard:
		if !ok {
			return nil, errors.Wrapf(domain.ErrNoSession, "%s", address)
		}
	default:
		return nil, errors.Wrapf(domain.ErrCorruptCipher, "unknown cipher type %d", message.Type)
	}

	state := ratchet.Clone(record.State)
	pt, err := ratchet.Decrypt(&state, associatedData(id.XPub, record.PeerIdentityKey.DH), frame.Header, frame.Cipher)
	if err != nil {
		if restore != nil {
			restore()
		}
		return nil, errors.Wrapf(domain.ErrCorruptCipher, "%s: %v", address, err)
	}

	record.State = state
	if message.Type == domain.CipherStandard && record.PendingPreKey != nil {
		// The peer answered on the ratchet, so the handshake is complete.
		record.PendingPreKey = nil
	}
	if err := e.stores.Sessions.SaveSession(record); err != nil {
		return nil, errors.Wrapf(err, "save session %s", address)
	}
	if restore != nil {
		metrics.SessionsEstablished.WithLabelValues("responder").Inc()
		e.log.Debug("session bootstrapped from prekey message", zap.Stringer("address", address))
	}
	return pt, nil
}

// bootstrap derives a responder session from pm. The returned restore puts
// back a consumed one-time prekey when the first decrypt fails.
func (e *Engine) bootstrap(
	address domain.Address,
	id domain.Identity,
	pm domain.PreKeyMessage,
	header domain.RatchetHeader,
) (domain.SessionRecord, func(), error) {
	if len(header.RatchetPub) != 32 {
		return domain.SessionRecord{}, nil, errors.Wrap(domain.ErrCorruptCipher, "malformed ratchet header")
	}
	spkPriv, _, _, ok, err := e.stores.PreKeys.LoadSignedPreKey(pm.SignedPreKeyID)
	if err != nil {
		return domain.SessionRecord{}, nil, errors.Wrap(err, "load signed prekey")
	}
	if !ok {
		return domain.SessionRecord{}, nil, errors.Wrapf(domain.ErrCorruptCipher, "unknown signed prekey %d", pm.SignedPreKeyID)
	}

	restore := func() {}
	var opkPriv *domain.X25519Private
	if pm.OneTimePreKeyID != nil {
		priv, pub, ok, err := e.stores.PreKeys.ConsumeOneTimePreKey(*pm.OneTimePreKeyID)
		if err != nil {
			return domain.SessionRecord{}, nil, errors.Wrap(err, "consume one-time prekey")
		}
		if !ok {
			return domain.SessionRecord{}, nil, errors.Wrapf(domain.ErrCorruptCipher, "unknown one-time prekey %d", *pm.OneTimePreKeyID)
		}
		opkPriv = &priv
		pair := domain.OneTimePreKeyPair{ID: *pm.OneTimePreKeyID, Priv: priv, Pub: pub}
		restore = func() {
			if err := e.stores.PreKeys.SaveOneTimePreKeys([]domain.OneTimePreKeyPair{pair}); err != nil {
				e.log.Warn("restore one-time prekey", zap.Uint32("id", uint32(pair.ID)), zap.Error(err))
			}
		}
	}

	root, err := x3dh.ResponderRoot(id, spkPriv, opkPriv, pm)
	if err != nil {
		restore()
		return domain.SessionRecord{}, nil, errors.Wrapf(domain.ErrCorruptCipher, "x3dh responder: %v", err)
	}
	var senderRatchet domain.X25519Public
	copy(senderRatchet[:], header.RatchetPub)
	state, err := ratchet.InitAsResponder(root, id.XPriv, senderRatchet)
	if err != nil {
		restore()
		return domain.SessionRecord{}, nil, errors.Wrap(err, "init ratchet")
	}

	return domain.SessionRecord{
		Address:            address,
		PeerIdentityKey:    pm.InitiatorIdentityKey,
		PeerRegistrationID: pm.RegistrationID,
		BaseKey:            pm.EphemeralKey,
		State:              state,
		CreatedUTC:         time.Now().Unix(),
	}, restore, nil
}

// ResetSessions forgets the session with every device of handle and returns
// the addresses that had one. The next send to handle starts a fresh
// handshake.
func (e *Engine) ResetSessions(handle domain.Handle) ([]domain.Address, error) {
	addrs, err := e.stores.Sessions.SessionAddresses(handle)
	if err != nil {
		return nil, errors.Wrapf(err, "list sessions %s", handle)
	}
	for _, a := range addrs {
		if err := e.stores.Sessions.DeleteSession(a); err != nil {
			return nil, errors.Wrapf(err, "delete session %s", a)
		}
	}
	if len(addrs) > 0 {
		e.log.Info("sessions reset", zap.Stringer("handle", handle), zap.Int("devices", len(addrs)))
	}
	return addrs, nil
}

// IdentityKey returns the public identity.
func (e *Engine) IdentityKey() (domain.IdentityKey, error) {
	id, err := e.loadIdentity()
	if err != nil {
		return domain.IdentityKey{}, err
	}
	return id.Public(), nil
}

// GenerateSignedPreKey creates, signs and stores a new signed prekey and
// marks it current.
func (e *Engine) GenerateSignedPreKey() (domain.SignedPreKey, error) {
	id, err := e.loadIdentity()
	if err != nil {
		return domain.SignedPreKey{}, err
	}
	keyID, err := e.stores.PreKeys.NextSignedPreKeyID()
	if err != nil {
		return domain.SignedPreKey{}, errors.Wrap(err, "allocate signed prekey id")
	}
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.SignedPreKey{}, errors.Wrap(err, "generate signed prekey")
	}
	sig := crypto.SignEd25519(id.EdPriv, pub.Slice())

	if err := e.stores.PreKeys.SaveSignedPreKey(keyID, priv, pub, sig); err != nil {
		return domain.SignedPreKey{}, errors.Wrap(err, "save signed prekey")
	}
	if err := e.stores.PreKeys.SetCurrentSignedPreKeyID(keyID); err != nil {
		return domain.SignedPreKey{}, errors.Wrap(err, "set current signed prekey")
	}
	return domain.SignedPreKey{ID: keyID, Key: pub, Signature: sig}, nil
}

// GenerateOneTimePreKeys creates and stores count one-time prekeys with
// fresh ids and returns their public halves.
func (e *Engine) GenerateOneTimePreKeys(count int) ([]domain.OneTimePreKey, error) {
	ids, err := e.stores.PreKeys.NextOneTimePreKeyIDs(count)
	if err != nil {
		return nil, errors.Wrap(err, "allocate one-time prekey ids")
	}
	pairs := make([]domain.OneTimePreKeyPair, 0, len(ids))
	pubs := make([]domain.OneTimePreKey, 0, len(ids))
	for _, keyID := range ids {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, errors.Wrap(err, "generate one-time prekey")
		}
		pairs = append(pairs, domain.OneTimePreKeyPair{ID: keyID, Priv: priv, Pub: pub})
		pubs = append(pubs, domain.OneTimePreKey{ID: keyID, Key: pub})
	}
	if err := e.stores.PreKeys.SaveOneTimePreKeys(pairs); err != nil {
		return nil, errors.Wrap(err, "save one-time prekeys")
	}
	return pubs, nil
}

// loadIdentity decrypts the identity once and caches it.
func (e *Engine) loadIdentity() (domain.Identity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.identity != nil {
		return *e.identity, nil
	}
	id, err := e.stores.Identity.LoadIdentity(e.passphrase)
	if err != nil {
		return domain.Identity{}, errors.Wrap(err, "load identity")
	}
	e.identity = &id
	return id, nil
}

func (e *Engine) loadProfile() (domain.AccountProfile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profile != nil {
		return *e.profile, nil
	}
	p, ok, err := e.stores.Accounts.LoadAccountProfile(e.serverURL)
	if err != nil {
		return domain.AccountProfile{}, errors.Wrap(err, "load account profile")
	}
	if !ok {
		return domain.AccountProfile{}, errors.Wrapf(domain.ErrNoAccount, "relay %s", e.serverURL)
	}
	e.profile = &p
	return p, nil
}

func validateBundle(address domain.Address, b domain.PreKeyBundle) error {
	if (b.PreKeyID == nil) != (b.PreKey == nil) {
		return errors.Wrapf(domain.ErrInvalidBundle, "%s: one-time prekey id and key must come together", address)
	}
	if b.DeviceID != 0 && b.DeviceID != address.DeviceID {
		return errors.Wrapf(domain.ErrInvalidBundle, "%s: bundle is for device %d", address, b.DeviceID)
	}
	return nil
}

// associatedData binds both identity keys into every message. Ordering the
// keys makes both sides compute the same bytes.
func associatedData(a, b domain.X25519Public) []byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	out := make([]byte, 0, 64)
	out = append(out, a[:]...)
	return append(out, b[:]...)
}

// Compile-time assertion that Engine implements domain.SessionEngine.
var _ domain.SessionEngine = (*Engine)(nil)
