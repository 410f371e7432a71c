package interfaces

import domaintypes "ciphersync/internal/domain/types"

// IdentityStore seals the long-term identity under a passphrase.
type IdentityStore interface {
	SaveIdentity(passphrase string, id domaintypes.Identity) error
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
}

// PreKeyStore keeps the private halves of published prekeys. Allocated ids
// only grow; a consumed one-time prekey is gone for good.
type PreKeyStore interface {
	SaveSignedPreKey(id domaintypes.SignedPreKeyID, priv domaintypes.X25519Private, pub domaintypes.X25519Public, sig []byte) error
	LoadSignedPreKey(id domaintypes.SignedPreKeyID) (domaintypes.X25519Private, domaintypes.X25519Public, []byte, bool, error)
	SetCurrentSignedPreKeyID(id domaintypes.SignedPreKeyID) error
	CurrentSignedPreKeyID() (domaintypes.SignedPreKeyID, bool, error)
	NextSignedPreKeyID() (domaintypes.SignedPreKeyID, error)

	SaveOneTimePreKeys(pairs []domaintypes.OneTimePreKeyPair) error
	ConsumeOneTimePreKey(id domaintypes.OneTimePreKeyID) (domaintypes.X25519Private, domaintypes.X25519Public, bool, error)
	CountOneTimePreKeys() (int, error)
	NextOneTimePreKeyIDs(count int) ([]domaintypes.OneTimePreKeyID, error)
}

// SessionStore is keyed by remote address, one session per device.
type SessionStore interface {
	SaveSession(record domaintypes.SessionRecord) error
	LoadSession(address domaintypes.Address) (domaintypes.SessionRecord, bool, error)
	DeleteSession(address domaintypes.Address) error
	// SessionAddresses lists the devices of handle that have a session.
	SessionAddresses(handle domaintypes.Handle) ([]domaintypes.Address, error)
}
