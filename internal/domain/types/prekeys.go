package types

// SignedPreKeyID identifies a signed prekey.
type SignedPreKeyID uint32

// OneTimePreKeyID identifies a one-time prekey.
type OneTimePreKeyID uint32

// SignedPreKey is the public signed prekey with the identity signature over
// its public key.
type SignedPreKey struct {
	ID        SignedPreKeyID `json:"id"`
	Key       X25519Public   `json:"key"`
	Signature []byte         `json:"signature"`
}

// OneTimePreKey is the public half of a one-time prekey.
type OneTimePreKey struct {
	ID  OneTimePreKeyID `json:"id"`
	Key X25519Public    `json:"key"`
}

// OneTimePreKeyPair is the full (private+public) one-time prekey stored locally.
type OneTimePreKeyPair struct {
	ID   OneTimePreKeyID `json:"id"`
	Priv X25519Private   `json:"priv"`
	Pub  X25519Public    `json:"pub"`
}

// KeyBundleRequirement lists the key material the relay reports missing.
type KeyBundleRequirement struct {
	NeedIdentityKey  bool `json:"needIdentityKey"`
	NeedSignedPreKey bool `json:"needSignedPreKey"`
	NeedPreKeys      bool `json:"needPreKeys"`
}

// Any reports whether at least one kind of key material is requested.
func (r KeyBundleRequirement) Any() bool {
	return r.NeedIdentityKey || r.NeedSignedPreKey || r.NeedPreKeys
}

// PreKeyBundle is what an initiator fetches to start a session with one
// device. PreKeyID and PreKey are absent once the relay runs out of
// one-time prekeys.
type PreKeyBundle struct {
	RegistrationID        RegistrationID   `json:"registrationId"`
	DeviceID              DeviceID         `json:"deviceId"`
	PreKeyID              *OneTimePreKeyID `json:"preKeyId,omitempty"`
	PreKey                *X25519Public    `json:"preKey,omitempty"`
	SignedPreKeyID        SignedPreKeyID   `json:"signedPreKeyId"`
	SignedPreKey          X25519Public     `json:"signedPreKey"`
	SignedPreKeySignature []byte           `json:"signedPreKeySignature"`
	IdentityKey           IdentityKey      `json:"identityKey"`
}

// PreKeyMessage carries the X3DH parameters in every message an initiator
// sends until the responder answers.
type PreKeyMessage struct {
	RegistrationID       RegistrationID   `json:"registration_id"`
	InitiatorIdentityKey IdentityKey      `json:"initiator_identity_key"`
	EphemeralKey         X25519Public     `json:"ephemeral_key"`
	SignedPreKeyID       SignedPreKeyID   `json:"signed_pre_key_id"`
	OneTimePreKeyID      *OneTimePreKeyID `json:"one_time_pre_key_id,omitempty"`
}
