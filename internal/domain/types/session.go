package types

// SessionRecord is the per-address session state kept by the engine.
//
// PendingPreKey is set on the initiator side until the peer's first reply
// is decrypted; while set every outgoing message is PREKEY-typed so the peer
// can bootstrap from any of them. BaseKey is the initiator's X3DH ephemeral
// key and lets the responder recognise retransmitted handshakes.
type SessionRecord struct {
	Address            Address        `json:"address"`
	PeerIdentityKey    IdentityKey    `json:"peer_identity_key"`
	PeerRegistrationID RegistrationID `json:"peer_registration_id"`
	BaseKey            X25519Public   `json:"base_key"`
	PendingPreKey      *PreKeyMessage `json:"pending_pre_key,omitempty"`
	State              RatchetState   `json:"state"`
	CreatedUTC         int64          `json:"created_utc"`
}
