package types

// RatchetHeader travels in clear next to each ciphertext and is bound to it
// as associated data.
type RatchetHeader struct {
	RatchetPub []byte `json:"rk"`
	PrevCount  uint32 `json:"pn"`
	Count      uint32 `json:"n"`
}

// RatchetState is one side of a Double Ratchet session. Skipped holds message
// keys for out-of-order arrivals, keyed by ratchet key and counter.
type RatchetState struct {
	RootKey        []byte            `json:"root"`
	RatchetPriv    X25519Private     `json:"self_priv"`
	RatchetPub     X25519Public      `json:"self_pub"`
	PeerRatchetPub X25519Public      `json:"peer_pub"`
	SendChainKey   []byte            `json:"send_chain,omitempty"`
	RecvChainKey   []byte            `json:"recv_chain,omitempty"`
	SendCount      uint32            `json:"ns"`
	RecvCount      uint32            `json:"nr"`
	PrevCount      uint32            `json:"pn"`
	Skipped        map[string][]byte `json:"skipped"`
}

// RatchetFrame is the JSON body of a CipherMessage. PreKey is only present on
// PREKEY messages.
type RatchetFrame struct {
	PreKey *PreKeyMessage `json:"pre_key,omitempty"`
	Header RatchetHeader  `json:"header"`
	Cipher []byte         `json:"cipher"`
}
