package types

// Identity holds your long-term X25519 and Ed25519 keys.
type Identity struct {
	XPub   X25519Public   `json:"xpub"`
	XPriv  X25519Private  `json:"xpriv"`
	EdPub  Ed25519Public  `json:"edpub"`
	EdPriv Ed25519Private `json:"edpriv"`
}

// Public returns the publishable half of the identity.
func (id Identity) Public() IdentityKey {
	return IdentityKey{DH: id.XPub, Signing: id.EdPub}
}

// IdentityKey is the public identity published to the relay. DH takes part
// in X3DH, Signing verifies the signed prekey.
type IdentityKey struct {
	DH      X25519Public  `json:"dh"`
	Signing Ed25519Public `json:"signing"`
}
