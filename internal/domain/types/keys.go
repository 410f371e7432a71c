package types

// Key material is kept in fixed-size arrays so copies never alias.
type (
	X25519Public   [32]byte
	X25519Private  [32]byte
	Ed25519Public  [32]byte
	Ed25519Private [64]byte
)

func (k X25519Public) Slice() []byte { return k[:] }

// IsZero reports whether the key was never set.
func (k X25519Public) IsZero() bool { return k == X25519Public{} }
