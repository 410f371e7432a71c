package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"

	"ciphersync/internal/domain"
)

// GenerateX25519 draws a clamped Curve25519 scalar and derives its public point.
func GenerateX25519() (domain.X25519Private, domain.X25519Public, error) {
	var priv domain.X25519Private
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, domain.X25519Public{}, errors.Wrap(err, "x25519 seed")
	}
	priv[0] &= 0xf8
	priv[31] = priv[31]&0x7f | 0x40

	var pub domain.X25519Public
	point, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, errors.Wrap(err, "x25519 public")
	}
	copy(pub[:], point)
	return priv, pub, nil
}

// DH fails when pub is a low-order point, which would yield an all-zero secret.
func DH(priv domain.X25519Private, pub domain.X25519Public) ([32]byte, error) {
	var out [32]byte
	secret, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, errors.Wrap(err, "x25519")
	}
	copy(out[:], secret)
	return out, nil
}

func GenerateEd25519() (domain.Ed25519Private, domain.Ed25519Public, error) {
	var (
		priv domain.Ed25519Private
		pub  domain.Ed25519Public
	)
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return priv, pub, errors.Wrap(err, "ed25519 key")
	}
	copy(priv[:], sk)
	copy(pub[:], pk)
	return priv, pub, nil
}

func SignEd25519(priv domain.Ed25519Private, msg []byte) []byte {
	return ed25519.Sign(priv[:], msg)
}

// VerifyEd25519 rejects malformed signatures instead of panicking on them.
func VerifyEd25519(pub domain.Ed25519Public, msg, sig []byte) bool {
	return len(sig) == ed25519.SignatureSize && ed25519.Verify(pub[:], msg, sig)
}
