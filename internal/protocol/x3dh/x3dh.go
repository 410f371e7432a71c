package x3dh

import (
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	"ciphersync/internal/crypto"
	"ciphersync/internal/domain"
	"ciphersync/internal/util/memzero"
)

const rootInfo = "ciphersync-x3dh"

var (
	ErrBadSPK      = errors.New("x3dh: signed prekey signature invalid")
	ErrLowOrderKey = errors.New("x3dh: low-order public key")
)

// agreement is one DH input to the transcript.
type agreement struct {
	priv domain.X25519Private
	pub  domain.X25519Public
}

// InitiatorRoot verifies the bundle's signed prekey and derives the root key.
// The returned ephemeral key goes into the PreKeyMessage.
func InitiatorRoot(id domain.Identity, bundle domain.PreKeyBundle) ([]byte, domain.X25519Public, error) {
	if !crypto.VerifyEd25519(bundle.IdentityKey.Signing, bundle.SignedPreKey[:], bundle.SignedPreKeySignature) {
		return nil, domain.X25519Public{}, ErrBadSPK
	}
	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, domain.X25519Public{}, err
	}
	defer memzero.Zero(ephPriv[:])

	steps := []agreement{
		{id.XPriv, bundle.SignedPreKey},
		{ephPriv, bundle.IdentityKey.DH},
		{ephPriv, bundle.SignedPreKey},
	}
	if bundle.PreKey != nil {
		steps = append(steps, agreement{ephPriv, *bundle.PreKey})
	}
	root, err := deriveRoot(steps)
	if err != nil {
		return nil, domain.X25519Public{}, err
	}
	return root, ephPub, nil
}

// ResponderRoot mirrors InitiatorRoot from the responder's private keys.
// opkPriv is nil when the initiator used no one-time prekey.
func ResponderRoot(id domain.Identity, spkPriv domain.X25519Private, opkPriv *domain.X25519Private, pm domain.PreKeyMessage) ([]byte, error) {
	steps := []agreement{
		{spkPriv, pm.InitiatorIdentityKey.DH},
		{id.XPriv, pm.EphemeralKey},
		{spkPriv, pm.EphemeralKey},
	}
	if opkPriv != nil {
		steps = append(steps, agreement{*opkPriv, pm.EphemeralKey})
	}
	return deriveRoot(steps)
}

func deriveRoot(steps []agreement) ([]byte, error) {
	transcript := make([]byte, 0, 32*len(steps))
	defer func() { memzero.Zero(transcript) }()
	for _, s := range steps {
		secret, err := crypto.DH(s.priv, s.pub)
		if err != nil {
			return nil, ErrLowOrderKey
		}
		transcript = append(transcript, secret[:]...)
		memzero.Zero(secret[:])
	}

	root := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, transcript, nil, []byte(rootInfo)), root); err != nil {
		return nil, errors.Wrap(err, "x3dh root")
	}
	return root, nil
}
