package ratchet

import (
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"ciphersync/internal/crypto"
	"ciphersync/internal/domain"
	"ciphersync/internal/util/memzero"
)

const (
	// maxSkipped caps the stored out-of-order keys; the oldest insertions
	// are not tracked, so an arbitrary entry is evicted when full.
	maxSkipped = 1000
	// maxGap bounds how far ahead a single header may jump.
	maxGap = 2000

	rootInfo  = "DR|rk"
	chainInfo = "DR|ck"
)

var (
	ErrTooManySkipped = errors.New("ratchet: message index too far ahead")
	errNoChain        = errors.New("ratchet: chain key not initialised")
	errBadHeader      = errors.New("ratchet: malformed header")
)

// InitAsInitiator starts the sending chain. Until the responder answers, the
// peer's identity key stands in for its ratchet key.
func InitAsInitiator(root []byte, peerIdentity domain.X25519Public) (domain.RatchetState, error) {
	st := domain.RatchetState{PeerRatchetPub: peerIdentity, Skipped: map[string][]byte{}}
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return st, err
	}
	st.RatchetPriv, st.RatchetPub = priv, pub
	st.RootKey, st.SendChainKey, err = stepRoot(root, priv, peerIdentity)
	return st, err
}

// InitAsResponder starts the receiving chain from the initiator's first
// ratchet key. The sending chain is created lazily by the first Encrypt.
func InitAsResponder(root []byte, identityPriv domain.X25519Private, senderRatchetPub domain.X25519Public) (domain.RatchetState, error) {
	st := domain.RatchetState{PeerRatchetPub: senderRatchetPub, Skipped: map[string][]byte{}}
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return st, err
	}
	st.RatchetPriv, st.RatchetPub = priv, pub
	st.RootKey, st.RecvChainKey, err = stepRoot(root, identityPriv, senderRatchetPub)
	return st, err
}

// Clone deep-copies st. Decrypt mutates state even when it fails, so callers
// work on a clone and keep it only on success.
func Clone(st domain.RatchetState) domain.RatchetState {
	out := st
	out.RootKey = clone(st.RootKey)
	out.SendChainKey = clone(st.SendChainKey)
	out.RecvChainKey = clone(st.RecvChainKey)
	out.Skipped = make(map[string][]byte, len(st.Skipped))
	for k, v := range st.Skipped {
		out.Skipped[k] = clone(v)
	}
	return out
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }

// Encrypt seals plaintext under the next sending key. A responder that has
// not sent yet first turns the ratchet with a fresh key pair.
func Encrypt(st *domain.RatchetState, ad, plaintext []byte) (domain.RatchetHeader, []byte, error) {
	if len(st.SendChainKey) == 0 {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		root, send, err := stepRoot(st.RootKey, priv, st.PeerRatchetPub)
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		st.PrevCount, st.SendCount = st.SendCount, 0
		st.RootKey, st.SendChainKey = root, send
		st.RatchetPriv, st.RatchetPub = priv, pub
	}

	mk, err := nextKey(&st.SendChainKey)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	defer memzero.Zero(mk)

	h := domain.RatchetHeader{RatchetPub: clone(st.RatchetPub[:]), PrevCount: st.PrevCount, Count: st.SendCount}
	aead, nonce, err := messageCipher(mk, h.Count)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, boundData(ad, h))
	st.SendCount++
	return h, ct, nil
}

// Decrypt opens a message, using a stored skipped key when the header points
// back in a chain and turning the ratchet when it carries a new peer key.
func Decrypt(st *domain.RatchetState, ad []byte, header domain.RatchetHeader, ciphertext []byte) ([]byte, error) {
	if len(header.RatchetPub) != len(domain.X25519Public{}) {
		return nil, errBadHeader
	}
	var peer domain.X25519Public
	copy(peer[:], header.RatchetPub)

	id := skippedID(peer, header.Count)
	if mk, ok := st.Skipped[id]; ok {
		delete(st.Skipped, id)
		defer memzero.Zero(mk)
		return openMessage(mk, ad, header, ciphertext)
	}

	if subtle.ConstantTimeCompare(st.PeerRatchetPub[:], peer[:]) != 1 {
		if err := skipTo(st, header.PrevCount); err != nil {
			return nil, err
		}
		if err := turn(st, peer); err != nil {
			return nil, err
		}
	}
	if err := skipTo(st, header.Count); err != nil {
		return nil, err
	}

	mk, err := nextKey(&st.RecvChainKey)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(mk)
	pt, err := openMessage(mk, ad, header, ciphertext)
	if err != nil {
		return nil, err
	}
	st.RecvCount++
	return pt, nil
}

// turn performs a full DH ratchet step on a new peer key: one root step for
// the receiving chain, then a fresh key pair and a second step for sending.
func turn(st *domain.RatchetState, peer domain.X25519Public) error {
	root, recv, err := stepRoot(st.RootKey, st.RatchetPriv, peer)
	if err != nil {
		return err
	}
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	root, send, err := stepRoot(root, priv, peer)
	if err != nil {
		return err
	}
	st.PrevCount = st.SendCount
	st.SendCount, st.RecvCount = 0, 0
	st.RootKey, st.SendChainKey, st.RecvChainKey = root, send, recv
	st.RatchetPriv, st.RatchetPub, st.PeerRatchetPub = priv, pub, peer
	return nil
}

// skipTo stores the receiving keys below n for messages still in flight.
func skipTo(st *domain.RatchetState, n uint32) error {
	if st.RecvCount >= n || len(st.RecvChainKey) == 0 {
		return nil
	}
	if n-st.RecvCount > maxGap {
		return ErrTooManySkipped
	}
	if st.Skipped == nil {
		st.Skipped = map[string][]byte{}
	}
	for ; st.RecvCount < n; st.RecvCount++ {
		mk, err := nextKey(&st.RecvChainKey)
		if err != nil {
			return err
		}
		if len(st.Skipped) >= maxSkipped {
			for k := range st.Skipped {
				delete(st.Skipped, k)
				break
			}
		}
		st.Skipped[skippedID(st.PeerRatchetPub, st.RecvCount)] = mk
	}
	return nil
}

func skippedID(peer domain.X25519Public, n uint32) string {
	return string(binary.BigEndian.AppendUint32(clone(peer[:]), n))
}

// stepRoot mixes DH(priv, pub) into the root key and returns the new root
// and a chain key.
func stepRoot(root []byte, priv domain.X25519Private, pub domain.X25519Public) ([]byte, []byte, error) {
	dh, err := crypto.DH(priv, pub)
	if err != nil {
		return nil, nil, err
	}
	defer memzero.Zero(dh[:])
	out := expand(dh[:], root, rootInfo)
	return out[:32], out[32:], nil
}

// nextKey advances a chain in place and returns the message key.
func nextKey(chain *[]byte) ([]byte, error) {
	if len(*chain) == 0 {
		return nil, errNoChain
	}
	out := expand(*chain, nil, chainInfo)
	*chain = out[:32]
	return out[32:], nil
}

func expand(secret, salt []byte, info string) []byte {
	out := make([]byte, 64)
	_, _ = io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), out)
	return out
}

// messageCipher returns the AEAD for one message key. Every key seals a
// single message, so the counter alone makes a unique nonce.
func messageCipher(mk []byte, n uint32) (cipher.AEAD, []byte, error) {
	aead, err := chacha20poly1305.New(mk)
	if err != nil {
		return nil, nil, errors.Wrap(err, "message cipher")
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint32(nonce[len(nonce)-4:], n)
	return aead, nonce, nil
}

func openMessage(mk, ad []byte, h domain.RatchetHeader, ct []byte) ([]byte, error) {
	aead, nonce, err := messageCipher(mk, h.Count)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ct, boundData(ad, h))
}

// boundData authenticates the header alongside the caller's associated data.
func boundData(ad []byte, h domain.RatchetHeader) []byte {
	out := append(clone(ad), h.RatchetPub...)
	out = binary.BigEndian.AppendUint32(out, h.PrevCount)
	return binary.BigEndian.AppendUint32(out, h.Count)
}
