package store

import (
	"crypto/rand"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const sealedFormatVersion = 1

// ErrWrongPassphrase means the passphrase did not open the sealed file, or
// the file was modified.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted identity")

// kdfParams are the scrypt cost parameters, stored next to the ciphertext so
// they can be raised without breaking old files.
type kdfParams struct {
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
}

var defaultKDF = kdfParams{N: 1 << 15, R: 8, P: 1}

// sealedBlob is the on-disk form of passphrase-protected data. The cipher is
// XChaCha20-Poly1305 with a random nonce; the header is authenticated.
type sealedBlob struct {
	Version int       `json:"v"`
	KDF     kdfParams `json:"kdf"`
	Salt    []byte    `json:"salt"`
	Nonce   []byte    `json:"nonce"`
	Cipher  []byte    `json:"cipher"`
}

func (b sealedBlob) header() []byte {
	h, _ := json.Marshal(struct {
		Version int       `json:"v"`
		KDF     kdfParams `json:"kdf"`
		Salt    []byte    `json:"salt"`
	}{b.Version, b.KDF, b.Salt})
	return h
}

func deriveKey(passphrase string, salt []byte, p kdfParams) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, p.N, p.R, p.P, chacha20poly1305.KeySize)
	return key, errors.Wrap(err, "derive key")
}

func seal(passphrase string, plaintext []byte, p kdfParams) ([]byte, error) {
	blob := sealedBlob{
		Version: sealedFormatVersion,
		KDF:     p,
		Salt:    make([]byte, 16),
		Nonce:   make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(blob.Salt); err != nil {
		return nil, errors.Wrap(err, "salt")
	}
	if _, err := rand.Read(blob.Nonce); err != nil {
		return nil, errors.Wrap(err, "nonce")
	}
	key, err := deriveKey(passphrase, blob.Salt, p)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "cipher")
	}
	blob.Cipher = aead.Seal(nil, blob.Nonce, plaintext, blob.header())
	return json.Marshal(blob)
}

func unseal(passphrase string, b []byte) ([]byte, error) {
	var blob sealedBlob
	if err := json.Unmarshal(b, &blob); err != nil {
		return nil, errors.Wrap(err, "decode sealed file")
	}
	if blob.Version != sealedFormatVersion {
		return nil, errors.Errorf("unsupported sealed file version %d", blob.Version)
	}
	if len(blob.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrWrongPassphrase
	}
	key, err := deriveKey(passphrase, blob.Salt, blob.KDF)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "cipher")
	}
	pt, err := aead.Open(nil, blob.Nonce, blob.Cipher, blob.header())
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
