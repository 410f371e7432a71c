package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"ciphersync/internal/domain"
)

// IdentityFingerprint hashes both halves of an identity key and renders the
// first 10 bytes of the digest as five groups of four hex digits.
func IdentityFingerprint(key domain.IdentityKey) domain.Fingerprint {
	h := sha256.New()
	h.Write(key.DH[:])
	h.Write(key.Signing[:])
	digest := hex.EncodeToString(h.Sum(nil)[:10])

	var b strings.Builder
	for i := 0; i < len(digest); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(digest[i : i+4])
	}
	return domain.Fingerprint(b.String())
}
