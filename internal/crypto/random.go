package crypto

import (
	"crypto/rand"
	"encoding/binary"
)

// RandomUint32 returns a uniformly random non-zero uint32. Registration ids
// and prekey id seeds use it.
func RandomUint32() (uint32, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		if v := binary.BigEndian.Uint32(b[:]); v != 0 {
			return v, nil
		}
	}
}
