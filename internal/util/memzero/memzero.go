// Package memzero clears key material once it is no longer needed.
package memzero

import "runtime"

// Zero sets every byte of b to zero. KeepAlive stops the compiler from
// treating the clear as a dead store.
func Zero(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}
