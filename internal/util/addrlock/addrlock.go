// Package addrlock serialises work per key (typically a domain.Address).
package addrlock

import (
	"fmt"
	"sync"

	"github.com/moby/locker"
)

// Locker hands out per-key mutual exclusion. Keys are told apart by their
// String form. The zero value is ready to use.
type Locker[K fmt.Stringer] struct {
	init  sync.Once
	names *locker.Locker
}

// Lock blocks until the caller holds key and returns the matching unlock.
// Calling unlock more than once is a no-op.
func (l *Locker[K]) Lock(key K) (unlock func()) {
	l.init.Do(func() { l.names = locker.New() })
	name := key.String()
	l.names.Lock(name)

	var once sync.Once
	return func() {
		once.Do(func() { _ = l.names.Unlock(name) })
	}
}
