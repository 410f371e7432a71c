package relay

import (
	"sync"

	"ciphersync/internal/domain"
)

// hub tracks the live connection of every online device.
type hub struct {
	mu    sync.RWMutex
	conns map[domain.Address]*peer
}

func newHub() *hub {
	return &hub{conns: make(map[domain.Address]*peer)}
}

// set registers p and returns the connection it replaced, if any.
func (h *hub) set(addr domain.Address, p *peer) *peer {
	h.mu.Lock()
	old := h.conns[addr]
	h.conns[addr] = p
	h.mu.Unlock()
	return old
}

func (h *hub) get(addr domain.Address) (*peer, bool) {
	h.mu.RLock()
	p, ok := h.conns[addr]
	h.mu.RUnlock()
	return p, ok
}

// del removes addr only while p is still its registered connection, so a
// late disconnect does not evict a newer one.
func (h *hub) del(addr domain.Address, p *peer) {
	h.mu.Lock()
	if h.conns[addr] == p {
		delete(h.conns, addr)
	}
	h.mu.Unlock()
}

func (h *hub) len() int {
	h.mu.RLock()
	n := len(h.conns)
	h.mu.RUnlock()
	return n
}
