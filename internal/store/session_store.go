package store

import (
	"sort"
	"sync"

	"ciphersync/internal/domain"
)

type sessionMap = map[string]domain.SessionRecord

// SessionFileStore keeps the ratchet session of every remote device in
// sessions.json, keyed by "handle.device".
type SessionFileStore struct {
	mu  sync.Mutex
	doc document[sessionMap]
}

func NewSessionFileStore(dir string) *SessionFileStore {
	return &SessionFileStore{doc: newDocument(dir, "sessions.json", func() sessionMap { return sessionMap{} })}
}

// SaveSession replaces whatever was stored for record.Address.
func (s *SessionFileStore) SaveSession(record domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.update(func(m *sessionMap) error {
		(*m)[record.Address.String()] = record
		return nil
	})
}

func (s *SessionFileStore) LoadSession(address domain.Address) (domain.SessionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.doc.load()
	if err != nil {
		return domain.SessionRecord{}, false, err
	}
	record, ok := m[address.String()]
	return record, ok, nil
}

// DeleteSession is a no-op for an address without a session.
func (s *SessionFileStore) DeleteSession(address domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.update(func(m *sessionMap) error {
		key := address.String()
		if _, ok := (*m)[key]; !ok {
			return errUnchanged
		}
		delete(*m, key)
		return nil
	})
}

// SessionAddresses returns the addresses of handle's devices with a
// session, ordered by device id.
func (s *SessionFileStore) SessionAddresses(handle domain.Handle) ([]domain.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.doc.load()
	if err != nil {
		return nil, err
	}
	var out []domain.Address
	for _, record := range m {
		if record.Address.Handle == handle {
			out = append(out, record.Address)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

var _ domain.SessionStore = (*SessionFileStore)(nil)
