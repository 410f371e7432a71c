package store

import (
	"sync"

	"ciphersync/internal/domain"
)

// AccountFileStore keeps one account profile per relay URL in accounts.json.
type AccountFileStore struct {
	mu  sync.Mutex
	doc document[map[string]domain.AccountProfile]
}

func NewAccountFileStore(dir string) *AccountFileStore {
	return &AccountFileStore{doc: newDocument(dir, "accounts.json", func() map[string]domain.AccountProfile {
		return map[string]domain.AccountProfile{}
	})}
}

func (s *AccountFileStore) SaveAccountProfile(profile domain.AccountProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.update(func(byRelay *map[string]domain.AccountProfile) error {
		(*byRelay)[profile.ServerURL] = profile
		return nil
	})
}

// LoadAccountProfile reports false when nothing was registered at serverURL.
func (s *AccountFileStore) LoadAccountProfile(serverURL string) (domain.AccountProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byRelay, err := s.doc.load()
	if err != nil {
		return domain.AccountProfile{}, false, err
	}
	profile, ok := byRelay[serverURL]
	return profile, ok, nil
}

var _ domain.AccountStore = (*AccountFileStore)(nil)
