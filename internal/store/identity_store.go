package store

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"ciphersync/internal/domain"
)

// ErrNoIdentity is returned by LoadIdentity before an identity has been saved.
var ErrNoIdentity = errors.New("no identity on disk")

// IdentityFileStore keeps the long-term identity in identity.json.enc, sealed
// under the user's passphrase.
type IdentityFileStore struct {
	mu   sync.Mutex
	path string
	kdf  kdfParams
}

func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{path: filepath.Join(dir, "identity.json.enc"), kdf: defaultKDF}
}

func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.Identity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return errors.Wrap(err, "encode identity")
	}
	sealed, err := seal(passphrase, raw, s.kdf)
	if err != nil {
		return errors.Wrap(err, "seal identity")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, sealed)
}

// LoadIdentity returns ErrWrongPassphrase when the file does not open.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	b, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Identity{}, ErrNoIdentity
	}
	if err != nil {
		return domain.Identity{}, errors.Wrap(err, "read identity")
	}

	raw, err := unseal(passphrase, b)
	if err != nil {
		return domain.Identity{}, err
	}
	var id domain.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return domain.Identity{}, errors.Wrap(err, "decode identity")
	}
	return id, nil
}

var _ domain.IdentityStore = (*IdentityFileStore)(nil)
