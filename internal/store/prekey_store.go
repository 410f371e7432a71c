package store

import (
	"strconv"
	"sync"

	"ciphersync/internal/domain"
)

type storedSignedPreKey struct {
	Private   domain.X25519Private `json:"private"`
	Public    domain.X25519Public  `json:"public"`
	Signature []byte               `json:"signature"`
}

type storedOneTimePreKey struct {
	Private domain.X25519Private `json:"private"`
	Public  domain.X25519Public  `json:"public"`
}

// prekeyCounters only grow, so an id is never handed out twice even after
// its key was consumed.
type prekeyCounters struct {
	Current     domain.SignedPreKeyID  `json:"current_signed"`
	NextSigned  domain.SignedPreKeyID  `json:"next_signed"`
	NextOneTime domain.OneTimePreKeyID `json:"next_one_time"`
}

type (
	signedMap  = map[string]storedSignedPreKey
	oneTimeMap = map[string]storedOneTimePreKey
)

// PrekeyFileStore holds the private halves of published prekeys. Signed
// prekeys, one-time prekeys and the id counters each get their own file.
type PrekeyFileStore struct {
	mu       sync.Mutex
	signed   document[signedMap]
	oneTime  document[oneTimeMap]
	counters document[prekeyCounters]
}

func NewPrekeyFileStore(dir string) *PrekeyFileStore {
	return &PrekeyFileStore{
		signed:   newDocument(dir, "spk_pairs.json", func() signedMap { return signedMap{} }),
		oneTime:  newDocument(dir, "opk_pairs.json", func() oneTimeMap { return oneTimeMap{} }),
		counters: newDocument(dir, "prekey_meta.json", func() prekeyCounters { return prekeyCounters{} }),
	}
}

// ids are JSON object keys, so they are stored in decimal.
func idKey[T ~uint32](id T) string { return strconv.FormatUint(uint64(id), 10) }

func (s *PrekeyFileStore) SaveSignedPreKey(id domain.SignedPreKeyID, priv domain.X25519Private, pub domain.X25519Public, sig []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signed.update(func(m *signedMap) error {
		(*m)[idKey(id)] = storedSignedPreKey{Private: priv, Public: pub, Signature: append([]byte(nil), sig...)}
		return nil
	})
}

func (s *PrekeyFileStore) LoadSignedPreKey(id domain.SignedPreKeyID) (domain.X25519Private, domain.X25519Public, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.signed.load()
	if err != nil {
		return domain.X25519Private{}, domain.X25519Public{}, nil, false, err
	}
	k, ok := m[idKey(id)]
	return k.Private, k.Public, k.Signature, ok, nil
}

// SaveOneTimePreKeys adds pairs, overwriting any with the same id.
func (s *PrekeyFileStore) SaveOneTimePreKeys(pairs []domain.OneTimePreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oneTime.update(func(m *oneTimeMap) error {
		for _, p := range pairs {
			(*m)[idKey(p.ID)] = storedOneTimePreKey{Private: p.Priv, Public: p.Pub}
		}
		return nil
	})
}

// ConsumeOneTimePreKey removes the key so a second initial message naming the
// same id cannot reuse it.
func (s *PrekeyFileStore) ConsumeOneTimePreKey(id domain.OneTimePreKeyID) (domain.X25519Private, domain.X25519Public, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		k     storedOneTimePreKey
		found bool
	)
	err := s.oneTime.update(func(m *oneTimeMap) error {
		if k, found = (*m)[idKey(id)]; !found {
			return errUnchanged
		}
		delete(*m, idKey(id))
		return nil
	})
	if err != nil {
		return domain.X25519Private{}, domain.X25519Public{}, false, err
	}
	return k.Private, k.Public, found, nil
}

func (s *PrekeyFileStore) CountOneTimePreKeys() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.oneTime.load()
	return len(m), err
}

func (s *PrekeyFileStore) NextSignedPreKeyID() (domain.SignedPreKeyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id domain.SignedPreKeyID
	err := s.counters.update(func(c *prekeyCounters) error {
		c.NextSigned = max(c.NextSigned, 1)
		id = c.NextSigned
		c.NextSigned++
		return nil
	})
	return id, err
}

// NextOneTimePreKeyIDs reserves count consecutive ids.
func (s *PrekeyFileStore) NextOneTimePreKeyIDs(count int) ([]domain.OneTimePreKeyID, error) {
	if count <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []domain.OneTimePreKeyID
	err := s.counters.update(func(c *prekeyCounters) error {
		c.NextOneTime = max(c.NextOneTime, 1)
		for i := 0; i < count; i++ {
			ids = append(ids, c.NextOneTime)
			c.NextOneTime++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PrekeyFileStore) SetCurrentSignedPreKeyID(id domain.SignedPreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters.update(func(c *prekeyCounters) error {
		c.Current = id
		return nil
	})
}

// CurrentSignedPreKeyID reports false until one has been set.
func (s *PrekeyFileStore) CurrentSignedPreKeyID() (domain.SignedPreKeyID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.counters.load()
	if err != nil {
		return 0, false, err
	}
	return c.Current, c.Current != 0, nil
}

var _ domain.PreKeyStore = (*PrekeyFileStore)(nil)
