package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ciphersync/internal/domain"
	"ciphersync/internal/store"
)

func testIdentity() domain.Identity {
	return domain.Identity{
		XPub:   domain.X25519Public{1},
		XPriv:  domain.X25519Private{2},
		EdPub:  domain.Ed25519Public{3},
		EdPriv: domain.Ed25519Private{4},
	}
}

func TestIdentityStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, store.NewIdentityFileStore(dir).SaveIdentity("Correct-Horse-9-Battery", testIdentity()))

	// A second store on the same directory reads what the first wrote.
	got, err := store.NewIdentityFileStore(dir).LoadIdentity("Correct-Horse-9-Battery")
	require.NoError(t, err)
	require.Equal(t, testIdentity(), got)
}

func TestIdentityStore_WrongPassphrase(t *testing.T) {
	s := store.NewIdentityFileStore(t.TempDir())
	require.NoError(t, s.SaveIdentity("right", testIdentity()))

	_, err := s.LoadIdentity("wrong")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestIdentityStore_Tampered(t *testing.T) {
	dir := t.TempDir()
	s := store.NewIdentityFileStore(dir)
	require.NoError(t, s.SaveIdentity("right", testIdentity()))

	path := filepath.Join(dir, "identity.json.enc")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a character inside the base64 salt; the header is authenticated.
	i := len(`{"v":1,"kdf":{"n":32768,"r":8,"p":1},"salt":"`)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	require.NoError(t, os.WriteFile(path, b, 0o600))

	_, err = s.LoadIdentity("right")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestIdentityStore_Missing(t *testing.T) {
	_, err := store.NewIdentityFileStore(t.TempDir()).LoadIdentity("x")
	require.ErrorIs(t, err, store.ErrNoIdentity)
}
