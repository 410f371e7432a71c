package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ciphersync/internal/domain"
	"ciphersync/internal/store"
)

func TestSessionStore_PerAddress(t *testing.T) {
	s := store.NewSessionFileStore(t.TempDir())

	a1 := domain.NewAddress("+15550001", 1)
	a2 := domain.NewAddress("+15550001", 2)

	require.NoError(t, s.SaveSession(domain.SessionRecord{Address: a1, PeerRegistrationID: 11}))

	got, ok, err := s.LoadSession(a1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.RegistrationID(11), got.PeerRegistrationID)

	_, ok, err = s.LoadSession(a2)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.DeleteSession(a1))
	require.NoError(t, s.DeleteSession(a1))
	_, ok, err = s.LoadSession(a1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSessionStore_SessionAddresses(t *testing.T) {
	s := store.NewSessionFileStore(t.TempDir())

	a2 := domain.NewAddress("+15550001", 2)
	a1 := domain.NewAddress("+15550001", 1)
	other := domain.NewAddress("+15550009", 1)
	for _, a := range []domain.Address{a2, a1, other} {
		require.NoError(t, s.SaveSession(domain.SessionRecord{Address: a}))
	}

	got, err := s.SessionAddresses("+15550001")
	require.NoError(t, err)
	require.Equal(t, []domain.Address{a1, a2}, got)

	got, err = s.SessionAddresses("+15550404")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestAccountStore_ByServer(t *testing.T) {
	s := store.NewAccountFileStore(t.TempDir())

	profile := domain.AccountProfile{
		ServerURL:      "ws://relay.test/ws",
		Address:        domain.NewAddress("+15550002", 1),
		RegistrationID: 42,
	}
	require.NoError(t, s.SaveAccountProfile(profile))

	got, ok, err := s.LoadAccountProfile(profile.ServerURL)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, profile, got)

	_, ok, err = s.LoadAccountProfile("ws://other")
	require.NoError(t, err)
	require.False(t, ok)
}
