package identity_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"ciphersync/internal/domain"
	"ciphersync/internal/services/identity"
	"ciphersync/internal/store"
)

const strong = "Correct-Horse-9-Battery"

func TestGenerateIdentity_WeakPassphrase(t *testing.T) {
	dir := t.TempDir()
	svc := identity.New(store.NewIdentityFileStore(dir), store.NewAccountFileStore(dir))

	_, _, err := svc.GenerateIdentity("short")
	require.ErrorIs(t, err, identity.ErrWeakPassphrase)
}

func TestGenerateIdentity_FingerprintStable(t *testing.T) {
	dir := t.TempDir()
	svc := identity.New(store.NewIdentityFileStore(dir), store.NewAccountFileStore(dir))

	_, fp, err := svc.GenerateIdentity(strong)
	require.NoError(t, err)
	require.NotEmpty(t, fp)

	again, err := svc.FingerprintIdentity(strong)
	require.NoError(t, err)
	require.Equal(t, fp, again)
}

func TestRegisterAccount_Once(t *testing.T) {
	dir := t.TempDir()
	svc := identity.New(store.NewIdentityFileStore(dir), store.NewAccountFileStore(dir))

	addr := domain.NewAddress("+15550100", 1)
	profile, err := svc.RegisterAccount("ws://relay", addr)
	require.NoError(t, err)
	require.Equal(t, addr, profile.Address)
	require.NotZero(t, profile.RegistrationID)

	_, err = svc.RegisterAccount("ws://relay", addr)
	require.True(t, errors.Is(err, identity.ErrAccountExists))
}
