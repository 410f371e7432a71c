package prekey_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"ciphersync/internal/domain"
	"ciphersync/internal/services/prekey"
	"ciphersync/internal/services/servicetest"
)

func TestProvision_NothingRequested(t *testing.T) {
	tr := servicetest.NewTransport()
	p := prekey.New(servicetest.NewEngine(domain.NewAddress("me", 1)), tr, 5, nil)

	require.NoError(t, p.Provision(context.Background(), domain.KeyBundleRequirement{}))
	require.Empty(t, tr.Uploads)
}

func TestProvision_AllKinds(t *testing.T) {
	tr := servicetest.NewTransport()
	eng := servicetest.NewEngine(domain.NewAddress("me", 1))
	p := prekey.New(eng, tr, 5, nil)

	err := p.Provision(context.Background(), domain.KeyBundleRequirement{
		NeedIdentityKey: true, NeedSignedPreKey: true, NeedPreKeys: true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"identity", "signed", "prekeys"}, tr.Uploads)
	require.Equal(t, 6, eng.Generated, "one signed prekey and a batch of five")
}

func TestProvision_OnlyRequestedKinds(t *testing.T) {
	tr := servicetest.NewTransport()
	p := prekey.New(servicetest.NewEngine(domain.NewAddress("me", 1)), tr, 5, nil)

	require.NoError(t, p.Provision(context.Background(), domain.KeyBundleRequirement{NeedPreKeys: true}))
	require.Equal(t, []string{"prekeys"}, tr.Uploads)
}

func TestProvision_RejectionFailsButOthersStillRun(t *testing.T) {
	tr := servicetest.NewTransport()
	tr.Reject["signed"] = true
	p := prekey.New(servicetest.NewEngine(domain.NewAddress("me", 1)), tr, 5, nil)

	err := p.Provision(context.Background(), domain.KeyBundleRequirement{
		NeedIdentityKey: true, NeedSignedPreKey: true, NeedPreKeys: true,
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrPublishRejected))
	require.Len(t, multierr.Errors(err), 1)
	require.Equal(t, []string{"identity", "signed", "prekeys"}, tr.Uploads)
}

func TestProvision_GenerationFailure(t *testing.T) {
	tr := servicetest.NewTransport()
	eng := servicetest.NewEngine(domain.NewAddress("me", 1))
	eng.GenerateErr = errors.New("disk full")
	p := prekey.New(eng, tr, 5, nil)

	err := p.Provision(context.Background(), domain.KeyBundleRequirement{NeedSignedPreKey: true, NeedPreKeys: true})
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.Empty(t, tr.Uploads)
}
