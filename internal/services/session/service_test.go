package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ciphersync/internal/domain"
	"ciphersync/internal/services/servicetest"
	"ciphersync/internal/services/session"
	"ciphersync/internal/util/addrlock"
)

var (
	devA = domain.NewAddress("+bob", 1)
	devB = domain.NewAddress("+bob", 2)
	devC = domain.NewAddress("+bob", 3)
)

func setup() (*servicetest.Engine, *servicetest.Transport, *session.Synchronizer) {
	eng := servicetest.NewEngine(domain.NewAddress("+alice", 1))
	tr := servicetest.NewTransport()
	tr.Devices["+bob"] = []domain.Address{devA, devB, devC}
	return eng, tr, session.New(eng, tr, &addrlock.Locker[domain.Address]{}, nil)
}

func TestEnsureSessions_EstablishesMissingOnly(t *testing.T) {
	eng, tr, syn := setup()
	eng.SetSession(devA)
	tr.Bundles[devB] = domain.PreKeyBundle{DeviceID: 2}
	tr.Bundles[devC] = domain.PreKeyBundle{DeviceID: 3}

	addrs, err := syn.EnsureSessions(context.Background(), "+bob")
	require.NoError(t, err)
	require.Equal(t, []domain.Address{devA, devB, devC}, addrs)

	require.Zero(t, tr.BundleGets[devA])
	require.Equal(t, 1, eng.Establishes[devB])
	require.Equal(t, 1, eng.Establishes[devC])
	for _, a := range addrs {
		has, _ := eng.HasSession(a)
		require.True(t, has, a.String())
	}
}

// Every address ends up either with a full session or none at all.
func TestEnsureSessions_FailuresStayLocal(t *testing.T) {
	eng, tr, syn := setup()
	// devA: no bundle published. devB: bundle fails validation. devC: fine.
	tr.Bundles[devB] = domain.PreKeyBundle{DeviceID: 2}
	tr.Bundles[devC] = domain.PreKeyBundle{DeviceID: 3}
	eng.EstablishErr[devB] = domain.ErrInvalidBundle

	addrs, err := syn.EnsureSessions(context.Background(), "+bob")
	require.NoError(t, err)
	require.Len(t, addrs, 3, "full address list regardless of failures")

	hasA, _ := eng.HasSession(devA)
	hasB, _ := eng.HasSession(devB)
	hasC, _ := eng.HasSession(devC)
	require.False(t, hasA)
	require.False(t, hasB)
	require.True(t, hasC)
}

func TestEnsureSessions_NoDevices(t *testing.T) {
	_, _, syn := setup()
	addrs, err := syn.EnsureSessions(context.Background(), "+nobody")
	require.NoError(t, err)
	require.Empty(t, addrs)
}

func TestEnsureSessions_ConcurrentCallersEstablishOnce(t *testing.T) {
	eng, tr, syn := setup()
	eng.Delay = 5 * time.Millisecond
	tr.Devices["+bob"] = []domain.Address{devA}
	tr.Bundles[devA] = domain.PreKeyBundle{DeviceID: 1}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := syn.EnsureSessions(context.Background(), "+bob")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, eng.Establishes[devA])
	require.Zero(t, eng.Overlaps)
}
