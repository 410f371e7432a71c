package engine_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"ciphersync/internal/crypto"
	"ciphersync/internal/domain"
	"ciphersync/internal/engine"
	"ciphersync/internal/store"
)

const relayURL = "ws://relay.test/ws"

type party struct {
	addr    domain.Address
	engine  *engine.Engine
	prekeys *store.PrekeyFileStore
}

func newParty(t *testing.T, handle domain.Handle, device domain.DeviceID) party {
	t.Helper()
	dir := t.TempDir()

	xPriv, xPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	edPriv, edPub, err := crypto.GenerateEd25519()
	require.NoError(t, err)

	ids := store.NewIdentityFileStore(dir)
	require.NoError(t, ids.SaveIdentity("pw", domain.Identity{XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv}))

	addr := domain.NewAddress(handle, device)
	accounts := store.NewAccountFileStore(dir)
	require.NoError(t, accounts.SaveAccountProfile(domain.AccountProfile{
		ServerURL: relayURL, Address: addr, RegistrationID: 7,
	}))

	prekeys := store.NewPrekeyFileStore(dir)
	e := engine.New(engine.Stores{
		Identity: ids,
		PreKeys:  prekeys,
		Sessions: store.NewSessionFileStore(dir),
		Accounts: accounts,
	}, relayURL, "pw", nil)
	return party{addr: addr, engine: e, prekeys: prekeys}
}

// bundle publishes fresh key material for p the way the relay would serve it.
func bundle(t *testing.T, p party, withOPK bool) domain.PreKeyBundle {
	t.Helper()
	ik, err := p.engine.IdentityKey()
	require.NoError(t, err)
	spk, err := p.engine.GenerateSignedPreKey()
	require.NoError(t, err)

	b := domain.PreKeyBundle{
		RegistrationID:        7,
		DeviceID:              p.addr.DeviceID,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.Key,
		SignedPreKeySignature: spk.Signature,
		IdentityKey:           ik,
	}
	if withOPK {
		opks, err := p.engine.GenerateOneTimePreKeys(1)
		require.NoError(t, err)
		b.PreKeyID = &opks[0].ID
		b.PreKey = &opks[0].Key
	}
	return b
}

func TestEngine_HandshakeAndReply(t *testing.T) {
	alice := newParty(t, "+1000", 1)
	bob := newParty(t, "+2000", 1)

	require.NoError(t, alice.engine.EstablishSession(bob.addr, bundle(t, bob, true)))
	has, err := alice.engine.HasSession(bob.addr)
	require.NoError(t, err)
	require.True(t, has)

	m1, err := alice.engine.Encrypt(bob.addr, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, domain.CipherPreKey, m1.Type)

	pt, err := bob.engine.Decrypt(alice.addr, m1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(pt))

	n, err := bob.prekeys.CountOneTimePreKeys()
	require.NoError(t, err)
	require.Zero(t, n, "one-time prekey must be consumed")

	reply, err := bob.engine.Encrypt(alice.addr, []byte("hi back"))
	require.NoError(t, err)
	require.Equal(t, domain.CipherStandard, reply.Type)

	pt, err = alice.engine.Decrypt(bob.addr, reply)
	require.NoError(t, err)
	require.Equal(t, "hi back", string(pt))

	// Once the reply decrypted, Alice stops sending the handshake.
	m2, err := alice.engine.Encrypt(bob.addr, []byte("again"))
	require.NoError(t, err)
	require.Equal(t, domain.CipherStandard, m2.Type)
	pt, err = bob.engine.Decrypt(alice.addr, m2)
	require.NoError(t, err)
	require.Equal(t, "again", string(pt))
}

func TestEngine_PreKeyRetransmitReusesSession(t *testing.T) {
	alice := newParty(t, "+1000", 1)
	bob := newParty(t, "+2000", 1)

	require.NoError(t, alice.engine.EstablishSession(bob.addr, bundle(t, bob, true)))

	m1, err := alice.engine.Encrypt(bob.addr, []byte("one"))
	require.NoError(t, err)
	m2, err := alice.engine.Encrypt(bob.addr, []byte("two"))
	require.NoError(t, err)
	require.Equal(t, domain.CipherPreKey, m2.Type)

	pt, err := bob.engine.Decrypt(alice.addr, m1)
	require.NoError(t, err)
	require.Equal(t, "one", string(pt))

	// The one-time prekey is gone, yet the second handshake-carrying message
	// still opens on the session built from the first.
	pt, err = bob.engine.Decrypt(alice.addr, m2)
	require.NoError(t, err)
	require.Equal(t, "two", string(pt))
}

func TestEngine_ResetSessionsStartsFreshHandshake(t *testing.T) {
	alice := newParty(t, "+1000", 1)
	bob := newParty(t, "+2000", 1)
	bob2 := domain.NewAddress("+2000", 2)

	require.NoError(t, alice.engine.EstablishSession(bob.addr, bundle(t, bob, true)))
	m1, err := alice.engine.Encrypt(bob.addr, []byte("one"))
	require.NoError(t, err)
	_, err = bob.engine.Decrypt(alice.addr, m1)
	require.NoError(t, err)

	reset, err := alice.engine.ResetSessions("+2000")
	require.NoError(t, err)
	require.Equal(t, []domain.Address{bob.addr}, reset)

	has, err := alice.engine.HasSession(bob.addr)
	require.NoError(t, err)
	require.False(t, has)
	_, err = alice.engine.Encrypt(bob.addr, []byte("lost"))
	require.True(t, errors.Is(err, domain.ErrNoSession))

	// Nothing left to reset, and other handles are untouched.
	reset, err = alice.engine.ResetSessions("+2000")
	require.NoError(t, err)
	require.Empty(t, reset)
	_, err = alice.engine.ResetSessions(bob2.Handle)
	require.NoError(t, err)

	// A new handshake replaces bob's side of the old session.
	require.NoError(t, alice.engine.EstablishSession(bob.addr, bundle(t, bob, true)))
	m2, err := alice.engine.Encrypt(bob.addr, []byte("fresh"))
	require.NoError(t, err)
	require.Equal(t, domain.CipherPreKey, m2.Type)
	pt, err := bob.engine.Decrypt(alice.addr, m2)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(pt))
}

func TestEngine_StandardWithoutSession(t *testing.T) {
	bob := newParty(t, "+2000", 1)
	_, err := bob.engine.Decrypt(domain.NewAddress("+3000", 1), domain.CipherMessage{
		Type:    domain.CipherStandard,
		Payload: []byte(`{"header":{"dh_pub":null,"pn":0,"n":0},"cipher":""}`),
	})
	require.True(t, errors.Is(err, domain.ErrNoSession), "got %v", err)

	_, err = bob.engine.Encrypt(domain.NewAddress("+3000", 1), []byte("x"))
	require.True(t, errors.Is(err, domain.ErrNoSession), "got %v", err)
}

func TestEngine_CorruptCipherKeepsState(t *testing.T) {
	alice := newParty(t, "+1000", 1)
	bob := newParty(t, "+2000", 1)

	require.NoError(t, alice.engine.EstablishSession(bob.addr, bundle(t, bob, false)))
	m1, err := alice.engine.Encrypt(bob.addr, []byte("one"))
	require.NoError(t, err)

	_, err = bob.engine.Decrypt(alice.addr, domain.CipherMessage{Type: domain.CipherPreKey, Payload: []byte("not json")})
	require.True(t, errors.Is(err, domain.ErrCorruptCipher), "got %v", err)

	pt, err := bob.engine.Decrypt(alice.addr, m1)
	require.NoError(t, err)
	require.Equal(t, "one", string(pt))
}

func TestEngine_InvalidBundle(t *testing.T) {
	alice := newParty(t, "+1000", 1)
	bob := newParty(t, "+2000", 1)

	b := bundle(t, bob, true)
	b.SignedPreKeySignature = make([]byte, 64)
	err := alice.engine.EstablishSession(bob.addr, b)
	require.True(t, errors.Is(err, domain.ErrInvalidBundle), "got %v", err)

	b = bundle(t, bob, true)
	b.PreKey = nil
	err = alice.engine.EstablishSession(bob.addr, b)
	require.True(t, errors.Is(err, domain.ErrInvalidBundle), "got %v", err)

	has, err := alice.engine.HasSession(bob.addr)
	require.NoError(t, err)
	require.False(t, has)
}

func TestEngine_LocalAddress(t *testing.T) {
	alice := newParty(t, "+1000", 3)
	addr, err := alice.engine.LocalAddress()
	require.NoError(t, err)
	require.Equal(t, domain.NewAddress("+1000", 3), addr)

	orphan := engine.New(engine.Stores{Accounts: store.NewAccountFileStore(t.TempDir())}, relayURL, "pw", nil)
	_, err = orphan.LocalAddress()
	require.True(t, errors.Is(err, domain.ErrNoAccount))
}
