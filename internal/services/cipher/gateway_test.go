package cipher_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"ciphersync/internal/domain"
	"ciphersync/internal/services/cipher"
	"ciphersync/internal/services/servicetest"
	"ciphersync/internal/util/addrlock"
)

var (
	me   = domain.NewAddress("+alice", 1)
	peer = domain.NewAddress("+bob", 1)
)

type fixture struct {
	eng  *servicetest.Engine
	tr   *servicetest.Transport
	msgs *servicetest.Messages
	gw   *cipher.Gateway
}

func newFixture(policy cipher.RecoveryPolicy) fixture {
	f := fixture{
		eng:  servicetest.NewEngine(me),
		tr:   servicetest.NewTransport(),
		msgs: servicetest.NewMessages(),
	}
	f.gw = cipher.New(f.eng, f.tr, f.msgs, &addrlock.Locker[domain.Address]{}, policy, nil)
	return f
}

func (f fixture) withHistory(t *testing.T) {
	t.Helper()
	_, err := f.msgs.SaveMessage(context.Background(), peer.Handle, domain.LocalMessage{
		Owner: domain.OwnerSelf, Data: []byte("earlier"), State: domain.StateSent,
	})
	require.NoError(t, err)
}

func TestEncryptFor_NoSession(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())
	_, err := f.gw.EncryptFor(peer, []byte("x"))
	require.True(t, errors.Is(err, domain.ErrNoSession))
}

func TestEncryptFor_TypeFromEngine(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())
	f.eng.SetSession(peer)
	f.eng.PreKeyUntilReply = true

	msg, err := f.gw.EncryptFor(peer, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, domain.CipherPreKey, msg.Type)
}

func TestDecryptFrom_StandardWithoutSession(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())

	out := f.gw.DecryptFrom(context.Background(), peer, domain.CipherMessage{Type: domain.CipherStandard, Payload: []byte("x")})
	failed, ok := out.(domain.Failed)
	require.True(t, ok, "got %T", out)
	require.True(t, errors.Is(failed.Reason, domain.ErrNoSession))
}

func TestDecryptFrom_PreKeyWithoutHistoryDecrypts(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())

	out := f.gw.DecryptFrom(context.Background(), peer, domain.CipherMessage{Type: domain.CipherPreKey, Payload: []byte("hi")})
	require.Equal(t, domain.Plaintext("hi"), out)
	has, _ := f.eng.HasSession(peer)
	require.True(t, has)
}

func TestDecryptFrom_PreKeyWithHistoryNeedsRecovery(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())
	f.withHistory(t)

	out := f.gw.DecryptFrom(context.Background(), peer, domain.CipherMessage{Type: domain.CipherPreKey, Payload: []byte("hi")})
	require.Equal(t, domain.RecoveryNeeded{}, out)
	require.Zero(t, f.eng.Decrypts[peer], "engine must not be touched")
}

func TestReceive_RecoverySendsOneEmptyAndRetriesOnce(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())
	f.withHistory(t)
	f.eng.SetSession(peer)

	msg, err := f.gw.Receive(context.Background(), peer, domain.Envelope{
		Data:      domain.CipherMessage{Type: domain.CipherPreKey, Payload: []byte("again")},
		Type:      domain.MessageText,
		Timestamp: time.Unix(100, 0),
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, []byte("again"), msg.Data)
	require.Equal(t, domain.OwnerPartner, msg.Owner)
	require.Equal(t, domain.StateUnknown, msg.State)

	empties := f.tr.SentTo(peer)
	require.Len(t, empties, 1)
	require.Equal(t, domain.MessageEmpty, empties[0].Type)
	require.Empty(t, empties[0].Data.Payload)
	require.Equal(t, me, f.tr.Sent[0].From)
	require.Equal(t, 1, f.eng.Decrypts[peer])
}

func TestReceive_RecoveryFailsAfterOneRetry(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())
	f.withHistory(t)
	f.eng.SetSession(peer)
	f.eng.DecryptFn = func(domain.Address, domain.CipherMessage) ([]byte, error) {
		return nil, domain.ErrCorruptCipher
	}

	_, err := f.gw.Receive(context.Background(), peer, domain.Envelope{
		Data: domain.CipherMessage{Type: domain.CipherPreKey, Payload: []byte("x")},
		Type: domain.MessageText,
	})
	require.True(t, errors.Is(err, domain.ErrUnrecoverable), "got %v", err)
	require.Len(t, f.tr.SentTo(peer), 1, "never two EMPTY messages")
	require.Equal(t, 1, f.eng.Decrypts[peer], "exactly one retry")
}

func TestReceive_RecoveryPolicyMoreRetries(t *testing.T) {
	f := newFixture(cipher.RecoveryPolicy{MaxRetries: 3})
	f.withHistory(t)
	f.eng.SetSession(peer)
	f.eng.DecryptFn = func(domain.Address, domain.CipherMessage) ([]byte, error) {
		return nil, domain.ErrCorruptCipher
	}

	_, err := f.gw.Receive(context.Background(), peer, domain.Envelope{
		Data: domain.CipherMessage{Type: domain.CipherPreKey, Payload: []byte("x")},
	})
	require.True(t, errors.Is(err, domain.ErrUnrecoverable))
	require.Len(t, f.tr.SentTo(peer), 1)
	require.Equal(t, 3, f.eng.Decrypts[peer])
}

func TestReceive_RecoveryWithoutSessionFails(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())
	f.withHistory(t)

	_, err := f.gw.Receive(context.Background(), peer, domain.Envelope{
		Data: domain.CipherMessage{Type: domain.CipherPreKey, Payload: []byte("x")},
	})
	require.True(t, errors.Is(err, domain.ErrNoSession), "got %v", err)
	require.Empty(t, f.tr.Sent)
	require.Zero(t, f.eng.Decrypts[peer])
}

func TestReceive_EmptyMessageIsNotSurfaced(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())
	f.eng.SetSession(peer)

	msg, err := f.gw.Receive(context.Background(), peer, domain.Envelope{
		Data: domain.CipherMessage{Type: domain.CipherStandard},
		Type: domain.MessageEmpty,
	})
	require.NoError(t, err)
	require.Nil(t, msg)
	require.Equal(t, 1, f.eng.Decrypts[peer])
}

func TestReceive_FileInfoCarried(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())
	f.eng.SetSession(peer)
	fi := &domain.FileInfo{Name: "cat.jpg", MIMEType: "image/jpeg", Size: 4}

	msg, err := f.gw.Receive(context.Background(), peer, domain.Envelope{
		Data:     domain.CipherMessage{Type: domain.CipherStandard, Payload: []byte("jpeg")},
		Type:     domain.MessageImage,
		FileInfo: fi,
	})
	require.NoError(t, err)
	require.Equal(t, fi, msg.FileInfo)
	require.Equal(t, domain.MessageImage, msg.Type)
}

func TestDecryptFrom_PreKeyHistoryLookupFails(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())
	f.withHistory(t)
	f.eng.SetSession(peer)
	f.msgs.HistoryErr = context.Canceled

	out := f.gw.DecryptFrom(context.Background(), peer, domain.CipherMessage{Type: domain.CipherPreKey, Payload: []byte("hi")})
	failed, ok := out.(domain.Failed)
	require.True(t, ok, "got %T", out)
	require.ErrorIs(t, failed.Reason, context.Canceled)
	require.Zero(t, f.eng.Decrypts[peer], "engine must not be touched")
}

func TestDecryptFrom_StandardIgnoresHistoryLookup(t *testing.T) {
	f := newFixture(cipher.DefaultRecoveryPolicy())
	f.eng.SetSession(peer)
	f.msgs.HistoryErr = context.Canceled

	out := f.gw.DecryptFrom(context.Background(), peer, domain.CipherMessage{Type: domain.CipherStandard, Payload: []byte("hi")})
	require.Equal(t, domain.Plaintext("hi"), out)
}
