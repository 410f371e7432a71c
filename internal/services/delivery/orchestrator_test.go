package delivery_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"ciphersync/internal/domain"
	"ciphersync/internal/services/cipher"
	"ciphersync/internal/services/delivery"
	"ciphersync/internal/services/servicetest"
	"ciphersync/internal/services/session"
	"ciphersync/internal/util/addrlock"
)

var (
	me   = domain.NewAddress("+alice", 1)
	bobA = domain.NewAddress("+bob", 1)
	bobB = domain.NewAddress("+bob", 2)
)

type fixture struct {
	eng  *servicetest.Engine
	tr   *servicetest.Transport
	msgs *servicetest.Messages
	orch *delivery.Orchestrator
}

func newFixture() fixture {
	f := fixture{
		eng:  servicetest.NewEngine(me),
		tr:   servicetest.NewTransport(),
		msgs: servicetest.NewMessages(),
	}
	locks := &addrlock.Locker[domain.Address]{}
	syn := session.New(f.eng, f.tr, locks, nil)
	gw := cipher.New(f.eng, f.tr, f.msgs, locks, cipher.DefaultRecoveryPolicy(), nil)
	f.orch = delivery.New(syn, gw, f.tr, f.msgs, 2, nil)
	f.tr.Devices["+bob"] = []domain.Address{bobA, bobB}
	return f
}

func text(s string) domain.LocalMessage {
	return domain.LocalMessage{Data: []byte(s), Type: domain.MessageText}
}

func TestSend_AllDevices(t *testing.T) {
	f := newFixture()
	f.eng.SetSession(bobA)
	f.eng.SetSession(bobB)

	out, err := f.orch.Send(context.Background(), me, "+bob", text("hi"))
	require.NoError(t, err)
	require.True(t, out.Delivered)
	require.Len(t, out.Results, 2)
	require.Len(t, f.tr.SentTo(bobA), 1)
	require.Len(t, f.tr.SentTo(bobB), 1)
}

// Device A has a session, device B has none and no bundle: B is attempted
// and fails, A alone makes the message delivered.
func TestSend_OneDeviceWithoutBundle(t *testing.T) {
	f := newFixture()
	f.eng.SetSession(bobA)

	out, err := f.orch.Send(context.Background(), me, "+bob", text("hi"))
	require.NoError(t, err)
	require.True(t, out.Delivered)

	require.Equal(t, 1, f.tr.BundleGets[bobB], "synchronizer must try to establish B")
	require.Equal(t, 1, f.eng.Encrypts[bobA])
	require.Equal(t, 1, f.eng.Encrypts[bobB])
	require.Len(t, f.tr.SentTo(bobA), 1)
	require.Empty(t, f.tr.SentTo(bobB))

	for _, r := range out.Results {
		if r.Address == bobB {
			require.True(t, errors.Is(r.Err, domain.ErrNoSession))
		} else {
			require.NoError(t, r.Err)
		}
	}
}

func TestSend_EstablishesMissingSession(t *testing.T) {
	f := newFixture()
	f.eng.SetSession(bobA)
	f.tr.Bundles[bobB] = domain.PreKeyBundle{DeviceID: 2}

	out, err := f.orch.Send(context.Background(), me, "+bob", text("hi"))
	require.NoError(t, err)
	require.True(t, out.Delivered)
	require.Len(t, f.tr.SentTo(bobA), 1)
	require.Len(t, f.tr.SentTo(bobB), 1)
}

func TestSend_NoDevicesIsNotDelivered(t *testing.T) {
	f := newFixture()
	out, err := f.orch.Send(context.Background(), me, "+nobody", text("hi"))
	require.NoError(t, err)
	require.False(t, out.Delivered)
	require.Empty(t, out.Results)
}

func TestSend_EveryDeviceFails(t *testing.T) {
	f := newFixture()
	f.eng.SetSession(bobA)
	f.eng.SetSession(bobB)
	f.tr.FailSend[bobA] = true
	f.tr.SendErr[bobB] = errors.New("socket closed")

	out, err := f.orch.Send(context.Background(), me, "+bob", text("hi"))
	require.NoError(t, err)
	require.False(t, out.Delivered)
	for _, r := range out.Results {
		require.Error(t, r.Err)
	}
}

func TestSend_FileInfoTravels(t *testing.T) {
	f := newFixture()
	f.eng.SetSession(bobA)
	msg := text("img")
	msg.Type = domain.MessageImage
	msg.FileInfo = &domain.FileInfo{Name: "a.png", MIMEType: "image/png", Size: 3}

	_, err := f.orch.Send(context.Background(), me, "+bob", msg)
	require.NoError(t, err)
	sent := f.tr.SentTo(bobA)
	require.Len(t, sent, 1)
	require.Equal(t, msg.FileInfo, sent[0].FileInfo)
	require.Equal(t, domain.MessageImage, sent[0].Type)
}

func TestSubmit_PersistsAndPromotes(t *testing.T) {
	f := newFixture()
	f.eng.SetSession(bobA)

	msg, out, err := f.orch.Submit(context.Background(), me, "+bob", text("hi"))
	require.NoError(t, err)
	require.True(t, out.Delivered)
	require.Equal(t, domain.StateSent, msg.State)

	stored, ok := f.msgs.Get(msg.ID)
	require.True(t, ok)
	require.Equal(t, domain.StateSent, stored.State)
	require.Equal(t, domain.OwnerSelf, stored.Owner)
}

func TestSubmit_UndeliveredStaysSending(t *testing.T) {
	f := newFixture()

	msg, out, err := f.orch.Submit(context.Background(), me, "+bob", text("hi"))
	require.NoError(t, err)
	require.False(t, out.Delivered)

	stored, ok := f.msgs.Get(msg.ID)
	require.True(t, ok)
	require.Equal(t, domain.StateSending, stored.State)
}
