package app_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"ciphersync/internal/app"
	"ciphersync/internal/domain"
	"ciphersync/internal/relay"
)

const passphrase = "Correct-Horse-9-Battery"

func newRelay(t *testing.T) (*relay.Server, string) {
	t.Helper()
	srv := relay.NewServer(relay.ServerOptions{PushTimeout: 2 * time.Second, PreKeyLowWater: 3})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newWire(t *testing.T, url string, handle domain.Handle) *app.Wire {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.Home = t.TempDir()
	cfg.Relay.URL = url
	cfg.Relay.Reconnect.Initial = 10 * time.Millisecond
	cfg.Passphrase = passphrase
	cfg.PreKeys.Batch = 5
	cfg.Resend.RatePerSecond = 0

	w, err := app.NewWire(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	_, _, err = w.Identity.GenerateIdentity(passphrase)
	require.NoError(t, err)
	_, err = w.Identity.RegisterAccount(url, domain.NewAddress(handle, 1))
	require.NoError(t, err)
	return w
}

func connect(t *testing.T, srv *relay.Server, w *app.Wire) *app.Client {
	t.Helper()
	c, err := w.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.Eventually(t, func() bool { return srv.HasBundle(c.Local) }, 5*time.Second, 10*time.Millisecond)
	return c
}

func texts(t *testing.T, w *app.Wire, handle domain.Handle) []string {
	t.Helper()
	msgs, err := w.Messages.ListMessages(context.Background(), handle)
	require.NoError(t, err)
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Owner)+":"+string(m.Data))
	}
	return out
}

func TestClient_ConversationAcrossReconnect(t *testing.T) {
	ctx := context.Background()
	srv, url := newRelay(t)
	aliceW := newWire(t, url, "alice")
	bobW := newWire(t, url, "bob")

	alice := connect(t, srv, aliceW)
	bob := connect(t, srv, bobW)

	// Live push.
	sent, outcome, err := alice.Send(ctx, "bob", domain.LocalMessage{Type: domain.MessageText, Data: []byte("hi")})
	require.NoError(t, err)
	require.True(t, outcome.Delivered)
	require.Equal(t, domain.StateSent, sent.State)
	require.Eventually(t, func() bool {
		return len(texts(t, bobW, "alice")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, outcome, err = bob.Send(ctx, "alice", domain.LocalMessage{Type: domain.MessageText, Data: []byte("hello")})
	require.NoError(t, err)
	require.True(t, outcome.Delivered)
	require.Eventually(t, func() bool {
		return len(texts(t, aliceW, "bob")) == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"SELF:hi", "PARTNER:hello"}, texts(t, aliceW, "bob"))

	// Offline: the relay parks the message and bob reconciles on connect.
	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool { return srv.Online() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, outcome, err = alice.Send(ctx, "bob", domain.LocalMessage{Type: domain.MessageText, Data: []byte("while away")})
	require.NoError(t, err)
	require.True(t, outcome.Delivered)

	bob = connect(t, srv, bobW)
	_, failed, err := bob.OnConnect(ctx)
	require.NoError(t, err)
	require.Empty(t, failed)
	require.Equal(t, []string{"PARTNER:hi", "SELF:hello", "PARTNER:while away"}, texts(t, bobW, "alice"))
}

// Every message alice sends before bob ever answers carries the handshake.
// Bob drains them all in one pass, then the conversation continues on the
// ratchet in both directions.
func TestClient_PreKeyMailsDrainedBeforeReply(t *testing.T) {
	ctx := context.Background()
	srv, url := newRelay(t)
	aliceW := newWire(t, url, "alice")
	bobW := newWire(t, url, "bob")

	alice := connect(t, srv, aliceW)
	bob := connect(t, srv, bobW)
	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool { return srv.Online() == 1 }, 5*time.Second, 10*time.Millisecond)

	for _, body := range []string{"one", "two", "three"} {
		_, outcome, err := alice.Send(ctx, "bob", domain.LocalMessage{Type: domain.MessageText, Data: []byte(body)})
		require.NoError(t, err)
		require.True(t, outcome.Delivered)
	}

	bob = connect(t, srv, bobW)
	_, failed, err := bob.OnConnect(ctx)
	require.NoError(t, err)
	require.Empty(t, failed)
	require.Equal(t, []string{"PARTNER:one", "PARTNER:two", "PARTNER:three"}, texts(t, bobW, "alice"))

	held, err := bobW.Messages.HeldMails(ctx)
	require.NoError(t, err)
	require.Empty(t, held)

	_, outcome, err := bob.Send(ctx, "alice", domain.LocalMessage{Type: domain.MessageText, Data: []byte("got them")})
	require.NoError(t, err)
	require.True(t, outcome.Delivered)
	require.Eventually(t, func() bool {
		return len(texts(t, aliceW, "bob")) == 4
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "PARTNER:got them", texts(t, aliceW, "bob")[3])

	_, outcome, err = alice.Send(ctx, "bob", domain.LocalMessage{Type: domain.MessageText, Data: []byte("four")})
	require.NoError(t, err)
	require.True(t, outcome.Delivered)
	require.Eventually(t, func() bool {
		got := texts(t, bobW, "alice")
		return len(got) == 5 && got[4] == "PARTNER:four"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClient_OnConnectResumesPendingSends(t *testing.T) {
	ctx := context.Background()
	srv, url := newRelay(t)
	aliceW := newWire(t, url, "alice")
	bobW := newWire(t, url, "bob")
	connect(t, srv, bobW)

	// Left over from a previous run that never reached the relay.
	id, err := aliceW.Messages.SaveMessage(ctx, "bob", domain.LocalMessage{
		Owner:     domain.OwnerSelf,
		Type:      domain.MessageText,
		Data:      []byte("queued"),
		Timestamp: time.Now().UTC(),
		State:     domain.StateSending,
	})
	require.NoError(t, err)

	alice := connect(t, srv, aliceW)
	report, _, err := alice.OnConnect(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Pending)
	require.Equal(t, 1, report.Delivered)

	pending, err := aliceW.Messages.QueryMessagesByState(ctx, domain.StateSending)
	require.NoError(t, err)
	require.Empty(t, pending)
	msgs, err := aliceW.Messages.ListMessages(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, id, msgs[0].ID)
	require.Equal(t, domain.StateSent, msgs[0].State)
}

func TestClient_SendToUnknownHandleStaysPending(t *testing.T) {
	ctx := context.Background()
	srv, url := newRelay(t)
	aliceW := newWire(t, url, "alice")
	alice := connect(t, srv, aliceW)

	msg, outcome, err := alice.Send(ctx, "nobody", domain.LocalMessage{Type: domain.MessageText, Data: []byte("?")})
	require.NoError(t, err)
	require.False(t, outcome.Delivered)
	require.Equal(t, domain.StateSending, msg.State)

	pending, err := aliceW.Messages.QueryMessagesByState(ctx, domain.StateSending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestWire_RunStopsOnCancel(t *testing.T) {
	srv, url := newRelay(t)
	w := newWire(t, url, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessions := 0
	err := w.Run(ctx, func(ctx context.Context, c *app.Client) {
		sessions++
		require.Eventually(t, func() bool { return srv.HasBundle(c.Local) }, 5*time.Second, 10*time.Millisecond)
		cancel()
	})
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 1, sessions)
}

func TestNewWire_HomeLocked(t *testing.T) {
	cfg := app.DefaultConfig()
	cfg.Home = t.TempDir()
	cfg.Relay.URL = "ws://127.0.0.1:1"

	first, err := app.NewWire(cfg, nil)
	require.NoError(t, err)

	_, err = app.NewWire(cfg, nil)
	require.True(t, errors.Is(err, app.ErrHomeLocked), "got %v", err)

	require.NoError(t, first.Close())
	again, err := app.NewWire(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestWire_RunWithoutAccount(t *testing.T) {
	_, url := newRelay(t)
	cfg := app.DefaultConfig()
	cfg.Home = t.TempDir()
	cfg.Relay.URL = url
	w, err := app.NewWire(cfg, nil)
	require.NoError(t, err)
	defer w.Close()

	err = w.Run(context.Background(), nil)
	require.True(t, errors.Is(err, domain.ErrNoAccount))
}
