package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commucat/client-go/config"
	"github.com/commucat/client-go/crypto"
)

func awaitError(t *testing.T, events <-chan Event) ErrorEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if errorEvent, ok := ev.(ErrorEvent); ok {
				return errorEvent
			}
		case <-deadline:
			t.Fatal("timed out waiting for error event")
		}
	}
}

func offlineProfile(t *testing.T) *config.Profile {
	t.Helper()
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	server, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return &config.Profile{
		DeviceID:     "device-test",
		ServerURL:    "https://127.0.0.1:1",
		Domain:       "example.org",
		PrivateKey:   crypto.EncodeKey(keys.Private),
		PublicKey:    crypto.EncodeKey(keys.Public),
		NoisePattern: "XK",
		Prologue:     "commucat",
		ServerStatic: crypto.EncodeKey(server.Public),
	}
}

func TestCommandsWithoutConnection(t *testing.T) {
	eng := New(4, 16)
	defer eng.Close()

	commands := []Command{
		Join{ChannelID: 1},
		SendMessage{ChannelID: 1, Body: []byte("hi")},
		Leave{ChannelID: 1},
		Presence{State: "online"},
		Disconnect{}, // no-op without a connection, must not emit anything
		SendMessage{ChannelID: 2, Body: []byte("again")},
	}
	for _, cmd := range commands {
		require.NoError(t, eng.Send(cmd))
	}

	for i := 0; i < 5; i++ {
		errorEvent := awaitError(t, eng.Events())
		assert.Equal(t, "no active connection", errorEvent.Detail)
	}
}

func TestConnectRejectsBadScheme(t *testing.T) {
	eng := New(4, 16)
	defer eng.Close()

	profile := offlineProfile(t)
	profile.ServerURL = "http://example.org"
	require.NoError(t, eng.Send(Connect{Profile: profile}))

	errorEvent := awaitError(t, eng.Events())
	assert.Contains(t, errorEvent.Detail, "only https is supported")
}

func TestConnectRejectsUnsupportedPattern(t *testing.T) {
	eng := New(4, 16)
	defer eng.Close()

	profile := offlineProfile(t)
	profile.NoisePattern = "NN"
	require.NoError(t, eng.Send(Connect{Profile: profile}))

	errorEvent := awaitError(t, eng.Events())
	assert.Contains(t, errorEvent.Detail, "unsupported pattern")
}

func TestConnectRequiresServerStaticBeforeDialing(t *testing.T) {
	eng := New(4, 16)
	defer eng.Close()

	profile := offlineProfile(t)
	profile.ServerStatic = ""
	// The URL is unroutable; a configuration failure must surface instead
	// of a transport failure, proving no socket was opened.
	require.NoError(t, eng.Send(Connect{Profile: profile}))

	errorEvent := awaitError(t, eng.Events())
	assert.Equal(t, "server_static required for XK", errorEvent.Detail)
}

func TestConnectFailureLeavesSlotEmptyForRetry(t *testing.T) {
	eng := New(4, 32)
	defer eng.Close()

	profile := offlineProfile(t)
	require.NoError(t, eng.Send(Connect{Profile: profile}))
	first := awaitError(t, eng.Events())
	assert.Contains(t, first.Detail, "tcp connect failed")

	// The slot stays empty: a retry reaches the transport again instead of
	// being rejected as already connected.
	require.NoError(t, eng.Send(Connect{Profile: profile}))
	second := awaitError(t, eng.Events())
	assert.Contains(t, second.Detail, "tcp connect failed")
}

func TestSendAfterClose(t *testing.T) {
	eng := New(4, 16)
	eng.Close()

	err := eng.Send(Presence{State: "online"})
	assert.ErrorIs(t, err, ErrEngineOffline)
}

func TestEventsClosedAfterEngineClose(t *testing.T) {
	eng := New(4, 16)
	eng.Close()

	// A consumer draining the queue must unblock once the actor exits.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-eng.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event queue still open after Close")
		}
	}
}
