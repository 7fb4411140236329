package engine_test

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	flynn "github.com/flynn/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commucat/client-go/config"
	"github.com/commucat/client-go/crypto"
	"github.com/commucat/client-go/engine"
	"github.com/commucat/client-go/proto"
)

// testServer is an in-process CommuCat endpoint: an HTTP/2 handler that
// answers the Hello/Auth/Ack handshake as a Noise XK responder and then
// exchanges application frames over the same stream.
type testServer struct {
	*httptest.Server
	staticKey flynn.DHKey
	received  chan proto.Frame
	failures  chan error
	// rejectHandshake makes the server answer Hello with an Error frame.
	rejectHandshake bool
	// extraAck inserts a non-completing Ack before the real one.
	extraAck bool
	// authUser attaches a user identity to the Auth payload.
	authUser bool
}

func newTestServer(t *testing.T, configure func(*testServer)) *testServer {
	t.Helper()
	suite := flynn.NewCipherSuite(flynn.DH25519, flynn.CipherChaChaPoly, flynn.HashSHA256)
	staticKey, err := suite.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	server := &testServer{
		staticKey: staticKey,
		received:  make(chan proto.Frame, 32),
		failures:  make(chan error, 8),
	}
	if configure != nil {
		configure(server)
	}
	server.Server = httptest.NewUnstartedServer(http.HandlerFunc(server.serve))
	server.Server.EnableHTTP2 = true
	server.Server.StartTLS()
	t.Cleanup(server.Server.Close)
	return server
}

func (s *testServer) fail(err error) {
	select {
	case s.failures <- err:
	default:
	}
}

func (s *testServer) serve(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(errors.New("response writer is not a flusher"))
		return
	}
	if r.Method != http.MethodPost || r.URL.Path != "/connect" {
		s.fail(fmt.Errorf("unexpected request %s %s", r.Method, r.URL.Path))
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
		s.fail(fmt.Errorf("unexpected content type %q", ct))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var buffer []byte
	hello, err := readWireFrame(r.Body, &buffer)
	if err != nil {
		s.fail(fmt.Errorf("read hello: %w", err))
		return
	}
	if hello.Type != proto.FrameHello || hello.Sequence != 1 {
		s.fail(fmt.Errorf("unexpected opening frame %s seq %d", hello.Type, hello.Sequence))
		return
	}

	if s.rejectHandshake {
		writeWireFrame(w, flusher, proto.Frame{
			ChannelID: 0,
			Sequence:  1,
			Type:      proto.FrameError,
			Payload:   proto.ControlPayload(map[string]interface{}{"reason": "device revoked"}),
		})
		return
	}

	responder, err := flynn.NewHandshakeState(flynn.Config{
		CipherSuite:   flynn.NewCipherSuite(flynn.DH25519, flynn.CipherChaChaPoly, flynn.HashSHA256),
		Random:        rand.Reader,
		Pattern:       flynn.HandshakeXK,
		Initiator:     false,
		Prologue:      []byte("commucat"),
		StaticKeypair: s.staticKey,
	})
	if err != nil {
		s.fail(err)
		return
	}
	helloHex, ok := hello.Payload.Control.GetString("handshake")
	if !ok {
		s.fail(errors.New("hello frame missing handshake field"))
		return
	}
	helloMessage, err := hex.DecodeString(helloHex)
	if err != nil {
		s.fail(err)
		return
	}
	if _, _, _, err := responder.ReadMessage(nil, helloMessage); err != nil {
		s.fail(fmt.Errorf("noise message one: %w", err))
		return
	}

	authPayload := `{"session":"sess-42"}`
	if s.authUser {
		authPayload = `{"session":"sess-42","user":{"handle":"alice","id":"u-1","display_name":"Alice"}}`
	}
	authMessage, _, _, err := responder.WriteMessage(nil, []byte(authPayload))
	if err != nil {
		s.fail(fmt.Errorf("noise message two: %w", err))
		return
	}
	writeWireFrame(w, flusher, proto.Frame{
		ChannelID: 0,
		Sequence:  1,
		Type:      proto.FrameAuth,
		Payload: proto.ControlPayload(map[string]interface{}{
			"handshake": hex.EncodeToString(authMessage),
		}),
	})

	auth, err := readWireFrame(r.Body, &buffer)
	if err != nil {
		s.fail(fmt.Errorf("read auth: %w", err))
		return
	}
	if auth.Type != proto.FrameAuth || auth.Sequence != 2 {
		s.fail(fmt.Errorf("unexpected auth frame %s seq %d", auth.Type, auth.Sequence))
		return
	}
	finalHex, _ := auth.Payload.Control.GetString("handshake")
	finalMessage, err := hex.DecodeString(finalHex)
	if err != nil {
		s.fail(err)
		return
	}
	if _, _, _, err := responder.ReadMessage(nil, finalMessage); err != nil {
		s.fail(fmt.Errorf("noise message three: %w", err))
		return
	}

	if s.extraAck {
		writeWireFrame(w, flusher, proto.Frame{
			ChannelID: 0,
			Sequence:  2,
			Type:      proto.FrameAck,
			Payload:   proto.ControlPayload(map[string]interface{}{"status": "queued"}),
		})
	}
	writeWireFrame(w, flusher, proto.Frame{
		ChannelID: 0,
		Sequence:  3,
		Type:      proto.FrameAck,
		Payload: proto.ControlPayload(map[string]interface{}{
			"handshake":        "ok",
			"pairing_required": true,
		}),
	})
	// Greet immediately so the client reader starts mid-buffer.
	writeWireFrame(w, flusher, proto.Frame{
		ChannelID: 9,
		Sequence:  4,
		Type:      proto.FrameMsg,
		Payload:   proto.OpaquePayload([]byte("welcome")),
	})

	for {
		frame, err := readWireFrame(r.Body, &buffer)
		if err != nil {
			return // client closed the stream
		}
		s.received <- frame
	}
}

func readWireFrame(r io.Reader, buffer *[]byte) (proto.Frame, error) {
	chunk := make([]byte, 4096)
	for {
		frame, consumed, err := proto.Decode(*buffer)
		if err == nil {
			*buffer = (*buffer)[consumed:]
			return frame, nil
		}
		if !errors.Is(err, proto.ErrShortBuffer) {
			return proto.Frame{}, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			*buffer = append(*buffer, chunk[:n]...)
			continue
		}
		if err != nil {
			return proto.Frame{}, err
		}
	}
}

func writeWireFrame(w io.Writer, flusher http.Flusher, frame proto.Frame) {
	encoded, err := frame.Encode()
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(encoded); err != nil {
		return
	}
	flusher.Flush()
}

func serverProfile(t *testing.T, server *testServer) *config.Profile {
	t.Helper()
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	var serverStatic [crypto.KeySize]byte
	copy(serverStatic[:], server.staticKey.Public)
	return &config.Profile{
		DeviceID:     "device-itest",
		ServerURL:    server.URL,
		Domain:       "example.org",
		PrivateKey:   crypto.EncodeKey(keys.Private),
		PublicKey:    crypto.EncodeKey(keys.Public),
		NoisePattern: "XK",
		Prologue:     "commucat",
		ServerStatic: crypto.EncodeKey(serverStatic),
		Insecure:     true,
	}
}

func awaitMatching(t *testing.T, events <-chan engine.Event, match func(engine.Event) bool) engine.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func awaitServerFrame(t *testing.T, server *testServer) proto.Frame {
	t.Helper()
	select {
	case frame := <-server.received:
		return frame
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for server-side frame")
		return proto.Frame{}
	}
}

func drainFailures(t *testing.T, server *testServer) {
	t.Helper()
	for {
		select {
		case err := <-server.failures:
			t.Errorf("server failure: %v", err)
		default:
			return
		}
	}
}

func TestConnectSendDisconnect(t *testing.T) {
	t.Setenv(config.EnvHome, t.TempDir())
	server := newTestServer(t, func(s *testServer) {
		s.extraAck = true
		s.authUser = true
	})
	profile := serverProfile(t, server)

	eng := engine.New(8, 64)
	defer eng.Close()
	require.NoError(t, eng.Send(engine.Connect{Profile: profile}))

	// The non-completing Ack is forwarded as regular traffic before the
	// handshake finishes.
	ev := awaitMatching(t, eng.Events(), func(ev engine.Event) bool {
		frameEvent, ok := ev.(engine.FrameEvent)
		return ok && frameEvent.Frame.Type == proto.FrameAck
	})
	status, _ := ev.(engine.FrameEvent).Frame.Payload.Control.GetString("status")
	assert.Equal(t, "queued", status)

	connected := awaitMatching(t, eng.Events(), func(ev engine.Event) bool {
		_, ok := ev.(engine.Connected)
		return ok
	}).(engine.Connected)
	assert.Equal(t, "sess-42", connected.SessionID)
	assert.True(t, connected.PairingRequired)

	// User identity learned during the handshake was merged and persisted.
	assert.Equal(t, "alice", profile.UserHandle)
	assert.Equal(t, "u-1", profile.UserID)
	saved, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "alice", saved.UserHandle)

	// The greeting queued right behind the Ack reaches the reader.
	greeting := awaitMatching(t, eng.Events(), func(ev engine.Event) bool {
		frameEvent, ok := ev.(engine.FrameEvent)
		return ok && frameEvent.Frame.Type == proto.FrameMsg
	}).(engine.FrameEvent)
	assert.Equal(t, []byte("welcome"), greeting.Frame.Payload.Opaque)

	// A second Connect is rejected without disturbing the session.
	require.NoError(t, eng.Send(engine.Connect{Profile: profile}))
	rejected := awaitMatching(t, eng.Events(), func(ev engine.Event) bool {
		errorEvent, ok := ev.(engine.ErrorEvent)
		return ok && errorEvent.Detail == "already connected"
	})
	require.NotNil(t, rejected)

	// Application frames carry sequence numbers from 3 upward.
	require.NoError(t, eng.Send(engine.SendMessage{ChannelID: 7, Body: []byte("hi")}))
	message := awaitServerFrame(t, server)
	assert.Equal(t, proto.FrameMsg, message.Type)
	assert.Equal(t, uint64(7), message.ChannelID)
	assert.Equal(t, uint64(3), message.Sequence)
	assert.Equal(t, []byte("hi"), message.Payload.Opaque)

	require.NoError(t, eng.Send(engine.Join{ChannelID: 7, Members: []string{"u-2"}, Relay: true}))
	join := awaitServerFrame(t, server)
	assert.Equal(t, proto.FrameJoin, join.Type)
	assert.Equal(t, uint64(4), join.Sequence)
	assert.True(t, join.Payload.Control.GetBool("relay"))

	require.NoError(t, eng.Send(engine.Presence{State: "away"}))
	presence := awaitServerFrame(t, server)
	assert.Equal(t, proto.FramePresence, presence.Type)
	assert.Equal(t, uint64(5), presence.Sequence)

	require.NoError(t, eng.Send(engine.Leave{ChannelID: 7}))
	leave := awaitServerFrame(t, server)
	assert.Equal(t, proto.FrameLeave, leave.Type)
	assert.Equal(t, uint64(6), leave.Sequence)

	require.NoError(t, eng.Send(engine.Disconnect{}))
	awaitMatching(t, eng.Events(), func(ev engine.Event) bool {
		disconnected, ok := ev.(engine.Disconnected)
		return ok && disconnected.Reason == "disconnected"
	})

	drainFailures(t, server)
}

func TestHandshakeRejection(t *testing.T) {
	server := newTestServer(t, func(s *testServer) { s.rejectHandshake = true })
	profile := serverProfile(t, server)

	eng := engine.New(8, 64)
	defer eng.Close()
	require.NoError(t, eng.Send(engine.Connect{Profile: profile}))

	// The Error frame is forwarded to the caller...
	forwarded := awaitMatching(t, eng.Events(), func(ev engine.Event) bool {
		frameEvent, ok := ev.(engine.FrameEvent)
		return ok && frameEvent.Frame.Type == proto.FrameError
	}).(engine.FrameEvent)
	reason, _ := forwarded.Frame.Payload.Control.GetString("reason")
	assert.Equal(t, "device revoked", reason)

	// ...and the attempt fails with a rejection, distinct from transport
	// failures.
	failure := awaitMatching(t, eng.Events(), func(ev engine.Event) bool {
		_, ok := ev.(engine.ErrorEvent)
		return ok
	}).(engine.ErrorEvent)
	assert.Contains(t, failure.Detail, "handshake rejected")

	// The slot is empty again: further sends report no connection.
	require.NoError(t, eng.Send(engine.Presence{State: "online"}))
	noConn := awaitMatching(t, eng.Events(), func(ev engine.Event) bool {
		errorEvent, ok := ev.(engine.ErrorEvent)
		return ok && errorEvent.Detail == "no active connection"
	})
	require.NotNil(t, noConn)

	drainFailures(t, server)
}

func TestProfileSavedOnlyWhenDirty(t *testing.T) {
	home := t.TempDir()
	t.Setenv(config.EnvHome, home)
	server := newTestServer(t, nil) // no user identity in Auth payload
	profile := serverProfile(t, server)

	eng := engine.New(8, 64)
	defer eng.Close()
	require.NoError(t, eng.Send(engine.Connect{Profile: profile}))
	awaitMatching(t, eng.Events(), func(ev engine.Event) bool {
		_, ok := ev.(engine.Connected)
		return ok
	})

	_, err := os.Stat(filepath.Join(home, "client.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "profile must not be written when nothing was learned")

	drainFailures(t, server)
}
