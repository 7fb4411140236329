package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/commucat/client-go/config"
	"github.com/commucat/client-go/crypto"
	"github.com/commucat/client-go/noise"
	"github.com/commucat/client-go/proto"
	"github.com/commucat/client-go/transport"
)

// ErrHandshakeRejected indicates the server sent an Error frame before
// completing the handshake.
var ErrHandshakeRejected = errors.New("handshake rejected")

// connect performs one connection attempt: transport bootstrap, then the
// Hello/Auth/Ack exchange carrying the Noise handshake. On success the
// inbound reader is running and the returned connection is ready for
// application frames at sequence 3.
func connect(profile *config.Profile, sink *eventSink) (*activeConnection, error) {
	// Configuration checks happen before any network I/O.
	endpoint, err := transport.ParseServerURL(profile.ServerURL)
	if err != nil {
		return nil, err
	}
	pattern, err := noise.ParsePattern(profile.NoisePattern)
	if err != nil {
		return nil, err
	}
	keys, err := profile.DeviceKeyPair()
	if err != nil {
		return nil, err
	}
	serverStatic, present, err := profile.ServerStaticKey()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, fmt.Errorf("server_static required for %s", pattern)
	}
	handshake, err := noise.NewInitiator(noise.Config{
		Pattern:      pattern,
		Prologue:     []byte(profile.Prologue),
		LocalPrivate: keys.Private,
		RemoteStatic: serverStatic,
	})
	if err != nil {
		return nil, fmt.Errorf("noise init: %w", err)
	}
	helloMessage, err := handshake.WriteMessage(nil)
	if err != nil {
		return nil, fmt.Errorf("noise message one: %w", err)
	}
	hello := helloFrame(profile, pattern, keys, helloMessage)

	// The connection context outlives this attempt; cancelling it aborts
	// the driver and, later, the inbound reader.
	ctx, cancel := context.WithCancel(context.Background())
	established := false
	defer func() {
		if !established {
			cancel()
		}
	}()

	dialer := &transport.Dialer{CAPath: profile.TLSCAPath, Insecure: profile.Insecure}
	session, err := dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	stream, err := session.OpenStream(ctx, endpoint, profile.Traceparent)
	if err != nil {
		return nil, err
	}
	writer := newFrameWriter(stream)

	sink.publish(LogEvent{Line: fmt.Sprintf("handshake start for %s", profile.DeviceID)})
	if err := writer.WriteFrame(hello); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}
	body, err := stream.Response(ctx)
	if err != nil {
		return nil, fmt.Errorf("handshake response: %w", err)
	}

	result, buffered, err := awaitHandshake(handshake, writer, body, profile, sink)
	if err != nil {
		return nil, err
	}

	if result.profileDirty {
		if err := profile.Save(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "connect",
				"error":    err.Error(),
			}).Warn("failed to persist learned profile fields")
		}
	}

	// Announce the session before the reader starts so consumers always see
	// Connected ahead of any buffered inbound traffic.
	sink.publish(Connected{
		SessionID:       result.sessionID,
		PairingRequired: result.pairingRequired,
	})
	go runReader(ctx, body, buffered, sink)

	conn := &activeConnection{
		sessionID:       result.sessionID,
		pairingRequired: result.pairingRequired,
		sequence:        3,
		writer:          writer,
		cancel:          cancel,
	}
	sink.publish(LogEvent{Line: fmt.Sprintf("handshake ok: session %s", result.sessionID)})
	established = true
	return conn, nil
}

type handshakeResult struct {
	sessionID       string
	pairingRequired bool
	profileDirty    bool
}

// awaitHandshake drives the Auth and Ack phases. It returns any bytes read
// past the completing Ack so the reader can pick up mid-buffer.
func awaitHandshake(
	handshake *noise.Handshake,
	writer *frameWriter,
	body io.Reader,
	profile *config.Profile,
	sink *eventSink,
) (handshakeResult, []byte, error) {
	var (
		result handshakeResult
		buffer []byte
	)
	chunk := make([]byte, 32*1024)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
		}
		if n == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return result, nil, errors.New("server closed during handshake")
			}
			return result, nil, fmt.Errorf("handshake read failed: %w", err)
		}
		for {
			frame, consumed, err := proto.Decode(buffer)
			if errors.Is(err, proto.ErrShortBuffer) {
				break
			}
			if err != nil {
				return result, nil, fmt.Errorf("handshake decode failed: %w", err)
			}
			buffer = buffer[consumed:]
			switch frame.Type {
			case proto.FrameAuth:
				if err := processAuth(handshake, writer, frame, profile, &result); err != nil {
					return result, nil, err
				}
			case proto.FrameAck:
				if ok, pairing := isHandshakeAck(frame); ok {
					if result.sessionID == "" {
						result.sessionID = "unknown"
					}
					result.pairingRequired = pairing
					return result, buffer, nil
				}
				// Not the completing Ack; treat it as regular traffic.
				sink.publish(FrameEvent{Frame: frame})
			case proto.FrameError:
				sink.publish(FrameEvent{Frame: frame})
				return result, nil, ErrHandshakeRejected
			default:
				sink.publish(FrameEvent{Frame: frame})
				logrus.WithFields(logrus.Fields{
					"function":   "awaitHandshake",
					"frame_type": frame.Type.String(),
				}).Warn("unexpected frame during handshake")
			}
		}
	}
}

// processAuth feeds the server's Noise message to the handshake, extracts
// the session and any learned user identity from its payload, and answers
// with the final Auth frame at sequence 2.
func processAuth(
	handshake *noise.Handshake,
	writer *frameWriter,
	frame proto.Frame,
	profile *config.Profile,
	result *handshakeResult,
) error {
	if frame.Payload.Kind != proto.PayloadControl {
		return errors.New("expected control payload in auth frame")
	}
	handshakeHex, ok := frame.Payload.Control.GetString("handshake")
	if !ok {
		return errors.New("missing handshake field in auth frame")
	}
	message, err := hex.DecodeString(handshakeHex)
	if err != nil {
		return fmt.Errorf("invalid handshake hex: %w", err)
	}
	payload, err := handshake.ReadMessage(message)
	if err != nil {
		return fmt.Errorf("noise message two: %w", err)
	}
	if len(payload) > 0 {
		var doc map[string]interface{}
		if err := json.Unmarshal(payload, &doc); err != nil {
			return fmt.Errorf("handshake payload decode: %w", err)
		}
		session, ok := doc["session"].(string)
		if !ok {
			return errors.New("session missing in handshake payload")
		}
		result.sessionID = session
		if identity, ok := userIdentityFrom(doc); ok {
			if profile.MergeUserIdentity(identity) {
				result.profileDirty = true
			}
		}
	}
	final, err := handshake.WriteMessage(nil)
	if err != nil {
		return fmt.Errorf("noise message three: %w", err)
	}
	return writer.WriteFrame(proto.Frame{
		ChannelID: frame.ChannelID,
		Sequence:  2,
		Type:      proto.FrameAuth,
		Payload: proto.ControlPayload(map[string]interface{}{
			"handshake": hex.EncodeToString(final),
		}),
	})
}

// helloFrame builds the opening frame at sequence 1.
func helloFrame(profile *config.Profile, pattern noise.Pattern, keys *crypto.KeyPair, message []byte) proto.Frame {
	properties := map[string]interface{}{
		"protocol_version": proto.ProtocolVersion,
		"pattern":          pattern.String(),
		"device_id":        profile.DeviceID,
		"client_static":    crypto.EncodeKey(keys.Public),
		"handshake":        hex.EncodeToString(message),
		"capabilities":     []string{"noise", "zstd"},
	}
	user := map[string]interface{}{}
	if profile.UserHandle != "" {
		user["handle"] = profile.UserHandle
	}
	if profile.UserID != "" {
		user["id"] = profile.UserID
	}
	if profile.UserDisplayName != "" {
		user["display_name"] = profile.UserDisplayName
	}
	if profile.UserAvatarURL != "" {
		user["avatar_url"] = profile.UserAvatarURL
	}
	if len(user) > 0 {
		properties["user"] = user
	}
	return proto.Frame{
		ChannelID: 0,
		Sequence:  1,
		Type:      proto.FrameHello,
		Payload:   proto.ControlPayload(properties),
	}
}

// isHandshakeAck recognises the completing Ack and its pairing flag.
func isHandshakeAck(frame proto.Frame) (bool, bool) {
	if frame.Payload.Kind != proto.PayloadControl {
		return false, false
	}
	value, ok := frame.Payload.Control.GetString("handshake")
	if !ok || value != "ok" {
		return false, false
	}
	return true, frame.Payload.Control.GetBool("pairing_required")
}

func userIdentityFrom(doc map[string]interface{}) (config.UserIdentity, bool) {
	raw, ok := doc["user"].(map[string]interface{})
	if !ok {
		return config.UserIdentity{}, false
	}
	identity := config.UserIdentity{}
	if v, ok := raw["id"].(string); ok {
		identity.ID = v
	}
	if v, ok := raw["handle"].(string); ok {
		identity.Handle = v
	}
	if v, ok := raw["display_name"].(string); ok {
		identity.DisplayName = v
	}
	if v, ok := raw["avatar_url"].(string); ok {
		identity.AvatarURL = v
	}
	return identity, true
}
