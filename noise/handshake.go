// Package noise wraps the Noise Protocol Framework handshake used to
// authenticate a CommuCat connection. The client is always the initiator;
// the supported patterns are XK and IK, both of which require the server's
// static public key to be known before any network traffic.
package noise

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/flynn/noise"

	"github.com/commucat/client-go/crypto"
)

var (
	// ErrHandshakeNotComplete indicates the handshake is still in progress.
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrRemoteStaticRequired indicates the pattern needs the server's
	// static public key and none was supplied.
	ErrRemoteStaticRequired = errors.New("remote static key required")
)

// Pattern is a supported Noise handshake pattern.
type Pattern uint8

const (
	// PatternXK authenticates the client statically in the third message.
	PatternXK Pattern = iota
	// PatternIK sends the client's static key in the first message.
	PatternIK
)

// ParsePattern maps a pattern label from the profile to a Pattern.
// Labels are case-insensitive; anything but XK and IK is rejected.
func ParsePattern(label string) (Pattern, error) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "XK":
		return PatternXK, nil
	case "IK":
		return PatternIK, nil
	default:
		return 0, fmt.Errorf("unsupported pattern: %s", label)
	}
}

// String returns the canonical uppercase label.
func (p Pattern) String() string {
	if p == PatternIK {
		return "IK"
	}
	return "XK"
}

// Config assembles everything needed to start a handshake.
type Config struct {
	Pattern      Pattern
	Prologue     []byte
	LocalPrivate [crypto.KeySize]byte
	RemoteStatic [crypto.KeySize]byte
}

// Handshake drives the initiator side of a Noise handshake as a uniform
// three-step exchange: WriteMessage (message one), ReadMessage (message two,
// carrying the server payload), WriteMessage (message three).
//
// The IK pattern completes after message two; its third message is the empty
// payload encrypted under the freshly established send cipher, so both
// patterns present the same call sequence to the orchestrator.
type Handshake struct {
	pattern  Pattern
	state    *noise.HandshakeState
	send     *noise.CipherState
	recv     *noise.CipherState
	complete bool
}

// NewInitiator builds the handshake state from the configuration.
func NewInitiator(cfg Config) (*Handshake, error) {
	if isZero(cfg.RemoteStatic) {
		return nil, fmt.Errorf("%w for %s", ErrRemoteStaticRequired, cfg.Pattern)
	}
	keys, err := crypto.FromSecretKey(cfg.LocalPrivate)
	if err != nil {
		return nil, fmt.Errorf("derive device key pair: %w", err)
	}

	staticKey := noise.DHKey{
		Private: make([]byte, crypto.KeySize),
		Public:  make([]byte, crypto.KeySize),
	}
	copy(staticKey.Private, keys.Private[:])
	copy(staticKey.Public, keys.Public[:])

	pattern := noise.HandshakeXK
	if cfg.Pattern == PatternIK {
		pattern = noise.HandshakeIK
	}
	config := noise.Config{
		CipherSuite:   noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256),
		Random:        rand.Reader,
		Pattern:       pattern,
		Initiator:     true,
		Prologue:      append([]byte(nil), cfg.Prologue...),
		StaticKeypair: staticKey,
		PeerStatic:    append([]byte(nil), cfg.RemoteStatic[:]...),
	}
	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}
	return &Handshake{pattern: cfg.Pattern, state: state}, nil
}

// WriteMessage produces the next outbound handshake message carrying
// payload. After completion it encrypts payload under the send cipher,
// which is how IK's third frame is produced.
func (h *Handshake) WriteMessage(payload []byte) ([]byte, error) {
	if h.complete {
		return h.send.Encrypt(nil, nil, payload)
	}
	message, send, recv, err := h.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("handshake write failed: %w", err)
	}
	if send != nil {
		// flynn/noise hands back the initiator-to-responder cipher first.
		h.send = send
		h.recv = recv
		h.complete = true
	}
	return message, nil
}

// ReadMessage consumes an inbound handshake message and returns its
// decrypted payload. After completion it decrypts under the receive cipher.
func (h *Handshake) ReadMessage(message []byte) ([]byte, error) {
	if h.complete {
		return h.recv.Decrypt(nil, nil, message)
	}
	payload, send, recv, err := h.state.ReadMessage(nil, message)
	if err != nil {
		return nil, fmt.Errorf("handshake read failed: %w", err)
	}
	if send != nil {
		h.send = send
		h.recv = recv
		h.complete = true
	}
	return payload, nil
}

// Complete reports whether the key exchange has finished.
func (h *Handshake) Complete() bool {
	return h.complete
}

// CipherStates returns the transport ciphers once the handshake completed.
// The first encrypts client-to-server traffic, the second decrypts
// server-to-client traffic.
func (h *Handshake) CipherStates() (*noise.CipherState, *noise.CipherState, error) {
	if !h.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	return h.send, h.recv, nil
}

// PeerStatic returns the server's static public key observed during the
// handshake.
func (h *Handshake) PeerStatic() []byte {
	remote := h.state.PeerStatic()
	return append([]byte(nil), remote...)
}

func isZero(key [crypto.KeySize]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
