package media

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// VoiceMessageType is the envelope discriminator.
	VoiceMessageType = "voice_message"
	// VoiceCodec is the only codec voice messages use.
	VoiceCodec = "opus"
	// VoiceSampleRate is the capture rate for voice messages in Hz.
	VoiceSampleRate = 48000
	// VoiceChannels is the channel count for voice messages.
	VoiceChannels = 1
	// VoiceFrameDuration is the duration of one Opus frame in milliseconds.
	VoiceFrameDuration = 20
)

var (
	// ErrNotVoiceMessage indicates the payload is not a voice envelope.
	ErrNotVoiceMessage = errors.New("not a voice message")
)

// VoiceMessage is the JSON envelope a recorded voice note travels in.
// Frames hold base64-encoded Opus packets in playback order.
type VoiceMessage struct {
	Type          string   `json:"type"`
	Codec         string   `json:"codec"`
	SampleRate    uint32   `json:"sample_rate"`
	Channels      uint8    `json:"channels"`
	FrameDuration uint16   `json:"frame_duration_ms"`
	Frames        []string `json:"frames"`
	Duration      uint32   `json:"duration_ms"`
}

// NewVoiceMessage creates an empty envelope with the standard voice
// parameters and the given total duration in milliseconds.
func NewVoiceMessage(durationMS uint32) *VoiceMessage {
	return &VoiceMessage{
		Type:          VoiceMessageType,
		Codec:         VoiceCodec,
		SampleRate:    VoiceSampleRate,
		Channels:      VoiceChannels,
		FrameDuration: VoiceFrameDuration,
		Frames:        []string{},
		Duration:      durationMS,
	}
}

// AddFrame appends one encoded Opus packet.
func (m *VoiceMessage) AddFrame(frame []byte) {
	m.Frames = append(m.Frames, base64.StdEncoding.EncodeToString(frame))
}

// Frame returns the decoded Opus packet at the given index.
func (m *VoiceMessage) Frame(index int) ([]byte, error) {
	if index < 0 || index >= len(m.Frames) {
		return nil, fmt.Errorf("frame index %d out of range", index)
	}
	decoded, err := base64.StdEncoding.DecodeString(m.Frames[index])
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", index, err)
	}
	return decoded, nil
}

// Encode serializes the envelope for transmission.
func (m *VoiceMessage) Encode() ([]byte, error) {
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode voice message: %w", err)
	}
	return encoded, nil
}

// DecodeVoiceMessage parses an envelope and checks it is one this client
// can play. Payloads that are not voice envelopes at all report
// ErrNotVoiceMessage so callers can fall through to plain message
// handling.
func DecodeVoiceMessage(payload []byte) (*VoiceMessage, error) {
	var message VoiceMessage
	if err := json.Unmarshal(payload, &message); err != nil {
		return nil, ErrNotVoiceMessage
	}
	if message.Type != VoiceMessageType {
		return nil, ErrNotVoiceMessage
	}
	if message.Codec != VoiceCodec {
		return nil, fmt.Errorf("unsupported voice codec: %s", message.Codec)
	}
	return &message, nil
}

// WaveBar renders an amplitude in [0,1] as a fixed-width text meter,
// for example [███░░░]. Out-of-range amplitudes are clamped.
func WaveBar(amplitude float32, width int) string {
	if width < 1 {
		width = 1
	}
	if amplitude < 0 {
		amplitude = 0
	}
	if amplitude > 1 {
		amplitude = 1
	}
	filled := int(amplitude * float32(width))
	if filled > width {
		filled = width
	}
	var wave strings.Builder
	wave.WriteByte('[')
	for i := 0; i < width; i++ {
		if i < filled {
			wave.WriteRune('█')
		} else {
			wave.WriteRune('░')
		}
	}
	wave.WriteByte(']')
	return wave.String()
}
