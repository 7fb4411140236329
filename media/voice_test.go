package media

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoiceMessageRoundTrip(t *testing.T) {
	message := NewVoiceMessage(2000)
	message.AddFrame([]byte{0, 1, 2, 3})
	message.AddFrame([]byte{4, 5, 6, 7})

	encoded, err := message.Encode()
	require.NoError(t, err)

	decoded, err := DecodeVoiceMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint32(2000), decoded.Duration)
	assert.Equal(t, uint32(VoiceSampleRate), decoded.SampleRate)
	assert.Equal(t, uint16(VoiceFrameDuration), decoded.FrameDuration)
	require.Len(t, decoded.Frames, 2)

	first, err := decoded.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, first)
	second, err := decoded.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6, 7}, second)
}

func TestVoiceMessageWireFields(t *testing.T) {
	message := NewVoiceMessage(500)
	encoded, err := message.Encode()
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(encoded, &raw))
	assert.Equal(t, "voice_message", raw["type"])
	assert.Equal(t, "opus", raw["codec"])
	assert.Equal(t, float64(48000), raw["sample_rate"])
	assert.Equal(t, float64(1), raw["channels"])
	assert.Equal(t, float64(20), raw["frame_duration_ms"])
	assert.Equal(t, float64(500), raw["duration_ms"])
	// Frames must serialize as an empty array, not null.
	assert.Equal(t, []interface{}{}, raw["frames"])
}

func TestDecodeVoiceMessageRejectsOtherPayloads(t *testing.T) {
	_, err := DecodeVoiceMessage([]byte("plain text message"))
	assert.ErrorIs(t, err, ErrNotVoiceMessage)

	_, err = DecodeVoiceMessage([]byte(`{"type": "sticker"}`))
	assert.ErrorIs(t, err, ErrNotVoiceMessage)

	_, err = DecodeVoiceMessage([]byte(`{"type": "voice_message", "codec": "speex"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported voice codec")
}

func TestVoiceFrameErrors(t *testing.T) {
	message := NewVoiceMessage(100)
	message.Frames = append(message.Frames, "!!! not base64 !!!")

	_, err := message.Frame(-1)
	assert.Error(t, err)
	_, err = message.Frame(1)
	assert.Error(t, err)
	_, err = message.Frame(0)
	assert.Error(t, err)
}

func TestWaveBar(t *testing.T) {
	assert.Equal(t, "[░░░░]", WaveBar(0.0, 4))
	assert.Equal(t, "[████]", WaveBar(2.0, 4))
	assert.Equal(t, "[██░░]", WaveBar(0.5, 4))
	assert.Equal(t, "[░]", WaveBar(-1.0, 0))
}

func TestLevelIncreasesWithEnergy(t *testing.T) {
	decoder := NewAudioDecoder()
	quiet := make([]int16, 120)
	loud := make([]int16, 120)
	for i := range loud {
		loud[i] = 30000
	}
	quietLevel := decoder.ingest(quiet)
	loudLevel := decoder.ingest(loud)
	assert.Greater(t, loudLevel, quietLevel)
	assert.LessOrEqual(t, loudLevel, float32(1.0))
}

func TestLevelSmoothing(t *testing.T) {
	decoder := NewAudioDecoder()
	loud := make([]int16, 64)
	for i := range loud {
		loud[i] = 32000
	}
	first := decoder.ingest(loud)
	second := decoder.ingest(loud)
	// The low-pass filter approaches the raw level instead of jumping.
	assert.Greater(t, second, first)
	assert.Less(t, float64(first), 0.5)
}

func TestFrameSampleCountTracksBandwidth(t *testing.T) {
	// A 20ms frame carries rate/50 samples per channel, so narrowband
	// frames must not be measured against the full wideband buffer.
	assert.Equal(t, 160, frameSampleCount(8000, false))
	assert.Equal(t, 320, frameSampleCount(16000, false))
	assert.Equal(t, 960, frameSampleCount(48000, false))
	assert.Equal(t, 1920, frameSampleCount(48000, true))
	assert.Equal(t, maxFrameSamples, frameSampleCount(96000, true))
}

func TestDecodeRejectsEmptyPacket(t *testing.T) {
	decoder := NewAudioDecoder()
	_, _, err := decoder.Decode(nil)
	assert.Error(t, err)
}

func TestCallAudioLifecycle(t *testing.T) {
	calls := NewCallAudio()
	_, _, err := calls.Decode("call-1", nil)
	assert.Error(t, err, "empty packet is rejected before touching the codec")

	calls.mu.Lock()
	_, exists := calls.decoders["call-1"]
	calls.mu.Unlock()
	assert.True(t, exists, "decoder is registered on first use")

	calls.EndCall("call-1")
	calls.mu.Lock()
	_, exists = calls.decoders["call-1"]
	calls.mu.Unlock()
	assert.False(t, exists)
}
