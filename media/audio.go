package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// maxFrameSamples covers a 40ms frame at 48kHz, the largest packet the
// decoder is expected to produce.
const maxFrameSamples = 1920

// AudioLevel is one decoded frame's contribution to the call display.
type AudioLevel struct {
	Level      float32
	Samples    int
	SampleRate uint32
	Stereo     bool
}

// AudioDecoder turns incoming Opus packets into PCM and tracks a smoothed
// playback level per call. Safe for use from a single reader goroutine per
// call; the call registry itself is synchronized.
type AudioDecoder struct {
	decoder      opus.Decoder
	rollingLevel float32
}

// NewAudioDecoder creates a decoder for one call's audio stream.
func NewAudioDecoder() *AudioDecoder {
	decoder := opus.NewDecoder()
	return &AudioDecoder{decoder: decoder}
}

// Decode decodes one Opus packet into little-endian int16 PCM.
func (d *AudioDecoder) Decode(packet []byte) ([]int16, *AudioLevel, error) {
	if len(packet) == 0 {
		return nil, nil, errors.New("empty audio packet")
	}
	output := make([]byte, maxFrameSamples*2)
	bandwidth, isStereo, err := d.decoder.Decode(packet, output)
	if err != nil {
		return nil, nil, fmt.Errorf("opus decode failed: %w", err)
	}

	sampleCount := frameSampleCount(bandwidth.SampleRate(), isStereo)
	pcm := make([]int16, sampleCount)
	for i := 0; i < sampleCount; i++ {
		pcm[i] = int16(output[i*2]) | int16(output[i*2+1])<<8
	}

	level := &AudioLevel{
		Level:      d.ingest(pcm),
		Samples:    sampleCount,
		SampleRate: uint32(bandwidth.SampleRate()),
		Stereo:     isStereo,
	}
	logrus.WithFields(logrus.Fields{
		"function":    "AudioDecoder.Decode",
		"packet_size": len(packet),
		"pcm_samples": sampleCount,
		"bandwidth":   bandwidth.String(),
		"is_stereo":   isStereo,
	}).Debug("decoded audio packet")
	return pcm, level, nil
}

// frameSampleCount returns the number of PCM samples one 20ms frame holds
// at the given rate, counting both channels when stereo. Only converting
// that many keeps the trailing unused buffer out of the level meter.
func frameSampleCount(sampleRate int, stereo bool) int {
	count := sampleRate * VoiceFrameDuration / 1000
	if stereo {
		count *= 2
	}
	if count > maxFrameSamples {
		count = maxFrameSamples
	}
	return count
}

// ingest folds one frame into the rolling level with a simple low-pass
// filter so the meter does not jump on transients.
func (d *AudioDecoder) ingest(pcm []int16) float32 {
	length := len(pcm)
	if length == 0 {
		length = 1
	}
	var accum float32
	for _, sample := range pcm {
		value := float32(sample)
		if value < 0 {
			value = -value
		}
		accum += value
	}
	level := accum / (float32(length) * 32768.0)
	if level > 1 {
		level = 1
	}
	d.rollingLevel = d.rollingLevel*0.7 + level*0.3
	return d.rollingLevel
}

// CallAudio tracks one decoder per active call.
type CallAudio struct {
	mu       sync.Mutex
	decoders map[string]*AudioDecoder
}

// NewCallAudio creates an empty call registry.
func NewCallAudio() *CallAudio {
	return &CallAudio{decoders: make(map[string]*AudioDecoder)}
}

// Decode routes a packet to the decoder for its call, creating one on
// first use.
func (c *CallAudio) Decode(callID string, packet []byte) ([]int16, *AudioLevel, error) {
	c.mu.Lock()
	decoder, ok := c.decoders[callID]
	if !ok {
		decoder = NewAudioDecoder()
		c.decoders[callID] = decoder
	}
	c.mu.Unlock()
	return decoder.Decode(packet)
}

// EndCall drops the decoder state for a finished call.
func (c *CallAudio) EndCall(callID string) {
	c.mu.Lock()
	delete(c.decoders, callID)
	c.mu.Unlock()
}
