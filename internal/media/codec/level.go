// Package codec turns decrypted Opus frames into signal measurements.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/pion/opus"
)

const (
	// The decoder upsamples one 20ms SILK frame to 960 mono samples at 48kHz.
	decodedSamples = 960
	// SilenceLevel is the RFC 6464 level of digital silence (-127 dBov).
	SilenceLevel = 127
)

// LevelMeter decodes Opus packets and reports their audio level in RFC 6464
// units (0 is loudest, 127 is silence). It is used when a peer does not send
// the audio level header extension. Not safe for concurrent use.
type LevelMeter struct {
	decoder *opus.Decoder
	pcm     []byte
}

// NewLevelMeter creates a meter for one remote audio track.
func NewLevelMeter() *LevelMeter {
	dec := opus.NewDecoder()
	return &LevelMeter{
		decoder: &dec,
		pcm:     make([]byte, decodedSamples*2),
	}
}

// Level decodes one Opus packet and returns its level.
func (m *LevelMeter) Level(opusPacket []byte) (uint8, error) {
	clear(m.pcm)
	if _, _, err := m.decoder.Decode(opusPacket, m.pcm); err != nil {
		return SilenceLevel, err
	}
	return PCMLevel(m.pcm), nil
}

// PCMLevel returns the RFC 6464 level of S16LE samples: the RMS power in
// -dBov, clamped to 0..127.
func PCMLevel(pcm []byte) uint8 {
	samples := len(pcm) / 2
	if samples == 0 {
		return SilenceLevel
	}

	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(samples))
	if rms == 0 {
		return SilenceLevel
	}

	dbov := 20 * math.Log10(rms/32768)
	level := math.Round(-dbov)
	switch {
	case level < 0:
		return 0
	case level > SilenceLevel:
		return SilenceLevel
	}
	return uint8(level)
}
