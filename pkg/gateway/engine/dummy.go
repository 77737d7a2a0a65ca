// Package engine provides concrete gateway.Engine implementations: a
// deterministic dummy for tests and local development, and two vendor
// adapters (WebSocket and HTTP) for production synthesis backends.
package engine

import (
	"context"
	"math"

	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
)

// msPerUnit is the fixed per-character audio duration the dummy engine
// synthesizes. A constant duration per character makes unit-to-audio
// alignment independently verifiable in tests: callers can derive expected
// byte counts directly from segment text length.
const msPerUnit = 40

const (
	dummyAmplitude = 8000
	dummyFreqHz    = 440.0
)

// Dummy is a deterministic, non-networked Engine that generates a
// fixed-frequency sine wave sized by text length. It fails only when ctx is
// already cancelled and never blocks beyond the synthesis computation
// itself, which makes it suitable
// for exercising the session state machine (segmentation, cancellation,
// resume, backpressure) without a real synthesis backend.
type Dummy struct{}

// NewDummy constructs a Dummy engine.
func NewDummy() *Dummy { return &Dummy{} }

// SynthesizePCM16 returns msPerUnit milliseconds of sine wave per character
// (rune) of text, and at least msPerUnit milliseconds, at spec.SampleRate,
// stereo-interleaved when spec.Channels == 2.
func (d *Dummy) SynthesizePCM16(ctx context.Context, text string, spec gateway.AudioSpec) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	totalMs := msPerUnit
	if n := len([]rune(text)) * msPerUnit; n > totalMs {
		totalMs = n
	}
	totalSamples := int(float64(spec.SampleRate) * (float64(totalMs) / 1000.0))

	bytesPerFrame := 2
	if spec.Channels == 2 {
		bytesPerFrame = 4
	}
	pcm := make([]byte, 0, totalSamples*bytesPerFrame)
	for i := 0; i < totalSamples; i++ {
		t := float64(i) / float64(spec.SampleRate)
		sample := int16(dummyAmplitude * math.Sin(2.0*math.Pi*dummyFreqHz*t))
		lo, hi := byte(sample), byte(sample>>8)
		pcm = append(pcm, lo, hi)
		if spec.Channels == 2 {
			pcm = append(pcm, lo, hi)
		}
	}
	return pcm, nil
}
