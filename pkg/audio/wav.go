// Package audio provides AudioSpec-aware PCM/WAV helpers used by the
// gateway's debug audio export endpoint.
package audio

import (
	"bytes"
	"encoding/binary"

	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
)

// NewWavBuffer wraps raw PCM16LE bytes in a canonical WAV container sized
// for spec's sample rate and channel count. Block align and byte rate scale
// with the channel count instead of assuming mono, unlike the fixed-mono
// helper this is adapted from.
func NewWavBuffer(pcm []byte, spec gateway.AudioSpec) []byte {
	channels := spec.Channels
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := spec.SampleRate * blockAlign

	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))              // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))                // PCM format
	binary.Write(buf, binary.LittleEndian, uint16(channels))         // channels
	binary.Write(buf, binary.LittleEndian, uint32(spec.SampleRate))  // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))         // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))       // block align
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))    // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// ConcatChunks concatenates cached chunks' audio bytes, in the order given,
// into a single WAV file for the debug export endpoint (SPEC_FULL.md §4.6).
// Callers are expected to pass chunks already ordered by chunk_seq.
func ConcatChunks(chunks []gateway.CachedChunk, spec gateway.AudioSpec) []byte {
	var pcm []byte
	for _, c := range chunks {
		pcm = append(pcm, c.AudioBytes...)
	}
	return NewWavBuffer(pcm, spec)
}
