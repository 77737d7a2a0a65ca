package transport

import (
	"encoding/base64"
	"fmt"

	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
)

// envelope is decoded first to discriminate on "type" before decoding the
// full message shape, the same two-pass approach the teacher's wire structs
// use with JSON tags.
type envelope struct {
	Type string `json:"type"`
}

type startMessage struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	AudioFormat string `json:"audio_format"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
}

type textDeltaMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       *int   `json:"seq"`
	Text      string `json:"text"`
}

type textEndMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       *int   `json:"seq"`
}

type cancelMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       *int   `json:"seq"`
}

type resumeMessage struct {
	Type                  string `json:"type"`
	SessionID             string `json:"session_id"`
	LastUnitIndexReceived *int   `json:"last_unit_index_received"`
}

// audioChunkWire, ttsEndWire, errorWire are the JSON shapes sent back to the
// client, matching spec.md §6 field-for-field.
type audioChunkWire struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	Seq            int    `json:"seq"`
	ChunkSeq       int    `json:"chunk_seq"`
	UnitIndexStart int    `json:"unit_index_start"`
	UnitIndexEnd   int    `json:"unit_index_end"`
	UnitsText      string `json:"units_text"`
	AudioFormat    string `json:"audio_format"`
	SampleRate     int    `json:"sample_rate"`
	Channels       int    `json:"channels"`
	AudioBase64    string `json:"audio_base64"`
}

type ttsEndWire struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
	Cancelled bool   `json:"cancelled"`
}

type errorWire struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// requireStr mirrors the original protocol's require_str validator: missing
// or empty required string fields are a bad_request.
func requireStr(val, field string) (string, error) {
	if val == "" {
		return "", fmt.Errorf("%w: field %q must be a non-empty string", gateway.ErrBadRequest, field)
	}
	return val, nil
}

// requireSessionID validates the one field every client message shares.
func requireSessionID(sessionID string) (string, error) {
	return requireStr(sessionID, "session_id")
}

// requireInt mirrors the original protocol's require_int validator: a nil
// pointer means the field was absent (or JSON null) from the payload, which
// is a bad_request the same as a missing string field.
func requireInt(val *int, field string) (int, error) {
	if val == nil {
		return 0, fmt.Errorf("%w: field %q must be an integer", gateway.ErrBadRequest, field)
	}
	return *val, nil
}

// toWireMessage converts a domain OutboundMessage into its wire JSON shape.
func toWireMessage(msg gateway.OutboundMessage) interface{} {
	switch m := msg.(type) {
	case gateway.AudioChunkMessage:
		return audioChunkWire{
			Type:           "audio_chunk",
			SessionID:      m.SessionID,
			Seq:            m.Seq,
			ChunkSeq:       m.ChunkSeq,
			UnitIndexStart: m.UnitIndexStart,
			UnitIndexEnd:   m.UnitIndexEnd,
			UnitsText:      m.UnitsText,
			AudioFormat:    m.AudioSpec.AudioFormat,
			SampleRate:     m.AudioSpec.SampleRate,
			Channels:       m.AudioSpec.Channels,
			AudioBase64:    base64.StdEncoding.EncodeToString(m.AudioBytes),
		}
	case gateway.TTSEndMessage:
		return ttsEndWire{
			Type:      "tts_end",
			SessionID: m.SessionID,
			Seq:       m.Seq,
			Cancelled: m.Cancelled,
		}
	case gateway.ErrorMessage:
		return errorWire{
			Type:      "error",
			SessionID: m.SessionID,
			Seq:       m.Seq,
			Code:      string(m.Code),
			Message:   m.Message,
		}
	default:
		return nil
	}
}
