package gateway

// OutboundMessage is the domain-level (transport-agnostic) form of a
// gateway → client message. internal/transport translates these into the
// wire JSON shapes defined in the message channel contract.
type OutboundMessage interface {
	isOutboundMessage()
}

// AudioChunkMessage carries one synthesized segment.
type AudioChunkMessage struct {
	SessionID      string
	Seq            int
	ChunkSeq       int
	UnitIndexStart int
	UnitIndexEnd   int
	UnitsText      string
	AudioSpec      AudioSpec
	AudioBytes     []byte
}

func (AudioChunkMessage) isOutboundMessage() {}

// TTSEndMessage is the terminal "natural end" message.
type TTSEndMessage struct {
	SessionID string
	Seq       int
	Cancelled bool
}

func (TTSEndMessage) isOutboundMessage() {}

// ErrorMessage is the terminal error message.
type ErrorMessage struct {
	SessionID string
	Seq       int
	Code      ErrorCode
	Message   string
}

func (ErrorMessage) isOutboundMessage() {}

// chunkToMessage converts a cached chunk into its outbound wire-ready form.
func chunkToMessage(sessionID string, seq int, c CachedChunk) AudioChunkMessage {
	return AudioChunkMessage{
		SessionID:      sessionID,
		Seq:            seq,
		ChunkSeq:       c.ChunkSeq,
		UnitIndexStart: c.UnitIndexStart,
		UnitIndexEnd:   c.UnitIndexEnd,
		UnitsText:      c.UnitsText,
		AudioSpec:      c.AudioSpec,
		AudioBytes:     c.AudioBytes,
	}
}
