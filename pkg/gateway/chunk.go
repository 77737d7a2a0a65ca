package gateway

import "time"

// CachedChunk is the unit of synthesized output. Across a session's chunks,
// [UnitIndexStart, UnitIndexEnd] ranges are contiguous and non-overlapping
// when ordered by ChunkSeq (I5); UnitsText concatenated across chunks equals
// the prefix of ingressed text up through the last flushed character (I3).
type CachedChunk struct {
	CreatedAt      time.Time
	ChunkSeq       int
	UnitIndexStart int
	UnitIndexEnd   int
	UnitsText      string
	AudioSpec      AudioSpec
	AudioBytes     []byte
}

// segment is the result of popping the pending buffer: a contiguous run of
// not-yet-synthesized units.
type segment struct {
	start int
	end   int
	text  string
}
