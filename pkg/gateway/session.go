package gateway

import (
	"context"
	"sync"
	"time"
)

// punctuation is the set of characters that count as a natural prosodic
// boundary for the flush policy (§4.3). It mixes half-width and full-width
// (CJK) marks; the exact set is authoritative, additional scripts are
// unhandled by design.
var punctuation = map[rune]struct{}{
	',': {}, '.': {}, '!': {}, '?': {}, ';': {}, ':': {},
	'，': {}, '。': {}, '！': {}, '？': {}, '；': {}, '：': {},
	'\n': {},
}

func isPunctuation(r rune) bool {
	_, ok := punctuation[r]
	return ok
}

// SessionState is the per-session aggregate described in §3. Mutation is
// localized: ingress touches the pending buffer, finished and the activity
// clock (under mu); the synth loop touches cache, chunkSeq and cancelled
// (also under mu), and reads finished. A
// single mutex is the simplest discipline that keeps append and
// pop-pending-segment linearizable, matching §5's synchronization contract.
type SessionState struct {
	mu sync.Mutex

	sessionID string
	audioSpec AudioSpec
	cfg       Config

	createdAt      time.Time
	lastActivityAt time.Time

	seq int

	nextUnitIndex     int
	pendingUnits      []rune
	pendingStartIndex *int

	chunkSeq int
	cache    []CachedChunk

	cancelled bool
	finished  bool

	sendQueue chan OutboundMessage
	drainSlot chan struct{}

	ctx      context.Context
	cancelFn context.CancelFunc
	synthDone chan struct{}
	synthOnce sync.Once
	startOnce sync.Once

	closeOnce sync.Once
}

// NewSessionState constructs a session rooted under parentCtx. The session's
// own context is cancelled exactly once, either by an explicit cancel or by
// TTL eviction.
func NewSessionState(parentCtx context.Context, sessionID string, spec AudioSpec, cfg Config) *SessionState {
	ctx, cancel := context.WithCancel(parentCtx)
	now := time.Now()
	drainSlot := make(chan struct{}, 1)
	drainSlot <- struct{}{}
	return &SessionState{
		sessionID:      sessionID,
		audioSpec:      spec,
		cfg:            cfg,
		createdAt:      now,
		lastActivityAt: now,
		seq:            1,
		sendQueue:      make(chan OutboundMessage, cfg.MaxSendQueue+1),
		drainSlot:      drainSlot,
		ctx:            ctx,
		cancelFn:       cancel,
		synthDone:      make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *SessionState) ID() string { return s.sessionID }

// AudioSpec returns the audio format this session was created with.
func (s *SessionState) AudioSpec() AudioSpec { return s.audioSpec }

// Context returns the session's cancellation context.
func (s *SessionState) Context() context.Context { return s.ctx }

// SynthDone is closed once the synth loop has exited.
func (s *SessionState) SynthDone() <-chan struct{} { return s.synthDone }

// Touch records activity, resetting the TTL clock.
func (s *SessionState) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now()
}

// IsExpired reports whether the session has been idle longer than its TTL.
func (s *SessionState) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivityAt) > s.cfg.TTL
}

// EnqueueText appends text's characters to the pending buffer (I1, I2).
// Empty text is ignored. Text arriving after cancellation is silently
// dropped — the documented choice for the cancelled-ingress ambiguity in §9.
func (s *SessionState) EnqueueText(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	for _, r := range text {
		if s.pendingStartIndex == nil {
			start := s.nextUnitIndex
			s.pendingStartIndex = &start
		}
		s.pendingUnits = append(s.pendingUnits, r)
		s.nextUnitIndex++
	}
	s.lastActivityAt = time.Now()
}

// MarkFinished sets finished (client signalled text_end). Non-blocking: the
// synth loop observes the flag on its next iteration.
func (s *SessionState) MarkFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.lastActivityAt = time.Now()
}

// IsFinished reports whether text_end has been observed.
func (s *SessionState) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// IsCancelled reports whether the session has been cancelled (client cancel,
// backpressure, engine failure, or TTL eviction).
func (s *SessionState) IsCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// setCancelled marks the session cancelled. Idempotent.
func (s *SessionState) setCancelled() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// Cancel fires the one-shot cancellation signal: sets cancelled, cancels the
// session context (unblocking engine calls, queue waits, and the flush
// timer), and is safe to call more than once (I4).
func (s *SessionState) Cancel() {
	s.closeOnce.Do(func() {
		s.setCancelled()
		s.cancelFn()
	})
}

// shouldFlush implements the flush policy of §4.3.
func (s *SessionState) shouldFlush() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldFlushLocked()
}

func (s *SessionState) shouldFlushLocked() bool {
	if len(s.pendingUnits) == 0 {
		return false
	}
	if len(s.pendingUnits) >= s.cfg.MaxPendingUnits {
		return true
	}
	return isPunctuation(s.pendingUnits[len(s.pendingUnits)-1])
}

// popPendingSegment atomically takes the entire pending buffer and returns
// the resulting segment, or nil if there is nothing pending.
func (s *SessionState) popPendingSegment() *segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingUnits) == 0 || s.pendingStartIndex == nil {
		return nil
	}
	start := *s.pendingStartIndex
	text := string(s.pendingUnits)
	end := start + len(s.pendingUnits) - 1
	s.pendingUnits = nil
	s.pendingStartIndex = nil
	return &segment{start: start, end: end, text: text}
}

// nextChunkSeq returns the next chunk sequence number (starts at 1).
func (s *SessionState) nextChunkSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkSeq++
	return s.chunkSeq
}

// cacheChunk appends chunk to the cache and trims entries older than the TTL
// window. Reads during resume are linear scans (§4.1) over this slice.
func (s *SessionState) cacheChunk(chunk CachedChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = append(s.cache, chunk)
	cutoff := time.Now().Add(-s.cfg.TTL)
	trimmed := make([]CachedChunk, 0, len(s.cache))
	for _, c := range s.cache {
		if c.CreatedAt.After(cutoff) {
			trimmed = append(trimmed, c)
		}
	}
	s.cache = trimmed
}

// SnapshotCacheAfter returns, in original chunk_seq order, every cached
// chunk whose UnitIndexStart is strictly greater than last. Chunks that
// straddle or precede last are considered already received and skipped (P5).
func (s *SessionState) SnapshotCacheAfter(last int) []CachedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CachedChunk
	for _, c := range s.cache {
		if c.UnitIndexStart > last {
			out = append(out, c)
		}
	}
	return out
}

// NextSeq returns the next outbound message sequence number (monotonic, P2).
func (s *SessionState) NextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.seq
	s.seq++
	return v
}

// enqueueBlocking waits for queue capacity or session cancellation,
// whichever comes first. This is the primary backpressure lever (§4.4).
func (s *SessionState) enqueueBlocking(ctx context.Context, msg OutboundMessage) error {
	select {
	case s.sendQueue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueNonBlocking attempts to place msg without waiting, using the
// reserved +1 slot for terminal messages.
func (s *SessionState) enqueueNonBlocking(msg OutboundMessage) bool {
	select {
	case s.sendQueue <- msg:
		return true
	default:
		return false
	}
}

// queueDepth returns the current number of messages waiting to be drained
// (P6: must never exceed MaxSendQueue+1).
func (s *SessionState) queueDepth() int {
	return len(s.sendQueue)
}

// markSynthDone closes the synth-done signal exactly once.
func (s *SessionState) markSynthDone() {
	s.synthOnce.Do(func() { close(s.synthDone) })
}

// AcquireDrain grants exclusive rights to drain this session's send queue to
// a transport connection. Only one connection may drain a session at a time;
// a reconnecting client blocks here until the previous connection's drain
// loop releases (normally immediate, once its read loop observes the socket
// error). Release by calling the returned function.
func (s *SessionState) AcquireDrain(ctx context.Context) (release func(), err error) {
	select {
	case <-s.drainSlot:
		return func() { s.drainSlot <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendQueue exposes the outbound channel for a drain loop holding the slot
// returned by AcquireDrain.
func (s *SessionState) SendQueue() <-chan OutboundMessage { return s.sendQueue }
