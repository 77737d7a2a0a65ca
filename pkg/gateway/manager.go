package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Manager is the process-wide session registry, cleanup loop, and per-session
// synth-loop scheduler described in §4.4. The registry map is guarded by one
// lock, held only for O(1) lookup/insert/remove (§5) — operations on an
// individual session never hold it.
type Manager struct {
	engine  Engine
	logger  Logger
	metrics Metrics
	cfg     Config

	mu       sync.Mutex
	sessions map[string]*SessionState

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
}

// NewManager constructs a Manager rooted under ctx and starts its cleanup
// loop. Cancelling ctx (or calling Shutdown) tears down every session.
func NewManager(ctx context.Context, engine Engine, cfg Config, logger Logger, metrics Metrics) *Manager {
	if logger == nil {
		logger = NoOpLogger{}
	}
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	mctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		engine:   engine,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
		sessions: make(map[string]*SessionState),
		ctx:      mctx,
		cancel:   cancel,
	}
	m.group.Go(func() error {
		m.cleanupLoop(mctx)
		return nil
	})
	return m
}

// Shutdown cancels every session and waits for the cleanup loop and all
// synth loops to exit.
func (m *Manager) Shutdown() {
	m.cancel()
	_ = m.group.Wait()
}

// GetOrCreate implements the get-or-create contract of §4.4: idempotent,
// touches activity on an existing session instead of recreating it.
func (m *Manager) GetOrCreate(sessionID string, spec AudioSpec) *SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[sessionID]; ok {
		st.Touch()
		return st
	}
	st := NewSessionState(m.ctx, sessionID, spec, m.cfg)
	m.sessions[sessionID] = st
	m.metrics.SessionOpened()
	return st
}

// Get looks up a session without creating one.
func (m *Manager) Get(sessionID string) (*SessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	return st, ok
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	_, existed := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if existed {
		m.metrics.SessionClosed()
	}
}

// StartSynthLoop lazily starts the per-session synth loop on first ingress.
// Safe to call repeatedly; only the first call spawns the goroutine (§4.4).
func (m *Manager) StartSynthLoop(st *SessionState) {
	st.startOnce.Do(func() {
		m.group.Go(func() error {
			m.synthLoop(st)
			return nil
		})
	})
}

// Cancel fires the one-shot cancellation signal and awaits the synth loop's
// termination, then removes the session from the registry. Idempotent (I4).
func (m *Manager) Cancel(st *SessionState) {
	st.Cancel()
	// A session whose synth loop never started has nothing to wait for;
	// consuming startOnce here also keeps one from starting afterwards.
	st.startOnce.Do(st.markSynthDone)
	<-st.SynthDone()
	m.remove(st.ID())
}

// Finish marks the session finished (client sent text_end). The synth loop
// drains any residual segment and emits tts_end on its own; this call never
// blocks, matching "ingress never blocks" (§4.3).
func (m *Manager) Finish(st *SessionState) {
	st.MarkFinished()
}

// Resume implements §4.4's resume contract: locate the session, or fail with
// ErrUnknownSession if it is absent or already evicted.
func (m *Manager) Resume(sessionID string, lastUnitIndexReceived int) ([]CachedChunk, error) {
	st, ok := m.Get(sessionID)
	if !ok {
		return nil, ErrUnknownSession
	}
	st.Touch()
	return st.SnapshotCacheAfter(lastUnitIndexReceived), nil
}

// cleanupLoop runs every CleanupInterval, evicting sessions idle longer than
// their TTL. Removes the expired set from the registry under the registry
// lock, then cancels each outside the lock (§4.4).
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := m.snapshotExpired()
			for _, st := range expired {
				m.logger.Info("session expired", "sessionID", st.ID())
				m.metrics.TTLEvicted()
				m.Cancel(st)
			}
		}
	}
}

func (m *Manager) snapshotExpired() []*SessionState {
	m.mu.Lock()
	var expired []*SessionState
	for id, st := range m.sessions {
		if st.IsExpired() {
			expired = append(expired, st)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for range expired {
		m.metrics.SessionClosed()
	}
	return expired
}

// synthLoop is the per-session state machine of §4.4: drains the pending
// buffer, invokes the engine, and enqueues audio chunks until cancelled or
// naturally finished.
func (m *Manager) synthLoop(st *SessionState) {
	naturalEnd := false
	defer func() {
		st.markSynthDone()
		if naturalEnd && !st.IsCancelled() {
			msg := TTSEndMessage{SessionID: st.ID(), Seq: st.NextSeq(), Cancelled: false}
			st.enqueueNonBlocking(msg)
		}
	}()

	for {
		if st.Context().Err() != nil {
			return
		}

		if st.queueDepth() >= m.cfg.MaxSendQueue {
			errMsg := ErrorMessage{
				SessionID: st.ID(),
				Seq:       st.NextSeq(),
				Code:      ErrCodeBackpressure,
				Message:   "client is not draining audio fast enough",
			}
			st.enqueueNonBlocking(errMsg)
			m.metrics.BackpressureTripped()
			m.logger.Warn("backpressure tripped", "sessionID", st.ID())
			st.setCancelled()
			return
		}

		if !st.shouldFlush() {
			if st.IsFinished() {
				if seg := st.popPendingSegment(); seg != nil {
					if !m.synthesizeAndEnqueue(st, seg) {
						return
					}
				}
				naturalEnd = true
				return
			}
			select {
			case <-time.After(m.cfg.FlushPollInterval):
				continue
			case <-st.Context().Done():
				return
			}
		}

		seg := st.popPendingSegment()
		if seg == nil {
			continue
		}
		if !m.synthesizeAndEnqueue(st, seg) {
			return
		}
	}
}

// synthesizeAndEnqueue calls the engine for seg, caches the resulting chunk,
// and enqueues it for delivery. Returns false when the session should stop
// (cancelled, engine failure, or context cancellation during enqueue).
func (m *Manager) synthesizeAndEnqueue(st *SessionState, seg *segment) bool {
	if st.IsCancelled() {
		return false
	}

	start := time.Now()
	pcm, err := m.engine.SynthesizePCM16(st.Context(), seg.text, st.AudioSpec())
	if err != nil {
		if st.Context().Err() != nil {
			// Cancelled mid-call: no error message, clean shutdown.
			return false
		}
		m.logger.Error("synthesis failed", "sessionID", st.ID(), "error", err)
		errMsg := ErrorMessage{
			SessionID: st.ID(),
			Seq:       st.NextSeq(),
			Code:      ErrCodeEngineFailure,
			Message:   err.Error(),
		}
		st.setCancelled()
		st.enqueueNonBlocking(errMsg)
		return false
	}

	chunk := CachedChunk{
		CreatedAt:      time.Now(),
		ChunkSeq:       st.nextChunkSeq(),
		UnitIndexStart: seg.start,
		UnitIndexEnd:   seg.end,
		UnitsText:      seg.text,
		AudioSpec:      st.AudioSpec(),
		AudioBytes:     pcm,
	}
	st.cacheChunk(chunk)
	m.metrics.ChunkEmitted(time.Since(start), len(pcm))

	msg := chunkToMessage(st.ID(), st.NextSeq(), chunk)
	if err := st.enqueueBlocking(st.Context(), msg); err != nil {
		return false
	}
	m.metrics.QueueDepth(st.ID(), st.queueDepth())
	return true
}
