package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeEngine is a deterministic Engine test double: it returns a
// caller-controlled PCM payload per call and can be made to fail, block, or
// record every text it was asked to synthesize.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string

	failWith error
	block    chan struct{} // if non-nil, SynthesizePCM16 blocks until closed or ctx.Done()
}

func (f *fakeEngine) SynthesizePCM16(ctx context.Context, text string, spec AudioSpec) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	failWith := f.failWith
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failWith != nil {
		return nil, failWith
	}
	return []byte(text), nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestManager(t *testing.T, engine Engine) *Manager {
	t.Helper()
	m := NewManager(context.Background(), engine, testConfig(), NoOpLogger{}, NoOpMetrics{})
	t.Cleanup(m.Shutdown)
	return m
}

func drainUntilTerminal(t *testing.T, st *SessionState, timeout time.Duration) []OutboundMessage {
	t.Helper()
	var got []OutboundMessage
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-st.SendQueue():
			got = append(got, msg)
			switch msg.(type) {
			case TTSEndMessage, ErrorMessage:
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a terminal message, got %d messages so far", len(got))
		}
	}
}

func TestHappyPathPunctuationFlush(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(t, engine)

	st := m.GetOrCreate("sess-a", AudioSpec{AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1})
	st.EnqueueText("hello.")
	m.StartSynthLoop(st)
	m.Finish(st)

	msgs := drainUntilTerminal(t, st, time.Second)
	if len(msgs) != 2 {
		t.Fatalf("expected one audio chunk then tts_end, got %d messages", len(msgs))
	}
	chunk, ok := msgs[0].(AudioChunkMessage)
	if !ok {
		t.Fatalf("expected first message to be an audio chunk, got %T", msgs[0])
	}
	if string(chunk.AudioBytes) != "hello." {
		t.Errorf("expected synthesized text %q, got %q", "hello.", chunk.AudioBytes)
	}
	if chunk.UnitIndexStart != 0 || chunk.UnitIndexEnd != 5 {
		t.Errorf("expected unit range [0,5], got [%d,%d]", chunk.UnitIndexStart, chunk.UnitIndexEnd)
	}

	end, ok := msgs[1].(TTSEndMessage)
	if !ok || end.Cancelled {
		t.Fatalf("expected a non-cancelled tts_end, got %+v", msgs[1])
	}
}

func TestSizeCapFlushWithoutPunctuation(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(t, engine)
	cfg := testConfig()

	st := m.GetOrCreate("sess-b", AudioSpec{AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1})
	text := ""
	for i := 0; i < cfg.MaxPendingUnits; i++ {
		text += "x"
	}
	st.EnqueueText(text)
	m.StartSynthLoop(st)

	select {
	case msg := <-st.SendQueue():
		chunk, ok := msg.(AudioChunkMessage)
		if !ok {
			t.Fatalf("expected an audio chunk once the size cap is reached, got %T", msg)
		}
		if string(chunk.AudioBytes) != text {
			t.Errorf("expected synthesized text %q, got %q", text, chunk.AudioBytes)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for size-cap flush")
	}

	m.Cancel(st)
}

func TestMidStreamCancel(t *testing.T) {
	block := make(chan struct{})
	engine := &fakeEngine{block: block}
	m := newTestManager(t, engine)

	st := m.GetOrCreate("sess-c", AudioSpec{AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1})
	st.EnqueueText("hello.")
	m.StartSynthLoop(st)

	// Give the synth loop time to enter the blocked engine call, then cancel
	// mid-flight. Cancel must return once the loop observes ctx.Done().
	time.Sleep(20 * time.Millisecond)
	m.Cancel(st)

	if _, ok := m.Get("sess-c"); ok {
		t.Fatal("expected cancelled session to be removed from the registry")
	}

	select {
	case msg := <-st.SendQueue():
		t.Fatalf("expected no message on a clean mid-call cancel, got %+v", msg)
	default:
	}
}

func TestResumeReplaysCachedChunksPastLastReceived(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(t, engine)

	st := m.GetOrCreate("sess-d", AudioSpec{AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1})
	st.EnqueueText("one.")
	m.StartSynthLoop(st)
	drainOne := <-st.SendQueue()
	firstChunk := drainOne.(AudioChunkMessage)

	st.EnqueueText("two.")
	secondChunk := (<-st.SendQueue()).(AudioChunkMessage)

	replay, err := m.Resume("sess-d", firstChunk.UnitIndexEnd)
	if err != nil {
		t.Fatalf("unexpected error resuming: %v", err)
	}
	if len(replay) != 1 || replay[0].ChunkSeq != secondChunk.ChunkSeq {
		t.Fatalf("expected resume to return only the chunk after the first, got %+v", replay)
	}

	m.Cancel(st)
}

func TestResumeUnknownSession(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(t, engine)

	_, err := m.Resume("never-existed", 0)
	if err == nil {
		t.Fatal("expected an error resuming a session that was never created")
	}
}

func TestBackpressureTripClosesSession(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(t, engine)
	cfg := testConfig()

	st := m.GetOrCreate("sess-e", AudioSpec{AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1})

	// Fill the send queue to capacity without draining it, then start
	// ingress. The synth loop should observe a full queue and trip
	// backpressure instead of blocking forever.
	for i := 0; i < cfg.MaxSendQueue; i++ {
		if !st.enqueueNonBlocking(TTSEndMessage{SessionID: st.ID(), Seq: i}) {
			t.Fatalf("failed to pre-fill queue slot %d", i)
		}
	}

	st.EnqueueText("hello.")
	m.StartSynthLoop(st)

	<-st.SynthDone()
	if !st.IsCancelled() {
		t.Fatal("expected session to be cancelled after tripping backpressure")
	}

	var sawBackpressure bool
drain:
	for {
		select {
		case msg := <-st.SendQueue():
			if errMsg, ok := msg.(ErrorMessage); ok && errMsg.Code == ErrCodeBackpressure {
				sawBackpressure = true
			}
		default:
			break drain
		}
	}
	if !sawBackpressure {
		t.Fatal("expected a backpressure error message in the queue")
	}
}

func TestEngineFailureCancelsSession(t *testing.T) {
	engine := &fakeEngine{failWith: fmt.Errorf("synthesis backend unavailable")}
	m := newTestManager(t, engine)

	st := m.GetOrCreate("sess-f", AudioSpec{AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1})
	st.EnqueueText("hello.")
	m.StartSynthLoop(st)

	msg := <-st.SendQueue()
	errMsg, ok := msg.(ErrorMessage)
	if !ok || errMsg.Code != ErrCodeEngineFailure {
		t.Fatalf("expected an engine_failure error message, got %+v", msg)
	}

	<-st.SynthDone()
	if !st.IsCancelled() {
		t.Fatal("expected session to be cancelled after an engine failure")
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(t, engine)
	spec := AudioSpec{AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1}

	first := m.GetOrCreate("sess-g", spec)
	second := m.GetOrCreate("sess-g", spec)
	if first != second {
		t.Fatal("expected GetOrCreate to return the same session on a repeated call")
	}
}

func TestCleanupLoopEvictsIdleSessions(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(t, engine)
	st := m.GetOrCreate("sess-h", AudioSpec{AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1})

	select {
	case <-st.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("expected TTL cleanup to cancel the idle session")
	}

	if _, ok := m.Get("sess-h"); ok {
		t.Fatal("expected the expired session to be removed from the registry")
	}
}
