package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
)

func intPtr(n int) *int { return &n }

// echoEngine returns the segment text as its own PCM payload, so tests can
// assert on audio content without a real synthesis backend.
type echoEngine struct{}

func (echoEngine) SynthesizePCM16(ctx context.Context, text string, spec gateway.AudioSpec) ([]byte, error) {
	return []byte(text), nil
}

func newTestGatewayServer(t *testing.T) (*httptest.Server, *gateway.Manager) {
	t.Helper()
	cfg := gateway.DefaultConfig()
	cfg.FlushPollInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	manager := gateway.NewManager(ctx, echoEngine{}, cfg, gateway.NoOpLogger{}, gateway.NoOpMetrics{})
	srv := NewServer(manager, gateway.NoOpLogger{})

	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	t.Cleanup(func() {
		ts.Close()
		manager.Shutdown()
		cancel()
	})
	return ts, manager
}

func dialTestServer(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestServerHappyPath(t *testing.T) {
	ts, _ := newTestGatewayServer(t)
	conn := dialTestServer(t, ts)
	ctx := context.Background()

	if err := wsjson.Write(ctx, conn, startMessage{Type: "start", SessionID: "s1", AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1}); err != nil {
		t.Fatalf("failed to send start: %v", err)
	}
	if err := wsjson.Write(ctx, conn, textDeltaMessage{Type: "text_delta", SessionID: "s1", Seq: intPtr(1), Text: "hi."}); err != nil {
		t.Fatalf("failed to send text_delta: %v", err)
	}
	if err := wsjson.Write(ctx, conn, textEndMessage{Type: "text_end", SessionID: "s1", Seq: intPtr(2)}); err != nil {
		t.Fatalf("failed to send text_end: %v", err)
	}

	var chunk audioChunkWire
	if err := wsjson.Read(ctx, conn, &chunk); err != nil {
		t.Fatalf("failed to read audio_chunk: %v", err)
	}
	if chunk.Type != "audio_chunk" || chunk.SessionID != "s1" {
		t.Fatalf("unexpected audio_chunk message: %+v", chunk)
	}

	var end ttsEndWire
	if err := wsjson.Read(ctx, conn, &end); err != nil {
		t.Fatalf("failed to read tts_end: %v", err)
	}
	if end.Type != "tts_end" || end.Cancelled {
		t.Fatalf("unexpected tts_end message: %+v", end)
	}
}

func TestServerMalformedStartClosesConnection(t *testing.T) {
	ts, _ := newTestGatewayServer(t)
	conn := dialTestServer(t, ts)
	ctx := context.Background()

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "start", "session_id": ""}); err != nil {
		t.Fatalf("failed to send malformed start: %v", err)
	}

	var errMsg errorWire
	if err := wsjson.Read(ctx, conn, &errMsg); err != nil {
		t.Fatalf("expected an error message before close, got: %v", err)
	}
	if errMsg.Type != "error" || errMsg.Code != string(gateway.ErrCodeBadRequest) {
		t.Fatalf("expected a bad_request error message, got %+v", errMsg)
	}

	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected the connection to be closed after the error frame")
	}
}

func TestServerTextDeltaMissingSeqIsBadRequest(t *testing.T) {
	ts, _ := newTestGatewayServer(t)
	conn := dialTestServer(t, ts)
	ctx := context.Background()

	if err := wsjson.Write(ctx, conn, startMessage{Type: "start", SessionID: "s3", AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1}); err != nil {
		t.Fatalf("failed to send start: %v", err)
	}
	if err := wsjson.Write(ctx, conn, map[string]string{"type": "text_delta", "session_id": "s3", "text": "hi."}); err != nil {
		t.Fatalf("failed to send text_delta without seq: %v", err)
	}

	var errMsg errorWire
	if err := wsjson.Read(ctx, conn, &errMsg); err != nil {
		t.Fatalf("expected an error message before close, got: %v", err)
	}
	if errMsg.Type != "error" || errMsg.Code != string(gateway.ErrCodeBadRequest) {
		t.Fatalf("expected a bad_request error message, got %+v", errMsg)
	}

	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected the connection to be closed after the error frame")
	}
}

func TestServerResumeUnknownSession(t *testing.T) {
	ts, _ := newTestGatewayServer(t)
	conn := dialTestServer(t, ts)
	ctx := context.Background()

	if err := wsjson.Write(ctx, conn, resumeMessage{Type: "resume", SessionID: "never-existed", LastUnitIndexReceived: intPtr(0)}); err != nil {
		t.Fatalf("failed to send resume: %v", err)
	}

	var errMsg errorWire
	if err := wsjson.Read(ctx, conn, &errMsg); err != nil {
		t.Fatalf("failed to read error response: %v", err)
	}
	if errMsg.Code != string(gateway.ErrCodeUnknownSession) {
		t.Fatalf("expected unknown_session code, got %+v", errMsg)
	}
}

func TestServerResumeReplaysCache(t *testing.T) {
	ts, manager := newTestGatewayServer(t)
	conn := dialTestServer(t, ts)
	ctx := context.Background()

	if err := wsjson.Write(ctx, conn, startMessage{Type: "start", SessionID: "s2", AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1}); err != nil {
		t.Fatalf("failed to send start: %v", err)
	}
	if err := wsjson.Write(ctx, conn, textDeltaMessage{Type: "text_delta", SessionID: "s2", Seq: intPtr(1), Text: "hi."}); err != nil {
		t.Fatalf("failed to send text_delta: %v", err)
	}

	var chunk audioChunkWire
	if err := wsjson.Read(ctx, conn, &chunk); err != nil {
		t.Fatalf("failed to read first audio_chunk: %v", err)
	}

	conn.Close(websocket.StatusNormalClosure, "simulated disconnect")
	// Give the drain goroutine time to observe the closed connection and
	// release the drain slot before reconnecting.
	time.Sleep(20 * time.Millisecond)

	conn2 := dialTestServer(t, ts)
	if err := wsjson.Write(ctx, conn2, resumeMessage{Type: "resume", SessionID: "s2", LastUnitIndexReceived: intPtr(-1)}); err != nil {
		t.Fatalf("failed to send resume: %v", err)
	}

	var replay audioChunkWire
	if err := wsjson.Read(ctx, conn2, &replay); err != nil {
		t.Fatalf("failed to read replayed chunk: %v", err)
	}
	if replay.ChunkSeq != chunk.ChunkSeq {
		t.Fatalf("expected replay of chunk_seq %d, got %d", chunk.ChunkSeq, replay.ChunkSeq)
	}

	if _, ok := manager.Get("s2"); !ok {
		t.Fatal("expected session s2 to still be registered")
	}
}
