package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
)

func TestRemoteSynthesizePCM16(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		conn.Write(r.Context(), websocket.MessageBinary, []byte{4, 5, 6})
		conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
	defer server.Close()

	r := &Remote{apiKey: "test-key", host: strings.TrimPrefix(server.URL, "http://"), scheme: "ws"}

	audio, err := r.SynthesizePCM16(context.Background(), "hello", gateway.AudioSpec{AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(audio) != 6 {
		t.Errorf("expected 6 bytes, got %d", len(audio))
	}

	if err := r.Close(); err != nil {
		t.Errorf("unexpected error closing: %v", err)
	}
}

func TestRemoteSynthesizePCM16BackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		conn.Write(r.Context(), websocket.MessageText, []byte("ERR:backend exploded"))
	}))
	defer server.Close()

	r := &Remote{apiKey: "test-key", host: strings.TrimPrefix(server.URL, "http://"), scheme: "ws"}

	_, err := r.SynthesizePCM16(context.Background(), "hello", gateway.AudioSpec{AudioFormat: "pcm16_wav", SampleRate: 8000, Channels: 1})
	if err == nil {
		t.Fatal("expected an error when the backend reports ERR:")
	}
}
