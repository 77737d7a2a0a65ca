package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
)

// Remote is a vendor synthesis adapter that dials a remote TTS backend over
// WebSocket. It follows the same request/response discipline as the
// lokutor vendor client it was adapted from: send one JSON
// request, then accumulate binary frames until a text frame signals end of
// stream ("EOS") or failure ("ERR:" prefix). Unlike the streaming-playback
// client it's adapted from, Remote buffers the whole segment and returns it
// in one call, matching the Engine contract's synchronous shape.
type Remote struct {
	apiKey string
	host   string
	scheme string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRemote constructs a Remote engine dialing wss://host/ws?api_key=...
func NewRemote(host, apiKey string) *Remote {
	return &Remote{apiKey: apiKey, host: host, scheme: "wss"}
}

func (r *Remote) getConn(ctx context.Context) (*websocket.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return r.conn, nil
	}

	u := url.URL{Scheme: r.scheme, Host: r.host, Path: "/ws", RawQuery: "api_key=" + r.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to connect to remote synthesis backend: %w", err)
	}
	r.conn = conn
	return conn, nil
}

// SynthesizePCM16 sends a synthesis request for text and accumulates binary
// frames until the backend signals completion or error.
func (r *Remote) SynthesizePCM16(ctx context.Context, text string, spec gateway.AudioSpec) ([]byte, error) {
	conn, err := r.getConn(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	req := map[string]interface{}{
		"text":        text,
		"audio_format": spec.AudioFormat,
		"sample_rate": spec.SampleRate,
		"channels":    spec.Channels,
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		r.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return nil, fmt.Errorf("engine: failed to send synthesis request: %w", err)
	}

	var audio []byte
	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			r.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return nil, fmt.Errorf("engine: failed to read from remote synthesis backend: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			audio = append(audio, payload...)
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return audio, nil
			}
			if strings.HasPrefix(msg, "ERR:") {
				return nil, fmt.Errorf("engine: remote synthesis error: %s", msg)
			}
		}
	}
}

// Close releases the underlying connection, if any.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		err := r.conn.Close(websocket.StatusNormalClosure, "")
		r.conn = nil
		return err
	}
	return nil
}
