package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
)

// HTTPDefaultTimeout is the request timeout of the http.Client that NewHTTP
// builds.
const HTTPDefaultTimeout = 30 * time.Second

type httpSynthRequest struct {
	Text       string `json:"text"`
	AudioFormat string `json:"audio_format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// HTTP is a vendor synthesis adapter for backends that expose a simple
// REST endpoint rather than a persistent socket: one POST per segment,
// raw PCM16 bytes back. Modeled on batch-mode REST vendor TTS clients (one
// HTTP call per utterance), adapted to the Engine contract instead of a
// streaming playback callback.
type HTTP struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTP constructs an HTTP engine posting to baseURL (e.g.
// "http://localhost:5002/synthesize").
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: HTTPDefaultTimeout},
	}
}

// SynthesizePCM16 posts {text, audio_format, sample_rate, channels} as JSON
// and reads back raw PCM16LE bytes from the response body.
func (h *HTTP) SynthesizePCM16(ctx context.Context, text string, spec gateway.AudioSpec) ([]byte, error) {
	body := httpSynthRequest{
		Text:        text,
		AudioFormat: spec.AudioFormat,
		SampleRate:  spec.SampleRate,
		Channels:    spec.Channels,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("engine: create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: POST %s: %w", h.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine: POST %s returned status %d", h.baseURL, resp.StatusCode)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("engine: read synthesis response: %w", err)
	}
	return pcm, nil
}
