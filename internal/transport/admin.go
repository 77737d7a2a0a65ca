package transport

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/tts-gateway/pkg/audio"
	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
)

// AdminServer serves the operator-facing HTTP surface: Prometheus
// exposition, a liveness probe, and (when enabled) the debug audio export
// endpoint. It never participates in the client-facing wire protocol.
type AdminServer struct {
	manager        *gateway.Manager
	debugEndpoints bool
}

// NewAdminServer constructs the admin mux. debugEndpoints gates
// /debug/sessions/{id}/wav, matching GATEWAY_DEBUG_ENDPOINTS (default off).
func NewAdminServer(manager *gateway.Manager, debugEndpoints bool) *AdminServer {
	return &AdminServer{manager: manager, debugEndpoints: debugEndpoints}
}

// Handler returns the http.Handler to mount on the admin listener.
func (a *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", a.handleHealthz)
	if a.debugEndpoints {
		mux.HandleFunc("/debug/sessions/", a.handleDebugWav)
	}
	return mux
}

func (a *AdminServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// handleDebugWav implements GET /debug/sessions/{session_id}/wav
// (SPEC_FULL.md §4.6): concatenates every cached chunk's audio in chunk_seq
// order and wraps it in a WAV container using the session's AudioSpec. It
// only reads the cache under the session's own lock and never mutates
// session state.
func (a *AdminServer) handleDebugWav(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/debug/sessions/")
	sessionID := strings.TrimSuffix(path, "/wav")
	if sessionID == "" || sessionID == path {
		http.NotFound(w, r)
		return
	}

	st, ok := a.manager.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	chunks := st.SnapshotCacheAfter(-1)
	wav := audio.ConcatChunks(chunks, st.AudioSpec())

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
