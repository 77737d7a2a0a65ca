// Package transport implements the bidirectional WebSocket message channel
// the gateway speaks to clients: decode/validate inbound JSON, dispatch into
// pkg/gateway, and drain each session's send queue back onto the socket in
// order. Message shapes and validation live here; all streaming semantics
// live in pkg/gateway.
package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
)

// Server adapts gateway.Manager to an http.Handler serving the WebSocket
// endpoint named in spec.md §6 / SPEC_FULL.md §6.
type Server struct {
	manager *gateway.Manager
	logger  gateway.Logger
}

// NewServer constructs a transport Server over manager.
func NewServer(manager *gateway.Manager, logger gateway.Logger) *Server {
	if logger == nil {
		logger = gateway.NoOpLogger{}
	}
	return &Server{manager: manager, logger: logger}
}

// ServeHTTP upgrades the request to a WebSocket and serves the gateway
// protocol over it until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	s.serveConn(r.Context(), conn)
}

// serveConn runs the read loop for one connection: decode, validate,
// dispatch. connCtx is cancelled when the read loop exits, which tears down
// any drain goroutine this connection started.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendPreSessionError(connCtx, conn, "", "malformed JSON message")
			return
		}

		if err := s.dispatch(connCtx, conn, env.Type, data); err != nil {
			if preErr, ok := err.(*preSessionError); ok {
				s.sendPreSessionError(connCtx, conn, preErr.sessionID, preErr.message)
				return
			}
			s.logger.Warn("dispatch error", "type", env.Type, "error", err)
		}
	}
}

// preSessionError marks an error that should close the connection after one
// error frame, per the "malformed start before a session exists" rule.
type preSessionError struct {
	sessionID string
	message   string
}

func (e *preSessionError) Error() string { return e.message }

func (s *Server) dispatch(ctx context.Context, conn *websocket.Conn, msgType string, data []byte) error {
	switch msgType {
	case "start":
		return s.handleStart(ctx, conn, data)
	case "text_delta":
		return s.handleTextDelta(data)
	case "text_end":
		return s.handleTextEnd(data)
	case "cancel":
		return s.handleCancel(data)
	case "resume":
		return s.handleResume(ctx, conn, data)
	default:
		return &preSessionError{message: "unknown message type " + msgType}
	}
}

func (s *Server) handleStart(ctx context.Context, conn *websocket.Conn, data []byte) error {
	var msg startMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return &preSessionError{message: "malformed start message"}
	}
	if _, err := requireSessionID(msg.SessionID); err != nil {
		return &preSessionError{message: err.Error()}
	}
	if _, err := requireStr(msg.AudioFormat, "audio_format"); err != nil {
		return &preSessionError{sessionID: msg.SessionID, message: err.Error()}
	}
	if msg.SampleRate <= 0 {
		return &preSessionError{sessionID: msg.SessionID, message: "field \"sample_rate\" must be a positive integer"}
	}
	if msg.Channels != 1 && msg.Channels != 2 {
		return &preSessionError{sessionID: msg.SessionID, message: "field \"channels\" must be 1 or 2"}
	}

	spec := gateway.AudioSpec{
		AudioFormat: msg.AudioFormat,
		SampleRate:  msg.SampleRate,
		Channels:    msg.Channels,
	}
	st := s.manager.GetOrCreate(msg.SessionID, spec)
	s.attachDrain(ctx, conn, st, nil)
	return nil
}

func (s *Server) handleTextDelta(data []byte) error {
	var msg textDeltaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return &preSessionError{message: "malformed text_delta message"}
	}
	if _, err := requireSessionID(msg.SessionID); err != nil {
		return &preSessionError{message: err.Error()}
	}
	if _, err := requireInt(msg.Seq, "seq"); err != nil {
		return &preSessionError{sessionID: msg.SessionID, message: err.Error()}
	}
	st, ok := s.manager.Get(msg.SessionID)
	if !ok {
		return nil // silently dropped: no session to ingress into (§9 tie-break judgment)
	}
	st.EnqueueText(msg.Text)
	s.manager.StartSynthLoop(st)
	return nil
}

func (s *Server) handleTextEnd(data []byte) error {
	var msg textEndMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return &preSessionError{message: "malformed text_end message"}
	}
	if _, err := requireSessionID(msg.SessionID); err != nil {
		return &preSessionError{message: err.Error()}
	}
	if _, err := requireInt(msg.Seq, "seq"); err != nil {
		return &preSessionError{sessionID: msg.SessionID, message: err.Error()}
	}
	st, ok := s.manager.Get(msg.SessionID)
	if !ok {
		return nil
	}
	s.manager.Finish(st)
	return nil
}

func (s *Server) handleCancel(data []byte) error {
	var msg cancelMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return &preSessionError{message: "malformed cancel message"}
	}
	if _, err := requireSessionID(msg.SessionID); err != nil {
		return &preSessionError{message: err.Error()}
	}
	if _, err := requireInt(msg.Seq, "seq"); err != nil {
		return &preSessionError{sessionID: msg.SessionID, message: err.Error()}
	}
	st, ok := s.manager.Get(msg.SessionID)
	if !ok {
		return nil
	}
	// Cancel awaits synth-loop termination; run off the read loop so a slow
	// engine call mid-synthesis can't stall subsequent message processing.
	go s.manager.Cancel(st)
	return nil
}

func (s *Server) handleResume(ctx context.Context, conn *websocket.Conn, data []byte) error {
	var msg resumeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return &preSessionError{message: "malformed resume message"}
	}
	if _, err := requireSessionID(msg.SessionID); err != nil {
		return &preSessionError{message: err.Error()}
	}
	lastUnitIndexReceived, err := requireInt(msg.LastUnitIndexReceived, "last_unit_index_received")
	if err != nil {
		return &preSessionError{sessionID: msg.SessionID, message: err.Error()}
	}
	chunks, err := s.manager.Resume(msg.SessionID, lastUnitIndexReceived)
	if err != nil {
		errMsg := errorWire{
			Type:      "error",
			SessionID: msg.SessionID,
			Code:      string(gateway.ErrCodeUnknownSession),
			Message:   err.Error(),
		}
		return wsjson.Write(ctx, conn, errMsg)
	}
	st, _ := s.manager.Get(msg.SessionID)
	s.attachDrain(ctx, conn, st, chunks)
	return nil
}

// attachDrain acquires exclusive drain rights over st's send queue for this
// connection, replays any cached chunks (resume), then forwards future
// outbound messages until connCtx is cancelled or a terminal message is
// written.
func (s *Server) attachDrain(connCtx context.Context, conn *websocket.Conn, st *gateway.SessionState, replay []gateway.CachedChunk) {
	release, err := st.AcquireDrain(connCtx)
	if err != nil {
		return
	}

	go func() {
		defer release()

		for _, chunk := range replay {
			msg := gateway.AudioChunkMessage{
				SessionID:      st.ID(),
				Seq:            st.NextSeq(),
				ChunkSeq:       chunk.ChunkSeq,
				UnitIndexStart: chunk.UnitIndexStart,
				UnitIndexEnd:   chunk.UnitIndexEnd,
				UnitsText:      chunk.UnitsText,
				AudioSpec:      chunk.AudioSpec,
				AudioBytes:     chunk.AudioBytes,
			}
			if err := wsjson.Write(connCtx, conn, toWireMessage(msg)); err != nil {
				return
			}
		}

		for {
			select {
			case msg := <-st.SendQueue():
				if err := wsjson.Write(connCtx, conn, toWireMessage(msg)); err != nil {
					return
				}
				switch msg.(type) {
				case gateway.TTSEndMessage, gateway.ErrorMessage:
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()
}

func (s *Server) sendPreSessionError(ctx context.Context, conn *websocket.Conn, sessionID, message string) {
	msg := errorWire{
		Type:      "error",
		SessionID: sessionID,
		Code:      string(gateway.ErrCodeBadRequest),
		Message:   message,
	}
	_ = wsjson.Write(ctx, conn, msg)
	conn.Close(websocket.StatusPolicyViolation, "bad request")
}
