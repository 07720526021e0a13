package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-dev/parley/internal/models"
)

// Response is one scripted agent reply used by the Simulator.
type Response struct {
	Chunks      []string
	Steps       []models.ReasoningStep
	EditedFiles []string
	ContextUsed float64
	Fail        string // non-empty: emit an error event instead of finalize
}

// Simulator serves the agent wire protocol for local development and tests.
// Each prompt is answered with the scripted Response; a cancel received
// before the reply finishes produces a cancelled event instead.
type Simulator struct {
	Logger *slog.Logger

	// Respond builds the reply for a prompt. Defaults to an echo response.
	Respond func(sessionID, text string) Response

	// ChunkDelay paces chunk emission so cancellation windows exist.
	ChunkDelay time.Duration

	upgrader websocket.Upgrader

	mu        sync.Mutex
	cancelled map[string]chan struct{}
}

// ServeHTTP upgrades the connection and runs the protocol loop.
func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var hello frame
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != frameHello {
		s.log().Warn("handshake failed", "error", err)
		return
	}

	var writeMu sync.Mutex
	write := func(f frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}

	if err := write(frame{Type: frameReady}); err != nil {
		return
	}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}

		switch f.Type {
		case framePrompt:
			var p promptPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				s.log().Warn("bad prompt payload", "error", err)
				continue
			}
			go s.reply(f.SessionID, p.Text, write)

		case frameCancel:
			s.signalCancel(f.SessionID)

		default:
			s.log().Debug("ignoring frame", "type", f.Type)
		}
	}
}

// reply streams the scripted response for one prompt.
func (s *Simulator) reply(sessionID, text string, write func(frame) error) {
	resp := s.respond(sessionID, text)
	cancel := s.cancelCh(sessionID)
	defer s.clearCancel(sessionID)

	emit := func(typ string, payload any) bool {
		select {
		case <-cancel:
			raw, _ := marshalPayload(struct{}{})
			_ = write(frame{Type: frameCancelled, SessionID: sessionID, Payload: raw})
			return false
		default:
		}

		raw, err := marshalPayload(payload)
		if err != nil {
			return false
		}
		return write(frame{Type: typ, SessionID: sessionID, Payload: raw}) == nil
	}

	for _, step := range resp.Steps {
		if !emit(frameStep, stepPayload{Kind: step.Kind, Message: step.Message, Timestamp: step.Timestamp}) {
			return
		}
	}
	for _, path := range resp.EditedFiles {
		if !emit(frameFileEdited, filePayload{Path: path}) {
			return
		}
	}
	for _, chunk := range resp.Chunks {
		if s.ChunkDelay > 0 {
			time.Sleep(s.ChunkDelay)
		}
		if !emit(frameChunk, chunkPayload{Text: chunk}) {
			return
		}
	}

	if resp.Fail != "" {
		emit(frameError, errorPayload{Message: resp.Fail})
		return
	}
	emit(frameFinalize, finalizePayload{ContextUsed: resp.ContextUsed})
}

func (s *Simulator) respond(sessionID, text string) Response {
	if s.Respond != nil {
		return s.Respond(sessionID, text)
	}
	return Response{
		Chunks:      []string{"echo: ", text},
		Steps:       []models.ReasoningStep{{Kind: "thinking", Message: "considering " + firstWords(text), Timestamp: time.Now()}},
		ContextUsed: 0.1,
	}
}

func (s *Simulator) cancelCh(sessionID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled == nil {
		s.cancelled = make(map[string]chan struct{})
	}
	ch, ok := s.cancelled[sessionID]
	if !ok {
		ch = make(chan struct{})
		s.cancelled[sessionID] = ch
	}
	return ch
}

func (s *Simulator) signalCancel(sessionID string) {
	ch := s.cancelCh(sessionID)
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (s *Simulator) clearCancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancelled, sessionID)
}

func (s *Simulator) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func firstWords(text string) string {
	words := strings.Fields(text)
	if len(words) > 3 {
		words = words[:3]
	}
	out := strings.Join(words, " ")
	if out == "" {
		return "input"
	}
	return fmt.Sprintf("%q", out)
}
