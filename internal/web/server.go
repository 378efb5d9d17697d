// Package web serves the chat in a browser: a single page that talks to the
// conversation over a websocket.
package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/thezentroai/Zentro-AI/internal/chatbot"
)

//go:embed static/index.html
var indexHTML []byte

const writeTimeout = 10 * time.Second

// Conversation is the chat state the page renders and drives.
type Conversation interface {
	Snapshot() chatbot.Snapshot
	Subscribe(fn func(chatbot.Snapshot)) func()
	SendMessage(ctx context.Context, text string) error
	NewChat()
}

// Server is the HTTP front end
type Server struct {
	ctx      context.Context
	conv     Conversation
	model    string
	logger   *slog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
	render   *renderer

	turns sync.WaitGroup
}

// NewServer creates a server for conv. Turns started from the page run
// under ctx, so a closed tab does not abort a reply in progress.
func NewServer(ctx context.Context, conv Conversation, model string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &Server{
		ctx:    ctx,
		conv:   conv,
		model:  model,
		logger: logger,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		render: newRenderer(),
	}

	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	return s, nil
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until turns started from the page have finished.
func (s *Server) Wait() {
	s.turns.Wait()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()

	s.logger.Info("websocket connected", "remote", r.RemoteAddr)

	latest := make(chan chatbot.Snapshot, 1)
	done := make(chan struct{})

	unsubscribe := s.conv.Subscribe(func(snap chatbot.Snapshot) {
		offer(latest, snap)
	})
	defer unsubscribe()

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		s.writeLoop(conn, latest, done)
	}()

	s.readLoop(conn)

	close(done)
	writer.Wait()
	s.logger.Info("websocket disconnected", "remote", r.RemoteAddr)
}

// writeLoop is the only writer on conn.
func (s *Server) writeLoop(conn *websocket.Conn, latest <-chan chatbot.Snapshot, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case snap := <-latest:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(s.render.snapshotEvent(snap, s.model)); err != nil {
				s.logger.Warn("failed to write snapshot", "error", err)
				// unblock the reader
				conn.Close()
				return
			}
		}
	}
}

func (s *Server) readLoop(conn *websocket.Conn) {
	for {
		var ev clientEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		switch ev.Type {
		case eventSend:
			s.turns.Add(1)
			go func(text string) {
				defer s.turns.Done()
				if err := s.conv.SendMessage(s.ctx, text); err != nil {
					s.logger.Warn("turn not started", "error", err)
				}
			}(ev.Text)

		case eventNewChat:
			s.conv.NewChat()

		default:
			s.logger.Warn("unknown event", "type", ev.Type)
		}
	}
}

// offer puts v in ch, replacing a value nobody has read yet. Callers must
// not race each other.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
