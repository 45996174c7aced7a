// ABOUTME: HTTP control surface of the daemon
// ABOUTME: Exposes output and player commands plus a WebSocket idle feed
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonated/internal/idle"
	"github.com/Resonate-Protocol/resonated/internal/playback"
	"github.com/Resonate-Protocol/resonated/internal/player"
	"github.com/Resonate-Protocol/resonated/internal/version"
	"github.com/Resonate-Protocol/resonated/pkg/audio/decode"
)

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Outputs is the output set the server controls
type Outputs interface {
	Status() []player.Status
	Enable(id int) error
	Disable(ctx context.Context, id int) error
}

// Player is the playback session the server controls
type Player interface {
	Stop()
	Seek(ctx context.Context, pos time.Duration) error
	Pause(paused bool) error
	Status() playback.Status
}

// Config holds control server configuration
type Config struct {
	Name string
	Addr string
}

// StatusReply is the body of GET /status
type StatusReply struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Player  playback.Status `json:"player"`
	Outputs int             `json:"outputs"`
}

// ChangedMessage is pushed on the idle feed
type ChangedMessage struct {
	Changed []string `json:"changed"`
}

type errorReply struct {
	Error string `json:"error"`
}

// Server serves the control API
type Server struct {
	config   Config
	outputs  Outputs
	player   Player
	hub      *idle.Hub
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	log      *logrus.Entry

	wg sync.WaitGroup
}

// New creates a control server
func New(config Config, outputs Outputs, player Player, hub *idle.Hub) *Server {
	if hub == nil {
		hub = idle.Default
	}
	s := &Server{
		config:  config,
		outputs: outputs,
		player:  player,
		hub:     hub,
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Control clients live on the local network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logrus.WithField("component", "control"),
	}

	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /outputs", s.handleOutputs)
	s.mux.HandleFunc("POST /outputs/{id}/enable", s.handleEnable)
	s.mux.HandleFunc("POST /outputs/{id}/disable", s.handleDisable)
	s.mux.HandleFunc("POST /player/stop", s.handleStop)
	s.mux.HandleFunc("POST /player/pause", s.handlePause)
	s.mux.HandleFunc("POST /player/seek", s.handleSeek)
	s.mux.HandleFunc("GET /idle", s.handleIdle)
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.mux }

// Serve serves on l until ctx ends, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()

	s.log.WithField("addr", l.Addr().String()).Info("Control server listening")

	select {
	case err := <-errc:
		return fmt.Errorf("control server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("Control server shutdown error")
	}
	// Hijacked idle connections are not tracked by Shutdown
	s.wg.Wait()
	return nil
}

// ListenAndServe listens on the configured address and serves until ctx ends
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, l)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusReply{
		Name:    s.config.Name,
		Version: version.Version,
		Player:  s.player.Status(),
		Outputs: len(s.outputs.Status()),
	})
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.outputs.Status())
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	id, ok := outputID(w, r)
	if !ok {
		return
	}
	if err := s.outputs.Enable(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	id, ok := outputID(w, r)
	if !ok {
		return
	}
	if err := s.outputs.Disable(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.player.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	paused := true
	if v := r.URL.Query().Get("state"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorReply{Error: "invalid state " + strconv.Quote(v)})
			return
		}
		paused = b
	}
	if err := s.player.Pause(paused); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("pos")
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "invalid position " + strconv.Quote(v)})
		return
	}

	pos := time.Duration(secs * float64(time.Second))
	if err := s.player.Seek(r.Context(), pos); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIdle(w http.ResponseWriter, r *http.Request) {
	var names []string
	if v := r.URL.Query().Get("subsystems"); v != "" {
		names = strings.Split(v, ",")
	}
	mask, err := idle.ParseNames(names)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.serveIdle(r.Context(), conn, mask)
}

// serveIdle pushes masked idle events to conn until the peer leaves
func (s *Server) serveIdle(ctx context.Context, conn *websocket.Conn, mask idle.Flags) {
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer sub.Close()

	log := s.log.WithFields(logrus.Fields{"conn": uuid.NewString(), "mask": mask.String()})
	log.Debug("Idle client connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The reader only notices the peer going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Debug("Idle client read error")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	events := make(chan idle.Flags)
	go func() {
		defer close(events)
		for {
			flags, err := sub.Wait(ctx, mask)
			if err != nil {
				return
			}
			select {
			case events <- flags:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case flags, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					goingAway(conn)
				}
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(ChangedMessage{Changed: flags.Names()}); err != nil {
				log.WithError(err).Debug("Idle client write error")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		case <-ctx.Done():
			goingAway(conn)
			return
		}
	}
}

func goingAway(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func outputID(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.PathValue("id")
	id, err := strconv.Atoi(v)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "invalid output id " + strconv.Quote(v)})
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, player.ErrNoSuchOutput):
		status = http.StatusNotFound
	case errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, playback.ErrBusy),
		errors.Is(err, decode.ErrNotSeekable):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorReply{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("Failed to write reply")
	}
}
