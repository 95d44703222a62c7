// Package realtime pushes stored entries to dashboard sessions over
// websockets.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"3tcapital/telescope/internal/core/entry"
	"3tcapital/telescope/internal/infrastructure/logger"
)

// Event names exchanged with the dashboard.
const (
	EventGetInitialEntries = "getInitialEntries"
	EventInitialEntries    = "initialEntries"
	EventGetEntryDetails   = "getEntryDetails"
	EventEntryDetails      = "entryDetails"
	EventNewEntry          = "newEntry"
	EventError             = "error"
)

const (
	defaultSendBuffer   = 64
	defaultPingInterval = 25 * time.Second
	defaultWriteWait    = 10 * time.Second
	defaultReadLimit    = 64 << 10
)

// Source is the storage surface sessions read from and subscribe to.
type Source interface {
	entry.Reader
	Subscribe(buffer int) *entry.Subscription
}

// Frame is the envelope of every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type errorData struct {
	Message string `json:"message"`
}

// Config tunes the websocket sessions. Zero values use defaults.
type Config struct {
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
	WriteWait      time.Duration
	ReadLimit      int64
}

// Hub accepts websocket sessions and tracks them until they disconnect.
type Hub struct {
	src      Source
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

// NewHub creates a hub reading from src.
func NewHub(src Source, cfg Config, log *slog.Logger) *Hub {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}

	h := &Hub{
		src:      src,
		cfg:      cfg,
		log:      logger.Component(log, "realtime"),
		sessions: make(map[*session]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the connection and serves the session until the peer
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		h.log.Warn("Websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	s := &session{
		hub:  h,
		conn: conn,
		send: make(chan outFrame, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	if !h.add(s) {
		conn.Close()
		return
	}
	h.log.Info("Dashboard client connected", "remote_addr", r.RemoteAddr, "sessions", h.Sessions())

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeLoop()
	}()

	s.readLoop(r.Context())
	s.close()
	<-written
	conn.Close()

	h.log.Info("Dashboard client disconnected", "remote_addr", r.RemoteAddr, "sessions", h.Sessions())
}

func (h *Hub) add(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close disconnects every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

type session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan outFrame
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	sub *entry.Subscription
}

func (s *session) readLoop(ctx context.Context) {
	cfg := s.hub.cfg
	s.conn.SetReadLimit(cfg.ReadLimit)
	pongWait := 2 * cfg.PingInterval
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.log.Debug("Websocket read failed", "error", err)
			}
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Event == "" {
			s.fail("Malformed frame")
			continue
		}
		s.handle(ctx, frame)
	}
}

func (s *session) handle(ctx context.Context, frame Frame) {
	switch frame.Event {
	case EventGetInitialEntries:
		s.initialEntries(ctx, frame.Data)
	case EventGetEntryDetails:
		s.entryDetails(ctx, frame.Data)
	default:
		s.fail("Unknown event: " + frame.Event)
	}
}

type initialParams struct {
	Type    string `json:"type"`
	Page    int    `json:"page"`
	PerPage int    `json:"perPage"`
}

func (s *session) initialEntries(ctx context.Context, data json.RawMessage) {
	var params initialParams
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &params); err != nil {
			s.fail("Malformed getInitialEntries payload")
			return
		}
	}
	types, err := entry.ParseTypes(params.Type)
	if err != nil {
		s.fail(err.Error())
		return
	}

	s.subscribe()

	page, err := s.hub.src.GetEntries(ctx, entry.ListOptions{
		Types:   types,
		Page:    params.Page,
		PerPage: params.PerPage,
	})
	if err != nil {
		s.hub.log.Error("Failed to retrieve initial entries", "error", err)
		s.fail("Failed to retrieve entries")
		return
	}
	s.reply(outFrame{Event: EventInitialEntries, Data: page})
}

func (s *session) entryDetails(ctx context.Context, data json.RawMessage) {
	var params struct {
		ID string `json:"id"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &params); err != nil {
			s.fail("Malformed getEntryDetails payload")
			return
		}
	}

	e, err := s.hub.src.GetEntry(ctx, params.ID)
	if err != nil {
		s.hub.log.Error("Failed to retrieve entry", "entry_id", params.ID, "error", err)
		s.fail("Failed to retrieve entry")
		return
	}
	if e == nil {
		s.fail("Entry not found")
		return
	}
	s.reply(outFrame{Event: EventEntryDetails, Data: e})
}

// subscribe attaches the session to new entries once.
func (s *session) subscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	s.sub = s.hub.src.Subscribe(s.hub.cfg.SendBuffer)
	go s.forward(s.sub)
}

func (s *session) forward(sub *entry.Subscription) {
	for e := range sub.C {
		select {
		case s.send <- outFrame{Event: EventNewEntry, Data: e}:
		case <-s.done:
			return
		default:
			s.hub.log.Warn("Session too slow, new entry dropped", "entry_id", e.ID)
		}
	}
}

func (s *session) fail(message string) {
	s.reply(outFrame{Event: EventError, Data: errorData{Message: message}})
}

// reply queues a response, waiting for room unless the session ends.
func (s *session) reply(f outFrame) {
	select {
	case s.send <- f:
	case <-s.done:
	}
}

func (s *session) writeLoop() {
	cfg := s.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteJSON(f); err != nil {
				s.hub.log.Debug("Websocket write failed", "event", f.Event, "error", err)
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				s.close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteWait),
			)
			return
		}
	}
}

// close unsubscribes and tears the connection down. Safe to call from any
// goroutine more than once.
func (s *session) close() {
	s.once.Do(func() {
		close(s.done)

		s.mu.Lock()
		if s.sub != nil {
			s.sub.Close()
		}
		s.mu.Unlock()

		s.hub.remove(s)
		// Unblocks readLoop when the close was not initiated by the peer.
		_ = s.conn.NetConn().SetReadDeadline(time.Now())
	})
}
