package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"knobd/internal/knob"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - Per-client read pumps that forward pointer events to the daemon
//   - A broadcaster loop that reads knob notifications and fans out
//
// Design constraints:
//   - The fleet remains daemon-owned; never expose it to other goroutines.
//   - Initial state snapshot on connect must go through the event loop.
//   - Slow clients must be disconnected if they can't keep up.
//
// Notes:
//   - Messages are JSON text frames with an envelope: {type, knob, ts, data}.
//   - The initial message on connect is "state_init" with every knob's snapshot.
//
// ============================================================================

// wsStateInit is the JSON `data` payload for the WS "state_init" event.
type wsStateInit struct {
	ClientID string         `json:"client_id"`
	Knobs    []KnobSnapshot `json:"knobs"`
}

type wsValueData struct {
	Value    knob.Value `json:"value"`
	Revision uint64     `json:"revision"`
	Step     *knob.Step `json:"step,omitempty"`
}

type wsLiveChangeData struct {
	Value float64 `json:"value"`
}

type wsStepData struct {
	Step   knob.Step          `json:"step"`
	Reason knob.DiscardReason `json:"reason,omitempty"`
}

type wsSettledData struct {
	AngleDeg float64 `json:"angle_deg"`
}

type wsEnabledData struct {
	Enabled bool `json:"enabled"`
}

type wsErrorData struct {
	Error string `json:"error"`
}

// wsOutboundEvent is a pre-typed, externally-consumable knob event.
type wsOutboundEvent struct {
	Type string
	Knob string
	Data any
	At   time.Time // optional timestamp; zero means use now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Knob string     `json:"knob,omitempty"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	return json.Marshal(envelope{Type: ev.Type, Knob: ev.Knob, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	// If zero, a conservative default is used.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	// If zero, a conservative default is used.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "client", c.id, "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "client", c.id, "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	// events receives pointer/control events read from the socket. May be nil
	// for watch-only clients.
	events chan<- Event

	id         string
	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, events chan<- Event, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	id := uuid.NewString()
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		events:     events,
		id:         id,
		remoteAddr: remoteAddr,
		logger:     logger.With("client", id),
	}
}

const (
	writeWait = 5 * time.Second

	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	// maxInboundMessage bounds a single inbound pointer frame.
	maxInboundMessage = 4096
)

// wsLiveCoalesceWindow is the maximum time window during which bursty
// live_change updates are coalesced (latest-wins per knob) before broadcasting.
const wsLiveCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping error", err)
				return
			}
		}
	}
}

func (c *Client) logExit(pump, what string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+what+")", "remote_addr", c.remoteAddr, "error", err)
}

// readPump reads inbound event frames and forwards them to the daemon. It
// exits on read error, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxInboundMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logExit("readPump", "read error", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
		c.handleInbound(data)
	}
}

// handleInbound forwards one inbound frame. Parse failures and a full event
// queue are reported back to this client only.
func (c *Client) handleInbound(data []byte) {
	ev, err := UnmarshalEvent(data)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	if _, ok := ev.(RequestSnapshot); ok {
		// Snapshots are pushed on connect; clients re-sync by reconnecting.
		c.sendError("request_snapshot is not supported over ws")
		return
	}
	if c.events == nil {
		c.sendError("read-only connection")
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("ws event dropped (queue full)", "type", eventType(ev))
		c.sendError("event queue full")
	}
}

func (c *Client) sendError(msg string) {
	frame, err := marshalEnvelope(wsOutboundEvent{Type: "error", Data: wsErrorData{Error: msg}})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

type Server struct {
	logger *slog.Logger

	hub *Hub

	// Required for initial snapshot request on connect and inbound events.
	events chan<- Event
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the WS state server components. Call Register on a
// router, start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, events chan<- Event, cfg ServerConfig) *Server {
	hub := NewHub(logger, cfg.Hub)
	return &Server{
		logger: logger,
		hub:    hub,
		events: events,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided router.
func (s *Server) Register(r chi.Router, path string) {
	if r == nil {
		return
	}
	r.Get(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	// Knob panels are served from the appliance itself or a LAN host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, s.events, r.RemoteAddr, s.logger)

	// Register client first so broadcasts can reach it.
	s.hub.register <- client

	// Do not tie the pumps to the HTTP request context (r.Context()): net/http
	// cancels it when the handler returns. The connection lifetime is managed
	// by the hub and by the websocket read/write errors.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	if s.events == nil {
		return
	}

	reply, err := request(r.Context(), s.events, RequestSnapshot{})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	initMsg, err := marshalEnvelope(wsOutboundEvent{
		Type: "state_init",
		Data: wsStateInit{ClientID: client.id, Knobs: reply.Knobs},
	})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}

	// Enqueue init message; if client is already slow, disconnect.
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads knob notifications, marshals them, and broadcasts them
// to all hub clients. Intended to run as a single goroutine.
//
// live_change updates are rate-limited per knob: the latest pending value is
// flushed at most once every wsLiveCoalesceWindow, even if updates keep
// arriving. Any other event flushes pending live values first so a client
// never sees a live value after the commit that ended the drag.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan Broadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	pending := make(map[string]wsOutboundEvent)
	var order []string
	var timer *time.Timer
	var timerCh <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		msg, err := marshalEnvelope(ev)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPending := func() {
		for _, id := range order {
			emit(pending[id])
			delete(pending, id)
		}
		order = order[:0]
	}

	stopTimer := func() {
		if timer == nil {
			timerCh = nil
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	startTimerIfNeeded := func() {
		if timer != nil {
			return
		}
		timer = time.NewTimer(wsLiveCoalesceWindow)
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			flushPending()
			// Keep ticking only while updates keep arriving.
			timer = nil
			timerCh = nil

		case b, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			if ev.Type == "live_change" {
				if _, seen := pending[ev.Knob]; !seen {
					order = append(order, ev.Knob)
				}
				pending[ev.Knob] = ev
				startTimerIfNeeded()
				continue
			}

			flushPending()
			stopTimer()
			emit(ev)
		}
	}
}

func convertBroadcast(b Broadcast) (wsOutboundEvent, bool) {
	out := wsOutboundEvent{Knob: b.Knob, At: b.At}

	switch n := b.Note.(type) {
	case knob.LiveChange:
		out.Type = "live_change"
		out.Data = wsLiveChangeData{Value: n.Value}
	case knob.Commit:
		out.Type = "commit"
		data := wsValueData{Value: n.Committed.Value, Revision: n.Committed.Revision}
		if n.Step.ID != "" {
			step := n.Step
			data.Step = &step
		}
		out.Data = data
	case knob.PendingProposed:
		out.Type = "pending"
		out.Data = wsStepData{Step: n.Step}
	case knob.PendingDiscarded:
		out.Type = "pending_discarded"
		out.Data = wsStepData{Step: n.Step, Reason: n.Reason}
	case knob.Hover:
		out.Type = "hover"
		out.Data = wsStepData{Step: n.Step}
	case knob.Synced:
		out.Type = "synced"
		data := wsValueData{Value: n.Committed.Value, Revision: n.Committed.Revision}
		if n.Step.ID != "" {
			step := n.Step
			data.Step = &step
		}
		out.Data = data
	case knob.Settled:
		out.Type = "settled"
		out.Data = wsSettledData{AngleDeg: n.AngleDeg}
	case knob.EnabledChanged:
		out.Type = "enabled"
		out.Data = wsEnabledData{Enabled: n.Enabled}
	default:
		return wsOutboundEvent{}, false
	}
	return out, true
}

// notificationType names a notification for logs and metrics labels.
func notificationType(n knob.Notification) string {
	ev, ok := convertBroadcast(Broadcast{Note: n})
	if !ok {
		return "unknown"
	}
	return ev.Type
}
