package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"trading-journal/internal/auth"
	"trading-journal/internal/daysync"
	"trading-journal/internal/discipline"
	"trading-journal/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by CORS and the token; native clients send none.
		return true
	},
}

// Frame types sent to the client
const (
	FrameConnected         = "CONNECTED"
	FrameDayUpdate         = "DAY_UPDATE"
	FrameCommandResult     = "COMMAND_RESULT"
	FrameOverrideArmed     = "OVERRIDE_ARMED"
	FrameOverrideCancelled = "OVERRIDE_CANCELLED"
	FrameError             = "ERROR"
)

// Frame types accepted from the client
const (
	inCommand         = "command"
	inHotkey          = "hotkey"
	inOverrideArm     = "override_arm"
	inOverrideConfirm = "override_confirm"
	inOverrideCancel  = "override_cancel"
	inRefresh         = "refresh"
)

// outFrame is a server to client message
type outFrame struct {
	Type      string      `json:"type"`
	Name      string      `json:"name,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// inFrame is a client to server message
type inFrame struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason,omitempty"`
	daysync.KeyEvent
}

// UserWSClient is one authenticated websocket connection and its session
type UserWSClient struct {
	conn     *websocket.Conn
	send     chan []byte
	hub      *UserWSHub
	userID   string
	done     chan struct{}
	doneOnce sync.Once

	cache    *daysync.Cache
	bindings *daysync.Bindings
	gate     *daysync.OverrideGate
	logger   zerolog.Logger
}

// UserWSHub tracks websocket clients per user
type UserWSHub struct {
	userClients map[string]map[*UserWSClient]bool
	userCast    chan userMessage
	mu          sync.RWMutex
	logger      zerolog.Logger
}

type userMessage struct {
	userID string
	data   []byte
}

// NewUserWSHub creates a new user-aware WebSocket hub
func NewUserWSHub(logger zerolog.Logger) *UserWSHub {
	return &UserWSHub{
		userClients: make(map[string]map[*UserWSClient]bool),
		userCast:    make(chan userMessage, 256),
		logger:      logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Run delivers queued user broadcasts until ctx ends
func (h *UserWSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.DisconnectAll()
			return
		case msg := <-h.userCast:
			h.mu.RLock()
			for client := range h.userClients[msg.userID] {
				client.enqueue(msg.data)
			}
			h.mu.RUnlock()
		}
	}
}

// Attach forwards user-scoped bus events (rewards, mode changes, max reached)
// to that user's connections.
func (h *UserWSHub) Attach(bus *events.EventBus) {
	if bus == nil {
		return
	}
	for _, t := range []events.EventType{
		events.EventRewardsUpdated,
		events.EventDisciplineModeChanged,
		events.EventDayMaxReached,
	} {
		bus.Subscribe(t, func(e events.Event) {
			if uid := e.UserID(); uid != "" {
				h.BroadcastToUser(uid, e)
			}
		})
	}
}

func (h *UserWSHub) register(c *UserWSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.userClients[c.userID] == nil {
		h.userClients[c.userID] = make(map[*UserWSClient]bool)
	}
	h.userClients[c.userID][c] = true
}

func (h *UserWSHub) unregister(c *UserWSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.userClients[c.userID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.userClients, c.userID)
		}
	}
}

// BroadcastToUser queues an event for a specific user's connections
func (h *UserWSHub) BroadcastToUser(userID string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal user event")
		return
	}

	select {
	case h.userCast <- userMessage{userID: userID, data: data}:
	default:
		h.logger.Warn().Str("user_id", userID).Msg("User broadcast channel full, dropping message")
	}
}

// DisconnectUser closes every connection of a user, e.g. on sign-out
func (h *UserWSHub) DisconnectUser(userID string) {
	h.mu.RLock()
	clients := make([]*UserWSClient, 0, len(h.userClients[userID]))
	for c := range h.userClients[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.shutdown()
	}
}

// DisconnectAll closes every connection
func (h *UserWSHub) DisconnectAll() {
	for _, uid := range h.GetConnectedUsers() {
		h.DisconnectUser(uid)
	}
}

// GetUserClientCount returns the number of connected clients for a user
func (h *UserWSHub) GetUserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userID])
}

// GetTotalClientCount returns the total number of connected clients
func (h *UserWSHub) GetTotalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.userClients {
		n += len(clients)
	}
	return n
}

// GetConnectedUsers returns a list of user IDs with active connections
func (h *UserWSHub) GetConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.userClients))
	for userID := range h.userClients {
		users = append(users, userID)
	}
	return users
}

// enqueue hands data to the write pump without blocking. Frames for a
// stalled connection are dropped.
func (c *UserWSClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn().Msg("Send buffer full, dropping frame")
		return false
	}
}

func (c *UserWSClient) sendFrame(f outFrame) {
	f.Timestamp = time.Now()
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Error().Err(err).Str("type", f.Type).Msg("Failed to marshal frame")
		return
	}
	c.enqueue(data)
}

func (c *UserWSClient) sendError(err error) {
	code := string(discipline.CodeOf(err))
	switch {
	case code != "":
	case errors.Is(err, daysync.ErrUnknownCommand):
		code = string(discipline.CodeValidation)
	default:
		code = "INTERNAL_ERROR"
	}
	c.sendFrame(outFrame{Type: FrameError, Error: code, Message: err.Error()})
}

// shutdown ends the session. The write pump closes the connection once it
// has sent the close frame. Safe to call more than once.
func (c *UserWSClient) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		if c.cache != nil {
			c.cache.Close()
		}
	})
}

// writePump pumps messages from the session to the websocket connection
func (c *UserWSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.shutdown()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump reads client frames and runs them against the session. Frames
// are handled in order, one at a time.
func (c *UserWSClient) readPump(ctx context.Context) {
	defer c.shutdown()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var in inFrame
		if err := json.Unmarshal(raw, &in); err != nil {
			c.sendFrame(outFrame{Type: FrameError, Error: string(discipline.CodeValidation), Message: "malformed frame"})
			continue
		}
		c.handle(ctx, in)
	}
}

func (c *UserWSClient) handle(ctx context.Context, in inFrame) {
	switch in.Type {
	case inCommand:
		rec, err := c.bindings.Dispatch(ctx, in.Name)
		c.reply(in.Name, rec, err)

	case inHotkey:
		rec, handled, err := c.bindings.HandleKey(ctx, in.KeyEvent)
		if handled {
			c.reply(in.Key, rec, err)
		}

	case inOverrideArm:
		readyAt := c.gate.Arm()
		c.sendFrame(outFrame{Type: FrameOverrideArmed, Data: gin.H{"ready_at": readyAt}})

	case inOverrideCancel:
		c.gate.Disarm()
		c.sendFrame(outFrame{Type: FrameOverrideCancelled})

	case inOverrideConfirm:
		rec, err := c.gate.Confirm(ctx, in.Reason)
		c.reply("override", rec, err)

	case inRefresh:
		rec, err := c.cache.Today(ctx)
		if err != nil {
			c.sendError(err)
			return
		}
		c.sendFrame(outFrame{Type: FrameDayUpdate, Data: rec})

	default:
		c.sendFrame(outFrame{Type: FrameError, Error: string(discipline.CodeValidation), Message: "unknown frame type " + in.Type})
	}
}

func (c *UserWSClient) reply(name string, rec *discipline.DayRecord, err error) {
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendFrame(outFrame{Type: FrameCommandResult, Name: name, Data: rec})
}

// forwardUpdates pushes every cache update, optimistic or authoritative,
// until the cache closes.
func (c *UserWSClient) forwardUpdates() {
	for rec := range c.cache.Updates() {
		c.sendFrame(outFrame{Type: FrameDayUpdate, Data: &rec})
	}
}

// handleUserWebSocket upgrades an authenticated request into a session
func (s *Server) handleUserWebSocket(c *gin.Context) {
	userID := auth.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   auth.ErrUnauthorized.Code,
			"message": "authentication required for WebSocket connection",
		})
		return
	}

	// The session outlives the upgrade request; keep its values, not its
	// cancellation.
	ctx := context.WithoutCancel(c.Request.Context())
	tz := s.zone(ctx, userID)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	logger := s.logger.With().Str("user_id", userID).Logger()
	cache := daysync.NewCache(s.svc, s.feed, daysync.Options{
		UserID:     userID,
		Timezone:   tz,
		Clock:      s.svc.Clock(),
		Logger:     logger,
		StaleAfter: s.discipline.SessionStaleAfter,
	})

	client := &UserWSClient{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		hub:      s.hub,
		userID:   userID,
		done:     make(chan struct{}),
		cache:    cache,
		bindings: daysync.DefaultBindings(cache),
		gate:     s.gates.For(userID, s.overrideSubmitter(userID)),
		logger:   logger,
	}

	if err := cache.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start session")
		client.sendError(err)
	}

	s.hub.register(client)

	go client.writePump()
	go client.forwardUpdates()

	client.sendFrame(outFrame{
		Type:    FrameConnected,
		Message: "WebSocket connection established",
		Data:    gin.H{"user_id": userID, "timezone": tz},
	})
	// A found record reaches the client through Updates; an absent day is
	// reported explicitly.
	if rec, err := cache.Today(ctx); err != nil {
		client.sendError(err)
	} else if rec == nil {
		client.sendFrame(outFrame{Type: FrameDayUpdate})
	}

	go client.readPump(ctx)
}
