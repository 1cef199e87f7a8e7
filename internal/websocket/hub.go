// Package websocket pushes live anonymization events to dashboard clients.
package websocket

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HubConfig contains configuration for the WebSocket hub
type HubConfig struct {
	BroadcastProgress      bool
	BroadcastAnonymization bool
	BroadcastSessions      bool
	BroadcastConnections   bool
	Username               string
	Password               string
}

// Hub maintains the set of active clients and broadcasts events to them.
// A nil *Hub drops every event.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	config *HubConfig
	logger *logger.Logger

	mu    sync.RWMutex
	stats HubStats
}

// HubStats tracks WebSocket hub statistics
type HubStats struct {
	TotalConnections  int64     `json:"total_connections"`
	ActiveConnections int64     `json:"active_connections"`
	TotalMessages     int64     `json:"total_messages"`
	TotalBroadcasts   int64     `json:"total_broadcasts"`
	LastBroadcastTime time.Time `json:"last_broadcast_time"`
}

// NewHub creates a new WebSocket hub
func NewHub(config *HubConfig, log *logger.Logger) *Hub {
	if config == nil {
		config = &HubConfig{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		config:     config,
		logger:     log.WithComponent("websocket"),
	}
}

// Run dispatches registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket hub")
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.deliver(event, nil)

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ActiveConnections++

	h.logger.Info("Client connected",
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int64("active_connections", h.stats.ActiveConnections),
	)

	if h.config.BroadcastConnections {
		h.deliverLocked(connectionEvent("connected", client), client)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	h.drop(client)

	h.logger.Info("Client disconnected",
		zap.String("client_id", client.ID),
		zap.Int64("active_connections", h.stats.ActiveConnections),
	)

	if h.config.BroadcastConnections {
		h.deliverLocked(connectionEvent("disconnected", client), nil)
	}
}

// drop removes client; h.mu must be held.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.stats.ActiveConnections--
}

func (h *Hub) deliver(event Event, exclude *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(event, exclude)
}

func (h *Hub) deliverLocked(event Event, exclude *Client) {
	h.stats.TotalBroadcasts++
	h.stats.LastBroadcastTime = time.Now()

	for client := range h.clients {
		if client == exclude || !shouldSendToClient(client, event) {
			continue
		}
		select {
		case client.send <- event:
			h.stats.TotalMessages++
		default:
			h.logger.Warn("Client send channel full, closing connection",
				zap.String("client_id", client.ID),
			)
			h.drop(client)
		}
	}
}

func shouldSendToClient(client *Client, event Event) bool {
	sub := client.getSubscription()
	if sub == nil {
		return true
	}

	subscribed := false
	for _, eventType := range sub.Events {
		if eventType == event.Type {
			subscribed = true
			break
		}
	}
	if !subscribed {
		return false
	}
	if sub.Filter != nil {
		return applyEventFilter(sub.Filter, event)
	}
	return true
}

func applyEventFilter(filter *EventFilter, event Event) bool {
	if len(filter.SessionIDs) > 0 && !contains(filter.SessionIDs, event.SessionID) {
		return false
	}
	if len(filter.Contexts) > 0 {
		ev, ok := event.Data.(AnonymizationEvent)
		if !ok || !contains(filter.Contexts, ev.Context) {
			return false
		}
	}
	return true
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// BroadcastEvent queues event for every client, if its type is enabled.
func (h *Hub) BroadcastEvent(event Event) {
	if h == nil || !h.shouldBroadcastEvent(event.Type) {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// PublishProgress broadcasts a document_progress event.
func (h *Hub) PublishProgress(sessionID, requestID string, percent int, message string) {
	h.BroadcastEvent(Event{
		Type:      EventTypeDocumentProgress,
		SessionID: sessionID,
		RequestID: requestID,
		Data:      ProgressEvent{Percent: percent, Message: message},
	})
}

// PublishAnonymization broadcasts an anonymization event.
func (h *Hub) PublishAnonymization(sessionID, requestID string, ev AnonymizationEvent) {
	h.BroadcastEvent(Event{
		Type:      EventTypeAnonymization,
		SessionID: sessionID,
		RequestID: requestID,
		Data:      ev,
	})
}

// PublishSessionBurned broadcasts a session_burned event.
func (h *Hub) PublishSessionBurned(sessionID string) {
	h.BroadcastEvent(Event{
		Type:      EventTypeSessionBurned,
		SessionID: sessionID,
		Data:      map[string]string{"session_id": sessionID},
	})
}

func (h *Hub) shouldBroadcastEvent(eventType EventType) bool {
	switch eventType {
	case EventTypeDocumentProgress:
		return h.config.BroadcastProgress
	case EventTypeAnonymization:
		return h.config.BroadcastAnonymization
	case EventTypeSessionBurned:
		return h.config.BroadcastSessions
	case EventTypeConnection:
		return h.config.BroadcastConnections
	default:
		return false
	}
}

// HandleWebSocket upgrades the request after checking basic auth, when
// credentials are configured.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.config.Username != "" && !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="anonymizer"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          "client_" + uuid.NewString(),
		conn:        conn,
		send:        make(chan Event, 256),
		ConnectedAt: time.Now(),
		IP:          getClientIP(r),
		UserAgent:   r.UserAgent(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.config.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.config.Password)) == 1
	return userOK && passOK
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(event); err != nil {
				h.logger.Error("Failed to write WebSocket message",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket read error",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
			}
			return
		}
		h.handleClientMessage(client, msg)
	}
}

func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	var reply Event
	switch msg.Type {
	case "subscribe":
		client.setSubscription(msg.Data)
		h.logger.Debug("Client subscription updated", zap.String("client_id", client.ID))
		reply = Event{Type: eventTypeSubscribed, Data: msg.Data}
	case "ping":
		reply = Event{Type: eventTypePong, Data: map[string]string{"message": "pong"}}
	default:
		return
	}
	reply.Timestamp = time.Now().UTC()

	// The hub closes send when dropping a client; hold the read lock so a
	// drop cannot race this write.
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- reply:
	default:
	}
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	if h == nil {
		return HubStats{}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

func connectionEvent(action string, client *Client) Event {
	return Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now().UTC(),
		Data: ConnectionEvent{
			Action:   action,
			ClientID: client.ID,
			ClientIP: client.IP,
		},
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
