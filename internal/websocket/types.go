package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDocumentProgress reports chunk progress of a document
	EventTypeDocumentProgress EventType = "document_progress"
	// EventTypeAnonymization summarizes one finished anonymization
	EventTypeAnonymization EventType = "anonymization"
	// EventTypeSessionBurned reports a destroyed session
	EventTypeSessionBurned EventType = "session_burned"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"

	eventTypeSubscribed EventType = "subscribed"
	eventTypePong       EventType = "pong"
)

// Event represents a WebSocket event sent to clients. Events never carry
// original values.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	SessionID string      `json:"session_id,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// ProgressEvent is the data of a document_progress event
type ProgressEvent struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// AnonymizationEvent is the data of an anonymization event
type AnonymizationEvent struct {
	Kind          string         `json:"kind"`
	Context       string         `json:"context"`
	EntitiesFound int            `json:"entities_found"`
	ByClass       map[string]int `json:"by_class,omitempty"`
	DurationMS    float64        `json:"duration_ms"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string               `json:"type"`
	Data *SubscriptionRequest `json:"data,omitempty"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows events to a set of sessions or detected contexts
type EventFilter struct {
	SessionIDs []string `json:"session_ids,omitempty"`
	Contexts   []string `json:"contexts,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	conn        *websocket.Conn
	send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu           sync.Mutex
	subscription *SubscriptionRequest
}

func (c *Client) setSubscription(s *SubscriptionRequest) {
	c.mu.Lock()
	c.subscription = s
	c.mu.Unlock()
}

func (c *Client) getSubscription() *SubscriptionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscription
}
