package websocket

import (
	"time"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDecision represents a policy decision event
	EventTypeDecision EventType = "decision"
	// EventTypeDetection represents a content detection event
	EventTypeDetection EventType = "detection"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// DecisionEvent is the content-free summary of one policy decision. Samples
// and detector evidence never leave the server over the feed.
type DecisionEvent struct {
	DecisionID    string `json:"decision_id"`
	EventID       string `json:"event_id"`
	TenantID      string `json:"tenant_id"`
	Domain        string `json:"domain"`
	EventType     string `json:"event_type"`
	Outcome       string `json:"outcome"`
	RiskScore     int    `json:"risk_score"`
	MatchedPolicy string `json:"matched_policy,omitempty"`
	HitCount      int    `json:"hit_count"`
}

// DetectionEvent summarizes one server-side classification pass.
type DetectionEvent struct {
	EventID      string   `json:"event_id"`
	Domain       string   `json:"domain"`
	Profile      string   `json:"profile,omitempty"`
	FindingTypes []string `json:"finding_types"`
	TotalCount   int      `json:"total_count"`
	ProcessingMS float64  `json:"processing_ms"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalDecisions   int64  `json:"total_decisions"`
	TotalDetections  int64  `json:"total_detections"`
	ActivePolicies   int    `json:"active_policies"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter represents filtering options for events
type EventFilter struct {
	Outcomes   []string `json:"outcomes,omitempty"`
	Domains    []string `json:"domains,omitempty"`
	MinRisk    int      `json:"min_risk,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         interface{} // Will be *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
