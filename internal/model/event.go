package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeCrisisDetected    EventType = "crisis_detected"
	EventTypeGenerationFailed  EventType = "generation_failed"
	EventTypePersistenceFailed EventType = "persistence_failed"
)

// ConversationEvent is an audit record published alongside turns.
// It never carries message text.
type ConversationEvent struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"owner_id"`
	ConversationTag string         `json:"conversation_tag"`
	Type            EventType      `json:"type"`
	Reason          string         `json:"reason"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	Sequence        uint64         `json:"sequence,omitempty"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
