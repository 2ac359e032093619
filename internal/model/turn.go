// Package model defines data structures for the support assistant.
package model

import (
	"fmt"
	"sort"
	"time"
)

// Origin identifies who produced a conversation turn.
type Origin string

const (
	OriginHuman     Origin = "human"
	OriginAssistant Origin = "assistant"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	return o == OriginHuman || o == OriginAssistant
}

// ConversationTurn is one immutable message in an owner's assistant conversation.
type ConversationTurn struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Text            string    `json:"text"`
	Origin          Origin    `json:"origin"`
	ConversationTag string    `json:"conversation_tag"`
	CreatedAt       time.Time `json:"created_at"`

	// Store sequence (populated on read)
	Sequence uint64 `json:"sequence,omitempty"`
}

// ConversationTag returns the grouping key for an owner's AI conversation.
func ConversationTag(ownerID string) string {
	return "ai_" + ownerID
}

// Validate checks that a turn read back from a backend is well formed.
func (t *ConversationTurn) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("turn has no id")
	case t.OwnerID == "":
		return fmt.Errorf("turn %s has no owner", t.ID)
	case !t.Origin.Valid():
		return fmt.Errorf("turn %s has unknown origin %q", t.ID, t.Origin)
	case t.ConversationTag != ConversationTag(t.OwnerID):
		return fmt.Errorf("turn %s has mismatched conversation tag %q", t.ID, t.ConversationTag)
	case t.CreatedAt.IsZero():
		return fmt.Errorf("turn %s has no creation time", t.ID)
	}
	return nil
}

// SortChronological orders turns by store sequence when every turn carries
// one. Otherwise it falls back to creation time, breaking ties by sequence.
// Sequences come from the store's insertion order and are never skewed by
// writer clocks.
func SortChronological(turns []ConversationTurn) {
	bySequence := true
	for i := range turns {
		if turns[i].Sequence == 0 {
			bySequence = false
			break
		}
	}

	sort.SliceStable(turns, func(i, j int) bool {
		if bySequence {
			return turns[i].Sequence < turns[j].Sequence
		}
		if turns[i].CreatedAt.Equal(turns[j].CreatedAt) {
			return turns[i].Sequence < turns[j].Sequence
		}
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
}

// TurnPair is the result of submitting a message to the assistant.
type TurnPair struct {
	Human     *ConversationTurn `json:"human"`
	Assistant *ConversationTurn `json:"assistant"`
	Crisis    bool              `json:"crisis"`
}

// SendMessageRequest is the request to send a message to the assistant.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// HistoryResponse is the response for listing conversation history.
type HistoryResponse struct {
	Turns []ConversationTurn `json:"turns"`
	Count int                `json:"count"`
}
