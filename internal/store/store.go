// Package store defines the conversation store adapter and an in-memory
// implementation of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/healspace/support-assistant/internal/model"
)

// Operation names used in PersistenceError.
const (
	OpAppend  = "append"
	OpLoad    = "load"
	OpClear   = "clear"
	OpWatch   = "watch"
	OpPublish = "publish_event"
)

// TurnStore persists conversation turns for the assistant.
type TurnStore interface {
	// AppendTurn inserts one immutable turn and notifies watchers.
	AppendTurn(ctx context.Context, ownerID, text string, origin model.Origin) (*model.ConversationTurn, error)

	// LoadHistory returns up to limit of the most recent turns, oldest first.
	LoadHistory(ctx context.Context, ownerID string, limit int) ([]model.ConversationTurn, error)

	// ClearConversation deletes every turn in the owner's conversation.
	// Clearing an empty conversation is not an error.
	ClearConversation(ctx context.Context, ownerID string) error

	// Watch calls fn for each turn inserted into the owner's conversation
	// until ctx is done or stop is called.
	Watch(ctx context.Context, ownerID string, fn func(model.ConversationTurn)) (stop func(), err error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// EventPublisher records audit events next to conversation turns.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
}

// PersistenceError reports a failed store operation.
type PersistenceError struct {
	Op      string
	OwnerID string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s for owner %q: %v", e.Op, e.OwnerID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err is or wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// ErrInvalidOwner is returned for owner ids that cannot be used as a
// partition key.
var ErrInvalidOwner = errors.New("invalid owner id")

var ownerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateOwnerID checks that ownerID is a single safe token.
func ValidateOwnerID(ownerID string) error {
	if !ownerIDPattern.MatchString(ownerID) {
		return ErrInvalidOwner
	}
	return nil
}

// Clock hands out strictly increasing timestamps so turns inserted by one
// store keep their insertion order even within the same clock tick.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock creates a clock over time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Next returns a UTC timestamp later than every one returned before.
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}
