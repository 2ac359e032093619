package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/healspace/support-assistant/internal/model"
)

const watcherBuffer = 64

// MemoryStore keeps turns in process memory. It backs local development and
// tests; data does not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	turns    map[string][]model.ConversationTurn // by conversation tag
	events   []model.ConversationEvent
	watchers map[string]map[uint64]*watcher
	nextID   uint64
	seq      uint64
	clock    *Clock

	// appendCheck is fixed at construction, so reads need no lock.
	appendCheck func(ownerID string, origin model.Origin) error
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithAppendCheck runs fn before every append. A non-nil error rejects the
// append with a PersistenceError, as a backend write failure would.
func WithAppendCheck(fn func(ownerID string, origin model.Origin) error) MemoryOption {
	return func(s *MemoryStore) {
		s.appendCheck = fn
	}
}

type watcher struct {
	queue chan model.ConversationTurn
	done  chan struct{}
	once  sync.Once
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		turns:    make(map[string][]model.ConversationTurn),
		watchers: make(map[string]map[uint64]*watcher),
		clock:    NewClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendTurn inserts a turn and notifies watchers of the owner's conversation.
func (s *MemoryStore) AppendTurn(ctx context.Context, ownerID, text string, origin model.Origin) (*model.ConversationTurn, error) {
	if err := ValidateOwnerID(ownerID); err != nil {
		return nil, &PersistenceError{Op: OpAppend, OwnerID: ownerID, Err: err}
	}
	if !origin.Valid() {
		return nil, &PersistenceError{Op: OpAppend, OwnerID: ownerID, Err: errInvalidOrigin(origin)}
	}
	if err := ctx.Err(); err != nil {
		return nil, &PersistenceError{Op: OpAppend, OwnerID: ownerID, Err: err}
	}

	if s.appendCheck != nil {
		if err := s.appendCheck(ownerID, origin); err != nil {
			return nil, &PersistenceError{Op: OpAppend, OwnerID: ownerID, Err: err}
		}
	}

	s.mu.Lock()

	s.seq++
	tag := model.ConversationTag(ownerID)
	turn := model.ConversationTurn{
		ID:              uuid.Must(uuid.NewV7()).String(),
		OwnerID:         ownerID,
		Text:            text,
		Origin:          origin,
		ConversationTag: tag,
		CreatedAt:       s.clock.Next(),
		Sequence:        s.seq,
	}
	s.turns[tag] = append(s.turns[tag], turn)

	for _, w := range s.watchers[tag] {
		select {
		case w.queue <- turn:
		default:
			// Slow watcher; it must reload history anyway.
		}
	}
	s.mu.Unlock()

	return &turn, nil
}

// LoadHistory returns up to limit of the most recent turns, oldest first.
func (s *MemoryStore) LoadHistory(ctx context.Context, ownerID string, limit int) ([]model.ConversationTurn, error) {
	if err := ValidateOwnerID(ownerID); err != nil {
		return nil, &PersistenceError{Op: OpLoad, OwnerID: ownerID, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &PersistenceError{Op: OpLoad, OwnerID: ownerID, Err: err}
	}

	s.mu.RLock()
	all := s.turns[model.ConversationTag(ownerID)]
	out := make([]model.ConversationTurn, len(all))
	copy(out, all)
	s.mu.RUnlock()

	model.SortChronological(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ClearConversation removes all turns in the owner's conversation.
func (s *MemoryStore) ClearConversation(ctx context.Context, ownerID string) error {
	if err := ValidateOwnerID(ownerID); err != nil {
		return &PersistenceError{Op: OpClear, OwnerID: ownerID, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: OpClear, OwnerID: ownerID, Err: err}
	}

	s.mu.Lock()
	delete(s.turns, model.ConversationTag(ownerID))
	s.mu.Unlock()
	return nil
}

// Watch delivers each new turn for ownerID to fn on a dedicated goroutine.
func (s *MemoryStore) Watch(ctx context.Context, ownerID string, fn func(model.ConversationTurn)) (func(), error) {
	if err := ValidateOwnerID(ownerID); err != nil {
		return nil, &PersistenceError{Op: OpWatch, OwnerID: ownerID, Err: err}
	}

	w := &watcher{
		queue: make(chan model.ConversationTurn, watcherBuffer),
		done:  make(chan struct{}),
	}
	tag := model.ConversationTag(ownerID)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.watchers[tag] == nil {
		s.watchers[tag] = make(map[uint64]*watcher)
	}
	s.watchers[tag][id] = w
	s.mu.Unlock()

	stop := func() {
		w.once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[tag], id)
			if len(s.watchers[tag]) == 0 {
				delete(s.watchers, tag)
			}
			s.mu.Unlock()
			close(w.done)
		})
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-w.done:
				return
			case turn := <-w.queue:
				fn(turn)
			}
		}
	}()

	return stop, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// PublishEvent records an audit event.
func (s *MemoryStore) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e := *event
	e.Sequence = s.seq
	s.events = append(s.events, e)
	return s.seq, nil
}

// Events returns a copy of the recorded audit events.
func (s *MemoryStore) Events() []model.ConversationEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ConversationEvent, len(s.events))
	copy(out, s.events)
	return out
}

type errInvalidOrigin model.Origin

func (e errInvalidOrigin) Error() string {
	return "invalid origin " + string(e)
}
