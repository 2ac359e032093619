package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/healspace/support-assistant/internal/model"
	"github.com/healspace/support-assistant/internal/store"
)

const (
	// StreamName is the name of the assistant conversations stream.
	StreamName = "ASSISTANT"

	// SubjectPrefix is the prefix for all assistant subjects.
	SubjectPrefix = "assist"

	fetchBatch = 256
)

// StreamManager stores conversation turns and audit events in JetStream.
// It implements store.TurnStore and store.EventPublisher.
type StreamManager struct {
	client *Client
	clock  *store.Clock
	stream jetstream.Stream
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{
		client: client,
		clock:  store.NewClock(),
	}
}

var (
	_ store.TurnStore      = (*StreamManager)(nil)
	_ store.EventPublisher = (*StreamManager)(nil)
)

// EnsureStream ensures the assistant stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		m.stream = stream
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  2 * time.Minute,
		// Turns are cleared per conversation by subject purge.
		DenyDelete:  true,
		DenyPurge:   false,
		Description: "Assistant conversation turns and audit events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	m.stream = stream

	return nil
}

func (m *StreamManager) streamHandle(ctx context.Context) (jetstream.Stream, error) {
	if m.stream != nil {
		return m.stream, nil
	}
	return m.client.JetStream().Stream(ctx, StreamName)
}

// TurnSubject returns the subject a turn is published on.
func TurnSubject(tag string, origin model.Origin) string {
	return fmt.Sprintf("%s.%s.turn.%s", SubjectPrefix, tag, origin)
}

// TurnFilter returns the filter subject for all turns in a conversation.
func TurnFilter(tag string) string {
	return fmt.Sprintf("%s.%s.turn.*", SubjectPrefix, tag)
}

// EventSubject returns the subject for an audit event.
func EventSubject(tag string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, tag, eventType)
}

// AppendTurn publishes a turn and waits for the JetStream ack. The returned
// turn carries the stream sequence and the server's storage timestamp.
func (m *StreamManager) AppendTurn(ctx context.Context, ownerID, text string, origin model.Origin) (*model.ConversationTurn, error) {
	if err := store.ValidateOwnerID(ownerID); err != nil {
		return nil, &store.PersistenceError{Op: store.OpAppend, OwnerID: ownerID, Err: err}
	}
	if !origin.Valid() {
		return nil, &store.PersistenceError{Op: store.OpAppend, OwnerID: ownerID, Err: fmt.Errorf("invalid origin %q", origin)}
	}

	turn := &model.ConversationTurn{
		ID:              uuid.Must(uuid.NewV7()).String(),
		OwnerID:         ownerID,
		Text:            text,
		Origin:          origin,
		ConversationTag: model.ConversationTag(ownerID),
		CreatedAt:       m.clock.Next(),
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return nil, &store.PersistenceError{Op: store.OpAppend, OwnerID: ownerID, Err: fmt.Errorf("failed to marshal turn: %w", err)}
	}

	ack, err := m.client.JetStream().Publish(ctx, TurnSubject(turn.ConversationTag, origin), data, jetstream.WithMsgID(turn.ID))
	if err != nil {
		return nil, &store.PersistenceError{Op: store.OpAppend, OwnerID: ownerID, Err: fmt.Errorf("failed to publish turn: %w", err)}
	}
	turn.Sequence = ack.Sequence

	// The ack has no timestamp. Read it back so callers see the same
	// CreatedAt that LoadHistory reports; keep the local one if that fails.
	if stream, err := m.streamHandle(ctx); err == nil {
		if stored, err := stream.GetMsg(ctx, ack.Sequence); err == nil {
			turn.CreatedAt = stored.Time.UTC()
		}
	}

	return turn, nil
}

// LoadHistory reads the owner's conversation and returns the most recent
// limit turns in chronological order.
func (m *StreamManager) LoadHistory(ctx context.Context, ownerID string, limit int) ([]model.ConversationTurn, error) {
	if err := store.ValidateOwnerID(ownerID); err != nil {
		return nil, &store.PersistenceError{Op: store.OpLoad, OwnerID: ownerID, Err: err}
	}

	fail := func(err error) ([]model.ConversationTurn, error) {
		return nil, &store.PersistenceError{Op: store.OpLoad, OwnerID: ownerID, Err: err}
	}

	js := m.client.JetStream()
	tag := model.ConversationTag(ownerID)

	// Create ephemeral consumer
	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     TurnFilter(tag),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create consumer: %w", err))
	}

	info := consumer.CachedInfo()
	defer func() {
		// Best effort; the inactive threshold reaps it otherwise.
		_ = js.DeleteConsumer(context.WithoutCancel(ctx), StreamName, info.Name)
	}()

	pending := int(info.NumPending)
	turns := make([]model.ConversationTurn, 0, min(pending, max(limit, 0)))

	for read := 0; read < pending; {
		batch, err := consumer.Fetch(min(fetchBatch, pending-read), jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return fail(fmt.Errorf("failed to fetch turns: %w", err))
		}

		got := 0
		for msg := range batch.Messages() {
			got++
			turn, err := decodeTurn(msg, ownerID)
			if err != nil {
				return fail(err)
			}
			turns = append(turns, *turn)
			if limit > 0 && len(turns) > limit {
				turns = turns[1:]
			}
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			return fail(fmt.Errorf("batch error: %w", err))
		}
		if got == 0 {
			break
		}
		read += got
	}

	// Delivery follows stream sequence already; sorting keeps the contract
	// explicit.
	model.SortChronological(turns)
	return turns, nil
}

// decodeTurn maps a stored record into a turn, rejecting anything malformed
// or belonging to another owner. Sequence and CreatedAt are taken from the
// server's metadata, not from the writer's payload.
func decodeTurn(msg jetstream.Msg, ownerID string) (*model.ConversationTurn, error) {
	var turn model.ConversationTurn
	if err := json.Unmarshal(msg.Data(), &turn); err != nil {
		return nil, fmt.Errorf("malformed turn record on %s: %w", msg.Subject(), err)
	}
	meta, err := msg.Metadata()
	if err != nil {
		return nil, fmt.Errorf("turn record on %s has no stream metadata: %w", msg.Subject(), err)
	}
	turn.Sequence = meta.Sequence.Stream
	turn.CreatedAt = meta.Timestamp.UTC()
	if err := checkTurn(&turn, ownerID); err != nil {
		return nil, err
	}
	return &turn, nil
}

func checkTurn(turn *model.ConversationTurn, ownerID string) error {
	if err := turn.Validate(); err != nil {
		return fmt.Errorf("malformed turn record: %w", err)
	}
	if turn.OwnerID != ownerID {
		return fmt.Errorf("turn %s belongs to another owner", turn.ID)
	}
	return nil
}

// ClearConversation purges every turn subject of the owner's conversation.
// Audit events are kept.
func (m *StreamManager) ClearConversation(ctx context.Context, ownerID string) error {
	if err := store.ValidateOwnerID(ownerID); err != nil {
		return &store.PersistenceError{Op: store.OpClear, OwnerID: ownerID, Err: err}
	}

	stream, err := m.streamHandle(ctx)
	if err != nil {
		return &store.PersistenceError{Op: store.OpClear, OwnerID: ownerID, Err: fmt.Errorf("failed to get stream: %w", err)}
	}

	if err := stream.Purge(ctx, jetstream.WithPurgeSubject(TurnFilter(model.ConversationTag(ownerID)))); err != nil {
		return &store.PersistenceError{Op: store.OpClear, OwnerID: ownerID, Err: fmt.Errorf("failed to purge turns: %w", err)}
	}
	return nil
}

// Watch delivers turns published to the owner's conversation after the call
// returns. An ordered consumer is used so every turn carries its stream
// sequence and storage time.
func (m *StreamManager) Watch(ctx context.Context, ownerID string, fn func(model.ConversationTurn)) (func(), error) {
	if err := store.ValidateOwnerID(ownerID); err != nil {
		return nil, &store.PersistenceError{Op: store.OpWatch, OwnerID: ownerID, Err: err}
	}

	consumer, err := m.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{TurnFilter(model.ConversationTag(ownerID))},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, &store.PersistenceError{Op: store.OpWatch, OwnerID: ownerID, Err: fmt.Errorf("failed to create consumer: %w", err)}
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		turn, err := decodeTurn(msg, ownerID)
		if err != nil {
			m.client.logger.Warn("dropping invalid turn", zap.String("subject", msg.Subject()), zap.Error(err))
			return
		}
		fn(*turn)
	})
	if err != nil {
		return nil, &store.PersistenceError{Op: store.OpWatch, OwnerID: ownerID, Err: fmt.Errorf("failed to consume: %w", err)}
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			consumeCtx.Stop()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	return stop, nil
}

// Ping reports whether the NATS connection is up.
func (m *StreamManager) Ping(ctx context.Context) error {
	if !m.client.IsConnected() {
		return errors.New("NATS not connected")
	}
	return ctx.Err()
}

// PublishEvent publishes an audit event to JetStream.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	subject := EventSubject(event.ConversationTag, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, &store.PersistenceError{Op: store.OpPublish, OwnerID: event.OwnerID, Err: fmt.Errorf("failed to publish event: %w", err)}
	}

	return ack.Sequence, nil
}
