// Package service provides business logic for the support assistant.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/healspace/support-assistant/internal/assistant"
	"github.com/healspace/support-assistant/internal/model"
	"github.com/healspace/support-assistant/internal/safety"
	"github.com/healspace/support-assistant/internal/store"
	"github.com/healspace/support-assistant/pkg/logger"
	"github.com/healspace/support-assistant/pkg/metrics"
)

// History page bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// ErrNothingToResume is returned by ResumeTurn when the newest turn already
// has a reply.
var ErrNothingToResume = errors.New("no unanswered message to resume")

// Replier produces a reply for a user message. *assistant.Generator is the
// production implementation.
type Replier interface {
	Generate(ctx context.Context, userMessage string, contextLines []string) (string, error)
}

// Options tunes an AssistantService.
type Options struct {
	// ContextTurns is how many turns the generator sees.
	ContextTurns int
	// HistoryContextLimit is how many turns Converse loads before submitting.
	HistoryContextLimit int
}

// AssistantService runs the safety gate, generation and persistence pipeline.
type AssistantService struct {
	store   store.TurnStore
	events  store.EventPublisher
	replier Replier
	opts    Options
	logger  *logger.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewAssistantService creates a new assistant service. events may be nil.
func NewAssistantService(
	turns store.TurnStore,
	events store.EventPublisher,
	replier Replier,
	opts Options,
	log *logger.Logger,
) *AssistantService {
	if opts.ContextTurns <= 0 {
		opts.ContextTurns = assistant.DefaultContextTurns
	}
	if opts.HistoryContextLimit <= 0 {
		opts.HistoryContextLimit = 10
	}
	if log == nil {
		log = logger.Global()
	}

	return &AssistantService{
		store:   turns,
		events:  events,
		replier: replier,
		opts:    opts,
		logger:  log,
		tracer:  otel.Tracer("github.com/healspace/support-assistant/internal/service"),
		now:     time.Now,
	}
}

// SubmitTurn answers userMessage and persists the human turn followed by the
// assistant turn. history is the caller's current view of the conversation.
//
// If the human turn cannot be stored nothing else happens. If the assistant
// turn cannot be stored the human turn stays persisted; callers should use
// ResumeTurn rather than submitting the message again.
func (s *AssistantService) SubmitTurn(ctx context.Context, ownerID, userMessage string, history []model.ConversationTurn) (*model.TurnPair, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.submit_turn")
	defer span.End()

	log := s.logger.With(zap.String("owner_id", ownerID))

	replyText, outcome := s.reply(ctx, log, ownerID, userMessage, history)
	defer s.publishOutcome(ctx, log, ownerID, outcome)
	span.SetAttributes(attribute.Bool("assistant.crisis", outcome.crisis))

	humanTurn, err := s.store.AppendTurn(ctx, ownerID, userMessage, model.OriginHuman)
	if err != nil {
		return nil, s.persistenceFailed(ctx, span, log, ownerID, err)
	}
	metrics.TurnsTotal.WithLabelValues(string(model.OriginHuman)).Inc()

	assistantTurn, err := s.store.AppendTurn(ctx, ownerID, replyText, model.OriginAssistant)
	if err != nil {
		log.Warn("assistant turn not stored; human turn left unanswered", zap.String("turn_id", humanTurn.ID))
		return nil, s.persistenceFailed(ctx, span, log, ownerID, err)
	}
	metrics.TurnsTotal.WithLabelValues(string(model.OriginAssistant)).Inc()

	return &model.TurnPair{
		Human:     humanTurn,
		Assistant: assistantTurn,
		Crisis:    outcome.crisis,
	}, nil
}

// Converse loads recent history for ownerID and submits userMessage.
func (s *AssistantService) Converse(ctx context.Context, ownerID, userMessage string) (*model.TurnPair, error) {
	history, err := s.store.LoadHistory(ctx, ownerID, s.opts.HistoryContextLimit)
	if err != nil {
		return nil, s.countPersistence(err)
	}
	return s.SubmitTurn(ctx, ownerID, userMessage, history)
}

// ResumeTurn answers a human turn left without a reply by an earlier partial
// failure. Only the assistant turn is appended.
func (s *AssistantService) ResumeTurn(ctx context.Context, ownerID string) (*model.TurnPair, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.resume_turn")
	defer span.End()

	log := s.logger.With(zap.String("owner_id", ownerID))

	history, err := s.store.LoadHistory(ctx, ownerID, s.opts.HistoryContextLimit)
	if err != nil {
		return nil, s.countPersistence(err)
	}
	if len(history) == 0 || history[len(history)-1].Origin != model.OriginHuman {
		return nil, ErrNothingToResume
	}

	pending := history[len(history)-1]
	replyText, outcome := s.reply(ctx, log, ownerID, pending.Text, history[:len(history)-1])
	defer s.publishOutcome(ctx, log, ownerID, outcome)

	assistantTurn, err := s.store.AppendTurn(ctx, ownerID, replyText, model.OriginAssistant)
	if err != nil {
		return nil, s.persistenceFailed(ctx, span, log, ownerID, err)
	}
	metrics.TurnsTotal.WithLabelValues(string(model.OriginAssistant)).Inc()

	return &model.TurnPair{
		Human:     &pending,
		Assistant: assistantTurn,
		Crisis:    outcome.crisis,
	}, nil
}

// History returns the owner's most recent turns, oldest first.
func (s *AssistantService) History(ctx context.Context, ownerID string, limit int) (*model.HistoryResponse, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	turns, err := s.store.LoadHistory(ctx, ownerID, limit)
	if err != nil {
		return nil, s.countPersistence(err)
	}
	if turns == nil {
		turns = []model.ConversationTurn{}
	}

	return &model.HistoryResponse{
		Turns: turns,
		Count: len(turns),
	}, nil
}

// Clear deletes the owner's assistant conversation.
func (s *AssistantService) Clear(ctx context.Context, ownerID string) error {
	if err := s.store.ClearConversation(ctx, ownerID); err != nil {
		return s.countPersistence(err)
	}
	s.logger.Info("assistant conversation cleared", zap.String("owner_id", ownerID))
	return nil
}

// Watch forwards turns inserted into the owner's conversation to fn.
func (s *AssistantService) Watch(ctx context.Context, ownerID string, fn func(model.ConversationTurn)) (func(), error) {
	stop, err := s.store.Watch(ctx, ownerID, fn)
	if err != nil {
		return nil, s.countPersistence(err)
	}
	return stop, nil
}

// Ready reports whether the store is reachable.
func (s *AssistantService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// replyOutcome describes how a reply was produced.
type replyOutcome struct {
	crisis bool
	event  model.EventType
	reason string
	meta   map[string]any
}

// reply picks the crisis script or a generated reply. It never fails and does
// no I/O on the crisis path.
func (s *AssistantService) reply(ctx context.Context, log *logger.Logger, ownerID, userMessage string, history []model.ConversationTurn) (string, replyOutcome) {
	if phrase, ok := safety.MatchedPhrase(userMessage); ok {
		metrics.CrisisDetectionsTotal.WithLabelValues(phrase).Inc()
		log.Warn("crisis signal detected; sending crisis resources")
		return safety.CrisisScript(), replyOutcome{
			crisis: true,
			event:  model.EventTypeCrisisDetected,
			reason: "keyword match",
			meta:   map[string]any{"phrase": phrase},
		}
	}

	lines := assistant.BuildContext(history, ownerID, s.opts.ContextTurns)

	text, err := s.replier.Generate(ctx, userMessage, lines)
	if err != nil {
		reason := "unknown"
		var genErr *assistant.GenerationError
		if errors.As(err, &genErr) {
			reason = string(genErr.Reason)
		}
		log.Warn("generation failed; sending fallback reply", zap.String("reason", reason), zap.Error(err))
		return assistant.FallbackReply, replyOutcome{
			event:  model.EventTypeGenerationFailed,
			reason: reason,
		}
	}

	return text, replyOutcome{}
}

func (s *AssistantService) publishOutcome(ctx context.Context, log *logger.Logger, ownerID string, outcome replyOutcome) {
	if outcome.event == "" {
		return
	}
	s.publish(ctx, log, ownerID, outcome.event, outcome.reason, outcome.meta)
}

func (s *AssistantService) persistenceFailed(ctx context.Context, span trace.Span, log *logger.Logger, ownerID string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "persistence failed")
	log.Error("failed to store turn", zap.Error(err))
	s.publish(ctx, log, ownerID, model.EventTypePersistenceFailed, err.Error(), nil)
	return s.countPersistence(err)
}

func (s *AssistantService) countPersistence(err error) error {
	var pe *store.PersistenceError
	if errors.As(err, &pe) {
		metrics.PersistenceErrorsTotal.WithLabelValues(pe.Op).Inc()
		return err
	}
	metrics.PersistenceErrorsTotal.WithLabelValues("unknown").Inc()
	return &store.PersistenceError{Op: "unknown", Err: err}
}

// publish records an audit event. Failures are logged and otherwise ignored.
func (s *AssistantService) publish(ctx context.Context, log *logger.Logger, ownerID string, eventType model.EventType, reason string, meta map[string]any) {
	if s.events == nil || store.ValidateOwnerID(ownerID) != nil {
		return
	}

	event := &model.ConversationEvent{
		ID:              uuid.Must(uuid.NewV7()).String(),
		OwnerID:         ownerID,
		ConversationTag: model.ConversationTag(ownerID),
		Type:            eventType,
		Reason:          reason,
		Metadata:        meta,
		CreatedAt:       s.now().UTC(),
	}
	if _, err := s.events.PublishEvent(ctx, event); err != nil {
		log.Warn("failed to publish event", zap.String("type", string(eventType)), zap.Error(err))
	}
}
