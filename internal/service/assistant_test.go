package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healspace/support-assistant/internal/assistant"
	"github.com/healspace/support-assistant/internal/llm"
	"github.com/healspace/support-assistant/internal/model"
	"github.com/healspace/support-assistant/internal/safety"
	"github.com/healspace/support-assistant/internal/store"
	"github.com/healspace/support-assistant/pkg/logger"
)

type fakeReplier struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	message string
	lines   []string
}

func (f *fakeReplier) Generate(_ context.Context, userMessage string, contextLines []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.message = userMessage
	f.lines = contextLines
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeReplier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stubClient lets tests drive the real generator.
type stubClient struct {
	content string
	err     error
}

func (c *stubClient) Complete(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.CompletionResponse{Content: c.content, Model: "stub"}, nil
}
func (c *stubClient) Name() string     { return "stub" }
func (c *stubClient) Models() []string { return nil }

func newTestService(replier Replier, opts ...store.MemoryOption) (*AssistantService, *store.MemoryStore) {
	mem := store.NewMemoryStore(opts...)
	svc := NewAssistantService(mem, mem, replier, Options{}, logger.NewNop())
	return svc, mem
}

func TestSubmitTurn_GeneratedReply(t *testing.T) {
	ctx := context.Background()
	replier := &fakeReplier{reply: "That sounds hard. A licensed counsellor could help."}
	svc, mem := newTestService(replier)

	pair, err := svc.SubmitTurn(ctx, "owner-1", "I had a rough day", nil)

	require.NoError(t, err)
	assert.False(t, pair.Crisis)
	assert.Equal(t, model.OriginHuman, pair.Human.Origin)
	assert.Equal(t, "I had a rough day", pair.Human.Text)
	assert.Equal(t, model.OriginAssistant, pair.Assistant.Origin)
	assert.Equal(t, replier.reply, pair.Assistant.Text)
	assert.True(t, pair.Assistant.CreatedAt.After(pair.Human.CreatedAt))

	history, err := mem.LoadHistory(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, pair.Human.ID, history[0].ID)
	assert.Equal(t, pair.Assistant.ID, history[1].ID)
	assert.Empty(t, mem.Events())
}

func TestSubmitTurn_CrisisBypassesGenerator(t *testing.T) {
	messages := []string{
		"I want to end it all",
		"I WANT TO END IT ALL",
		"sometimes I think about Suicide",
		"please help me now",
	}

	for _, msg := range messages {
		t.Run(msg, func(t *testing.T) {
			ctx := context.Background()
			replier := &fakeReplier{reply: "should never be used"}
			svc, mem := newTestService(replier)

			pair, err := svc.SubmitTurn(ctx, "owner-1", msg, nil)

			require.NoError(t, err)
			assert.Zero(t, replier.callCount())
			assert.True(t, pair.Crisis)
			assert.Equal(t, safety.CrisisScript(), pair.Assistant.Text)

			history, err := mem.LoadHistory(ctx, "owner-1", 10)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, safety.CrisisScript(), history[1].Text)
			assert.Contains(t, history[1].Text, "988")
			assert.Contains(t, history[1].Text, "emergency")

			events := mem.Events()
			require.Len(t, events, 1)
			assert.Equal(t, model.EventTypeCrisisDetected, events[0].Type)
			assert.NotContains(t, fmt.Sprint(events[0]), msg)
		})
	}
}

func TestSubmitTurn_GenerationFailureUsesFallback(t *testing.T) {
	ctx := context.Background()
	gen := assistant.NewGenerator(&stubClient{err: errors.New("503 service unavailable")}, "", logger.NewNop())
	svc, mem := newTestService(gen)

	pair, err := svc.SubmitTurn(ctx, "owner-1", "can you help me sleep better?", nil)

	require.NoError(t, err)
	assert.Equal(t, assistant.FallbackReply, pair.Assistant.Text)

	history, err := mem.LoadHistory(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "can you help me sleep better?", history[0].Text)
	assert.Equal(t, assistant.FallbackReply, history[1].Text)

	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventTypeGenerationFailed, events[0].Type)
	assert.Equal(t, string(assistant.ReasonUpstream), events[0].Reason)
}

func TestSubmitTurn_DisclaimerInjected(t *testing.T) {
	ctx := context.Background()
	gen := assistant.NewGenerator(&stubClient{content: "You should exercise daily."}, "", logger.NewNop())
	svc, _ := newTestService(gen)

	pair, err := svc.SubmitTurn(ctx, "owner-1", "any tips for stress?", nil)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pair.Assistant.Text, "You should exercise daily."))
	assert.Contains(t, pair.Assistant.Text, "AI assistant")
	assert.Contains(t, pair.Assistant.Text, "licensed therapist")
}

func TestSubmitTurn_HumanAppendFailureStopsPipeline(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(&fakeReplier{reply: "ok, professional"},
		store.WithAppendCheck(func(string, model.Origin) error {
			return errors.New("connection lost")
		}))

	pair, err := svc.SubmitTurn(ctx, "owner-1", "hello", nil)

	assert.Nil(t, pair)
	assert.True(t, store.IsPersistenceError(err))

	history, err := mem.LoadHistory(ctx, "owner-1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSubmitTurn_PartialFailureLeavesHumanTurn(t *testing.T) {
	ctx := context.Background()
	var failAssistant atomic.Bool
	failAssistant.Store(true)
	svc, mem := newTestService(&fakeReplier{reply: "ok, professional"},
		store.WithAppendCheck(func(_ string, origin model.Origin) error {
			if origin == model.OriginAssistant && failAssistant.Load() {
				return errors.New("constraint violation")
			}
			return nil
		}))

	pair, err := svc.SubmitTurn(ctx, "owner-1", "hello", nil)

	assert.Nil(t, pair)
	var pe *store.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, store.OpAppend, pe.Op)

	history, err := mem.LoadHistory(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.OriginHuman, history[0].Origin)
	assert.Equal(t, "hello", history[0].Text)

	// Resume appends only the missing reply.
	failAssistant.Store(false)
	resumed, err := svc.ResumeTurn(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, history[0].ID, resumed.Human.ID)
	assert.Equal(t, "ok, professional", resumed.Assistant.Text)

	history, err = mem.LoadHistory(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.OriginAssistant, history[1].Origin)
}

func TestResumeTurn_NothingToResume(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&fakeReplier{reply: "a professional can help"})

	_, err := svc.ResumeTurn(ctx, "owner-1")
	assert.ErrorIs(t, err, ErrNothingToResume)

	_, err = svc.SubmitTurn(ctx, "owner-1", "hi", nil)
	require.NoError(t, err)

	_, err = svc.ResumeTurn(ctx, "owner-1")
	assert.ErrorIs(t, err, ErrNothingToResume)
}

func TestResumeTurn_AppliesCrisisGate(t *testing.T) {
	ctx := context.Background()
	replier := &fakeReplier{reply: "unused"}
	svc, mem := newTestService(replier)
	_, err := mem.AppendTurn(ctx, "owner-1", "I want to die", model.OriginHuman)
	require.NoError(t, err)

	pair, err := svc.ResumeTurn(ctx, "owner-1")

	require.NoError(t, err)
	assert.True(t, pair.Crisis)
	assert.Equal(t, safety.CrisisScript(), pair.Assistant.Text)
	assert.Zero(t, replier.callCount())
}

func TestConverse_UsesStoredHistoryAsContext(t *testing.T) {
	ctx := context.Background()
	replier := &fakeReplier{reply: "a licensed therapist can help too"}
	svc, _ := newTestService(replier)

	for i := 0; i < 4; i++ {
		_, err := svc.Converse(ctx, "owner-1", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	// 6 turns were stored before the last message; the generator sees the
	// newest 5, oldest first.
	require.Len(t, replier.lines, 5)
	assert.Equal(t, "AI: "+replier.reply, replier.lines[0])
	assert.Equal(t, "User: message 2", replier.lines[3])
	assert.Equal(t, "AI: "+replier.reply, replier.lines[4])
	assert.Equal(t, "message 3", replier.message)
}

func TestHistory_Limits(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(&fakeReplier{reply: "professional"})
	for i := 0; i < 3; i++ {
		_, err := mem.AppendTurn(ctx, "owner-1", fmt.Sprintf("t%d", i), model.OriginHuman)
		require.NoError(t, err)
	}

	resp, err := svc.History(ctx, "owner-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "t1", resp.Turns[0].Text)

	resp, err = svc.History(ctx, "owner-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Count)

	resp, err = svc.History(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, resp.Turns)
	assert.Zero(t, resp.Count)
}

func TestClear_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&fakeReplier{reply: "professional"})

	require.NoError(t, svc.Clear(ctx, "owner-1"))
	require.NoError(t, svc.Clear(ctx, "owner-1"))

	resp, err := svc.History(ctx, "owner-1", 10)
	require.NoError(t, err)
	assert.Zero(t, resp.Count)
}

func TestClear_RemovesTurns(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&fakeReplier{reply: "professional"})
	_, err := svc.SubmitTurn(ctx, "owner-1", "hello", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx, "owner-1"))

	resp, err := svc.History(ctx, "owner-1", 10)
	require.NoError(t, err)
	assert.Zero(t, resp.Count)
}

func TestWatch_ReceivesBothTurns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, _ := newTestService(&fakeReplier{reply: "professional support is available"})

	var (
		mu  sync.Mutex
		got []model.Origin
	)
	stop, err := svc.Watch(ctx, "owner-1", func(turn model.ConversationTurn) {
		mu.Lock()
		got = append(got, turn.Origin)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer stop()

	_, err = svc.SubmitTurn(ctx, "owner-1", "hello", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestSubmitTurn_OwnersAreIndependent(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(&fakeReplier{reply: "professional"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.SubmitTurn(ctx, fmt.Sprintf("owner-%d", i), "hello", nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		history, err := mem.LoadHistory(ctx, fmt.Sprintf("owner-%d", i), 10)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, model.OriginHuman, history[0].Origin)
		assert.Equal(t, model.OriginAssistant, history[1].Origin)
	}
}
