package nats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/healspace/support-assistant/internal/model"
)

func TestSubjects(t *testing.T) {
	tag := model.ConversationTag("user-42")

	assert.Equal(t, "assist.ai_user-42.turn.human", TurnSubject(tag, model.OriginHuman))
	assert.Equal(t, "assist.ai_user-42.turn.assistant", TurnSubject(tag, model.OriginAssistant))
	assert.Equal(t, "assist.ai_user-42.turn.*", TurnFilter(tag))
	assert.Equal(t, "assist.ai_user-42.event.crisis_detected", EventSubject(tag, model.EventTypeCrisisDetected))
}

func TestCheckTurn(t *testing.T) {
	valid := func() model.ConversationTurn {
		return model.ConversationTurn{
			ID:              "turn-1",
			OwnerID:         "user-42",
			Text:            "hello",
			Origin:          model.OriginHuman,
			ConversationTag: model.ConversationTag("user-42"),
			CreatedAt:       time.Now(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*model.ConversationTurn)
		wantErr bool
	}{
		{"valid", func(*model.ConversationTurn) {}, false},
		{"missing id", func(t *model.ConversationTurn) { t.ID = "" }, true},
		{"unknown origin", func(t *model.ConversationTurn) { t.Origin = "bot" }, true},
		{"wrong tag", func(t *model.ConversationTurn) { t.ConversationTag = "room_1" }, true},
		{"zero time", func(t *model.ConversationTurn) { t.CreatedAt = time.Time{} }, true},
		{"other owner", func(t *model.ConversationTurn) {
			t.OwnerID = "user-7"
			t.ConversationTag = model.ConversationTag("user-7")
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn := valid()
			tt.mutate(&turn)
			err := checkTurn(&turn, "user-42")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
