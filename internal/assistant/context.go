// Package assistant builds prompts for the support assistant and turns
// provider output into a reply that is safe to show.
package assistant

import (
	"github.com/healspace/support-assistant/internal/model"
)

// DefaultContextTurns is how many recent turns the generator sees.
const DefaultContextTurns = 5

// BuildContext renders the last maxTurns turns of history as "<Label>: <text>"
// lines, oldest first. Only human turns written by ownerID are labelled
// "User"; everything else is "AI".
func BuildContext(history []model.ConversationTurn, ownerID string, maxTurns int) []string {
	if maxTurns <= 0 {
		maxTurns = DefaultContextTurns
	}

	// History may come from a live feed; never trust its order.
	ordered := make([]model.ConversationTurn, len(history))
	copy(ordered, history)
	model.SortChronological(ordered)

	if len(ordered) > maxTurns {
		ordered = ordered[len(ordered)-maxTurns:]
	}

	lines := make([]string, 0, len(ordered))
	for _, turn := range ordered {
		lines = append(lines, roleLabel(turn, ownerID)+": "+turn.Text)
	}
	return lines
}

func roleLabel(turn model.ConversationTurn, ownerID string) string {
	if turn.Origin == model.OriginHuman && turn.OwnerID == ownerID {
		return "User"
	}
	return "AI"
}
