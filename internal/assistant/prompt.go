package assistant

import (
	"regexp"
	"strings"
)

const systemPrompt = `You are a compassionate mental health support assistant for HealSpace, a mental health support platform. Your role is to provide supportive, empathetic responses while being clear that you are not a licensed therapist and cannot provide professional mental health treatment.

Key guidelines:
- Always be empathetic, non-judgmental, and supportive
- Encourage professional help when appropriate
- Never diagnose conditions or prescribe treatments
- Focus on active listening and validation
- Suggest healthy coping strategies when relevant
- Remind users that you're an AI assistant, not a replacement for professional care
- Keep responses conversational but warm
- If users express crisis thoughts, direct them to emergency resources

Platform context: HealSpace offers anonymous peer support, professional therapy booking, mood tracking, journaling, and support groups.

Respond to the user's message in a supportive, helpful way.`

// Disclaimer is appended to replies that do not already point at professional care.
const Disclaimer = "*Remember, I'm an AI assistant. For personalized professional support, consider speaking with a licensed therapist through HealSpace.*"

// FallbackReply replaces the reply whenever generation fails.
const FallbackReply = "I'm sorry, I'm having trouble responding right now. Please try again in a moment, or consider reaching out to a human support specialist through HealSpace."

var leadingRoleLabel = regexp.MustCompile(`(?i)^\s*assistant:\s*`)

// SystemPrompt returns the fixed persona and constraints sent with every request.
func SystemPrompt() string {
	return systemPrompt
}

// composePrompt renders the user-side prompt: context first, then the new
// message, then an open assistant cue.
func composePrompt(userMessage string, contextLines []string) string {
	var b strings.Builder
	if len(contextLines) > 0 {
		b.WriteString("Recent conversation context: ")
		b.WriteString(strings.Join(contextLines, " | "))
		b.WriteString("\n\n")
	}
	b.WriteString("User: ")
	b.WriteString(userMessage)
	b.WriteString("\n\nAssistant:")
	return b.String()
}

// postProcess strips an echoed role label and adds the disclaimer when the
// reply does not already mention professional care.
func postProcess(text string) string {
	text = strings.TrimSpace(leadingRoleLabel.ReplaceAllString(text, ""))

	// Case-sensitive: "Professional" alone still gets the disclaimer.
	if !strings.Contains(text, "licensed") && !strings.Contains(text, "professional") {
		text += "\n\n" + Disclaimer
	}
	return text
}
