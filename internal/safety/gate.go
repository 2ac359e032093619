// Package safety screens inbound messages for crisis indicators.
//
// The check is a plain keyword match and is intentionally overinclusive: a
// false positive costs the user one canned resource message, a false negative
// costs much more. It is not a clinical tool.
package safety

import (
	"strings"
)

// crisisPhrases are matched as lowercase substrings of the normalised message.
var crisisPhrases = []string{
	"suicide",
	"kill myself",
	"end it all",
	"not worth living",
	"want to die",
	"better off dead",
	"self harm",
	"cutting",
	"overdose",
	"hurt myself",
	"can't go on",
	"give up",
	"emergency",
	"crisis",
	"help me now",
}

var normaliser = strings.NewReplacer(
	"’", "'", // right single quotation mark
	"‘", "'",
	"cant go on", "can't go on",
	"self-harm", "self harm",
	"selfharm", "self harm",
)

// Phrases returns a copy of the configured crisis phrases.
func Phrases() []string {
	out := make([]string, len(crisisPhrases))
	copy(out, crisisPhrases)
	return out
}

// IsCrisisSignal reports whether text contains any crisis phrase, ignoring case.
func IsCrisisSignal(text string) bool {
	_, ok := MatchedPhrase(text)
	return ok
}

// MatchedPhrase returns the first crisis phrase found in text.
func MatchedPhrase(text string) (string, bool) {
	lower := normaliser.Replace(strings.ToLower(text))
	for _, phrase := range crisisPhrases {
		if strings.Contains(lower, phrase) {
			return phrase, true
		}
	}
	return "", false
}

const crisisScript = `I'm really concerned about what you're sharing, and I want to make sure you get the immediate help you need. While I'm here to listen, I'm not equipped to handle crisis situations.

Please reach out immediately to one of these crisis resources:

**Emergency Services:**
- Call emergency services (911 in the US, 112 in Europe, or your local emergency number)
- Go to your nearest emergency room

**Crisis Hotlines:**
- 988 Suicide & Crisis Lifeline: call or text 988 (US)
- Crisis Text Line: Text HOME to 741741 (US)
- International Association for Suicide Prevention: Find local resources at befrienders.org

**HealSpace Professional Support:**
- Book an urgent therapy session through our platform
- Join our 24/7 crisis support group

Your safety is the most important thing. Please don't hesitate to reach out for immediate help. You're not alone in this.`

// CrisisScript returns the fixed resource message sent in place of a
// generated reply. It performs no I/O and cannot fail.
func CrisisScript() string {
	return crisisScript
}
