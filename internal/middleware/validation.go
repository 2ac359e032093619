package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxMessageBytes bounds a single user message.
const MaxMessageBytes = 4000

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > MaxMessageBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}
