package client

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMinPromptLength mirrors the server's lower bound.
const DefaultMinPromptLength = 7

// ValidatePrompt blocks submission of prompts shorter than minLen characters.
func ValidatePrompt(prompt string, minLen int) error {
	if utf8.RuneCountInString(strings.TrimSpace(prompt)) < minLen {
		msg := fmt.Sprintf("Prompt must be at least %d characters", minLen)
		return &RequestError{Notice: NoticeValidation, Message: msg}
	}
	return nil
}
