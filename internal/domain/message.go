package domain

import "strings"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a conversation with the assistant.
type Message struct {
	Role    Role
	Content string
}

// ValidRole reports whether r is one of the known conversation roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// LastUserMessage returns the content of the most recent user-authored
// message with non-blank content, or ErrNoUserMessage when the history
// contains none.
func LastUserMessage(history []Message) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != RoleUser {
			continue
		}
		if text := strings.TrimSpace(history[i].Content); text != "" {
			return text, nil
		}
	}
	return "", ErrNoUserMessage
}
