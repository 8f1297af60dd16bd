package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message represents an individual entry of a conversation transcript. It contains the participant's role,
// the text as the server stored it, the time it was created and, for activities, the sub-activities that
// were grouped under it. Messages received from the server are treated as immutable.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`

	Children []Message `json:"children,omitempty"`
}

// RawMessage is a transcript entry as it is decoded from the server, before any validation happened.
type RawMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message written by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the agent, including activities.
	RoleAssistant Role = "assistant"
	// RoleSystem represents a message injected by the server.
	RoleSystem Role = "system"
	// RoleFunction represents the output of a function call. It is accepted on ingestion but never displayed.
	RoleFunction Role = "function"
)

// ThinkingMessage is the sentinel text of the locally synthesized "assistant is thinking" entry.
const ThinkingMessage = "[ACTIVITY] Thinking..."

// ErrInvalidMessage is returned when a raw transcript entry fails validation.
var ErrInvalidMessage = errors.New("invalid message")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ParseTimestamp parses the timestamp formats the server is known to emit. Timestamps without a zone are
// interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

// FormatTimestamp formats t as ISO-8601 with millisecond resolution.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Normalize validates r and converts it into a Message. It returns an error wrapping ErrInvalidMessage when
// a required field is missing or the timestamp can't be parsed. Roles other than the known ones name the
// agent that answered and map to RoleAssistant.
func (r RawMessage) Normalize() (Message, error) {
	if r.ID == "" {
		return Message{}, fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if r.Message == "" {
		return Message{}, fmt.Errorf("%w: message %s has no text", ErrInvalidMessage, r.ID)
	}

	role := Role(strings.ToLower(r.Role))
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleFunction:
	default:
		// The server stores the agent name as the role of its replies.
		if r.Role == "" {
			return Message{}, fmt.Errorf("%w: message %s has no role", ErrInvalidMessage, r.ID)
		}
		role = RoleAssistant
	}

	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return Message{}, fmt.Errorf("%w: message %s: %w", ErrInvalidMessage, r.ID, err)
	}

	return Message{
		ID:        r.ID,
		Role:      role,
		Message:   r.Message,
		Timestamp: ts,
	}, nil
}

// NormalizeTranscript validates every raw entry and returns the valid ones in their original order, together
// with the validation errors of the rejected ones.
func NormalizeTranscript(raw []RawMessage) ([]Message, []error) {
	msgs := make([]Message, 0, len(raw))
	var errs []error
	for _, r := range raw {
		msg, err := r.Normalize()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

// IsThinking reports whether m is a locally synthesized thinking placeholder.
func (m Message) IsThinking() bool {
	return m.Message == ThinkingMessage && strings.HasPrefix(m.ID, "thinking-")
}
