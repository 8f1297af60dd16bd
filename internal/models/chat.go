package models

import (
	"slices"
	"strings"
	"time"
)

// Conversation represents a conversation container owned by the remote server. It provides the
// identification and labeling used to list and switch between conversations.
type Conversation struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	AgentID          string    `json:"agent_id,omitempty"`
	AttachmentCount  int       `json:"attachment_count"`
	HasNotifications bool      `json:"has_notifications"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// testConversationPrefix marks conversations created by prompt tests on the server.
const testConversationPrefix = "PROMPT_TEST"

// NewConversationID is the conversation id sent upstream when the user starts a new conversation.
const NewConversationID = "-"

// VisibleConversations returns the conversations that should be listed to the user, most recently updated
// first. Conversations created by prompt tests are hidden.
func VisibleConversations(convs []Conversation) []Conversation {
	visible := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		if strings.HasPrefix(c.Name, testConversationPrefix) {
			continue
		}
		visible = append(visible, c)
	}
	slices.SortStableFunc(visible, func(a, b Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return visible
}

// CompletionRequest is a user message submitted to an agent.
type CompletionRequest struct {
	// Agent is the name of the agent that should answer.
	Agent string
	// ConversationID is the target conversation, or NewConversationID.
	ConversationID string
	Text           string
	// Files maps attached file names to their data URLs.
	Files map[string]string
	// CompanyID is the active company of the user, if any.
	CompanyID string
	// Flags carries the per-user toggles (tts, websearch, create_image, analyze_user_input).
	Flags map[string]string
}

// Completion is the answer to a CompletionRequest.
type Completion struct {
	// ConversationID is the conversation the server stored the exchange in.
	ConversationID string
	Content        string
}
