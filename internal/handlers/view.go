package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/agixt/agixt-web/internal/models"
	"github.com/agixt/agixt-web/internal/services"
	"github.com/agixt/agixt-web/internal/thinking"
)

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	Thinking bool
	// Elapsed is how long the placeholder has been shown, in milliseconds.
	Elapsed  int64
	Activity bool
	Kind     string
	Children []message
}

type conversation struct {
	ID   string
	Name string

	Active bool
}

type transcriptData struct {
	ConversationID string
	// PendingSlot is what cancelling the placeholder refers to.
	PendingSlot  string
	Messages     []message
	Capabilities models.Capabilities

	Statuses       string
	StatusInterval int64
}

type noticeData struct {
	Message string
}

type homePageData struct {
	AppName        string
	User           models.User
	Nav            []models.NavItem
	Capabilities   models.Capabilities
	Conversations  []conversation
	Agents         []agentOption
	Company        string
	ConversationID string
	Transcript     transcriptData
	// CachedAt is set when the transcript comes from the local cache.
	CachedAt time.Time
}

func (m Main) messageViews(msgs []models.Message) []message {
	views := make([]message, 0, len(msgs))
	for _, msg := range msgs {
		views = append(views, m.messageView(msg))
	}
	return views
}

func (m Main) messageView(msg models.Message) message {
	v := message{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Timestamp: msg.Timestamp,
		Thinking:  msg.IsThinking(),
	}

	text := msg.Message
	if act, ok := models.ParseActivity(msg.Message); ok {
		v.Activity = true
		v.Kind = string(act.Kind)
		text = act.Body
	}
	if v.Thinking {
		elapsed := time.Since(msg.Timestamp)
		v.Elapsed = elapsed.Milliseconds()
		v.Content = template.HTML(template.HTMLEscapeString(thinking.Status(elapsed)))
		return v
	}

	content, err := m.renderer.Render(text)
	if err != nil {
		m.logger.Warn("Failed to render message, showing it as text",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		content = template.HTML(template.HTMLEscapeString(text))
	}
	v.Content = content

	if len(msg.Children) > 0 {
		v.Children = m.messageViews(msg.Children)
	}
	return v
}

func (m Main) transcriptView(session models.Session, conversationID, slot string, display []models.Message) transcriptData {
	return transcriptData{
		ConversationID: conversationID,
		PendingSlot:    slot,
		Messages:       m.messageViews(display),
		Capabilities:   session.Capabilities(),
		Statuses:       strings.Join(thinking.Statuses, statusSeparator),
		StatusInterval: thinking.StatusInterval.Milliseconds(),
	}
}

// statusSeparator joins the placeholder statuses handed to the page.
const statusSeparator = "|"

func (m Main) renderTranscript(session models.Session, conversationID, slot string, display []models.Message) (string, error) {
	var buf bytes.Buffer
	err := m.templates.ExecuteTemplate(&buf, "transcript", m.transcriptView(session, conversationID, slot, display))
	if err != nil {
		return "", fmt.Errorf("failed to render transcript: %w", err)
	}
	return buf.String(), nil
}

func (m Main) renderNotice(err error) (string, error) {
	var buf bytes.Buffer
	if err := m.templates.ExecuteTemplate(&buf, "notice", noticeData{Message: noticeText(err)}); err != nil {
		return "", fmt.Errorf("failed to render notice: %w", err)
	}
	return buf.String(), nil
}

func noticeText(err error) string {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return "Your session has expired, please log in again."
	case errors.Is(err, services.ErrServerUnavailable):
		return "The AGiXT server is unavailable, please try again later."
	case errors.Is(err, services.ErrEmptyCompletion):
		return "The agent did not answer, please try again."
	case errors.Is(err, thinking.ErrSubmitFailed):
		return "Failed to get response from the agent."
	}
	return "Something went wrong."
}
