package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/agixt/agixt-web/internal/models"
	"github.com/agixt/agixt-web/internal/services"
)

// HandleHome renders the chat page: the conversation list, the navigation allowed to the user's role and
// the transcript of the conversation named in the path, with the thinking placeholder when a message of
// this conversation still awaits its answer. Without a conversation id the page starts a new conversation.
//
// When the server can't be reached, the last cached transcript and conversation list are shown instead.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		m.redirectToAuth(w, r)
		return
	}

	conversationID := r.PathValue("id")
	if conversationID == "" {
		conversationID = models.NewConversationID
	}

	convs := m.conversations(r.Context(), session)
	transcript, cachedAt := m.transcript(r.Context(), session, conversationID)
	if t, ok := m.trackers.get(trackerKey(session.User.ID, conversationID)); ok {
		transcript = t.Compose(transcript)
	}

	views := make([]conversation, len(convs))
	for i, c := range convs {
		views[i] = conversation{
			ID:     c.ID,
			Name:   c.Name,
			Active: c.ID == conversationID,
		}
	}

	var company string
	if c, ok := session.User.ActiveCompany(); ok {
		company = c.Name
	}

	data := homePageData{
		AppName:        m.cfg.AppName,
		User:           session.User,
		Nav:            models.FilterNav(models.DefaultNavItems, session),
		Capabilities:   session.Capabilities(),
		Conversations:  views,
		Agents:         m.agentOptions(session),
		Company:        company,
		ConversationID: conversationID,
		Transcript:     m.transcriptView(session, conversationID, conversationID, transcript),
		CachedAt:       cachedAt,
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// conversations returns the conversation list of the user, falling back to the cached one.
func (m Main) conversations(ctx context.Context, session models.Session) []models.Conversation {
	convs, err := m.api.Conversations(ctx, session.JWT)
	if err == nil {
		if err := m.cache.SaveConversations(ctx, session.User.ID, convs); err != nil {
			m.logger.Warn("Failed to cache conversations", slog.String(errLoggerKey, err.Error()))
		}
		return convs
	}

	m.logger.Error("Failed to fetch conversations", slog.String(errLoggerKey, err.Error()))
	cached, cacheErr := m.cache.Conversations(ctx, session.User.ID)
	if cacheErr != nil {
		return nil
	}
	return cached
}

// transcript returns the authoritative transcript of conversationID, falling back to the cached one. The
// returned time is the moment the cached transcript was stored, zero when the transcript is fresh.
func (m Main) transcript(ctx context.Context, session models.Session, conversationID string) ([]models.Message, time.Time) {
	if conversationID == models.NewConversationID {
		return nil, time.Time{}
	}

	msgs, err := m.api.Transcript(ctx, session.JWT, conversationID)
	if err == nil {
		if err := m.cache.SaveSnapshot(ctx, session.User.ID, conversationID, msgs); err != nil {
			m.logger.Warn("Failed to cache transcript",
				slog.String("conversationID", conversationID),
				slog.String(errLoggerKey, err.Error()))
		}
		return msgs, time.Time{}
	}

	if errors.Is(err, services.ErrNotFound) {
		// The conversation is gone on the server, so is its snapshot.
		if err := m.cache.DeleteSnapshot(ctx, session.User.ID, conversationID); err != nil {
			m.logger.Warn("Failed to delete cached transcript",
				slog.String("conversationID", conversationID),
				slog.String(errLoggerKey, err.Error()))
		}
		return nil, time.Time{}
	}

	m.logger.Error("Failed to fetch transcript",
		slog.String("conversationID", conversationID),
		slog.String(errLoggerKey, err.Error()))
	cached, savedAt, cacheErr := m.cache.Snapshot(ctx, session.User.ID, conversationID)
	if cacheErr != nil {
		return nil, time.Time{}
	}
	return cached, savedAt
}
