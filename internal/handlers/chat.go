package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/agixt/agixt-web/internal/models"
	"github.com/agixt/agixt-web/internal/services"
	"github.com/agixt/agixt-web/internal/thinking"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

const (
	maxFormMemory  = 32 << 20
	maxFileSize    = 20 << 20
	attachmentsKey = "files"
)

// sseSink publishes what a tracker wants displayed to the pages viewing its conversation.
type sseSink struct {
	m              Main
	session        models.Session
	conversationID string
	slot           string
	topic          string
}

// HandleChats submits a user message. It expects a "message" form field, an optional "conversation_id"
// (missing or "-" starts a new conversation) and optional image attachments in "files".
//
// The thinking placeholder is shown right away: the response is the transcript with the placeholder
// appended, and every later change (the placeholder going away, the answer, a failure notice) is pushed
// over SSE to the pages viewing the conversation. When a new conversation was started, a conversation event
// carrying its id follows the final transcript.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := SessionFromContext(r.Context())
	if !ok {
		m.redirectToAuth(w, r)
		return
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		m.logger.Error("Failed to parse form", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	text := strings.TrimSpace(r.FormValue("message"))
	if text == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	files, err := attachments(r)
	if err != nil {
		m.logger.Error("Invalid attachment", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conversationID := r.FormValue("conversation_id")
	if conversationID == "" {
		conversationID = models.NewConversationID
	}
	isNew := conversationID == models.NewConversationID

	req := session.CompletionRequest(conversationID, text, files)
	if req.Agent == "" {
		req.Agent = m.cfg.DefaultAgent
	}
	current, _ := m.transcript(r.Context(), session, conversationID)

	// The slot names the pending request for cancellation. Every new conversation gets its own until the
	// server assigned it an id.
	slot := conversationID
	var resolved conversationRef
	if isNew {
		slot = newSlotPrefix + uuid.New().String()
	} else {
		resolved.set(conversationID)
	}

	sink := sseSink{
		m:              m,
		session:        session,
		conversationID: conversationID,
		slot:           slot,
		topic:          conversationTopic(session.User.ID, conversationID),
	}

	create := func(ctx context.Context) *thinking.Tracker {
		return thinking.NewTracker(ctx, thinking.NewIndicator(), m.source(session, &resolved), sink,
			m.cfg.PollInterval, m.logger)
	}

	submit := func(ctx context.Context) error {
		completion, err := m.completer.Complete(ctx, session.JWT, req)
		if err != nil {
			return err
		}
		if isNew {
			resolved.set(completion.ConversationID)
		}
		return nil
	}

	after := func() {
		id := resolved.get()
		if !isNew || id == "" || id == models.NewConversationID {
			return
		}
		e := &sse.Message{Type: conversationSSEType}
		e.AppendData(id)
		if err := m.sseSrv.Publish(e, sink.topic); err != nil {
			m.logger.Warn("Failed to publish conversation", slog.String(errLoggerKey, err.Error()))
		}
	}

	t, err := m.trackers.dispatch(trackerKey(session.User.ID, slot), sink.topic, create, current, submit, after)
	if err != nil {
		m.logger.Error("Failed to dispatch message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	html, err := m.renderTranscript(session, conversationID, slot, t.Compose(current))
	if err != nil {
		m.logger.Error("Failed to render transcript", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, html)
}

// HandleCancel drops the thinking placeholder of the pending slot in the path and stops watching for its
// answer. The slot is the conversation id, or the one the placeholder of a new conversation carries. The
// answer itself is not cancelled on the server. It responds with the current transcript, or 204 when nothing
// was pending.
func (m Main) HandleCancel(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		m.redirectToAuth(w, r)
		return
	}

	slot := r.PathValue("id")
	if !m.trackers.remove(trackerKey(session.User.ID, slot)) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	conversationID := slotConversation(slot)
	transcript, _ := m.transcript(r.Context(), session, conversationID)
	html, err := m.renderTranscript(session, conversationID, conversationID, transcript)
	if err != nil {
		m.logger.Error("Failed to render transcript", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	e := &sse.Message{Type: transcriptSSEType}
	e.AppendData(html)
	_ = m.sseSrv.Publish(e, conversationTopic(session.User.ID, conversationID))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, html)
}

// source returns where the tracker of a conversation reads the authoritative transcript from. Until a new
// conversation has an id there is nothing to read, which keeps the placeholder in place.
func (m Main) source(session models.Session, ref *conversationRef) thinking.Source {
	if m.cfg.Stream != nil {
		if id := ref.get(); id != "" {
			return m.cfg.Stream(session.JWT, id)
		}
	}
	return thinking.SourceFunc(func(ctx context.Context) ([]models.Message, error) {
		id := ref.get()
		if id == "" {
			return nil, nil
		}
		return m.api.Transcript(ctx, session.JWT, id)
	})
}

func attachments(r *http.Request) (map[string]string, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[attachmentsKey]) == 0 {
		return nil, nil
	}

	files := make(map[string]string, len(r.MultipartForm.File[attachmentsKey]))
	for _, fh := range r.MultipartForm.File[attachmentsKey] {
		if fh.Size > maxFileSize {
			return nil, fmt.Errorf("file %s is too large", fh.Filename)
		}

		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}

		contentType := http.DetectContentType(data)
		if !strings.HasPrefix(contentType, "image/") {
			return nil, fmt.Errorf("%w: %s", services.ErrUnsupportedAttachment, fh.Filename)
		}
		files[fh.Filename] = "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	}
	return files, nil
}

// Transcript implements thinking.Sink.
func (s sseSink) Transcript(display []models.Message) {
	html, err := s.m.renderTranscript(s.session, s.conversationID, s.slot, display)
	if err != nil {
		s.m.logger.Error("Failed to render transcript", slog.String(errLoggerKey, err.Error()))
		return
	}

	e := &sse.Message{Type: transcriptSSEType}
	e.AppendData(html)
	if err := s.m.sseSrv.Publish(e, s.topic); err != nil {
		s.m.logger.Warn("Failed to publish transcript", slog.String(errLoggerKey, err.Error()))
	}
}

// Notice implements thinking.Sink.
func (s sseSink) Notice(err error) {
	html, rerr := s.m.renderNotice(err)
	if rerr != nil {
		s.m.logger.Error("Failed to render notice", slog.String(errLoggerKey, rerr.Error()))
		return
	}

	e := &sse.Message{Type: noticeSSEType}
	e.AppendData(html)
	if err := s.m.sseSrv.Publish(e, s.topic); err != nil {
		s.m.logger.Warn("Failed to publish notice", slog.String(errLoggerKey, err.Error()))
	}
}

// conversationRef is the id of the conversation a request lands in, known upfront for existing
// conversations and once the server answered for new ones.
type conversationRef struct {
	mu sync.Mutex
	id string
}

func (c *conversationRef) set(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

func (c *conversationRef) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}
