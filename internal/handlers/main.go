package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	agixtweb "github.com/agixt/agixt-web"
	"github.com/agixt/agixt-web/internal/models"
	"github.com/agixt/agixt-web/internal/thinking"
	"github.com/tmaxmax/go-sse"
)

// API is the part of the AGiXT server the web UI reads from.
type API interface {
	User(ctx context.Context, jwt string) (models.User, error)
	Conversations(ctx context.Context, jwt string) ([]models.Conversation, error)
	Transcript(ctx context.Context, jwt, conversationID string) ([]models.Message, error)
	VerifyEmail(ctx context.Context, email, code string) error
}

// Completer submits user messages to an agent and waits for the answer.
type Completer interface {
	Complete(ctx context.Context, jwt string, req models.CompletionRequest) (models.Completion, error)
}

// Cache keeps the last transcript and conversation list seen by each user, to serve pages while the server
// is unreachable.
type Cache interface {
	SaveSnapshot(ctx context.Context, userID, conversationID string, msgs []models.Message) error
	Snapshot(ctx context.Context, userID, conversationID string) ([]models.Message, time.Time, error)
	DeleteSnapshot(ctx context.Context, userID, conversationID string) error
	SaveConversations(ctx context.Context, userID string, convs []models.Conversation) error
	Conversations(ctx context.Context, userID string) ([]models.Conversation, error)
}

// Renderer turns message text into HTML.
type Renderer interface {
	Render(text string) (template.HTML, error)
}

// Config holds the presentation and transcript settings of Main.
type Config struct {
	AppName      string
	AuthURI      string
	CookieDomain string
	// DefaultAgent answers when neither the agent cookie nor the active company names one.
	DefaultAgent string

	// PollInterval is the cadence at which transcripts are re-fetched while a message awaits its answer.
	PollInterval time.Duration
	// Stream, when set, provides the transcript source of a conversation instead of polling the REST API.
	Stream func(jwt, conversationID string) thinking.Source
	// ViewerGrace is how long a pending request is still tracked after the last page viewing its
	// conversation went away. Reconnecting within it keeps the placeholder alive.
	ViewerGrace time.Duration
}

// Main handles the chat UI: pages, message submission, the per-conversation thinking indicator and the
// server-sent events that keep open pages up to date.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	api       API
	completer Completer
	cache     Cache
	renderer  Renderer

	cfg      Config
	trackers *registry

	logger *slog.Logger
}

const errLoggerKey = "err"

// DefaultViewerGrace is the ViewerGrace used when none is configured.
const DefaultViewerGrace = 5 * time.Second

// SSE event types for real-time updates.
var (
	transcriptSSEType   = sse.Type("transcript")
	noticeSSEType       = sse.Type("notice")
	conversationSSEType = sse.Type("conversation")
	closeChatSSEType    = sse.Type("closeChat")
)

// NewMain creates a Main and parses the embedded templates. The SSE server subscribes every client to the
// topic of the conversation it views, scoped to the authenticated user.
func NewMain(api API, completer Completer, cache Cache, renderer Renderer, cfg Config, logger *slog.Logger) (Main, error) {
	// Layouts, pages and partials live in separate directories.
	tmpl, err := template.ParseFS(
		agixtweb.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	if cfg.AppName == "" {
		cfg.AppName = "AGiXT"
	}
	if cfg.AuthURI == "" {
		cfg.AuthURI = "/user"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = thinking.DefaultPollInterval
	}
	if cfg.ViewerGrace <= 0 {
		cfg.ViewerGrace = DefaultViewerGrace
	}

	logger = logger.With(slog.String("module", "handlers"))

	return Main{
		sseSrv: &sse.Server{
			Provider: &sse.Joe{Replayer: openOnSubscribe{}},
			OnSession: func(w http.ResponseWriter, r *http.Request) ([]string, bool) {
				session, ok := SessionFromContext(r.Context())
				if !ok {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return nil, false
				}
				return []string{sse.DefaultTopic, conversationTopic(session.User.ID, viewedConversation(r))}, true
			},
			Logger: func(*http.Request) *slog.Logger {
				return logger.With(slog.String("component", "sse"))
			},
		},
		templates: tmpl,
		api:       api,
		completer: completer,
		cache:     cache,
		renderer:  renderer,
		cfg:       cfg,
		trackers:  newRegistry(cfg.ViewerGrace),
		logger:    logger,
	}, nil
}

func conversationTopic(userID, conversationID string) string {
	return fmt.Sprintf("conversation-%s-%s", userID, conversationID)
}

// viewedConversation returns the conversation an event stream request is for.
func viewedConversation(r *http.Request) string {
	if id := r.URL.Query().Get("conversation_id"); id != "" {
		return id
	}
	return models.NewConversationID
}

// HandleSSE serves the event stream of the conversation named by the conversation_id query parameter. While
// the stream is open the conversation counts as viewed, which keeps its pending requests tracked.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if session, ok := SessionFromContext(r.Context()); ok {
		defer m.trackers.watch(conversationTopic(session.User.ID, viewedConversation(r)))()
	}
	m.sseSrv.ServeHTTP(w, r)
}

// openOnSubscribe keeps no history. It only flushes the stream headers as soon as a client is subscribed,
// so that pages see the connection open before the first event.
type openOnSubscribe struct{}

func (openOnSubscribe) Put(m *sse.Message, _ []string) (*sse.Message, error) {
	return m, nil
}

func (openOnSubscribe) Replay(sub sse.Subscription) error {
	return sub.Client.Flush()
}

// Shutdown stops every in-flight request tracker, then gracefully terminates the SSE server. It broadcasts
// a close message to all connected clients and waits up to 5 seconds for connections to terminate. After
// the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.trackers.closeAll()

	e := &sse.Message{Type: closeChatSSEType}
	// Events without data are dropped by browsers.
	e.AppendData("bye")

	// Nothing to do about a failed goodbye.
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
