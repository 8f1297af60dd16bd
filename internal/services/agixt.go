package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agixt/agixt-web/internal/models"
	"golang.org/x/sync/singleflight"
)

// AGiXT is a client of the AGiXT REST API. When the configured server address points at localhost, the
// request is tried against each fallback host name in turn, and the first host that answers is preferred
// for the following requests. Concurrent transcript fetches of the same conversation share one request.
type AGiXT struct {
	baseURL *url.URL
	client  *http.Client

	mu    sync.Mutex
	hosts []string

	fetches singleflight.Group

	logger *slog.Logger
}

var (
	// ErrUnauthorized is returned when the server rejects the token (401, 402 or 403).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrServerUnavailable is returned when no candidate host answered.
	ErrServerUnavailable = errors.New("agixt server unavailable")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("not found")
)

const errLoggerKey = "err"

type conversationResponse struct {
	ConversationHistory []models.RawMessage `json:"conversation_history"`
}

type conversationsResponse struct {
	Conversations json.RawMessage `json:"conversations"`
}

type conversationEntry struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	AgentID          string `json:"agent_id"`
	AttachmentCount  int    `json:"attachment_count"`
	HasNotifications bool   `json:"has_notifications"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// NewAGiXT creates a client for the server at baseURL. fallbackHosts replace "localhost" in baseURL, in
// order, when the server is not reachable under its configured name.
func NewAGiXT(baseURL string, fallbackHosts []string, client *http.Client, logger *slog.Logger) (*AGiXT, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid agixt server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid agixt server url %q", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	hosts := []string{u.Host}
	if u.Hostname() == "localhost" {
		for _, h := range fallbackHosts {
			if h == "" || h == "localhost" {
				continue
			}
			host := h
			if port := u.Port(); port != "" {
				host = h + ":" + port
			}
			hosts = append(hosts, host)
		}
	}

	return &AGiXT{
		baseURL: u,
		client:  client,
		hosts:   hosts,
		logger:  logger.With(slog.String("module", "agixt")),
	}, nil
}

// BaseURL returns the address of the preferred host.
func (a *AGiXT) BaseURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	u := *a.baseURL
	u.Host = a.hosts[0]
	return u.String()
}

// Transcript fetches the conversation, validates its entries and groups activities. Invalid entries are
// logged and dropped.
func (a *AGiXT) Transcript(ctx context.Context, jwt, conversationID string) ([]models.Message, error) {
	if conversationID == "" || conversationID == models.NewConversationID {
		return nil, nil
	}

	raw, err := a.rawTranscript(ctx, jwt, conversationID)
	if err != nil {
		return nil, err
	}
	return a.group(conversationID, raw), nil
}

func (a *AGiXT) rawTranscript(ctx context.Context, jwt, conversationID string) ([]models.RawMessage, error) {
	v, err, _ := a.fetches.Do(jwt+"\x00"+conversationID, func() (any, error) {
		var res conversationResponse
		if err := a.getJSON(ctx, jwt, "/v1/conversation/"+url.PathEscape(conversationID), &res); err != nil {
			return nil, err
		}
		return res.ConversationHistory, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation %s: %w", conversationID, err)
	}
	return v.([]models.RawMessage), nil
}

func (a *AGiXT) group(conversationID string, raw []models.RawMessage) []models.Message {
	msgs, errs := models.NormalizeTranscript(raw)
	for _, err := range errs {
		a.logger.Warn("Dropped invalid transcript entry",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
	}
	return models.GroupActivities(msgs)
}

// Conversations lists the conversations of the user, hiding test conversations.
func (a *AGiXT) Conversations(ctx context.Context, jwt string) ([]models.Conversation, error) {
	var res conversationsResponse
	if err := a.getJSON(ctx, jwt, "/v1/conversations", &res); err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	entries, err := decodeConversations(res.Conversations)
	if err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}

	convs := make([]models.Conversation, 0, len(entries))
	for _, c := range entries {
		if c.ID == "" {
			continue
		}
		conv := models.Conversation{
			ID:               c.ID,
			Name:             c.Name,
			AgentID:          c.AgentID,
			AttachmentCount:  c.AttachmentCount,
			HasNotifications: c.HasNotifications,
		}
		if t, err := models.ParseTimestamp(c.CreatedAt); err == nil {
			conv.CreatedAt = t
		}
		conv.UpdatedAt = conv.CreatedAt
		if t, err := models.ParseTimestamp(c.UpdatedAt); err == nil {
			conv.UpdatedAt = t
		}
		convs = append(convs, conv)
	}
	return models.VisibleConversations(convs), nil
}

// decodeConversations accepts both the keyed form {"<id>": {...}} and a plain list of conversations.
func decodeConversations(raw json.RawMessage) ([]conversationEntry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []conversationEntry
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var keyed map[string]conversationEntry
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, err
	}
	list = make([]conversationEntry, 0, len(keyed))
	for id, c := range keyed {
		c.ID = id
		list = append(list, c)
	}
	return list, nil
}

// User returns the account the token belongs to. It returns ErrUnauthorized when the server rejects the
// token.
func (a *AGiXT) User(ctx context.Context, jwt string) (models.User, error) {
	var u models.User
	if err := a.getJSON(ctx, jwt, "/v1/user", &u); err != nil {
		return models.User{}, fmt.Errorf("failed to verify user: %w", err)
	}
	return u, nil
}

// VerifyEmail confirms the address of a user with the code received by mail.
func (a *AGiXT) VerifyEmail(ctx context.Context, email, code string) error {
	body, err := json.Marshal(verifyEmailRequest{Email: email, Code: code})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	res, err := a.do(ctx, http.MethodPost, "/v1/user/verify/email", "", body)
	if err != nil {
		return fmt.Errorf("failed to verify email: %w", err)
	}
	defer res.Body.Close()

	return statusError(res)
}

func (a *AGiXT) getJSON(ctx context.Context, jwt, path string, v any) error {
	res, err := a.do(ctx, http.MethodGet, path, jwt, nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := statusError(res); err != nil {
		return err
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do sends the request to the candidate hosts in order until one answers with a status below 500.
func (a *AGiXT) do(ctx context.Context, method, path, jwt string, body []byte) (*http.Response, error) {
	a.mu.Lock()
	hosts := append([]string(nil), a.hosts...)
	a.mu.Unlock()

	var lastErr error
	for _, host := range hosts {
		u := *a.baseURL
		u.Host = host
		u.Path = strings.TrimRight(u.Path, "/") + path

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if jwt != "" {
			req.Header.Set("Authorization", jwt)
		}

		res, err := a.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("Failed to contact server", slog.String("host", host), slog.String(errLoggerKey, err.Error()))
			lastErr = err
			continue
		}
		if res.StatusCode >= http.StatusInternalServerError {
			msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
			res.Body.Close()
			a.logger.Warn("Server answered with an error",
				slog.String("host", host),
				slog.Int("status", res.StatusCode),
				slog.String("body", string(msg)))
			lastErr = fmt.Errorf("status %d", res.StatusCode)
			continue
		}

		a.prefer(host)
		return res, nil
	}

	if lastErr == nil {
		return nil, ErrServerUnavailable
	}
	return nil, fmt.Errorf("%w: %w", ErrServerUnavailable, lastErr)
}

func (a *AGiXT) prefer(host string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hosts[0] == host {
		return
	}
	reordered := make([]string, 0, len(a.hosts))
	reordered = append(reordered, host)
	for _, h := range a.hosts {
		if h != host {
			reordered = append(reordered, h)
		}
	}
	a.hosts = reordered
	a.logger.Info("Preferring server host", slog.String("host", host))
}

func statusError(res *http.Response) error {
	switch {
	case res.StatusCode == http.StatusUnauthorized,
		res.StatusCode == http.StatusPaymentRequired,
		res.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, res.StatusCode)
	case res.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case res.StatusCode >= http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
