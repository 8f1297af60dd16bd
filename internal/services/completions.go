package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/agixt/agixt-web/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// Completions submits user messages through the OpenAI compatible chat completion endpoint of the AGiXT
// server. The agent name is sent as the model and the conversation id as the user, which is how the server
// routes the message into a conversation.
type Completions struct {
	baseURL    func() string
	httpClient *http.Client

	logger *slog.Logger
}

// ErrUnsupportedAttachment is returned for attachments that are not images.
var ErrUnsupportedAttachment = errors.New("unsupported attachment")

// ErrEmptyCompletion is returned when the server answered without any content.
var ErrEmptyCompletion = errors.New("empty completion")

// NewCompletions creates a Completions client. baseURL is consulted on every call so requests follow the
// host the REST client currently prefers.
func NewCompletions(baseURL func() string, httpClient *http.Client, logger *slog.Logger) Completions {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Completions{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.With(slog.String("module", "completions")),
	}
}

func (c Completions) client(jwt string) *goopenai.Client {
	cfg := goopenai.DefaultConfig(jwt)
	cfg.BaseURL = strings.TrimRight(c.baseURL(), "/") + "/v1"
	cfg.HTTPClient = c.httpClient
	return goopenai.NewClientWithConfig(cfg)
}

// completionMessage builds the single user message of req. Files are attached as image parts after the
// text, in name order.
func completionMessage(req models.CompletionRequest) (goopenai.ChatCompletionMessage, error) {
	if len(req.Files) == 0 {
		return goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: req.Text,
		}, nil
	}

	names := make([]string, 0, len(req.Files))
	for name := range req.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := []goopenai.ChatMessagePart{{
		Type: goopenai.ChatMessagePartTypeText,
		Text: req.Text,
	}}
	for _, name := range names {
		data := req.Files[name]
		if !strings.HasPrefix(data, "data:image/") {
			return goopenai.ChatCompletionMessage{}, fmt.Errorf("%w: %s", ErrUnsupportedAttachment, name)
		}
		parts = append(parts, goopenai.ChatMessagePart{
			Type:     goopenai.ChatMessagePartTypeImageURL,
			ImageURL: &goopenai.ChatMessageImageURL{URL: data},
		})
	}
	return goopenai.ChatCompletionMessage{
		Role:         goopenai.ChatMessageRoleUser,
		MultiContent: parts,
	}, nil
}

func completionRequest(req models.CompletionRequest) (goopenai.ChatCompletionRequest, error) {
	msg, err := completionMessage(req)
	if err != nil {
		return goopenai.ChatCompletionRequest{}, err
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = models.NewConversationID
	}

	metadata := make(map[string]string, len(req.Flags)+1)
	for k, v := range req.Flags {
		metadata[k] = v
	}
	if req.CompanyID != "" {
		metadata["company_id"] = req.CompanyID
	}

	return goopenai.ChatCompletionRequest{
		Model:    req.Agent,
		Messages: []goopenai.ChatCompletionMessage{msg},
		User:     conversationID,
		Metadata: metadata,
	}, nil
}

// Complete submits req on behalf of the holder of jwt and waits for the agent's answer. The answer is
// persisted in the conversation by the server; the returned Completion carries the id of the conversation
// the message landed in, which differs from the requested one when a new conversation was started.
func (c Completions) Complete(ctx context.Context, jwt string, req models.CompletionRequest) (models.Completion, error) {
	if req.Agent == "" {
		return models.Completion{}, errors.New("no agent selected")
	}

	creq, err := completionRequest(req)
	if err != nil {
		return models.Completion{}, err
	}

	if c.logger.Enabled(ctx, slog.LevelDebug) {
		if reqJSON, err := json.Marshal(creq); err == nil {
			c.logger.Debug("Request", slog.String("req", truncateLog(string(reqJSON))))
		}
	}

	resp, err := c.client(jwt).CreateChatCompletion(ctx, creq)
	if err != nil {
		if status := errorStatus(err); status == http.StatusUnauthorized || status == http.StatusForbidden {
			return models.Completion{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return models.Completion{}, fmt.Errorf("error sending request: %w", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return models.Completion{}, ErrEmptyCompletion
	}

	conversationID := req.ConversationID
	if resp.ID != "" && resp.ID != models.NewConversationID {
		conversationID = resp.ID
	}
	return models.Completion{
		ConversationID: conversationID,
		Content:        resp.Choices[0].Message.Content,
	}, nil
}

func errorStatus(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func truncateLog(s string) string {
	const limit = 2048
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
