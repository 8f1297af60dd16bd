package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agixt/agixt-web/internal/models"
	"github.com/gorilla/websocket"
)

// StreamTranscript is a transcript source fed by the conversation websocket of the server. The connection
// is opened on the first call to Transcript and re-opened after it drops; each connection starts from a
// REST snapshot so a fresh connection never reports less than what is already committed.
type StreamTranscript struct {
	api            *AGiXT
	jwt            string
	conversationID string
	dialer         *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	order   []string
	entries map[string]models.RawMessage
	closed  bool

	logger *slog.Logger
}

type streamEvent struct {
	Type string            `json:"type"`
	Data models.RawMessage `json:"data"`
}

// Stream event types that carry a transcript entry.
const (
	streamInitialMessage = "initial_message"
	streamMessageAdded   = "message_added"
	streamMessageUpdated = "message_updated"
)

// ErrStreamClosed is returned by a StreamTranscript after Close.
var ErrStreamClosed = errors.New("transcript stream closed")

// StreamTranscript returns a websocket fed source for the transcript of conversationID.
func (a *AGiXT) StreamTranscript(jwt, conversationID string) *StreamTranscript {
	return &StreamTranscript{
		api:            a,
		jwt:            jwt,
		conversationID: conversationID,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		entries: make(map[string]models.RawMessage),
		logger: a.logger.With(
			slog.String("module", "stream"),
			slog.String("conversationID", conversationID),
		),
	}
}

func (s *StreamTranscript) streamURL() (string, error) {
	u, err := url.Parse(s.api.BaseURL())
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/conversation/" + url.PathEscape(s.conversationID) + "/stream"
	u.RawQuery = url.Values{"authorization": {s.jwt}}.Encode()
	return u.String(), nil
}

// Transcript returns the grouped transcript received so far, connecting first when needed.
func (s *StreamTranscript) Transcript(ctx context.Context) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.conn == nil {
		if err := s.connect(ctx); err != nil {
			return nil, err
		}
	}

	raw := make([]models.RawMessage, 0, len(s.order))
	for _, id := range s.order {
		raw = append(raw, s.entries[id])
	}
	return s.api.group(s.conversationID, raw), nil
}

func (s *StreamTranscript) connect(ctx context.Context) error {
	streamURL, err := s.streamURL()
	if err != nil {
		return fmt.Errorf("invalid stream url: %w", err)
	}

	conn, res, err := s.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		if res != nil && (res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: status %d", ErrUnauthorized, res.StatusCode)
		}
		return fmt.Errorf("failed to open transcript stream: %w", err)
	}

	snapshot, err := s.api.rawTranscript(ctx, s.jwt, s.conversationID)
	if err != nil {
		conn.Close()
		return err
	}
	for _, r := range snapshot {
		s.store(r)
	}

	s.conn = conn
	s.done = make(chan struct{})
	go s.read(conn, s.done)

	s.logger.Debug("Transcript stream connected")
	return nil
}

func (s *StreamTranscript) store(r models.RawMessage) {
	if r.ID == "" {
		return
	}
	if _, ok := s.entries[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.entries[r.ID] = r
}

func (s *StreamTranscript) read(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		var ev streamEvent
		err := conn.ReadJSON(&ev)
		if err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			closed := s.closed
			s.mu.Unlock()

			if !closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Transcript stream dropped", slog.String(errLoggerKey, err.Error()))
			}
			conn.Close()
			return
		}

		switch ev.Type {
		case streamInitialMessage, streamMessageAdded:
			s.mu.Lock()
			if _, ok := s.entries[ev.Data.ID]; !ok {
				s.store(ev.Data)
			}
			s.mu.Unlock()
		case streamMessageUpdated:
			s.mu.Lock()
			s.store(ev.Data)
			s.mu.Unlock()
		default:
			s.logger.Debug("Ignoring stream event", slog.String("type", ev.Type))
		}
	}
}

// Close closes the connection and waits for the reader to stop.
func (s *StreamTranscript) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn, done := s.conn, s.done
	s.conn = nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = conn.Close()
	}
	if done != nil {
		<-done
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close transcript stream: %w", err)
	}
	return nil
}
