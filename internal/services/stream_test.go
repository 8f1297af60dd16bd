package services_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/agixt/agixt-web/internal/services"
	"github.com/gorilla/websocket"
)

func TestStreamTranscript(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/conversation/conv1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"conversation_history": []map[string]string{
				{"id": "m1", "role": "user", "message": "Hello", "timestamp": "2025-06-19T10:00:00Z"},
			},
		})
	})
	mux.HandleFunc("GET /v1/conversation/conv1/stream", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("authorization"); got != "token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		events := []map[string]any{
			{"type": "initial_message", "data": map[string]string{
				"id": "m1", "role": "user", "message": "Hello", "timestamp": "2025-06-19T10:00:00Z",
			}},
			{"type": "heartbeat"},
			{"type": "message_added", "data": map[string]string{
				"id": "m2", "role": "XT", "message": "Hi!", "timestamp": "2025-06-19T10:00:02Z",
			}},
		}
		for _, ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	api, _ := newAGiXT(t, mux)
	stream := api.StreamTranscript("token", "conv1")

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, err := stream.Transcript(context.Background())
		if err != nil {
			t.Fatalf("Transcript() error = %v", err)
		}
		if len(msgs) == 2 {
			if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
				t.Errorf("Transcript() = %+v", msgs)
			}
			break
		}
		if len(msgs) != 1 {
			t.Fatalf("Transcript() = %+v, want the REST snapshot first", msgs)
		}
		if time.Now().After(deadline) {
			t.Fatal("stream never delivered the added message")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := stream.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := stream.Transcript(context.Background()); !errors.Is(err, services.ErrStreamClosed) {
		t.Errorf("Transcript() after Close error = %v, want ErrStreamClosed", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestStreamTranscriptUnauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/conversation/conv1/stream", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	api, _ := newAGiXT(t, mux)
	stream := api.StreamTranscript("bad", "conv1")
	defer stream.Close()

	if _, err := stream.Transcript(context.Background()); !errors.Is(err, services.ErrUnauthorized) {
		t.Errorf("Transcript() error = %v, want ErrUnauthorized", err)
	}
}
