package thinking_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/agixt/agixt-web/internal/models"
	"github.com/agixt/agixt-web/internal/thinking"
)

func at(hms string) time.Time {
	t, err := time.Parse("15:04:05.000", hms)
	if err != nil {
		panic(err)
	}
	return time.Date(2025, 6, 19, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func entry(id, hms string) models.Message {
	return models.Message{
		ID:        id,
		Role:      models.RoleAssistant,
		Message:   "message " + id,
		Timestamp: at(hms),
	}
}

func fixedIndicator(hms string) *thinking.Indicator {
	n := 0
	return thinking.NewIndicatorWithClock(
		func() time.Time { return at(hms) },
		func() string {
			n++
			return fmt.Sprintf("%d", n)
		},
	)
}

func countPlaceholders(msgs []models.Message) int {
	n := 0
	for _, m := range msgs {
		if m.IsThinking() {
			n++
		}
	}
	return n
}

func TestShouldClear(t *testing.T) {
	placeholder := models.Message{
		ID:        "thinking-1",
		Role:      models.RoleAssistant,
		Message:   models.ThinkingMessage,
		Timestamp: at("10:00:01.000"),
	}
	pending := thinking.Pending{
		Placeholder:      placeholder,
		LengthAtCreation: 1,
		Loading:          true,
	}

	tests := []struct {
		name       string
		loading    bool
		transcript []models.Message
		want       bool
	}{
		{
			name:       "Unchanged transcript",
			loading:    true,
			transcript: []models.Message{entry("msg1", "10:00:00.000")},
			want:       false,
		},
		{
			name:       "Length grew",
			loading:    true,
			transcript: []models.Message{entry("msg1", "10:00:00.000"), entry("msg2", "09:00:00.000")},
			want:       true,
		},
		{
			name:       "Loading stopped",
			loading:    false,
			transcript: []models.Message{entry("msg1", "10:00:00.000")},
			want:       true,
		},
		{
			name:       "Entry replaced in place with newer timestamp",
			loading:    true,
			transcript: []models.Message{entry("msg1b", "10:00:02.000")},
			want:       true,
		},
		{
			name:       "Foreign entry with equal timestamp",
			loading:    true,
			transcript: []models.Message{entry("msg1b", "10:00:01.000")},
			want:       true,
		},
		{
			name:    "Placeholder echo with equal timestamp",
			loading: true,
			transcript: []models.Message{{
				ID:        "thinking-1",
				Message:   models.ThinkingMessage,
				Timestamp: at("10:00:01.000"),
			}},
			want: false,
		},
		{
			name:    "Sub-millisecond difference is equal",
			loading: true,
			transcript: []models.Message{{
				ID:        "thinking-1",
				Timestamp: at("10:00:01.000").Add(400 * time.Microsecond),
			}},
			want: false,
		},
		{
			name:       "Empty transcript",
			loading:    true,
			transcript: nil,
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pending
			p.Loading = tt.loading
			if got := thinking.ShouldClear(p, tt.transcript); got != tt.want {
				t.Errorf("ShouldClear() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIndicatorBegin(t *testing.T) {
	ind := fixedIndicator("10:00:01.000")
	transcript := []models.Message{entry("msg1", "10:00:00.000")}

	if ind.State() != thinking.StateIdle {
		t.Fatalf("State() = %v, want idle", ind.State())
	}

	tok, err := ind.Begin(transcript)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if !ind.Loading(tok) {
		t.Error("Loading() = false after Begin")
	}

	p, ok := ind.Pending()
	if !ok {
		t.Fatal("Pending() returned nothing after Begin")
	}
	if p.LengthAtCreation != 1 {
		t.Errorf("LengthAtCreation = %d, want 1", p.LengthAtCreation)
	}
	if p.Placeholder.ID != "thinking-1" {
		t.Errorf("Placeholder.ID = %s, want thinking-1", p.Placeholder.ID)
	}
	if !p.Placeholder.Timestamp.Equal(at("10:00:01.000")) {
		t.Errorf("Placeholder.Timestamp = %v", p.Placeholder.Timestamp)
	}
	if p.Placeholder.Role != models.RoleAssistant || p.Placeholder.Message != models.ThinkingMessage {
		t.Errorf("Placeholder = %+v", p.Placeholder)
	}

	display := ind.Display(transcript)
	if len(display) != 2 || !display[1].IsThinking() {
		t.Errorf("Display() = %+v, want transcript with placeholder appended", display)
	}
	if len(transcript) != 1 {
		t.Errorf("Display() modified the authoritative transcript")
	}
}

func TestIndicatorLengthGrowthClears(t *testing.T) {
	ind := fixedIndicator("10:00:01.000")
	initial := []models.Message{entry("msg1", "10:00:00.000")}
	tok, _ := ind.Begin(initial)

	if ind.Observe(tok, initial) {
		t.Fatal("Observe() cleared with an unchanged transcript")
	}

	polled := []models.Message{entry("msg1", "10:00:00.000"), entry("msg2", "10:00:02.000")}
	if !ind.Observe(tok, polled) {
		t.Fatal("Observe() did not clear after the transcript grew")
	}
	if ind.State() != thinking.StateIdle {
		t.Errorf("State() = %v, want idle", ind.State())
	}
	if got := ind.Display(polled); len(got) != 2 || countPlaceholders(got) != 0 {
		t.Errorf("Display() = %+v, want the polled transcript only", got)
	}
	// Still loading until the request itself completes.
	if !ind.Loading(tok) {
		t.Error("Loading() = false before Finish")
	}
}

func TestIndicatorFreshTimestampClears(t *testing.T) {
	ind := fixedIndicator("10:00:01.000")
	tok, _ := ind.Begin([]models.Message{entry("msg1", "10:00:00.000")})

	// Same length, entry replaced by a newer one.
	if !ind.Observe(tok, []models.Message{entry("msg1", "10:00:05.000")}) {
		t.Fatal("Observe() did not clear on a newer timestamp")
	}
}

func TestIndicatorFinishClears(t *testing.T) {
	ind := fixedIndicator("10:00:01.000")
	transcript := []models.Message{entry("msg1", "10:00:00.000")}
	tok, _ := ind.Begin(transcript)

	if !ind.Finish(tok, transcript) {
		t.Fatal("Finish() did not clear the placeholder")
	}
	if ind.Loading(tok) {
		t.Error("Loading() = true after Finish")
	}
	if ind.Busy() {
		t.Error("Busy() = true after Finish")
	}
	if len(transcript) != 1 || transcript[0].ID != "msg1" {
		t.Errorf("transcript mutated: %+v", transcript)
	}
}

func TestIndicatorIdempotentClear(t *testing.T) {
	ind := fixedIndicator("10:00:01.000")
	transcript := []models.Message{entry("msg1", "10:00:00.000")}
	tok, _ := ind.Begin(transcript)

	if !ind.Finish(tok, transcript) {
		t.Fatal("Finish() did not clear")
	}
	for range 3 {
		if ind.Observe(tok, transcript) {
			t.Error("Observe() cleared twice")
		}
		if ind.Finish(tok, transcript) {
			t.Error("Finish() cleared twice")
		}
	}
	if got := ind.Display(transcript); len(got) != 1 {
		t.Errorf("Display() = %+v, want 1 entry", got)
	}
}

func TestIndicatorSupersede(t *testing.T) {
	ind := fixedIndicator("10:00:01.000")
	transcript := []models.Message{entry("msg1", "10:00:00.000")}

	first, _ := ind.Begin(transcript)
	grown := append(transcript, entry("msg2", "10:00:00.500"))
	second, _ := ind.Begin(grown)

	if got := countPlaceholders(ind.Display(grown)); got != 1 {
		t.Fatalf("placeholders = %d, want 1", got)
	}
	p, _ := ind.Pending()
	if p.Placeholder.ID != "thinking-2" || p.LengthAtCreation != 2 {
		t.Errorf("Pending() = %+v, want the second placeholder", p)
	}

	// The first request completing must not touch the second one.
	if ind.Finish(first, grown) {
		t.Error("Finish() with a superseded token cleared the placeholder")
	}
	if !ind.Loading(second) {
		t.Error("Loading() = false for the current request")
	}
	if ind.Loading(first) {
		t.Error("Loading() = true for a superseded request")
	}
	if !ind.Finish(second, grown) {
		t.Error("Finish() did not clear for the current request")
	}
}

func TestIndicatorAtMostOnePlaceholder(t *testing.T) {
	ind := fixedIndicator("10:00:01.000")
	transcript := []models.Message{entry("msg1", "10:00:00.000")}

	var toks []thinking.Token
	for i := range 10 {
		tok, err := ind.Begin(transcript)
		if err != nil {
			t.Fatal(err)
		}
		toks = append(toks, tok)
		if got := countPlaceholders(ind.Display(transcript)); got != 1 {
			t.Fatalf("after %d submits: placeholders = %d, want 1", i+1, got)
		}
	}
	for _, tok := range toks {
		ind.Finish(tok, transcript)
		if got := countPlaceholders(ind.Display(transcript)); got > 1 {
			t.Fatalf("placeholders = %d, want at most 1", got)
		}
	}
	if got := countPlaceholders(ind.Display(transcript)); got != 0 {
		t.Errorf("placeholders = %d after all finished, want 0", got)
	}
}

func TestIndicatorScenario(t *testing.T) {
	ind := fixedIndicator("10:00:01.000")
	transcript := []models.Message{entry("msg1", "10:00:00.000")}

	tok, _ := ind.Begin(transcript)
	display := ind.Display(transcript)
	if len(display) != 2 || display[1].ID != "thinking-1" {
		t.Fatalf("Display() = %+v", display)
	}

	polled := []models.Message{entry("msg1", "10:00:00.000"), entry("msg2", "10:00:02.000")}
	if !ind.Observe(tok, polled) {
		t.Fatal("placeholder was not cleared")
	}
	if _, ok := ind.Pending(); ok {
		t.Error("Pending() still set")
	}
}

func TestIndicatorClose(t *testing.T) {
	ind := fixedIndicator("10:00:01.000")
	transcript := []models.Message{entry("msg1", "10:00:00.000")}
	tok, _ := ind.Begin(transcript)

	ind.Close()

	if ind.State() != thinking.StateIdle {
		t.Error("State() != idle after Close")
	}
	if ind.Observe(tok, append(transcript, entry("msg2", "10:00:02.000"))) {
		t.Error("Observe() acted after Close")
	}
	if ind.Finish(tok, transcript) {
		t.Error("Finish() acted after Close")
	}
	if _, err := ind.Begin(transcript); err != thinking.ErrClosed {
		t.Errorf("Begin() error = %v, want ErrClosed", err)
	}
}
