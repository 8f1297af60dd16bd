// Package thinking tracks the "assistant is thinking" placeholder shown in a transcript while a submitted
// message awaits its answer, and decides when the placeholder goes away.
package thinking

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/agixt/agixt-web/internal/models"
	"github.com/google/uuid"
)

// State is the lifecycle state of an Indicator.
type State int

const (
	// StateIdle means no placeholder is shown.
	StateIdle State = iota
	// StatePending means a placeholder is shown while a request is in flight.
	StatePending
)

func (s State) String() string {
	if s == StatePending {
		return "pending"
	}
	return "idle"
}

// Pending is the state kept while a placeholder is live.
type Pending struct {
	Placeholder      models.Message
	LengthAtCreation int
	Loading          bool
}

// Token identifies one dispatched request. Callbacks carrying a token that is no longer current are ignored.
type Token uint64

// ErrClosed is returned when dispatching on a closed Indicator.
var ErrClosed = errors.New("thinking indicator closed")

// Indicator is the placeholder state machine. All methods are safe for concurrent use; every evaluation of
// the clearing rule and the transition it triggers happen under one lock.
type Indicator struct {
	mu sync.Mutex

	pending *Pending
	loading bool
	current Token
	closed  bool

	now   func() time.Time
	newID func() string
}

// NewIndicator returns an idle Indicator stamping placeholders with the wall clock and random identifiers.
func NewIndicator() *Indicator {
	return NewIndicatorWithClock(time.Now, func() string { return uuid.New().String() })
}

// NewIndicatorWithClock returns an idle Indicator using now for placeholder timestamps and newID for the
// identifier suffix of placeholders.
func NewIndicatorWithClock(now func() time.Time, newID func() string) *Indicator {
	return &Indicator{
		now:   now,
		newID: newID,
	}
}

// ShouldClear reports whether the placeholder of p must be removed given the latest authoritative transcript.
// Any one of these is enough: the transcript grew past its length at creation, the request is no longer
// loading, an entry is strictly newer than the placeholder, or an entry other than the placeholder is at
// least as new. Timestamps are compared at millisecond resolution.
func ShouldClear(p Pending, transcript []models.Message) bool {
	if len(transcript) > p.LengthAtCreation {
		return true
	}
	if !p.Loading {
		return true
	}

	placeholderTS := truncate(p.Placeholder.Timestamp)
	for _, e := range transcript {
		ts := truncate(e.Timestamp)
		if ts.After(placeholderTS) {
			return true
		}
		if e.ID != p.Placeholder.ID && !ts.Before(placeholderTS) {
			return true
		}
	}
	return false
}

func truncate(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}

// Begin moves the Indicator to pending for a request dispatched while transcript is displayed. A placeholder
// that is still live is replaced, so at most one exists. The returned token identifies the request.
func (i *Indicator) Begin(transcript []models.Message) (Token, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return 0, ErrClosed
	}

	i.current++
	i.loading = true
	i.pending = &Pending{
		Placeholder: models.Message{
			ID:        "thinking-" + i.newID(),
			Role:      models.RoleAssistant,
			Message:   models.ThinkingMessage,
			Timestamp: truncate(i.now()),
		},
		LengthAtCreation: len(transcript),
		Loading:          true,
	}
	return i.current, nil
}

// Observe evaluates a new transcript snapshot for the request tok. It reports whether this call removed the
// placeholder; a stale token, a closed Indicator or an already idle one make it a no-op.
func (i *Indicator) Observe(tok Token, transcript []models.Message) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isCurrent(tok) {
		return false
	}
	return i.evaluate(transcript)
}

// Finish marks the request tok as no longer loading, whether it succeeded or failed, and evaluates
// transcript right away. It reports whether this call removed the placeholder.
func (i *Indicator) Finish(tok Token, transcript []models.Message) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isCurrent(tok) {
		return false
	}
	i.loading = false
	if i.pending != nil {
		i.pending.Loading = false
	}
	return i.evaluate(transcript)
}

func (i *Indicator) isCurrent(tok Token) bool {
	return !i.closed && tok == i.current
}

func (i *Indicator) evaluate(transcript []models.Message) bool {
	if i.pending == nil {
		return false
	}
	if !ShouldClear(*i.pending, transcript) {
		return false
	}
	i.pending = nil
	return true
}

// Current reports whether tok is the most recently dispatched request and the Indicator is open.
func (i *Indicator) Current(tok Token) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.isCurrent(tok)
}

// Loading reports whether the request tok is current and still in flight.
func (i *Indicator) Loading(tok Token) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.isCurrent(tok) && i.loading
}

// Busy reports whether a request is loading or a placeholder is shown.
func (i *Indicator) Busy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.loading || i.pending != nil
}

// State returns the current lifecycle state.
func (i *Indicator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending != nil {
		return StatePending
	}
	return StateIdle
}

// Pending returns a copy of the pending state, if any.
func (i *Indicator) Pending() (Pending, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending == nil {
		return Pending{}, false
	}
	return *i.pending, true
}

// Display composes what should be rendered: transcript itself when idle, transcript with the placeholder
// appended when pending. transcript is never modified.
func (i *Indicator) Display(transcript []models.Message) []models.Message {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending == nil {
		return slices.Clone(transcript)
	}
	display := make([]models.Message, 0, len(transcript)+1)
	display = append(display, transcript...)
	return append(display, i.pending.Placeholder)
}

// Close discards any pending state. Every later call is a no-op and Begin returns ErrClosed.
func (i *Indicator) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.closed = true
	i.pending = nil
	i.loading = false
	i.current++
}
