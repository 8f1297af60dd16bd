package thinking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/agixt/agixt-web/internal/models"
)

// Source supplies the authoritative transcript of one conversation. It is called repeatedly while a request
// is in flight; successive results are only expected to eventually reflect what the server committed.
type Source interface {
	Transcript(ctx context.Context) ([]models.Message, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]models.Message, error)

// Transcript implements Source.
func (f SourceFunc) Transcript(ctx context.Context) ([]models.Message, error) {
	return f(ctx)
}

// Sink receives what the view should render. Transcript is called with the composed transcript every time
// it changed, Notice when a submitted message failed.
type Sink interface {
	Transcript(display []models.Message)
	Notice(err error)
}

// ErrSubmitFailed wraps the error of a submit that was rejected.
var ErrSubmitFailed = errors.New("failed to get response from the agent")

// DefaultPollInterval is the cadence at which the transcript is re-fetched while a request is in flight.
const DefaultPollInterval = time.Second

const errLoggerKey = "err"

// Tracker drives an Indicator for one conversation view: it dispatches submits, polls the Source while a
// request is loading, and pushes the composed transcript to the Sink. Closing the Tracker stops the poller
// and turns every later callback into a no-op.
type Tracker struct {
	indicator *Indicator
	source    Source
	sink      Sink
	interval  time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	last       []models.Message
	sent       []models.Message
	didSend    bool
	stopPoller context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// NewTracker creates a Tracker bound to ctx; cancelling ctx has the same effect as Close. A nil source
// disables polling, leaving the request completion as the only trigger. A non-positive interval selects
// DefaultPollInterval.
func NewTracker(
	ctx context.Context,
	indicator *Indicator,
	source Source,
	sink Sink,
	interval time.Duration,
	logger *slog.Logger,
) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Tracker{
		indicator:  indicator,
		source:     source,
		sink:       sink,
		interval:   interval,
		logger:     logger.With(slog.String("module", "thinking")),
		ctx:        ctx,
		cancel:     cancel,
		stopPoller: func() {},
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		<-ctx.Done()
		indicator.Close()
	}()

	return t
}

// Dispatch shows the placeholder on top of current, the transcript displayed when the user submitted, and
// runs submit in the background. While submit runs the Source is polled; when it returns, successfully or
// not, the request stops loading and the placeholder is cleared. A failing submit is reported to the Sink
// as a notice wrapping ErrSubmitFailed.
//
// The returned channel is closed once the request has been fully handled. A request superseded by a later
// Dispatch keeps running but no longer affects the view.
func (t *Tracker) Dispatch(current []models.Message, submit func(ctx context.Context) error) (<-chan struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ctx.Err(); err != nil {
		return nil, ErrClosed
	}

	tok, err := t.indicator.Begin(current)
	if err != nil {
		return nil, err
	}
	t.last = slices.Clone(current)
	t.publish(t.indicator.Display(t.last))

	// The poller of a superseded request has nothing left to do.
	t.stopPoller()
	pollCtx, stopPoller := context.WithCancel(t.ctx)
	t.stopPoller = stopPoller

	if t.source != nil {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.poll(pollCtx, tok)
		}()
	}

	done := make(chan struct{})
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(done)
		err := submit(t.ctx)
		stopPoller()
		t.complete(tok, err)
	}()

	return done, nil
}

func (t *Tracker) poll(ctx context.Context, tok Token) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !t.indicator.Loading(tok) {
			return
		}

		transcript, err := t.source.Transcript(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("Failed to poll transcript, retrying on next tick",
				slog.String(errLoggerKey, err.Error()))
			continue
		}

		t.observe(tok, transcript)
	}
}

func (t *Tracker) observe(tok Token, transcript []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A poll that raced with the completion must not replace the final transcript.
	if t.ctx.Err() != nil || !t.indicator.Loading(tok) {
		return
	}
	t.last = transcript
	if t.indicator.Observe(tok, transcript) {
		t.logger.Debug("Thinking placeholder cleared by poll", slog.Int("length", len(transcript)))
	}
	t.publish(t.indicator.Display(transcript))
}

func (t *Tracker) complete(tok Token, submitErr error) {
	// A last fetch so the answer shows up without waiting for another poll.
	var (
		fresh    []models.Message
		fetchErr error
	)
	if submitErr == nil && t.source != nil && t.ctx.Err() == nil {
		fresh, fetchErr = t.source.Transcript(t.ctx)
		if fetchErr != nil && t.ctx.Err() == nil {
			t.logger.Warn("Failed to fetch transcript after completion",
				slog.String(errLoggerKey, fetchErr.Error()))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx.Err() != nil || !t.indicator.Current(tok) {
		return
	}
	if submitErr == nil && fetchErr == nil && fresh != nil {
		t.last = fresh
	}
	t.indicator.Finish(tok, t.last)
	t.publish(t.indicator.Display(t.last))

	if submitErr != nil {
		t.logger.Error("Submit failed", slog.String(errLoggerKey, submitErr.Error()))
		t.sink.Notice(fmt.Errorf("%w: %w", ErrSubmitFailed, submitErr))
	}
}

// publish hands display to the Sink unless it is what the Sink got last. Callers hold t.mu.
func (t *Tracker) publish(display []models.Message) {
	if t.didSend && sameDisplay(t.sent, display) {
		return
	}
	t.sent = display
	t.didSend = true
	t.sink.Transcript(display)
}

func sameDisplay(a, b []models.Message) bool {
	return slices.EqualFunc(a, b, func(x, y models.Message) bool {
		return x.ID == y.ID &&
			x.Role == y.Role &&
			x.Message == y.Message &&
			x.Timestamp.Equal(y.Timestamp) &&
			sameDisplay(x.Children, y.Children)
	})
}

// Display returns the composed transcript for the last known authoritative transcript.
func (t *Tracker) Display() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.indicator.Display(t.last)
}

// Compose returns transcript with the placeholder appended when a request is pending.
func (t *Tracker) Compose(transcript []models.Message) []models.Message {
	return t.indicator.Display(transcript)
}

// Idle reports whether no request is loading and no placeholder is shown.
func (t *Tracker) Idle() bool {
	return !t.indicator.Busy()
}

// Close tears the Tracker down and waits for its goroutines. A Source implementing io.Closer is closed too.
// Calling Close more than once returns the result of the first call.
func (t *Tracker) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.cancel()
		t.stopPoller()
		t.mu.Unlock()

		t.indicator.Close()
		t.wg.Wait()

		if c, ok := t.source.(io.Closer); ok {
			if err := c.Close(); err != nil {
				t.closeErr = fmt.Errorf("failed to close transcript source: %w", err)
			}
		}
	})
	return t.closeErr
}
