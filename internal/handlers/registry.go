package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/agixt/agixt-web/internal/models"
	"github.com/agixt/agixt-web/internal/thinking"
)

// registry holds the live tracker of each pending request slot. A tracker lives while a request is in
// flight and is released once it is idle again, or once nobody has watched its conversation for the grace
// period.
type registry struct {
	ctx    context.Context
	cancel context.CancelFunc
	grace  time.Duration

	mu       sync.Mutex
	trackers map[string]tracked
	viewers  map[string]*viewers
	closed   bool

	wg sync.WaitGroup
}

type tracked struct {
	t     *thinking.Tracker
	topic string
}

// viewers counts the event streams open on one topic. idle fires once the count stayed at zero for the
// grace period.
type viewers struct {
	n    int
	idle *time.Timer
}

var errRegistryClosed = errors.New("shutting down")

// newSlotPrefix marks the slot of a request that starts a new conversation.
const newSlotPrefix = "new-"

func newRegistry(grace time.Duration) *registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &registry{
		ctx:      ctx,
		cancel:   cancel,
		grace:    grace,
		trackers: make(map[string]tracked),
		viewers:  make(map[string]*viewers),
	}
}

func trackerKey(userID, slot string) string {
	return userID + "/" + slot
}

// slotConversation returns the conversation a pending slot belongs to.
func slotConversation(slot string) string {
	if strings.HasPrefix(slot, newSlotPrefix) {
		return models.NewConversationID
	}
	return slot
}

// get returns the tracker of key, if any.
func (r *registry) get(key string) (*thinking.Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.trackers[key]
	return e.t, ok
}

// dispatch submits on the tracker of key, creating it with create when none is live. topic is where the
// tracker publishes; the tracker is dropped when that topic loses its last viewer. The tracker is released
// when the request completes and nothing else is pending on it; after, when not nil, runs once the request
// is fully handled.
func (r *registry) dispatch(
	key, topic string,
	create func(ctx context.Context) *thinking.Tracker,
	current []models.Message,
	submit func(ctx context.Context) error,
	after func(),
) (*thinking.Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errRegistryClosed
	}

	e, ok := r.trackers[key]
	if !ok {
		e = tracked{t: create(r.ctx), topic: topic}
		r.trackers[key] = e
	}

	done, err := e.t.Dispatch(current, submit)
	if err != nil {
		if !ok {
			delete(r.trackers, key)
			_ = e.t.Close()
		}
		return nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		<-done
		if after != nil {
			after()
		}
		r.release(key, e.t)
	}()

	return e.t, nil
}

func (r *registry) release(key string, t *thinking.Tracker) {
	r.mu.Lock()
	if r.trackers[key].t != t || !t.Idle() {
		r.mu.Unlock()
		return
	}
	delete(r.trackers, key)
	r.mu.Unlock()

	_ = t.Close()
}

// remove tears down the tracker of key. It reports whether one was live.
func (r *registry) remove(key string) bool {
	r.mu.Lock()
	e, ok := r.trackers[key]
	delete(r.trackers, key)
	r.mu.Unlock()

	if ok {
		_ = e.t.Close()
	}
	return ok
}

// watch records one more viewer of topic until the returned function is called.
func (r *registry) watch(topic string) (unwatch func()) {
	r.mu.Lock()
	v, ok := r.viewers[topic]
	if !ok {
		v = &viewers{}
		r.viewers[topic] = v
	}
	v.n++
	if v.idle != nil {
		v.idle.Stop()
		v.idle = nil
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.unwatch(topic) })
	}
}

func (r *registry) unwatch(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.viewers[topic]
	v.n--
	if v.n > 0 || r.closed {
		return
	}
	v.idle = time.AfterFunc(r.grace, func() { r.abandon(topic, v) })
}

// abandon drops the trackers publishing to topic, unless a viewer came back.
func (r *registry) abandon(topic string, v *viewers) {
	r.mu.Lock()
	if r.viewers[topic] != v || v.n > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.viewers, topic)

	var orphans []*thinking.Tracker
	for key, e := range r.trackers {
		if e.topic == topic {
			orphans = append(orphans, e.t)
			delete(r.trackers, key)
		}
	}
	r.mu.Unlock()

	for _, t := range orphans {
		_ = t.Close()
	}
}

func (r *registry) closeAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	trackers := r.trackers
	r.trackers = make(map[string]tracked)
	for _, v := range r.viewers {
		if v.idle != nil {
			v.idle.Stop()
		}
	}
	r.mu.Unlock()

	r.cancel()
	for _, e := range trackers {
		_ = e.t.Close()
	}
	r.wg.Wait()
}
