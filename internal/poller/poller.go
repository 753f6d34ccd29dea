package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coal/ddosguard/internal/status"
)

// DefaultInterval is the fixed delay between the end of one fetch and the
// start of the next.
const DefaultInterval = 5 * time.Second

// ErrAlreadyRunning is returned by Start when the loop already owns a live handle.
var ErrAlreadyRunning = errors.New("poller: loop already running")

// Fetcher retrieves one snapshot. It should honor ctx cancellation; a fetch
// that ignores it still finishes before the next Start fetches again.
type Fetcher func(ctx context.Context) (*status.Snapshot, error)

// Loop repeatedly fetches snapshots with at most one fetch in flight.
type Loop struct {
	fetch    Fetcher
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	current *Handle
	last    *Handle // most recently started, possibly stopped
	seq     atomic.Uint64
}

// Handle identifies one started run of a Loop.
type Handle struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}

	// mu is held while a callback runs so Stop can wait it out.
	mu      sync.Mutex
	stopped bool
}

// ID returns the handle's sequence number, unique per Loop.
func (h *Handle) ID() uint64 {
	return h.id
}

// Done is closed once the loop goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// New creates a Loop. A non-positive interval falls back to DefaultInterval.
func New(fetch Fetcher, interval time.Duration, logger zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		fetch:    fetch,
		interval: interval,
		logger:   logger,
	}
}

// Interval returns the configured delay between fetches.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Running reports whether a started handle has not been stopped yet.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil
}

// Start issues one fetch immediately and then one every interval after the
// previous fetch completes. Failed fetches are passed to onError and do not
// end the loop. Callbacks run on the loop goroutine and must not call Stop.
func (l *Loop) Start(onSnapshot func(*status.Snapshot), onError func(error)) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil {
		return nil, fmt.Errorf("%w (handle %d)", ErrAlreadyRunning, l.current.id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:     l.seq.Add(1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	var prev <-chan struct{}
	if l.last != nil {
		prev = l.last.done
	}
	l.current = h
	l.last = h

	l.logger.Debug().Uint64("handle", h.id).Dur("interval", l.interval).Msg("polling started")
	go l.run(ctx, h, prev, onSnapshot, onError)
	return h, nil
}

// Stop cancels the pending timer and any in-flight fetch. When Stop returns no
// callback for h is running and none will run later. Stopping twice is a no-op.
func (l *Loop) Stop(h *Handle) {
	if h == nil {
		return
	}

	h.mu.Lock()
	already := h.stopped
	h.stopped = true
	h.mu.Unlock()
	h.cancel()

	l.mu.Lock()
	if l.current == h {
		l.current = nil
	}
	l.mu.Unlock()

	if !already {
		l.logger.Debug().Uint64("handle", h.id).Msg("polling stopped")
	}
}

func (l *Loop) run(ctx context.Context, h *Handle, prev <-chan struct{}, onSnapshot func(*status.Snapshot), onError func(error)) {
	defer close(h.done)

	// A stopped predecessor may still be inside a fetch that ignores ctx.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	for {
		snap, err := l.safeFetch(ctx)
		next := time.NewTimer(l.interval)

		if ctx.Err() != nil {
			next.Stop()
			return
		}

		h.deliver(func() {
			if err != nil {
				onError(err)
				return
			}
			onSnapshot(snap)
		})

		select {
		case <-ctx.Done():
			next.Stop()
			return
		case <-next.C:
		}
	}
}

// safeFetch turns a panicking fetcher into an ordinary tick failure.
func (l *Loop) safeFetch(ctx context.Context) (snap *status.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("fetch panicked")
			err = fmt.Errorf("poller: fetch panicked: %v", r)
		}
	}()
	return l.fetch(ctx)
}

func (h *Handle) deliver(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	fn()
}
