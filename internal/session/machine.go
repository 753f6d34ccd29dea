package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coal/ddosguard/internal/audit"
	"github.com/coal/ddosguard/internal/poller"
	"github.com/coal/ddosguard/internal/settings"
	"github.com/coal/ddosguard/internal/status"
)

// Gateway is the remote side of the session. It is the only thing that
// performs network I/O.
type Gateway interface {
	RequestStart(ctx context.Context) error
	RequestStop(ctx context.Context) error
	FetchSnapshot(ctx context.Context) (*status.Snapshot, error)
	SubmitThresholds(ctx context.Context, t settings.AlertThresholds) error
	SubmitAdaptiveConfig(ctx context.Context, c settings.AdaptiveConfig) error
}

// Machine owns the single monitoring session of the process. Construct one
// with New at startup and share it; it lives until Close.
//
// The mutex is never held across gateway calls or while stopping the poller,
// so concurrent commands are arbitrated by phase guards: a command that is
// not legal in the current phase is rejected without a network call.
type Machine struct {
	gw     Gateway
	loop   *poller.Loop
	audit  *audit.Logger
	logger zerolog.Logger

	mu        sync.Mutex
	phase     Phase
	snapshot  *status.Snapshot
	lastErr   error
	gen       uint64
	handle    *poller.Handle
	pending   *startCall
	updatedAt time.Time
	closed    bool
	subs      map[uint64]chan State
	subSeq    uint64

	// observerMu guards observers and eventsClosed. Events reach observers
	// on the dispatch goroutine, never on the caller's.
	observerMu   sync.RWMutex
	observers    []EventObserver
	events       chan Event
	eventsClosed bool
}

// eventBuffer bounds the events queued for slow observers. Events past it
// are dropped; the audit log is written synchronously and loses nothing.
const eventBuffer = 256

// startCall is the shared result of an in-flight Start.
type startCall struct {
	done chan struct{}
	err  error
}

// New creates an Idle session that polls gw every interval while Active.
func New(gw Gateway, interval time.Duration, auditLogger *audit.Logger, logger zerolog.Logger) *Machine {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	logger = logger.With().Str("component", "session").Logger()
	m := &Machine{
		gw:        gw,
		loop:      poller.New(gw.FetchSnapshot, interval, logger),
		audit:     auditLogger,
		logger:    logger,
		updatedAt: time.Now().UTC(),
		subs:      make(map[uint64]chan State),
		events:    make(chan Event, eventBuffer),
	}
	go m.dispatch()
	return m
}

// PollInterval returns the delay between polls.
func (m *Machine) PollInterval() time.Duration {
	return m.loop.Interval()
}

// Current returns a copy of the session.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Start begins monitoring. It is legal only from Idle. A call made while
// another Start is in flight waits for and returns that call's result
// instead of issuing a second request.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	from := m.phase
	switch from {
	case PhaseStarting:
		call := m.pending
		m.mu.Unlock()
		m.logger.Debug().Msg("start already in flight, waiting for it")
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	case PhaseActive:
		m.mu.Unlock()
		m.record(EventStart, from, from, 0, ErrAlreadyActive, nil, time.Time{})
		return ErrAlreadyActive
	case PhaseStopping:
		m.mu.Unlock()
		m.record(EventStart, from, from, 0, ErrBusy, nil, time.Time{})
		return ErrBusy
	}

	m.gen++
	gen := m.gen
	call := &startCall{done: make(chan struct{})}
	m.pending = call
	m.setPhaseLocked(PhaseStarting)
	m.mu.Unlock()

	began := time.Now()
	err := m.gw.RequestStart(ctx)

	m.mu.Lock()
	if m.gen != gen || m.phase != PhaseStarting {
		// Stop abandoned this attempt and already released the waiters.
		m.mu.Unlock()
		m.logger.Warn().Uint64("generation", gen).AnErr("start_error", err).Msg("ignoring late start result")
		m.record(EventStart, PhaseStarting, PhaseIdle, gen, ErrSuperseded, nil, began)
		return ErrSuperseded
	}
	m.pending = nil

	if err == nil {
		var h *poller.Handle
		h, err = m.loop.Start(m.applySnapshot(gen), m.applyPollError(gen))
		if err != nil {
			m.logger.Error().Err(err).Msg("poll loop refused to start")
		} else {
			m.handle = h
		}
	}

	to := PhaseActive
	if err != nil {
		to = PhaseIdle
		m.lastErr = err
	} else {
		m.lastErr = nil
	}
	m.snapshot = nil
	m.setPhaseLocked(to)
	call.err = err
	close(call.done)
	m.mu.Unlock()

	m.record(EventStart, from, to, gen, err, nil, began)
	return err
}

// Stop ends monitoring. From Active the poll loop is stopped before the
// remote stop is sent, and the session always ends Idle with no snapshot;
// a failed remote stop is recorded as the session error and returned.
// Stop during Starting abandons the attempt locally without a network call.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	from := m.phase
	switch from {
	case PhaseStarting:
		gen := m.gen
		m.abandonStartLocked()
		m.mu.Unlock()
		m.record(EventStartAbandoned, from, PhaseIdle, gen, nil, nil, time.Time{})
		return nil
	case PhaseIdle, PhaseStopping:
		m.mu.Unlock()
		m.record(EventStop, from, from, 0, ErrNotActive, nil, time.Time{})
		return ErrNotActive
	}

	gen := m.gen
	h := m.handle
	m.handle = nil
	m.setPhaseLocked(PhaseStopping)
	m.mu.Unlock()

	// Any callback still running sees Stopping and drops its result.
	m.loop.Stop(h)

	began := time.Now()
	err := m.gw.RequestStop(ctx)

	m.mu.Lock()
	m.snapshot = nil
	m.lastErr = err
	m.setPhaseLocked(PhaseIdle)
	m.mu.Unlock()

	m.record(EventStop, from, PhaseIdle, gen, err, nil, began)
	return err
}

// UpdateThresholds submits new alert thresholds. It is legal in every phase
// and never changes the phase. Misordered thresholds fail validation before
// the gateway is called.
func (m *Machine) UpdateThresholds(ctx context.Context, t settings.AlertThresholds) error {
	began := time.Now()
	err := t.Validate()
	if err == nil {
		err = m.gw.SubmitThresholds(ctx, t)
	}
	m.finishUpdate(EventThresholds, err, t, began)
	return err
}

// UpdateAdaptiveConfig submits a new adaptive-response configuration.
func (m *Machine) UpdateAdaptiveConfig(ctx context.Context, c settings.AdaptiveConfig) error {
	began := time.Now()
	err := c.Validate()
	if err == nil {
		err = m.gw.SubmitAdaptiveConfig(ctx, c)
	}
	m.finishUpdate(EventAdaptive, err, c, began)
	return err
}

func (m *Machine) finishUpdate(typ EventType, err error, submitted any, began time.Time) {
	m.mu.Lock()
	phase := m.phase
	gen := m.gen
	m.lastErr = err
	m.touchLocked()
	m.mu.Unlock()

	m.record(typ, phase, phase, gen, err, submitted, began)
}

// Subscribe returns a channel that always holds the most recent State. The
// current state is delivered immediately; intermediate states may be skipped
// but the last one is never lost. Call cancel to release the channel.
func (m *Machine) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.mu.Lock()
	m.subSeq++
	id := m.subSeq
	ch <- m.stateLocked()
	if m.closed {
		close(ch)
	} else {
		m.subs[id] = ch
	}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// AddObserver registers a callback invoked for every Event. Observers run in
// event order on a dedicated goroutine, so a slow observer delays later events
// but never a session operation or a poll.
func (m *Machine) AddObserver(fn EventObserver) {
	m.observerMu.Lock()
	defer m.observerMu.Unlock()
	m.observers = append(m.observers, fn)
}

// Close tears the session down at process exit: polling stops, no remote
// stop is sent, and subscriber channels are closed.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.phase == PhaseStarting {
		m.abandonStartLocked()
	}
	h := m.handle
	m.handle = nil
	m.closed = true
	m.mu.Unlock()

	m.loop.Stop(h)

	m.mu.Lock()
	m.snapshot = nil
	m.setPhaseLocked(PhaseIdle)
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()

	m.observerMu.Lock()
	m.eventsClosed = true
	close(m.events)
	m.observerMu.Unlock()
}

func (m *Machine) applySnapshot(gen uint64) func(*status.Snapshot) {
	return func(s *status.Snapshot) {
		m.mu.Lock()
		if m.phase != PhaseActive || m.gen != gen {
			m.mu.Unlock()
			m.logger.Debug().Uint64("generation", gen).Msg("dropping snapshot from stale poll")
			return
		}
		m.snapshot = s
		m.lastErr = nil
		m.touchLocked()
		m.mu.Unlock()

		m.emit(Event{
			Timestamp:        time.Now().UTC(),
			Type:             EventPoll,
			Generation:       gen,
			From:             PhaseActive,
			To:               PhaseActive,
			ThreatLevel:      s.ThreatLevel,
			PacketsPerSecond: s.PacketsPerSecond,
		})
	}
}

func (m *Machine) applyPollError(gen uint64) func(error) {
	return func(err error) {
		m.mu.Lock()
		if m.phase != PhaseActive || m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.lastErr = err
		m.touchLocked()
		m.mu.Unlock()

		m.logger.Warn().Err(err).Uint64("generation", gen).Msg("poll failed, keeping last snapshot")
		m.record(EventPollError, PhaseActive, PhaseActive, gen, err, nil, time.Time{})
	}
}

// abandonStartLocked drops an in-flight start and releases its waiters.
func (m *Machine) abandonStartLocked() {
	m.gen++
	if call := m.pending; call != nil {
		call.err = ErrSuperseded
		close(call.done)
		m.pending = nil
	}
	m.snapshot = nil
	m.setPhaseLocked(PhaseIdle)
}

func (m *Machine) setPhaseLocked(p Phase) {
	if m.phase != p {
		m.logger.Info().Str("from", m.phase.String()).Str("to", p.String()).Uint64("generation", m.gen).Msg("phase change")
	}
	m.phase = p
	m.touchLocked()
}

// touchLocked stamps the state and pushes it to subscribers. Sends never
// block: a pending value nobody has read yet is replaced.
func (m *Machine) touchLocked() {
	m.updatedAt = time.Now().UTC()
	st := m.stateLocked()
	for _, ch := range m.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

func (m *Machine) stateLocked() State {
	return State{
		Phase:      m.phase,
		Snapshot:   m.snapshot,
		Err:        m.lastErr,
		Generation: m.gen,
		UpdatedAt:  m.updatedAt,
	}
}

// record writes the audit entry for an operation and notifies observers.
func (m *Machine) record(typ EventType, from, to Phase, gen uint64, err error, submitted any, began time.Time) {
	ev := Event{
		Timestamp:  time.Now().UTC(),
		Type:       typ,
		Generation: gen,
		From:       from,
		To:         to,
	}
	entry := audit.Entry{
		Timestamp: ev.Timestamp,
		Session:   gen,
		Operation: string(typ),
		PhaseFrom: from.String(),
		PhaseTo:   to.String(),
		Outcome:   outcome(err),
		Submitted: submitted,
	}
	if !began.IsZero() {
		ev.Elapsed = time.Since(began)
		entry.Elapsed = ev.Elapsed.String()
	}
	if err != nil {
		ev.Error = err.Error()
		ev.ErrorKind = errorKind(err)
		entry.ErrorKind = ev.ErrorKind
		entry.Detail = ev.Error
	}

	if aerr := m.audit.Log(entry); aerr != nil {
		m.logger.Error().Err(aerr).Msg("writing audit entry")
	}
	m.emit(ev)
}

// emit queues ev for the observers without blocking.
func (m *Machine) emit(ev Event) {
	m.observerMu.RLock()
	defer m.observerMu.RUnlock()
	if m.eventsClosed {
		return
	}
	select {
	case m.events <- ev:
	default:
		m.logger.Warn().Str("type", string(ev.Type)).Msg("observers are behind, dropping event")
	}
}

func (m *Machine) dispatch() {
	for ev := range m.events {
		m.observerMu.RLock()
		observers := m.observers
		m.observerMu.RUnlock()

		for _, fn := range observers {
			fn(ev)
		}
	}
}

func outcome(err error) string {
	var verr *settings.ValidationError
	switch {
	case err == nil:
		return audit.OutcomeOK
	case errors.Is(err, ErrSuperseded):
		return audit.OutcomeIgnored
	case isGuardError(err), errors.As(err, &verr):
		return audit.OutcomeRejected
	default:
		return audit.OutcomeFailed
	}
}
