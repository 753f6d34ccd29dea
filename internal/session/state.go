package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/coal/ddosguard/internal/gateway"
	"github.com/coal/ddosguard/internal/settings"
	"github.com/coal/ddosguard/internal/status"
)

// Phase is the discrete state of the session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseActive
	PhaseStopping
)

var phaseNames = [...]string{"idle", "starting", "active", "stopping"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Guard rejections. They are returned to the caller and never change the session.
var (
	ErrAlreadyActive = errors.New("session: monitoring is already active")
	ErrNotActive     = errors.New("session: monitoring is not active")
	ErrBusy          = errors.New("session: a stop is in progress")
	ErrSuperseded    = errors.New("session: start abandoned by a later stop")
	ErrClosed        = errors.New("session: controller closed")
)

// State is a read-only copy of the session. Snapshot is nil until the first
// successful poll of an active session and after every stop.
type State struct {
	Phase      Phase
	Snapshot   *status.Snapshot
	Err        error
	Generation uint64
	UpdatedAt  time.Time
}

// Active reports whether the session is in the Active phase.
func (s State) Active() bool {
	return s.Phase == PhaseActive
}

// ErrorKind classifies Err for display: a gateway kind, "validation",
// "rejected" for phase-guard errors, or "internal".
func (s State) ErrorKind() string {
	return errorKind(s.Err)
}

// ErrorKindOf classifies any error returned by the machine the same way.
// It returns "" for nil.
func ErrorKindOf(err error) string {
	return errorKind(err)
}

type stateError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// MarshalJSON renders the state for the dashboard feed.
func (s State) MarshalJSON() ([]byte, error) {
	out := struct {
		Phase      Phase            `json:"phase"`
		Snapshot   *status.Snapshot `json:"snapshot"`
		Error      *stateError      `json:"error"`
		Generation uint64           `json:"generation"`
		UpdatedAt  time.Time        `json:"updated_at"`
	}{
		Phase:      s.Phase,
		Snapshot:   s.Snapshot,
		Generation: s.Generation,
		UpdatedAt:  s.UpdatedAt,
	}
	if s.Err != nil {
		out.Error = &stateError{Kind: errorKind(s.Err), Message: s.Err.Error()}
	}
	return json.Marshal(out)
}

// EventType names what happened in an Event.
type EventType string

const (
	EventStart          EventType = "start"
	EventStop           EventType = "stop"
	EventStartAbandoned EventType = "start_abandoned"
	EventPoll           EventType = "poll"
	EventPollError      EventType = "poll_error"
	EventThresholds     EventType = "update_thresholds"
	EventAdaptive       EventType = "update_adaptive_response"
)

// Event describes one completed operation or poll tick.
type Event struct {
	Timestamp        time.Time          `json:"timestamp"`
	Type             EventType          `json:"type"`
	Generation       uint64             `json:"generation,omitempty"`
	From             Phase              `json:"from"`
	To               Phase              `json:"to"`
	Error            string             `json:"error,omitempty"`
	ErrorKind        string             `json:"error_kind,omitempty"`
	ThreatLevel      status.ThreatLevel `json:"threat_level,omitempty"`
	PacketsPerSecond float64            `json:"packets_per_second,omitempty"`
	Elapsed          time.Duration      `json:"elapsed_ns,omitempty"`
}

// Failed reports whether the event carries an error.
func (e Event) Failed() bool {
	return e.Error != ""
}

// EventObserver receives every Event the machine produces.
type EventObserver func(Event)

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	if kind, ok := gateway.KindOf(err); ok {
		return string(kind)
	}
	var verr *settings.ValidationError
	if errors.As(err, &verr) {
		return "validation"
	}
	if isGuardError(err) {
		return "rejected"
	}
	return "internal"
}

func isGuardError(err error) bool {
	return errors.Is(err, ErrAlreadyActive) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrClosed)
}
