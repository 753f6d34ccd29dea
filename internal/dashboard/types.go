package dashboard

import (
	"time"

	"github.com/coal/ddosguard/internal/session"
)

// DashboardEvent wraps a session Event with a unique dashboard ID.
type DashboardEvent struct {
	ID string `json:"id"`
	session.Event
}

// WSMessage is the envelope for all WebSocket messages.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// StatsSnapshot is a point-in-time snapshot of accumulated statistics.
type StatsSnapshot struct {
	TotalPolls          uint64            `json:"total_polls"`
	FailedPolls         uint64            `json:"failed_polls"`
	AvgPacketsPerSecond float64           `json:"avg_packets_per_second"`
	PeakPacketsPerSec   float64           `json:"peak_packets_per_second"`
	LastThreatLevel     string            `json:"last_threat_level,omitempty"`
	EventCounts         map[string]uint64 `json:"event_counts"`
	ThreatCounts        map[string]uint64 `json:"threat_counts"`
	ErrorKindCounts     map[string]uint64 `json:"error_kind_counts"`
	TimeSeries          []TimeSeriesPoint `json:"time_series"`
}

// TimeSeriesPoint is a single point in the 60-minute time series.
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Polls     uint64    `json:"polls"`
	Failures  uint64    `json:"failures"`
}

// InitialState is sent to clients on WebSocket connect.
type InitialState struct {
	Session session.State     `json:"session"`
	Events  []*DashboardEvent `json:"events"`
	Stats   *StatsSnapshot    `json:"stats"`
}
