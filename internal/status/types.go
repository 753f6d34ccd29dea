package status

import (
	"fmt"
	"strings"
	"time"
)

// ThreatLevel is the backend's coarse threat classification.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

var threatRanks = map[ThreatLevel]int{
	ThreatLow:      0,
	ThreatMedium:   1,
	ThreatHigh:     2,
	ThreatCritical: 3,
}

// ParseThreatLevel accepts the four levels case-insensitively.
func ParseThreatLevel(s string) (ThreatLevel, error) {
	lvl := ThreatLevel(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := threatRanks[lvl]; !ok {
		return "", fmt.Errorf("unknown threat level %q", s)
	}
	return lvl, nil
}

// Rank orders levels from LOW (0) to CRITICAL (3). Unknown levels rank -1.
func (l ThreatLevel) Rank() int {
	r, ok := threatRanks[l]
	if !ok {
		return -1
	}
	return r
}

// UnmarshalText rejects anything outside the four known levels.
func (l *ThreatLevel) UnmarshalText(text []byte) error {
	lvl, err := ParseThreatLevel(string(text))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// Alert is a single entry of the backend's recent alert list.
type Alert struct {
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}

// MitigationCounts tallies the mitigations the backend has applied.
type MitigationCounts struct {
	BlocksApplied       int64 `json:"blocksApplied"`
	RateLimitsActivated int64 `json:"rateLimitsActivated"`
	TrafficShaped       int64 `json:"trafficShaped"`
}

// AttackStatistics summarizes detected attacks.
type AttackStatistics struct {
	TotalAttacks     int64            `json:"totalAttacks"`
	AttackTypeCounts map[string]int64 `json:"attackTypeCounts"`
	MitigationCounts MitigationCounts `json:"mitigationCounts"`
}

// BlockchainStatus reports the attack ledger connection. A nil *BlockchainStatus
// on a Snapshot means the feature is disabled upstream; Connected=false means
// the feature is enabled but the ledger is unreachable.
type BlockchainStatus struct {
	Connected             bool  `json:"connected"`
	LastBlock             int64 `json:"lastBlock"`
	TransactionsProcessed int64 `json:"transactionsProcessed"`
	AttackRecords         int64 `json:"attackRecords"`
}

// Trend is the short-term traffic outlook.
type Trend struct {
	PacketRateTrend   string  `json:"packetRateTrend"`
	AttackProbability float64 `json:"attackProbability"`
}

// PredictiveAnalysis is the backend's forecast.
type PredictiveAnalysis struct {
	PredictedThreatLevel ThreatLevel `json:"predictedThreatLevel"`
	ConfidenceScore      float64     `json:"confidenceScore"`
	Trend                Trend       `json:"trend"`
}

// AdaptiveResponseStatus reports what the adaptive responder is doing.
type AdaptiveResponseStatus struct {
	Enabled           bool    `json:"enabled"`
	CurrentStrategy   string  `json:"currentStrategy"`
	Effectiveness     float64 `json:"effectiveness"`
	ActiveMitigations int64   `json:"activeMitigations"`
}

// Snapshot is one atomic status read from the monitoring backend.
//
// Snapshots are treated as immutable once decoded: consumers replace the whole
// value on every poll and must not modify the maps or slices they hold.
type Snapshot struct {
	Active                 bool                   `json:"active"`
	UptimeSeconds          float64                `json:"uptimeSeconds"`
	PacketsProcessed       int64                  `json:"packetsProcessed"`
	PacketsPerSecond       float64                `json:"packetsPerSecond"`
	ThreatLevel            ThreatLevel            `json:"threatLevel"`
	RecentAlerts           []Alert                `json:"recentAlerts"`
	AttackStatistics       AttackStatistics       `json:"attackStatistics"`
	BlockchainStatus       *BlockchainStatus      `json:"blockchainStatus,omitempty"`
	PredictiveAnalysis     PredictiveAnalysis     `json:"predictiveAnalysis"`
	AdaptiveResponseStatus AdaptiveResponseStatus `json:"adaptiveResponseStatus"`
}

// Uptime returns UptimeSeconds as a duration.
func (s *Snapshot) Uptime() time.Duration {
	return time.Duration(s.UptimeSeconds * float64(time.Second))
}

// BlockchainEnabled reports whether the backend publishes ledger status at all.
func (s *Snapshot) BlockchainEnabled() bool {
	return s.BlockchainStatus != nil
}

// Validate checks the numeric ranges the client relies on.
func (s *Snapshot) Validate() error {
	if s.PacketsProcessed < 0 {
		return fmt.Errorf("packetsProcessed is negative: %d", s.PacketsProcessed)
	}
	if s.PacketsPerSecond < 0 {
		return fmt.Errorf("packetsPerSecond is negative: %g", s.PacketsPerSecond)
	}
	if s.UptimeSeconds < 0 {
		return fmt.Errorf("uptimeSeconds is negative: %g", s.UptimeSeconds)
	}
	if s.ThreatLevel.Rank() < 0 {
		return fmt.Errorf("threatLevel is missing or unknown: %q", s.ThreatLevel)
	}
	if p := s.PredictiveAnalysis.PredictedThreatLevel; p != "" && p.Rank() < 0 {
		return fmt.Errorf("predictedThreatLevel is unknown: %q", p)
	}

	unit := []struct {
		name string
		v    float64
	}{
		{"predictiveAnalysis.confidenceScore", s.PredictiveAnalysis.ConfidenceScore},
		{"predictiveAnalysis.trend.attackProbability", s.PredictiveAnalysis.Trend.AttackProbability},
		{"adaptiveResponseStatus.effectiveness", s.AdaptiveResponseStatus.Effectiveness},
	}
	for _, f := range unit {
		if f.v < 0 || f.v > 1 {
			return fmt.Errorf("%s out of [0,1]: %g", f.name, f.v)
		}
	}
	return nil
}
