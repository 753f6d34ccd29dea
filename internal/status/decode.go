package status

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// legacyEnvelope is the shape served by the first-generation demo backend:
// {"status": "active", "stats": {...}} with snake_case stats.
type legacyEnvelope struct {
	Status string       `json:"status"`
	Stats  *legacyStats `json:"stats"`
}

type legacyStats struct {
	PacketsProcessed   int64   `json:"packets_processed"`
	PacketsPerSecond   float64 `json:"packets_per_second"`
	AlertsTriggered    int64   `json:"alerts_triggered"`
	Uptime             float64 `json:"uptime"`
	CurrentThreatLevel string  `json:"current_threat_level"`
	LastAlertTime      *string `json:"last_alert_time"`
}

// Decode parses a status response body into a validated Snapshot.
// Recent alerts are returned newest first.
func Decode(data []byte) (*Snapshot, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}

	var snap *Snapshot
	var err error
	if isLegacy(probe) {
		snap, err = decodeLegacy(data)
	} else {
		snap = &Snapshot{}
		err = json.Unmarshal(data, snap)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}

	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("validating status: %w", err)
	}
	sortAlertsNewestFirst(snap.RecentAlerts)
	return snap, nil
}

func isLegacy(probe map[string]json.RawMessage) bool {
	_, hasStats := probe["stats"]
	_, hasStatus := probe["status"]
	_, hasLevel := probe["threatLevel"]
	return hasStats && hasStatus && !hasLevel
}

func decodeLegacy(data []byte) (*Snapshot, error) {
	var env legacyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Active:      env.Status == "active",
		ThreatLevel: ThreatLow,
	}
	if env.Stats == nil {
		return snap, nil
	}

	st := env.Stats
	lvl := ThreatLow
	if st.CurrentThreatLevel != "" {
		parsed, err := ParseThreatLevel(st.CurrentThreatLevel)
		if err != nil {
			return nil, err
		}
		lvl = parsed
	}

	snap.UptimeSeconds = st.Uptime
	snap.PacketsProcessed = st.PacketsProcessed
	snap.PacketsPerSecond = st.PacketsPerSecond
	snap.ThreatLevel = lvl

	if st.LastAlertTime != nil && *st.LastAlertTime != "" {
		at, err := time.Parse(time.RFC3339, *st.LastAlertTime)
		if err != nil {
			return nil, fmt.Errorf("parsing last_alert_time: %w", err)
		}
		snap.RecentAlerts = []Alert{{
			Kind:       "threshold_exceeded",
			Message:    fmt.Sprintf("%d alert(s) triggered at %s threat level", st.AlertsTriggered, lvl),
			OccurredAt: at,
		}}
	}
	return snap, nil
}

func sortAlertsNewestFirst(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].OccurredAt.After(alerts[j].OccurredAt)
	})
}
