package settings

import (
	"fmt"
	"math"

	lev "github.com/agnivade/levenshtein"
)

// MitigationStrategy selects how aggressively the backend responds to attacks.
type MitigationStrategy string

const (
	StrategyAdaptive     MitigationStrategy = "adaptive"
	StrategyAggressive   MitigationStrategy = "aggressive"
	StrategyConservative MitigationStrategy = "conservative"
)

// Valid reports whether s is one of the known strategies.
func (s MitigationStrategy) Valid() bool {
	switch s {
	case StrategyAdaptive, StrategyAggressive, StrategyConservative:
		return true
	}
	return false
}

var strategies = []MitigationStrategy{StrategyAdaptive, StrategyAggressive, StrategyConservative}

// suggestStrategy returns the known strategy closest to s, or "" when none
// is within two edits.
func suggestStrategy(s MitigationStrategy) MitigationStrategy {
	best, bestDist := MitigationStrategy(""), 3
	for _, known := range strategies {
		if d := lev.ComputeDistance(string(s), string(known)); d < bestDist {
			best, bestDist = known, d
		}
	}
	return best
}

// AlertThresholds are packet-rate thresholds proposed by the client. The
// backend is authoritative; the client only guarantees ordering before submit.
type AlertThresholds struct {
	Critical float64 `yaml:"critical" json:"critical"`
	High     float64 `yaml:"high" json:"high"`
	Medium   float64 `yaml:"medium" json:"medium"`
}

// DefaultThresholds mirrors the backend's factory settings.
func DefaultThresholds() AlertThresholds {
	return AlertThresholds{Critical: 1000, High: 750, Medium: 500}
}

// Validate enforces finite positive values and critical >= high >= medium.
func (t AlertThresholds) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"critical", t.Critical}, {"high", t.High}, {"medium", t.Medium}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &ValidationError{Field: f.name, Message: fmt.Sprintf("must be a finite number, got %g", f.v)}
		}
		if f.v <= 0 {
			return &ValidationError{Field: f.name, Message: fmt.Sprintf("must be positive, got %g", f.v)}
		}
	}
	if t.Critical < t.High {
		return &ValidationError{Field: "critical", Message: fmt.Sprintf("critical (%g) must be >= high (%g)", t.Critical, t.High)}
	}
	if t.High < t.Medium {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("high (%g) must be >= medium (%g)", t.High, t.Medium)}
	}
	return nil
}

// AdaptiveConfig is the adaptive-response policy submitted to the backend.
type AdaptiveConfig struct {
	Enabled            bool               `yaml:"enabled" json:"enabled"`
	AutoBlock          bool               `yaml:"auto_block" json:"autoBlock"`
	RateLimiting       bool               `yaml:"rate_limiting" json:"rateLimiting"`
	TrafficShaping     bool               `yaml:"traffic_shaping" json:"trafficShaping"`
	MitigationStrategy MitigationStrategy `yaml:"mitigation_strategy" json:"mitigationStrategy"`
}

// Validate checks the strategy name.
func (c AdaptiveConfig) Validate() error {
	if !c.MitigationStrategy.Valid() {
		msg := fmt.Sprintf("unknown strategy %q (want adaptive, aggressive or conservative)", c.MitigationStrategy)
		if hint := suggestStrategy(c.MitigationStrategy); hint != "" {
			msg = fmt.Sprintf("unknown strategy %q, did you mean %q?", c.MitigationStrategy, hint)
		}
		return &ValidationError{Field: "mitigationStrategy", Message: msg}
	}
	return nil
}

// ValidationError is a local rejection raised before anything is sent.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
