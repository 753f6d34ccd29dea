package cmd

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/coal/ddosguard/internal/gateway"
	"github.com/coal/ddosguard/internal/session"
	"github.com/coal/ddosguard/internal/status"
)

func testSnapshot() *status.Snapshot {
	return &status.Snapshot{
		Active:           true,
		UptimeSeconds:    185,
		PacketsProcessed: 1234567,
		PacketsPerSecond: 812.34,
		ThreatLevel:      status.ThreatHigh,
		RecentAlerts: []status.Alert{
			{Kind: "rate_threshold", Message: "packet rate above HIGH threshold", OccurredAt: time.Now().Add(-time.Minute)},
		},
		AttackStatistics: status.AttackStatistics{
			TotalAttacks:     3,
			AttackTypeCounts: map[string]int64{"udp_flood": 1, "syn_flood": 2},
		},
		AdaptiveResponseStatus: status.AdaptiveResponseStatus{Enabled: true, CurrentStrategy: "adaptive", ActiveMitigations: 2, Effectiveness: 0.8},
	}
}

func TestStateLine(t *testing.T) {
	line := stateLine(session.State{Phase: session.PhaseActive, Snapshot: testSnapshot(), UpdatedAt: time.Now()})
	assert.Contains(t, line, "ACTIVE")
	assert.Contains(t, line, "threat=HIGH")
	assert.Contains(t, line, "pps=812.3")
	assert.Contains(t, line, "packets=1,234,567")
	assert.Contains(t, line, "alerts=1")
	assert.NotContains(t, line, "error")

	line = stateLine(session.State{
		Phase: session.PhaseActive,
		Err:   &gateway.Error{Kind: gateway.KindTimeout, Op: "status", Detail: "deadline exceeded"},
	})
	assert.Contains(t, line, "error[timeout]")

	line = stateLine(session.State{Phase: session.PhaseIdle, Err: errors.New("boom")})
	assert.Contains(t, line, "IDLE")
	assert.Contains(t, line, "error[internal]")
}

func TestPrintSnapshot(t *testing.T) {
	var buf bytes.Buffer
	printSnapshot(&buf, testSnapshot())
	out := buf.String()

	assert.Contains(t, out, "Monitoring:      active")
	assert.Contains(t, out, "Threat level:    HIGH")
	assert.Contains(t, out, "Packets total:   1,234,567")
	assert.Contains(t, out, "Blockchain:      disabled")
	assert.Contains(t, out, "Recent alerts:")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("syn_flood")), bytes.Index(buf.Bytes(), []byte("udp_flood")))

	s := testSnapshot()
	s.BlockchainStatus = &status.BlockchainStatus{Connected: false}
	buf.Reset()
	printSnapshot(&buf, s)
	assert.Contains(t, buf.String(), "NOT CONNECTED")
}
