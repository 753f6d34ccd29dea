package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/coal/ddosguard/internal/session"
	"github.com/coal/ddosguard/internal/status"
)

// stateLine renders a session state as one log-friendly line.
func stateLine(st session.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-8s", st.UpdatedAt.Local().Format("15:04:05"), strings.ToUpper(st.Phase.String()))
	if s := st.Snapshot; s != nil {
		fmt.Fprintf(&b, " threat=%-8s pps=%s packets=%s uptime=%s alerts=%d",
			s.ThreatLevel,
			humanize.CommafWithDigits(s.PacketsPerSecond, 1),
			humanize.Comma(s.PacketsProcessed),
			uptime(s.Uptime()),
			len(s.RecentAlerts))
	}
	if st.Err != nil {
		fmt.Fprintf(&b, " error[%s]=%q", st.ErrorKind(), st.Err.Error())
	}
	return b.String()
}

// printSnapshot writes a multi-line report of s.
func printSnapshot(w io.Writer, s *status.Snapshot) {
	state := "inactive"
	if s.Active {
		state = "active"
	}
	fmt.Fprintf(w, "Monitoring:      %s\n", state)
	fmt.Fprintf(w, "Uptime:          %s\n", uptime(s.Uptime()))
	fmt.Fprintf(w, "Threat level:    %s\n", s.ThreatLevel)
	fmt.Fprintf(w, "Packets/s:       %s\n", humanize.CommafWithDigits(s.PacketsPerSecond, 1))
	fmt.Fprintf(w, "Packets total:   %s\n", humanize.Comma(s.PacketsProcessed))

	stats := s.AttackStatistics
	fmt.Fprintf(w, "Attacks:         %s\n", humanize.Comma(stats.TotalAttacks))
	for _, k := range sortedKeys(stats.AttackTypeCounts) {
		fmt.Fprintf(w, "  %-14s %s\n", k, humanize.Comma(stats.AttackTypeCounts[k]))
	}
	mc := stats.MitigationCounts
	fmt.Fprintf(w, "Mitigations:     %s blocks, %s rate limits, %s shaped\n",
		humanize.Comma(mc.BlocksApplied), humanize.Comma(mc.RateLimitsActivated), humanize.Comma(mc.TrafficShaped))

	pa := s.PredictiveAnalysis
	fmt.Fprintf(w, "Forecast:        %s (%.0f%% confidence), trend %s, attack probability %.0f%%\n",
		orDash(string(pa.PredictedThreatLevel)), pa.ConfidenceScore*100, orDash(pa.Trend.PacketRateTrend), pa.Trend.AttackProbability*100)

	ar := s.AdaptiveResponseStatus
	if ar.Enabled {
		fmt.Fprintf(w, "Adaptive:        %s, %d active, %.0f%% effective\n", orDash(ar.CurrentStrategy), ar.ActiveMitigations, ar.Effectiveness*100)
	} else {
		fmt.Fprintf(w, "Adaptive:        disabled\n")
	}

	switch bc := s.BlockchainStatus; {
	case bc == nil:
		fmt.Fprintf(w, "Blockchain:      disabled\n")
	case !bc.Connected:
		fmt.Fprintf(w, "Blockchain:      NOT CONNECTED\n")
	default:
		fmt.Fprintf(w, "Blockchain:      block %s, %s tx, %s attack records\n",
			humanize.Comma(bc.LastBlock), humanize.Comma(bc.TransactionsProcessed), humanize.Comma(bc.AttackRecords))
	}

	if len(s.RecentAlerts) == 0 {
		return
	}
	fmt.Fprintf(w, "Recent alerts:\n")
	for _, a := range s.RecentAlerts {
		fmt.Fprintf(w, "  %-14s %-20s %s\n", humanize.Time(a.OccurredAt), a.Kind, a.Message)
	}
}

func uptime(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return strings.TrimSpace(humanize.RelTime(time.Now().Add(-d), time.Now(), "", ""))
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
