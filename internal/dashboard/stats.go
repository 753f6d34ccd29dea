package dashboard

import (
	"sync"
	"time"

	"github.com/coal/ddosguard/internal/session"
)

const timeSeriesMinutes = 60

// Stats accumulates poll statistics from session events.
type Stats struct {
	mu  sync.RWMutex
	now func() time.Time

	totalPolls  uint64
	failedPolls uint64
	ppsSum      float64
	ppsPeak     float64
	lastLevel   string

	eventCounts  map[string]uint64
	threatCounts map[string]uint64
	errorKinds   map[string]uint64

	// Per-minute buckets for the last 60 minutes
	timeBuckets [timeSeriesMinutes]timeBucket
}

type timeBucket struct {
	minute   time.Time // truncated to minute
	polls    uint64
	failures uint64
}

// NewStats creates a new stats accumulator.
func NewStats() *Stats {
	return &Stats{
		now:          time.Now,
		eventCounts:  make(map[string]uint64),
		threatCounts: make(map[string]uint64),
		errorKinds:   make(map[string]uint64),
	}
}

// Record ingests a single session event.
func (s *Stats) Record(event *DashboardEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventCounts[string(event.Type)]++
	if event.ErrorKind != "" {
		s.errorKinds[event.ErrorKind]++
	}

	var poll, failed bool
	switch event.Type {
	case session.EventPoll:
		poll = true
		s.totalPolls++
		s.ppsSum += event.PacketsPerSecond
		if event.PacketsPerSecond > s.ppsPeak {
			s.ppsPeak = event.PacketsPerSecond
		}
		if event.ThreatLevel != "" {
			s.lastLevel = string(event.ThreatLevel)
			s.threatCounts[s.lastLevel]++
		}
	case session.EventPollError:
		poll, failed = true, true
		s.failedPolls++
	default:
		return
	}

	minute := event.Timestamp.UTC().Truncate(time.Minute)
	idx := minute.Minute() % timeSeriesMinutes
	if s.timeBuckets[idx].minute != minute {
		s.timeBuckets[idx] = timeBucket{minute: minute}
	}
	if poll {
		s.timeBuckets[idx].polls++
	}
	if failed {
		s.timeBuckets[idx].failures++
	}
}

// Snapshot returns a point-in-time copy of the stats.
func (s *Stats) Snapshot() *StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &StatsSnapshot{
		TotalPolls:        s.totalPolls,
		FailedPolls:       s.failedPolls,
		PeakPacketsPerSec: s.ppsPeak,
		LastThreatLevel:   s.lastLevel,
		EventCounts:       copyMap(s.eventCounts),
		ThreatCounts:      copyMap(s.threatCounts),
		ErrorKindCounts:   copyMap(s.errorKinds),
	}
	if s.totalPolls > 0 {
		snap.AvgPacketsPerSecond = s.ppsSum / float64(s.totalPolls)
	}

	// Last 60 minutes, chronological; minutes without polls are zero.
	now := s.now().UTC().Truncate(time.Minute)
	cutoff := now.Add(-timeSeriesMinutes * time.Minute)
	snap.TimeSeries = make([]TimeSeriesPoint, 0, timeSeriesMinutes)
	for i := 0; i < timeSeriesMinutes; i++ {
		t := cutoff.Add(time.Duration(i+1) * time.Minute)
		b := s.timeBuckets[t.Minute()%timeSeriesMinutes]
		if b.minute.Equal(t) {
			snap.TimeSeries = append(snap.TimeSeries, TimeSeriesPoint{Timestamp: t, Polls: b.polls, Failures: b.failures})
		} else {
			snap.TimeSeries = append(snap.TimeSeries, TimeSeriesPoint{Timestamp: t})
		}
	}
	return snap
}

func copyMap(m map[string]uint64) map[string]uint64 {
	c := make(map[string]uint64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
