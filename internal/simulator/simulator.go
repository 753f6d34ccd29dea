package simulator

import (
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/coal/ddosguard/internal/settings"
	"github.com/coal/ddosguard/internal/status"
)

const maxAlerts = 20

var attackTypes = []string{"syn_flood", "udp_flood", "http_flood", "icmp_flood"}

// Options tunes the simulated backend.
type Options struct {
	Seed       int64
	Blockchain bool
	// MinRate and MaxRate bound the simulated packets-per-second.
	MinRate float64
	MaxRate float64
}

// Simulator is an in-memory stand-in for the monitoring backend. It serves
// the same HTTP contract with random traffic figures.
type Simulator struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	rng         *rand.Rand
	active      bool
	startedAt   time.Time
	packets     int64
	lastRate    float64
	thresholds  settings.AlertThresholds
	adaptive    settings.AdaptiveConfig
	alerts      []status.Alert
	attacks     map[string]int64
	mitigations status.MitigationCounts
	lastBlock   int64
	txCount     int64
}

// New creates an inactive Simulator with the backend's factory thresholds.
func New(opts Options, logger zerolog.Logger) *Simulator {
	if opts.MinRate <= 0 {
		opts.MinRate = 300
	}
	if opts.MaxRate <= opts.MinRate {
		opts.MaxRate = 1200
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		opts:       opts,
		logger:     logger.With().Str("component", "simulator").Logger(),
		now:        time.Now,
		rng:        rand.New(rand.NewSource(seed)),
		thresholds: settings.DefaultThresholds(),
		adaptive: settings.AdaptiveConfig{
			Enabled:            true,
			AutoBlock:          true,
			RateLimiting:       true,
			MitigationStrategy: settings.StrategyAdaptive,
		},
		attacks: make(map[string]int64),
	}
}

// Handler returns a gin engine serving the monitoring routes.
func (s *Simulator) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	s.Register(r)
	return r
}

// Register mounts the monitoring routes on r.
func (s *Simulator) Register(r gin.IRouter) {
	mon := r.Group("/monitoring")
	{
		mon.GET("/status", s.getStatus)
		mon.POST("/start", s.start)
		mon.POST("/stop", s.stop)
		mon.PUT("/thresholds", s.updateThresholds)
		mon.POST("/adaptive-response", s.updateAdaptive)
	}
}

// Thresholds returns the thresholds currently in force.
func (s *Simulator) Thresholds() settings.AlertThresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholds
}

// AdaptiveConfig returns the adaptive-response configuration in force.
func (s *Simulator) AdaptiveConfig() settings.AdaptiveConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adaptive
}

// Active reports whether monitoring is running.
func (s *Simulator) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Simulator) getStatus(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		c.JSON(http.StatusOK, status.Snapshot{
			ThreatLevel:        status.ThreatLow,
			PredictiveAnalysis: status.PredictiveAnalysis{PredictedThreatLevel: status.ThreatLow},
		})
		return
	}
	c.JSON(http.StatusOK, s.tickLocked())
}

func (s *Simulator) start(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Monitoring is already active"})
		return
	}
	s.active = true
	s.startedAt = s.now()
	s.packets = 0
	s.lastRate = 0
	s.logger.Info().Msg("monitoring started")
	c.JSON(http.StatusOK, gin.H{"status": "Monitoring started"})
}

func (s *Simulator) stop(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Monitoring is not active"})
		return
	}
	s.active = false
	s.startedAt = time.Time{}
	s.logger.Info().Msg("monitoring stopped")
	c.JSON(http.StatusOK, gin.H{"status": "Monitoring stopped"})
}

func (s *Simulator) updateThresholds(c *gin.Context) {
	var t settings.AlertThresholds
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	if err := t.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	s.thresholds = t
	s.mu.Unlock()

	s.logger.Info().Float64("critical", t.Critical).Float64("high", t.High).Float64("medium", t.Medium).Msg("thresholds updated")
	c.JSON(http.StatusOK, gin.H{"status": "Thresholds updated", "new_thresholds": t})
}

func (s *Simulator) updateAdaptive(c *gin.Context) {
	var cfg settings.AdaptiveConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	s.adaptive = cfg
	s.mu.Unlock()

	s.logger.Info().Bool("enabled", cfg.Enabled).Str("strategy", string(cfg.MitigationStrategy)).Msg("adaptive response updated")
	c.JSON(http.StatusOK, gin.H{"status": "Adaptive response updated"})
}

// tickLocked advances the simulation by one status read.
func (s *Simulator) tickLocked() status.Snapshot {
	now := s.now()
	rate := s.opts.MinRate + s.rng.Float64()*(s.opts.MaxRate-s.opts.MinRate)
	s.packets += int64(rate)
	level := s.levelFor(rate)

	if rate > s.thresholds.Medium {
		s.alerts = append([]status.Alert{{
			Kind:       "rate_threshold",
			Message:    "packet rate above " + string(level) + " threshold",
			OccurredAt: now.UTC(),
		}}, s.alerts...)
		if len(s.alerts) > maxAlerts {
			s.alerts = s.alerts[:maxAlerts]
		}
	}
	if level.Rank() >= status.ThreatHigh.Rank() {
		s.attacks[attackTypes[s.rng.Intn(len(attackTypes))]]++
		s.mitigateLocked()
	}

	trend := "stable"
	switch {
	case s.lastRate == 0:
	case rate > s.lastRate*1.05:
		trend = "increasing"
	case rate < s.lastRate*0.95:
		trend = "decreasing"
	}
	s.lastRate = rate

	var total int64
	for _, n := range s.attacks {
		total += n
	}

	snap := status.Snapshot{
		Active:           true,
		UptimeSeconds:    math.Floor(now.Sub(s.startedAt).Seconds()),
		PacketsProcessed: s.packets,
		PacketsPerSecond: rate,
		ThreatLevel:      level,
		RecentAlerts:     append([]status.Alert(nil), s.alerts...),
		AttackStatistics: status.AttackStatistics{
			TotalAttacks:     total,
			AttackTypeCounts: copyCounts(s.attacks),
			MitigationCounts: s.mitigations,
		},
		PredictiveAnalysis: status.PredictiveAnalysis{
			PredictedThreatLevel: s.levelFor(rate * 1.1),
			ConfidenceScore:      0.6 + s.rng.Float64()*0.35,
			Trend: status.Trend{
				PacketRateTrend:   trend,
				AttackProbability: math.Min(1, rate/s.thresholds.Critical),
			},
		},
		AdaptiveResponseStatus: status.AdaptiveResponseStatus{
			Enabled:           s.adaptive.Enabled,
			CurrentStrategy:   string(s.adaptive.MitigationStrategy),
			Effectiveness:     0.7 + s.rng.Float64()*0.25,
			ActiveMitigations: s.activeMitigationsLocked(),
		},
	}

	if s.opts.Blockchain {
		s.lastBlock++
		s.txCount += int64(1 + s.rng.Intn(5))
		snap.BlockchainStatus = &status.BlockchainStatus{
			Connected:             true,
			LastBlock:             s.lastBlock,
			TransactionsProcessed: s.txCount,
			AttackRecords:         total,
		}
	}
	return snap
}

func (s *Simulator) levelFor(rate float64) status.ThreatLevel {
	switch {
	case rate >= s.thresholds.Critical:
		return status.ThreatCritical
	case rate >= s.thresholds.High:
		return status.ThreatHigh
	case rate >= s.thresholds.Medium:
		return status.ThreatMedium
	}
	return status.ThreatLow
}

func (s *Simulator) mitigateLocked() {
	if !s.adaptive.Enabled {
		return
	}
	if s.adaptive.AutoBlock {
		s.mitigations.BlocksApplied++
	}
	if s.adaptive.RateLimiting {
		s.mitigations.RateLimitsActivated++
	}
	if s.adaptive.TrafficShaping {
		s.mitigations.TrafficShaped++
	}
}

func (s *Simulator) activeMitigationsLocked() int64 {
	if !s.adaptive.Enabled {
		return 0
	}
	var n int64
	for _, on := range []bool{s.adaptive.AutoBlock, s.adaptive.RateLimiting, s.adaptive.TrafficShaping} {
		if on {
			n++
		}
	}
	return n
}

// requestLogger logs each request through zerolog.
func (s *Simulator) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	c := make(map[string]int64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
