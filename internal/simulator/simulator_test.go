package simulator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coal/ddosguard/internal/gateway"
	"github.com/coal/ddosguard/internal/settings"
	"github.com/coal/ddosguard/internal/status"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newSim(opts Options) *Simulator {
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	return New(opts, zerolog.Nop())
}

func serve(t *testing.T, s *Simulator, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStartStop(t *testing.T) {
	s := newSim(Options{})

	rec := serve(t, s, http.MethodPost, "/monitoring/stop", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, s, http.MethodPost, "/monitoring/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.Active())

	rec = serve(t, s, http.MethodPost, "/monitoring/start", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already active")

	rec = serve(t, s, http.MethodPost, "/monitoring/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.Active())
}

func TestStatus_InactiveDecodes(t *testing.T) {
	s := newSim(Options{})
	rec := serve(t, s, http.MethodGet, "/monitoring/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	snap, err := status.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.False(t, snap.Active)
	assert.Equal(t, status.ThreatLow, snap.ThreatLevel)
}

func TestStatus_ActiveDecodes(t *testing.T) {
	s := newSim(Options{Blockchain: true})
	serve(t, s, http.MethodPost, "/monitoring/start", "")

	var last *status.Snapshot
	for i := 0; i < 10; i++ {
		rec := serve(t, s, http.MethodGet, "/monitoring/status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		snap, err := status.Decode(rec.Body.Bytes())
		require.NoError(t, err, rec.Body.String())
		assert.True(t, snap.Active)
		assert.GreaterOrEqual(t, snap.PacketsPerSecond, 300.0)
		assert.Less(t, snap.PacketsPerSecond, 1200.0)
		require.NotNil(t, snap.BlockchainStatus)
		assert.True(t, snap.BlockchainStatus.Connected)
		if last != nil {
			assert.Greater(t, snap.PacketsProcessed, last.PacketsProcessed)
		}
		last = snap
	}
	assert.NotEmpty(t, last.RecentAlerts, "rates above medium raise alerts")
}

func TestStatus_ThreatLevelFollowsThresholds(t *testing.T) {
	s := newSim(Options{MinRate: 100, MaxRate: 101})
	serve(t, s, http.MethodPost, "/monitoring/start", "")

	rec := serve(t, s, http.MethodPut, "/monitoring/thresholds", `{"critical":50,"high":20,"medium":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, s, http.MethodGet, "/monitoring/status", "")
	snap, err := status.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, status.ThreatCritical, snap.ThreatLevel)
	assert.Equal(t, int64(1), snap.AttackStatistics.TotalAttacks)
	assert.Equal(t, int64(1), snap.AttackStatistics.MitigationCounts.BlocksApplied)
}

func TestStatus_NoBlockchainWhenDisabled(t *testing.T) {
	s := newSim(Options{})
	serve(t, s, http.MethodPost, "/monitoring/start", "")
	rec := serve(t, s, http.MethodGet, "/monitoring/status", "")
	assert.NotContains(t, rec.Body.String(), "blockchainStatus")
}

func TestUpdateThresholds(t *testing.T) {
	s := newSim(Options{})

	rec := serve(t, s, http.MethodPut, "/monitoring/thresholds", `{"critical":2000,"high":1500,"medium":800}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, settings.AlertThresholds{Critical: 2000, High: 1500, Medium: 800}, s.Thresholds())

	rec = serve(t, s, http.MethodPut, "/monitoring/thresholds", `{"critical":100,"high":1500,"medium":800}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "detail")
	assert.Equal(t, 2000.0, s.Thresholds().Critical)

	rec = serve(t, s, http.MethodPut, "/monitoring/thresholds", `not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateAdaptive(t *testing.T) {
	s := newSim(Options{})

	rec := serve(t, s, http.MethodPost, "/monitoring/adaptive-response",
		`{"enabled":true,"autoBlock":false,"rateLimiting":true,"trafficShaping":true,"mitigationStrategy":"aggressive"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, settings.StrategyAggressive, s.AdaptiveConfig().MitigationStrategy)
	assert.False(t, s.AdaptiveConfig().AutoBlock)

	rec = serve(t, s, http.MethodPost, "/monitoring/adaptive-response", `{"mitigationStrategy":"reckless"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGatewayAgainstSimulator(t *testing.T) {
	s := newSim(Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	gw, err := gateway.New(srv.URL, time.Second, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, gw.RequestStart(ctx))

	err = gw.RequestStart(ctx)
	kind, ok := gateway.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, gateway.KindServerRejected, kind)
	assert.Contains(t, err.Error(), "Monitoring is already active")

	snap, err := gw.FetchSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Active)

	require.NoError(t, gw.SubmitThresholds(ctx, settings.AlertThresholds{Critical: 900, High: 600, Medium: 300}))
	assert.Equal(t, 900.0, s.Thresholds().Critical)

	require.NoError(t, gw.RequestStop(ctx))
	assert.False(t, s.Active())
}
