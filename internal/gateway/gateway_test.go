package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coal/ddosguard/internal/settings"
	"github.com/coal/ddosguard/internal/status"
)

type recordedRequest struct {
	method string
	path   string
	body   string
}

type requestLog struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (l *requestLog) all() []recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedRequest(nil), l.reqs...)
}

func newTestBackend(t *testing.T, handler http.HandlerFunc) (*Client, *requestLog) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log.mu.Lock()
		log.reqs = append(log.reqs, recordedRequest{method: r.Method, path: r.URL.Path, body: string(body)})
		log.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, time.Second, zerolog.Nop())
	require.NoError(t, err)
	return c, log
}

func respondOK(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", 0, zerolog.Nop())
	assert.Error(t, err)

	_, err = New("://nope", 0, zerolog.Nop())
	assert.Error(t, err)
}

func TestClient_CommandRoutes(t *testing.T) {
	c, reqs := newTestBackend(t, respondOK)
	ctx := context.Background()

	require.NoError(t, c.RequestStart(ctx))
	require.NoError(t, c.RequestStop(ctx))
	require.NoError(t, c.SubmitThresholds(ctx, settings.AlertThresholds{Critical: 1000, High: 750, Medium: 500}))
	require.NoError(t, c.SubmitAdaptiveConfig(ctx, settings.AdaptiveConfig{
		Enabled:            true,
		AutoBlock:          true,
		MitigationStrategy: settings.StrategyAggressive,
	}))

	got := reqs.all()
	require.Len(t, got, 4)
	assert.Equal(t, recordedRequest{http.MethodPost, PathStart, ""}, got[0])
	assert.Equal(t, recordedRequest{http.MethodPost, PathStop, ""}, got[1])

	assert.Equal(t, http.MethodPut, got[2].method)
	assert.Equal(t, PathThresholds, got[2].path)
	assert.JSONEq(t, `{"critical":1000,"high":750,"medium":500}`, got[2].body)

	assert.Equal(t, http.MethodPost, got[3].method)
	assert.Equal(t, PathAdaptiveResponse, got[3].path)
	assert.JSONEq(t, `{"enabled":true,"autoBlock":true,"rateLimiting":false,"trafficShaping":false,"mitigationStrategy":"aggressive"}`, got[3].body)
}

func TestClient_FetchSnapshot(t *testing.T) {
	c, reqs := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"active":           true,
			"packetsPerSecond": 120,
			"threatLevel":      "LOW",
		})
	})

	snap, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120.0, snap.PacketsPerSecond)
	assert.Equal(t, status.ThreatLow, snap.ThreatLevel)
	got := reqs.all()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodGet, got[0].method)
	assert.Equal(t, PathStatus, got[0].path)
}

func TestClient_ThresholdValidationNeverReachesNetwork(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		respondOK(w, r)
	})

	err := c.SubmitThresholds(context.Background(), settings.AlertThresholds{Critical: 100, High: 500, Medium: 200})
	var verr *settings.ValidationError
	require.ErrorAs(t, err, &verr)
	_, isGateway := KindOf(err)
	assert.False(t, isGateway, "validation errors are not gateway errors")
	assert.Equal(t, int32(0), hits.Load())

	for _, bad := range []settings.AlertThresholds{
		{Critical: 100, High: math.NaN(), Medium: 200},
		{Critical: math.NaN(), High: 500, Medium: 200},
		{Critical: math.Inf(1), High: 500, Medium: 200},
	} {
		err = c.SubmitThresholds(context.Background(), bad)
		require.ErrorAs(t, err, &verr, "thresholds %+v", bad)
		_, isGateway = KindOf(err)
		assert.False(t, isGateway)
	}
	assert.Equal(t, int32(0), hits.Load())

	err = c.SubmitAdaptiveConfig(context.Background(), settings.AdaptiveConfig{MitigationStrategy: "yolo"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, int32(0), hits.Load())
}

func TestClient_ServerRejected(t *testing.T) {
	c, _ := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"Monitoring is already active"}`))
	})

	err := c.RequestStart(context.Background())
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindServerRejected, gerr.Kind)
	assert.Equal(t, http.StatusBadRequest, gerr.StatusCode)
	assert.Equal(t, "Monitoring is already active", gerr.Detail)
	assert.Equal(t, "start", gerr.Op)
}

func TestClient_ServerRejectedPlainBody(t *testing.T) {
	c, _ := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.RequestStop(context.Background())
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindServerRejected, gerr.Kind)
	assert.Equal(t, "Bad Gateway", gerr.Detail)
}

func TestRejectionDetail_TruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", maxDetailBytes-1) + "é" + strings.Repeat("b", 50)

	got := rejectionDetail(http.StatusInternalServerError, []byte(body))
	assert.True(t, utf8.ValidString(got), "detail is not valid UTF-8: %q", got)
	assert.Equal(t, strings.Repeat("a", maxDetailBytes-1)+"...", got)

	short := "überlastet"
	assert.Equal(t, short, rejectionDetail(http.StatusServiceUnavailable, []byte(short)))
}

func TestClient_Malformed(t *testing.T) {
	c, _ := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"threatLevel": "NOT_A_LEVEL"}`))
	})

	_, err := c.FetchSnapshot(context.Background())
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindMalformed, kind)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(respondOK))
	url := srv.URL
	srv.Close()

	c, err := New(url, time.Second, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.FetchSnapshot(context.Background())
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindUnreachable, kind)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(srv.URL, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.FetchSnapshot(context.Background())
	kind, ok := KindOf(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, KindTimeout, kind)
}

func TestClient_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(srv.URL, time.Minute, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.RequestStart(ctx)
	kind, _ := KindOf(err)
	assert.Equal(t, KindTimeout, kind)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestKindOf_Wrapped(t *testing.T) {
	base := &Error{Kind: KindUnreachable, Op: "fetch_status", Detail: "connection refused"}
	wrapped := errors.Join(errors.New("poll"), base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindUnreachable, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}
