package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/coal/ddosguard/internal/settings"
	"github.com/coal/ddosguard/internal/status"
)

// Backend paths.
const (
	PathStatus           = "/monitoring/status"
	PathStart            = "/monitoring/start"
	PathStop             = "/monitoring/stop"
	PathThresholds       = "/monitoring/thresholds"
	PathAdaptiveResponse = "/monitoring/adaptive-response"
)

// DefaultTimeout bounds a single request. It is kept below the poll interval.
const DefaultTimeout = 4 * time.Second

const maxBodyBytes = 4 << 20

// maxDetailBytes caps raw response text copied into an Error.
const maxDetailBytes = 200

// Client talks to the monitoring backend over HTTP. It never retries and
// keeps no state between calls.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger zerolog.Logger
}

// New creates a Client for the backend at backendURL.
func New(backendURL string, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	target, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("backend URL %q: scheme must be http or https", backendURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		base: target,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: logger.With().Str("backend", target.String()).Logger(),
	}, nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// RequestStart asks the backend to begin monitoring.
func (c *Client) RequestStart(ctx context.Context) error {
	_, err := c.do(ctx, "start", http.MethodPost, PathStart, nil)
	return err
}

// RequestStop asks the backend to end monitoring.
func (c *Client) RequestStop(ctx context.Context) error {
	_, err := c.do(ctx, "stop", http.MethodPost, PathStop, nil)
	return err
}

// FetchSnapshot reads the current status.
func (c *Client) FetchSnapshot(ctx context.Context) (*status.Snapshot, error) {
	body, err := c.do(ctx, "fetch_status", http.MethodGet, PathStatus, nil)
	if err != nil {
		return nil, err
	}
	snap, err := status.Decode(body)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Op: "fetch_status", Detail: err.Error(), Err: err}
	}
	return snap, nil
}

// SubmitThresholds sends new alert thresholds. Out-of-order thresholds are
// rejected with a *settings.ValidationError without touching the network.
func (c *Client) SubmitThresholds(ctx context.Context, t settings.AlertThresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := c.do(ctx, "update_thresholds", http.MethodPut, PathThresholds, t)
	return err
}

// SubmitAdaptiveConfig sends a new adaptive-response configuration.
func (c *Client) SubmitAdaptiveConfig(ctx context.Context, cfg settings.AdaptiveConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := c.do(ctx, "update_adaptive_response", http.MethodPost, PathAdaptiveResponse, cfg)
	return err
}

// do performs one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Kind: KindMalformed, Op: op, Detail: "encoding request: " + err.Error(), Err: err}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reqBody)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Op: op, Detail: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		gerr := transportError(op, err)
		c.logger.Debug().Str("op", op).Str("kind", string(gerr.Kind)).Err(err).Msg("request failed")
		return nil, gerr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(op, err)
	}

	c.logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("backend response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:       KindServerRejected,
			Op:         op,
			StatusCode: resp.StatusCode,
			Detail:     rejectionDetail(resp.StatusCode, body),
		}
	}
	return body, nil
}

// rejectionDetail pulls a message out of {"detail": ...} bodies and falls
// back to the raw text.
func rejectionDetail(code int, body []byte) string {
	var fastapi struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &fastapi); err == nil && len(fastapi.Detail) > 0 {
		var s string
		if json.Unmarshal(fastapi.Detail, &s) == nil {
			return s
		}
		return string(fastapi.Detail)
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(code)
	}
	if len(text) > maxDetailBytes {
		cut := maxDetailBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}
