package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/coal/ddosguard/internal/gateway"
	"github.com/coal/ddosguard/internal/session"
	"github.com/coal/ddosguard/internal/settings"
)

//go:embed static/dashboard.html
var staticFS embed.FS

// Prefix is the path every dashboard route lives under.
const Prefix = "/_ddosguard"

const maxRequestBytes = 64 << 10

// Handler returns an http.Handler that serves the dashboard routes.
func Handler(hub *Hub) http.Handler {
	mux := http.NewServeMux()

	// Dashboard HTML
	mux.HandleFunc("GET "+Prefix+"/{$}", func(w http.ResponseWriter, r *http.Request) {
		data, err := staticFS.ReadFile("static/dashboard.html")
		if err != nil {
			http.Error(w, "dashboard not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write(data); err != nil {
			hub.logger.Debug().Err(err).Msg("writing dashboard page")
		}
	})

	// WebSocket feed
	mux.HandleFunc("GET "+Prefix+"/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // local operator tool; any origin
		})
		if err != nil {
			return
		}
		defer conn.CloseNow()

		// Clients never send anything; CloseRead ends ctx when they go away.
		ctx := conn.CloseRead(r.Context())
		hub.Register(ctx, conn)
		defer hub.Unregister(conn)
		<-ctx.Done()
	})

	mux.HandleFunc("GET "+Prefix+"/api/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(hub.logger, w, http.StatusOK, hub.ctl.Current())
	})

	mux.HandleFunc("GET "+Prefix+"/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(hub.logger, w, http.StatusOK, hub.StatsSnapshot())
	})

	mux.HandleFunc("GET "+Prefix+"/api/events", func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSON(hub.logger, w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		writeJSON(hub.logger, w, http.StatusOK, hub.Events().Recent(limit))
	})

	// Control endpoints. Each returns the session state after the operation.
	mux.HandleFunc("POST "+Prefix+"/api/start", func(w http.ResponseWriter, r *http.Request) {
		respond(w, hub, hub.ctl.Start(r.Context()))
	})

	mux.HandleFunc("POST "+Prefix+"/api/stop", func(w http.ResponseWriter, r *http.Request) {
		respond(w, hub, hub.ctl.Stop(r.Context()))
	})

	mux.HandleFunc("PUT "+Prefix+"/api/thresholds", func(w http.ResponseWriter, r *http.Request) {
		var t settings.AlertThresholds
		if !decodeBody(hub.logger, w, r, &t) {
			return
		}
		respond(w, hub, hub.ctl.UpdateThresholds(r.Context(), t))
	})

	mux.HandleFunc("POST "+Prefix+"/api/adaptive-response", func(w http.ResponseWriter, r *http.Request) {
		var c settings.AdaptiveConfig
		if !decodeBody(hub.logger, w, r, &c) {
			return
		}
		respond(w, hub, hub.ctl.UpdateAdaptiveConfig(r.Context(), c))
	})

	return mux
}

// Run starts the periodic stats broadcast in background.
func Run(ctx context.Context, hub *Hub) {
	go hub.StartStatsBroadcast(ctx, 5*time.Second)
}

type errorBody struct {
	Error   string         `json:"error"`
	Kind    string         `json:"kind,omitempty"`
	Session *session.State `json:"session,omitempty"`
}

func respond(w http.ResponseWriter, hub *Hub, err error) {
	st := hub.ctl.Current()
	if err == nil {
		writeJSON(hub.logger, w, http.StatusOK, st)
		return
	}
	writeJSON(hub.logger, w, statusCode(err), errorBody{
		Error:   err.Error(),
		Kind:    session.ErrorKindOf(err),
		Session: &st,
	})
}

func statusCode(err error) int {
	var verr *settings.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrAlreadyActive),
		errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	}
	if kind, ok := gateway.KindOf(err); ok && kind == gateway.KindTimeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func decodeBody(logger zerolog.Logger, w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(logger, w, http.StatusBadRequest, errorBody{Error: "decoding request body: " + err.Error()})
		return false
	}
	return true
}

// writeJSON sends v with the given status. Once the header is out a failed
// encode can only be logged; it usually means the client went away.
func writeJSON(logger zerolog.Logger, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Int("status", code).Msg("writing JSON response")
	}
}
