package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"minesafe-alerting/internal/alerting/application"
	alerting "minesafe-alerting/internal/alerting/domain"
	"minesafe-alerting/internal/alerting/infrastructure/actionlog"
	"minesafe-alerting/internal/alerting/infrastructure/postgres"
)

const timeLayout = time.RFC3339

// AlertReader lists live alerts.
type AlertReader interface {
	ListActiveAlerts() []alerting.ActiveAlert
}

// ThresholdWriter persists threshold changes.
type ThresholdWriter interface {
	Update(ctx context.Context, th alerting.Threshold) error
}

// Refresher requests an early threshold reload.
type Refresher interface {
	RequestRefresh()
}

// ActionLog records and reads operator actions.
type ActionLog interface {
	AppendAction(ctx context.Context, action string, actor *actionlog.Actor, details any) error
	Entries(ctx context.Context, q actionlog.Query) ([]actionlog.Entry, error)
}

// SensorLog reads logged telemetry payloads.
type SensorLog interface {
	Entries(ctx context.Context, q actionlog.SensorQuery) ([]map[string]any, error)
}

// EventHistory reads persisted alert events.
type EventHistory interface {
	ListEvents(ctx context.Context, q postgres.EventQuery) ([]alerting.AlertEvent, error)
}

// Dependencies wires the alerting HTTP endpoints. Alerts and Thresholds are
// required; endpoints backed by a nil dependency answer 503.
type Dependencies struct {
	Alerts          AlertReader
	Thresholds      application.SnapshotProvider
	ThresholdWriter ThresholdWriter
	Refresher       Refresher
	Actions         ActionLog
	Sensors         SensorLog
	History         EventHistory
	Logger          zerolog.Logger
}

// Handler provides alerting HTTP endpoints.
type Handler struct {
	deps Dependencies
}

// NewHandler constructs a handler.
func NewHandler(deps Dependencies) (*Handler, error) {
	if deps.Alerts == nil {
		return nil, errors.New("alerting handler: nil alert reader")
	}
	if deps.Thresholds == nil {
		return nil, errors.New("alerting handler: nil threshold provider")
	}
	return &Handler{deps: deps}, nil
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/active-alerts", h)
	mux.Handle("/api/v1/alert-events", h)
	mux.Handle("/api/v1/thresholds", h)
	mux.Handle("/api/v1/thresholds/", h)
	mux.Handle("/api/v1/logs/actions", h)
	mux.Handle("/api/v1/logs/actions/", h)
	mux.Handle("/api/v1/logs/sensor", h)
}

// ServeHTTP routes /api/v1 alerting requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/active-alerts":
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, h.deps.Alerts.ListActiveAlerts())
	case path == "/api/v1/alert-events":
		if !allow(w, r, http.MethodGet) {
			return
		}
		h.handleEvents(w, r)
	case path == "/api/v1/thresholds":
		if !allow(w, r, http.MethodGet) {
			return
		}
		h.handleListThresholds(w)
	case strings.HasPrefix(path, "/api/v1/thresholds/"):
		if !allow(w, r, http.MethodPut) {
			return
		}
		h.handleUpdateThreshold(w, r, strings.TrimPrefix(path, "/api/v1/thresholds/"))
	case path == "/api/v1/logs/actions":
		if !allow(w, r, http.MethodGet) {
			return
		}
		h.handleActions(w, r)
	case path == "/api/v1/logs/actions/export.xlsx", path == "/api/v1/logs/actions/export.pdf":
		if !allow(w, r, http.MethodGet) {
			return
		}
		h.handleExport(w, r, strings.TrimPrefix(path, "/api/v1/logs/actions/export."))
	case path == "/api/v1/logs/sensor":
		if !allow(w, r, http.MethodGet) {
			return
		}
		h.handleSensor(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		http.Error(w, "alert history not configured", http.StatusServiceUnavailable)
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := h.deps.History.ListEvents(r.Context(), postgres.EventQuery{
		Device: r.URL.Query().Get("device"),
		Since:  start,
		Until:  end,
		Limit:  limit,
	})
	if err != nil {
		h.deps.Logger.Error().Err(err).Msg("list alert events")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []alerting.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseRange reads optional start and end query bounds.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	start, err := parseTimeQuery(r, "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTimeQuery(r, "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end must not be before start")
	}
	return start, end, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New(key + " must be RFC3339 or YYYY-MM-DD")
}

func parseLimit(r *http.Request) (int, error) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}

// actorFrom reads the optional actor headers sent by the dashboard.
func actorFrom(r *http.Request) *actionlog.Actor {
	id := firstHeader(r, "X-Actor-Id", "X_emp_id")
	username := firstHeader(r, "X-Actor-Username", "X_username")
	if id == "" && username == "" {
		return nil
	}
	return &actionlog.Actor{EmpID: id, Username: username}
}

func firstHeader(r *http.Request, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(r.Header.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
