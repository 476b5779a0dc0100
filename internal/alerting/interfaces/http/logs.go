package http

import (
	"fmt"
	"net/http"
	"time"

	"minesafe-alerting/internal/alerting/infrastructure/actionlog"
	"minesafe-alerting/internal/observability/metrics"
)

func (h *Handler) handleActions(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.loadActions(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	entries, ok := h.loadActions(w, r)
	if !ok {
		return
	}
	started := time.Now()
	var (
		body        []byte
		err         error
		contentType string
	)
	switch format {
	case "xlsx":
		body, err = BuildActionsXLSX(entries)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		body, err = BuildActionsPDF(entries, time.Now().UTC())
		contentType = "application/pdf"
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		h.deps.Logger.Error().Err(err).Str("format", format).Msg("export action log")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "actions."+format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) loadActions(w http.ResponseWriter, r *http.Request) ([]actionlog.Entry, bool) {
	if h.deps.Actions == nil {
		writeError(w, http.StatusServiceUnavailable, "action log not configured")
		return nil, false
	}
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	entries, err := h.deps.Actions.Entries(r.Context(), actionlog.Query{Start: start, End: end})
	if err != nil {
		h.deps.Logger.Error().Err(err).Msg("read action log")
		writeError(w, http.StatusInternalServerError, "failed_to_read_log")
		return nil, false
	}
	if entries == nil {
		entries = []actionlog.Entry{}
	}
	return entries, true
}

func (h *Handler) handleSensor(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sensors == nil {
		writeError(w, http.StatusServiceUnavailable, "sensor log not configured")
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.deps.Sensors.Entries(r.Context(), actionlog.SensorQuery{
		Device: r.URL.Query().Get("device"),
		Start:  start,
		End:    end,
	})
	if err != nil {
		h.deps.Logger.Error().Err(err).Msg("read sensor log")
		writeError(w, http.StatusInternalServerError, "failed_to_read_sensor_log")
		return
	}
	if entries == nil {
		entries = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, entries)
}
