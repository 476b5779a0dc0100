package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"time"

	alerting "minesafe-alerting/internal/alerting/domain"
)

// thresholdView is the dashboard shape of a threshold row. Exposures are seconds.
type thresholdView struct {
	Parameter         string   `json:"parameter"`
	Unit              string   `json:"unit"`
	CautionThreshold  *float64 `json:"caution_threshold"`
	CautionExposure   *float64 `json:"caution_exposure"`
	WarningThreshold  *float64 `json:"warning_threshold"`
	WarningExposure   *float64 `json:"warning_exposure"`
	CriticalThreshold *float64 `json:"critical_threshold"`
	CriticalExposure  *float64 `json:"critical_exposure"`
}

type thresholdUpdateRequest struct {
	CautionThreshold  *float64 `json:"caution_threshold"`
	CautionExposure   *float64 `json:"caution_exposure"`
	WarningThreshold  *float64 `json:"warning_threshold"`
	WarningExposure   *float64 `json:"warning_exposure"`
	CriticalThreshold *float64 `json:"critical_threshold"`
	CriticalExposure  *float64 `json:"critical_exposure"`
}

func (h *Handler) handleListThresholds(w http.ResponseWriter) {
	list := h.deps.Thresholds.Current().Thresholds()
	out := make([]thresholdView, 0, len(list))
	for _, th := range list {
		view := thresholdView{Parameter: th.Parameter, Unit: th.Unit}
		view.CautionThreshold, view.CautionExposure = levelView(th.Caution)
		view.WarningThreshold, view.WarningExposure = levelView(th.Warning)
		view.CriticalThreshold, view.CriticalExposure = levelView(th.Critical)
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUpdateThreshold(w http.ResponseWriter, r *http.Request, rawParameter string) {
	if h.deps.ThresholdWriter == nil {
		writeError(w, http.StatusServiceUnavailable, "threshold updates not configured")
		return
	}
	parameter, err := url.PathUnescape(rawParameter)
	if err != nil || parameter == "" {
		writeError(w, http.StatusBadRequest, "invalid parameter")
		return
	}
	var req thresholdUpdateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.CautionThreshold == nil || req.WarningThreshold == nil || req.CriticalThreshold == nil {
		writeError(w, http.StatusBadRequest, "caution_threshold, warning_threshold and critical_threshold required")
		return
	}
	th := alerting.Threshold{
		Parameter: parameter,
		Caution:   requestLevel(*req.CautionThreshold, req.CautionExposure),
		Warning:   requestLevel(*req.WarningThreshold, req.WarningExposure),
		Critical:  requestLevel(*req.CriticalThreshold, req.CriticalExposure),
	}
	if err := th.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.deps.ThresholdWriter.Update(r.Context(), th); err != nil {
		if errors.Is(err, alerting.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown parameter")
			return
		}
		h.deps.Logger.Error().Err(err).Str("parameter", parameter).Msg("update threshold")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !th.Monotonic() {
		h.deps.Logger.Warn().Str("parameter", parameter).Msg("threshold levels are not ordered caution <= warning <= critical")
	}

	if h.deps.Actions != nil {
		details := struct {
			Parameter string `json:"parameter"`
			thresholdUpdateRequest
		}{Parameter: parameter, thresholdUpdateRequest: req}
		if err := h.deps.Actions.AppendAction(r.Context(), "threshold_updated", actorFrom(r), details); err != nil {
			h.deps.Logger.Error().Err(err).Str("parameter", parameter).Msg("record threshold action")
		}
	}
	if h.deps.Refresher != nil {
		h.deps.Refresher.RequestRefresh()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func levelView(level *alerting.Level) (*float64, *float64) {
	if level == nil {
		return nil, nil
	}
	value := level.Value
	if level.Exposure <= 0 {
		return &value, nil
	}
	seconds := level.Exposure.Seconds()
	return &value, &seconds
}

// requestLevel maps a zero or missing exposure to "no exposure timer".
func requestLevel(value float64, exposureSeconds *float64) *alerting.Level {
	level := &alerting.Level{Value: value}
	if exposureSeconds != nil && *exposureSeconds > 0 && !math.IsInf(*exposureSeconds, 0) {
		level.Exposure = time.Duration(math.Round(*exposureSeconds * float64(time.Second)))
	}
	return level
}
