package alerting

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventKind identifies an alert lifecycle event.
type EventKind string

const (
	EventStart           EventKind = "start"
	EventExposureElapsed EventKind = "exposure_elapsed"
	EventCleared         EventKind = "cleared"
)

// Clear reasons.
const (
	ReasonValueRecovered   = "value_recovered"
	ReasonEscalated        = "escalated"
	ReasonSeverityDecrease = "severity_decrease"
)

// temperatureLimit is the body temperature above which the start message is replaced.
const temperatureLimit = 39.0

// AlertEvent is an immutable alert lifecycle record.
type AlertEvent struct {
	ID         string     `json:"id"`
	AlertID    string     `json:"alertId"`
	Kind       EventKind  `json:"kind"`
	Device     string     `json:"device"`
	Parameter  string     `json:"parameter"`
	Severity   Severity   `json:"severity"`
	Value      *float64   `json:"value,omitempty"`
	Threshold  *float64   `json:"threshold,omitempty"`
	ExposureMs *int64     `json:"exposureMs,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	ClearedAt  *time.Time `json:"clearedAt,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Message    string     `json:"message"`
	At         time.Time  `json:"at"`
}

// Action returns the action log name for the event kind.
func (e AlertEvent) Action() string {
	switch e.Kind {
	case EventStart:
		return "alert_started"
	case EventExposureElapsed:
		return "alert_exposure_elapsed"
	case EventCleared:
		return "alert_cleared"
	default:
		return "alert_" + string(e.Kind)
	}
}

// StartMessage builds the human readable text of a start event.
func StartMessage(parameter string, severity Severity, value float64) string {
	if strings.Contains(strings.ToLower(parameter), "temp") && value > temperatureLimit {
		return fmt.Sprintf("Temperature too high (>%s°C). Immediate attention required.", FormatValue(temperatureLimit))
	}
	return fmt.Sprintf("%s %s threshold exceeded (value=%s)", parameter, severity, FormatValue(value))
}

// ExposureMessage builds the text of an exposure_elapsed event.
func ExposureMessage(parameter string, severity Severity) string {
	return fmt.Sprintf("%s %s exposure duration reached", parameter, severity)
}

// ClearedMessage builds the text of a cleared event.
func ClearedMessage(parameter string, severity Severity, reason string) string {
	return fmt.Sprintf("%s %s alert cleared (%s)", parameter, severity, reason)
}

// FormatValue renders a reading with the shortest exact representation.
func FormatValue(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
