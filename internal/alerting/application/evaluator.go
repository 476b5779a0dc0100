package application

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	alerting "minesafe-alerting/internal/alerting/domain"
)

// Result is the outcome of a severity evaluation.
type Result struct {
	Severity  alerting.Severity
	Threshold float64
	Exposure  time.Duration
}

// evaluationOrder is checked top down; the first level met wins.
var evaluationOrder = []alerting.Severity{
	alerting.SeverityCritical,
	alerting.SeverityWarning,
	alerting.SeverityCaution,
}

// Evaluate maps a reading to the highest severity whose threshold the value meets or exceeds.
// It returns false for unknown parameters, non-numeric or non-finite values, and values below every level.
func Evaluate(parameter string, value any, snapshot *alerting.Snapshot) (Result, bool) {
	th, ok := snapshot.Lookup(parameter)
	if !ok {
		return Result{}, false
	}
	num, ok := ToNumber(value)
	if !ok {
		return Result{}, false
	}
	for _, severity := range evaluationOrder {
		level := th.LevelFor(severity)
		if level == nil {
			continue
		}
		if num >= level.Value {
			return Result{Severity: severity, Threshold: level.Value, Exposure: level.Exposure}, true
		}
	}
	return Result{}, false
}

// ToNumber coerces a decoded telemetry value to a finite float64.
func ToNumber(value any) (float64, bool) {
	var num float64
	switch v := value.(type) {
	case float64:
		num = v
	case float32:
		num = float64(v)
	case int:
		num = float64(v)
	case int8:
		num = float64(v)
	case int16:
		num = float64(v)
	case int32:
		num = float64(v)
	case int64:
		num = float64(v)
	case uint:
		num = float64(v)
	case uint8:
		num = float64(v)
	case uint16:
		num = float64(v)
	case uint32:
		num = float64(v)
	case uint64:
		num = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		num = parsed
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		num = parsed
	default:
		return 0, false
	}
	if math.IsNaN(num) || math.IsInf(num, 0) {
		return 0, false
	}
	return num, true
}
