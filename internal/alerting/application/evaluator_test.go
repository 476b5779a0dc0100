package application

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	alerting "minesafe-alerting/internal/alerting/domain"
)

func TestEvaluateLevels(t *testing.T) {
	snapshot := alerting.NewSnapshot(temperatureThresholds(), time.Now())

	cases := []struct {
		value    float64
		want     alerting.Severity
		matched  bool
		exposure time.Duration
	}{
		{value: 37, matched: false},
		{value: 38, want: alerting.SeverityCaution, matched: true},
		{value: 38.5, want: alerting.SeverityCaution, matched: true},
		{value: 39, want: alerting.SeverityWarning, matched: true, exposure: 5 * time.Second},
		{value: 39.2, want: alerting.SeverityWarning, matched: true, exposure: 5 * time.Second},
		{value: 40, want: alerting.SeverityCritical, matched: true, exposure: time.Second},
		{value: 41, want: alerting.SeverityCritical, matched: true, exposure: time.Second},
	}
	for _, tc := range cases {
		result, ok := Evaluate("temperature", tc.value, snapshot)
		if ok != tc.matched {
			t.Fatalf("value %v: expected matched=%v, got %v", tc.value, tc.matched, ok)
		}
		if !ok {
			continue
		}
		if result.Severity != tc.want {
			t.Fatalf("value %v: expected %s, got %s", tc.value, tc.want, result.Severity)
		}
		if result.Exposure != tc.exposure {
			t.Fatalf("value %v: expected exposure %s, got %s", tc.value, tc.exposure, result.Exposure)
		}
	}
}

func TestEvaluateCriticalFirstWhenMisconfigured(t *testing.T) {
	snapshot := alerting.NewSnapshot([]alerting.Threshold{{
		Parameter: "co",
		Caution:   level(50, 0),
		Warning:   level(30, 0),
		Critical:  level(10, 0),
	}}, time.Now())

	for _, value := range []float64{10, 35, 60} {
		result, ok := Evaluate("co", value, snapshot)
		if !ok {
			t.Fatalf("value %v: expected a level", value)
		}
		if result.Severity != alerting.SeverityCritical {
			t.Fatalf("value %v: expected critical precedence, got %s", value, result.Severity)
		}
		if result.Threshold != 10 {
			t.Fatalf("value %v: expected critical threshold 10, got %v", value, result.Threshold)
		}
	}
	if _, ok := Evaluate("co", 5, snapshot); ok {
		t.Fatalf("expected none below every level")
	}
}

func TestEvaluateMissingLevels(t *testing.T) {
	snapshot := alerting.NewSnapshot([]alerting.Threshold{{
		Parameter: "heartRate",
		Critical:  level(150, 0),
	}}, time.Now())

	if _, ok := Evaluate("heartRate", 149, snapshot); ok {
		t.Fatalf("expected none below the only level")
	}
	result, ok := Evaluate("heartRate", 160, snapshot)
	if !ok || result.Severity != alerting.SeverityCritical {
		t.Fatalf("expected critical, got %v %v", result, ok)
	}
}

func TestEvaluateRejectsUnknownAndMalformed(t *testing.T) {
	snapshot := alerting.NewSnapshot(temperatureThresholds(), time.Now())

	if _, ok := Evaluate("humidity", 99.0, snapshot); ok {
		t.Fatalf("expected none for unknown parameter")
	}
	for _, value := range []any{math.NaN(), math.Inf(1), math.Inf(-1), "hot", "", true, nil, []float64{41}} {
		if _, ok := Evaluate("temperature", value, snapshot); ok {
			t.Fatalf("expected none for %v", value)
		}
	}
	if _, ok := Evaluate("temperature", 41.0, nil); ok {
		t.Fatalf("expected none for nil snapshot")
	}
}

func TestToNumberCoercion(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{in: 41.5, want: 41.5},
		{in: float32(2.5), want: 2.5},
		{in: 42, want: 42},
		{in: int64(-3), want: -3},
		{in: uint8(7), want: 7},
		{in: json.Number("38.5"), want: 38.5},
		{in: " 39.2 ", want: 39.2},
	}
	for _, tc := range cases {
		got, ok := ToNumber(tc.in)
		if !ok {
			t.Fatalf("%v: expected numeric", tc.in)
		}
		if got != tc.want {
			t.Fatalf("%v: expected %v, got %v", tc.in, tc.want, got)
		}
	}
	if _, ok := ToNumber(json.Number("nope")); ok {
		t.Fatalf("expected invalid json.Number to be rejected")
	}
	if _, ok := ToNumber("NaN"); ok {
		t.Fatalf("expected NaN string to be rejected")
	}
}
