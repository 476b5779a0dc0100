package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeSensorData(t *testing.T) {
	now := time.Date(2025, 9, 17, 12, 0, 0, 0, time.UTC)
	msg, err := Decode([]byte(`{
		"deviceName": "helmet-1",
		"sensorData": {
			"vitals": {"heartRate": 88, "temperature": 37.5},
			"environment": {"co": "12.5", "temperature": 29}
		},
		"battery": 80
	}`), now)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Device != "helmet-1" || !msg.At.Equal(now) {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(msg.Values) != 3 {
		t.Fatalf("expected 3 parameters, got %v", msg.Values)
	}
	if msg.Values["temperature"] != json.Number("29") {
		t.Fatalf("expected environment to win, got %v", msg.Values["temperature"])
	}
	if msg.Values["co"] != "12.5" {
		t.Fatalf("expected string value to be kept, got %v", msg.Values["co"])
	}
	if _, ok := msg.Values["battery"]; ok {
		t.Fatalf("top-level fields must be ignored when sensorData is present")
	}
}

func TestDecodeTopLevelFallback(t *testing.T) {
	msg, err := Decode([]byte(`{"device_name":"gas-3","type":"env","time":"2025-09-17T10:00:00Z","co":35,"status":"ok","timestamp":1700000000}`), time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Device != "gas-3" {
		t.Fatalf("unexpected device %q", msg.Device)
	}
	if len(msg.Values) != 1 || msg.Values["co"] != json.Number("35") {
		t.Fatalf("expected only numeric non-meta fields, got %v", msg.Values)
	}
	if want := time.Date(2025, 9, 17, 10, 0, 0, 0, time.UTC); !msg.At.Equal(want) {
		t.Fatalf("expected payload time, got %v", msg.At)
	}
}

func TestDecodeEpochTimestamp(t *testing.T) {
	msg, err := Decode([]byte(`{"deviceName":"h","timestamp":1758110400000,"co":1}`), time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := time.UnixMilli(1758110400000).UTC(); !msg.At.Equal(want) {
		t.Fatalf("expected %v, got %v", want, msg.At)
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, raw := range []string{`not json`, `[]`, `{}`, `null`} {
		if _, err := Decode([]byte(raw), time.Now()); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%s: expected ErrInvalidPayload, got %v", raw, err)
		}
	}
	if _, err := Decode([]byte(`{"co": 3}`), time.Now()); !errors.Is(err, ErrMissingDevice) {
		t.Fatalf("expected ErrMissingDevice, got %v", err)
	}
}
