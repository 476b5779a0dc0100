package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	alerting "minesafe-alerting/internal/alerting/domain"
	"minesafe-alerting/internal/telemetry/application"
)

type stubReadings struct {
	err error
}

func (s stubReadings) HandleReading(_ context.Context, _ alerting.Reading) error {
	return s.err
}

func newIngestor(t *testing.T, err error) *application.Ingestor {
	t.Helper()
	ingestor, e := application.NewIngestor(stubReadings{err: err}, nil)
	if e != nil {
		t.Fatalf("new ingestor: %v", e)
	}
	return ingestor
}

func TestIngestHandler(t *testing.T) {
	ingestor := newIngestor(t, nil)
	handler, err := NewIngestHandler(ingestor, zerolog.Nop())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/telemetry",
		strings.NewReader(`{"deviceName":"helmet-1","sensorData":{"vitals":{"temperature":37.1},"environment":{"co":4}}}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["device"] != "helmet-1" || resp["parameters"] != float64(2) {
		t.Fatalf("unexpected response %v", resp)
	}

	devices, _ := NewDevicesHandler(ingestor.Devices())
	rec = httptest.NewRecorder()
	devices.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"helmet-1"`) {
		t.Fatalf("unexpected devices response %d %s", rec.Code, rec.Body.String())
	}
}

func TestIngestHandlerErrors(t *testing.T) {
	handler, _ := NewIngestHandler(newIngestor(t, nil), zerolog.Nop())
	cases := []struct {
		method string
		body   string
		want   int
	}{
		{http.MethodGet, "", http.StatusMethodNotAllowed},
		{http.MethodPost, "not json", http.StatusBadRequest},
		{http.MethodPost, `{"co":1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(tc.method, "/api/v1/telemetry", strings.NewReader(tc.body)))
		if rec.Code != tc.want {
			t.Fatalf("%s %q: expected %d, got %d", tc.method, tc.body, tc.want, rec.Code)
		}
	}

	failing, _ := NewIngestHandler(newIngestor(t, errors.New("registry closed")), zerolog.Nop())
	rec := httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/telemetry", strings.NewReader(`{"deviceName":"h","co":1}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestDevicesHandlerMethod(t *testing.T) {
	devices, _ := NewDevicesHandler(application.NewDeviceSnapshots())
	rec := httptest.NewRecorder()
	devices.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
