package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	telemetry "minesafe-alerting/internal/telemetry/domain"
)

const maxBodyBytes = 1 << 20

// Ingester handles one raw payload.
type Ingester interface {
	Ingest(ctx context.Context, source string, raw []byte) (telemetry.Message, error)
}

// DeviceLister returns the latest values per device.
type DeviceLister interface {
	Devices() map[string]map[string]any
}

// IngestHandler accepts device payloads over HTTP.
type IngestHandler struct {
	ingester Ingester
	logger   zerolog.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(ingester Ingester, logger zerolog.Logger) (*IngestHandler, error) {
	if ingester == nil {
		return nil, errors.New("telemetry ingest: nil ingester")
	}
	return &IngestHandler{ingester: ingester, logger: logger}, nil
}

// ServeHTTP handles POST /api/v1/telemetry.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn().Err(err).Msg("telemetry ingest: read body error")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	msg, err := h.ingester.Ingest(r.Context(), "http", body)
	if err != nil {
		if errors.Is(err, telemetry.ErrInvalidPayload) || errors.Is(err, telemetry.ErrMissingDevice) {
			h.logger.Debug().Err(err).Msg("telemetry ingest: invalid payload")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error().Err(err).Str("device", msg.Device).Msg("telemetry ingest: evaluate error")
		http.Error(w, "evaluate error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"device": msg.Device, "parameters": len(msg.Values)})
}

// DevicesHandler serves the latest device values.
type DevicesHandler struct {
	devices DeviceLister
}

// NewDevicesHandler constructs a devices handler.
func NewDevicesHandler(devices DeviceLister) (*DevicesHandler, error) {
	if devices == nil {
		return nil, errors.New("devices handler: nil device lister")
	}
	return &DevicesHandler{devices: devices}, nil
}

// ServeHTTP handles GET /api/v1/devices.
func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.devices.Devices())
}
