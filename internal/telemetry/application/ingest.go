package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	alerting "minesafe-alerting/internal/alerting/domain"
	"minesafe-alerting/internal/observability/metrics"
	telemetry "minesafe-alerting/internal/telemetry/domain"
)

// ReadingHandler evaluates a reading against thresholds.
type ReadingHandler interface {
	HandleReading(ctx context.Context, reading alerting.Reading) error
}

// SensorRecorder writes throttled raw payloads.
type SensorRecorder interface {
	Record(ctx context.Context, device string, payload map[string]any) (bool, error)
}

// TelemetryRelay forwards raw payloads to live dashboards.
type TelemetryRelay interface {
	PublishTelemetry(device string, values map[string]any, at time.Time)
}

const defaultSensorQueueSize = 256

type sensorRecord struct {
	device  string
	payload map[string]any
}

// Ingestor decodes device payloads and feeds them to the alerting core.
// Sensor log lines are written by a background worker; call Start and Close.
type Ingestor struct {
	readings ReadingHandler
	devices  *DeviceSnapshots
	sensors  SensorRecorder
	relay    TelemetryRelay
	logger   zerolog.Logger
	now      func() time.Time

	queueMu   sync.RWMutex
	queue     chan sensorRecord
	closed    bool
	started   bool
	startOnce sync.Once
	done      chan struct{}
}

// IngestorOption customizes an Ingestor.
type IngestorOption func(*Ingestor)

// WithSensorRecorder enables the sensor log.
func WithSensorRecorder(recorder SensorRecorder) IngestorOption {
	return func(i *Ingestor) {
		i.sensors = recorder
	}
}

// WithRelay forwards payloads to dashboards.
func WithRelay(relay TelemetryRelay) IngestorOption {
	return func(i *Ingestor) {
		i.relay = relay
	}
}

// WithSensorQueueSize sets the pending sensor log capacity.
func WithSensorQueueSize(size int) IngestorOption {
	return func(i *Ingestor) {
		if size > 0 {
			i.queue = make(chan sensorRecord, size)
		}
	}
}

// WithIngestLogger assigns a logger.
func WithIngestLogger(logger zerolog.Logger) IngestorOption {
	return func(i *Ingestor) {
		i.logger = logger
	}
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) IngestorOption {
	return func(i *Ingestor) {
		if now != nil {
			i.now = now
		}
	}
}

func NewIngestor(readings ReadingHandler, devices *DeviceSnapshots, opts ...IngestorOption) (*Ingestor, error) {
	if readings == nil {
		return nil, errors.New("telemetry ingest: nil reading handler")
	}
	if devices == nil {
		devices = NewDeviceSnapshots()
	}
	i := &Ingestor{
		readings: readings,
		devices:  devices,
		logger:   zerolog.Nop(),
		now:      time.Now,
		queue:    make(chan sensorRecord, defaultSensorQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Start launches the sensor log worker.
func (i *Ingestor) Start() {
	i.startOnce.Do(func() {
		i.queueMu.Lock()
		i.started = true
		i.queueMu.Unlock()
		go i.runSensors()
	})
}

// Close stops accepting sensor records and waits for queued ones to be written.
func (i *Ingestor) Close() {
	i.queueMu.Lock()
	if i.closed {
		i.queueMu.Unlock()
		return
	}
	i.closed = true
	close(i.queue)
	started := i.started
	i.queueMu.Unlock()
	if started {
		<-i.done
	}
}

// Devices exposes the device snapshot store.
func (i *Ingestor) Devices() *DeviceSnapshots {
	return i.devices
}

// Ingest handles one raw payload from the named source. Decode errors are
// returned; side outputs only log their failures.
func (i *Ingestor) Ingest(ctx context.Context, source string, raw []byte) (telemetry.Message, error) {
	started := time.Now()
	msg, err := telemetry.Decode(raw, i.now())
	if err != nil {
		metrics.IncIngestError(reasonOf(err))
		metrics.ObserveIngest(source, metrics.ResultError, time.Since(started))
		return msg, err
	}

	i.enqueueSensor(msg)
	i.devices.Merge(msg.Device, msg.Values, msg.At)

	if err := i.readings.HandleReading(ctx, alerting.Reading{Device: msg.Device, Values: msg.Values, At: msg.At}); err != nil {
		metrics.IncIngestError("evaluate")
		metrics.ObserveIngest(source, metrics.ResultError, time.Since(started))
		return msg, err
	}
	if i.relay != nil {
		i.relay.PublishTelemetry(msg.Device, msg.Raw, msg.At)
	}
	metrics.ObserveIngest(source, metrics.ResultSuccess, time.Since(started))
	return msg, nil
}

func (i *Ingestor) enqueueSensor(msg telemetry.Message) {
	if i.sensors == nil {
		return
	}
	i.queueMu.RLock()
	defer i.queueMu.RUnlock()
	if i.closed {
		return
	}
	select {
	case i.queue <- sensorRecord{device: msg.Device, payload: msg.Raw}:
	default:
		metrics.IncDeliveryDropped("sensor_log")
		i.logger.Warn().Str("device", msg.Device).Msg("sensor log queue full, record dropped")
	}
}

func (i *Ingestor) runSensors() {
	defer close(i.done)
	for record := range i.queue {
		if _, err := i.sensors.Record(context.Background(), record.device, record.payload); err != nil {
			i.logger.Error().Err(err).Str("device", record.device).Msg("write sensor log")
		}
	}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, telemetry.ErrMissingDevice):
		return "missing_device"
	case errors.Is(err, telemetry.ErrInvalidPayload):
		return "invalid_payload"
	default:
		return "unknown"
	}
}
