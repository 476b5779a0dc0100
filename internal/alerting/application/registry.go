package application

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	alerting "minesafe-alerting/internal/alerting/domain"
	"minesafe-alerting/internal/observability/metrics"
)

// EventSink receives alert events. Publish is called while the registry lock is held
// and must not block.
type EventSink interface {
	Publish(event alerting.AlertEvent)
}

type alertKey struct {
	device    string
	parameter string
}

type activeAlert struct {
	id            string
	generation    uint64
	severity      alerting.Severity
	startedAt     time.Time
	threshold     float64
	exposure      time.Duration
	exposureFired bool
	lastValue     float64
	timer         Timer
}

// Registry owns the active alerts and their exposure timers.
type Registry struct {
	mu         sync.Mutex
	alerts     map[alertKey]*activeAlert
	generation uint64
	closed     bool

	sink      EventSink
	scheduler Scheduler
	clock     Clock
	logger    zerolog.Logger
	newID     func() string
}

// RegistryOption customizes the registry.
type RegistryOption func(*Registry)

// WithScheduler overrides the exposure timer scheduler.
func WithScheduler(scheduler Scheduler) RegistryOption {
	return func(r *Registry) {
		if scheduler != nil {
			r.scheduler = scheduler
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRegistryLogger assigns a logger.
func WithRegistryLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithIDGenerator overrides event and alert id generation.
func WithIDGenerator(newID func() string) RegistryOption {
	return func(r *Registry) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// NewRegistry constructs an empty registry publishing to sink.
func NewRegistry(sink EventSink, opts ...RegistryOption) (*Registry, error) {
	if sink == nil {
		return nil, errors.New("alert registry: nil sink")
	}
	r := &Registry{
		alerts:    make(map[alertKey]*activeAlert),
		sink:      sink,
		scheduler: timeScheduler{},
		clock:     systemClock{},
		logger:    zerolog.Nop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Apply drives the state of (device, parameter) with an evaluated reading.
// matched is false when the value is below every level.
func (r *Registry) Apply(device, parameter string, value float64, result Result, matched bool) {
	if r == nil {
		return
	}
	key := alertKey{device: device, parameter: parameter}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	existing := r.alerts[key]
	switch {
	case existing == nil && !matched:
		return
	case existing == nil:
		r.startLocked(key, result, value)
	case !matched:
		r.clearLocked(key, existing, alerting.ReasonValueRecovered, value)
	case existing.severity == result.Severity:
		existing.lastValue = value
	default:
		reason := alerting.ReasonSeverityDecrease
		if result.Severity.Rank() > existing.severity.Rank() {
			reason = alerting.ReasonEscalated
		}
		r.clearLocked(key, existing, reason, value)
		r.startLocked(key, result, value)
	}
	metrics.SetActiveAlerts(len(r.alerts))
}

// List returns a snapshot of active alerts sorted by device and parameter.
func (r *Registry) List() []alerting.ActiveAlert {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]alerting.ActiveAlert, 0, len(r.alerts))
	for key, alert := range r.alerts {
		out = append(out, alert.view(key))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Parameter < out[j].Parameter
	})
	return out
}

// Get returns the active alert of a device parameter.
func (r *Registry) Get(device, parameter string) (alerting.ActiveAlert, bool) {
	if r == nil {
		return alerting.ActiveAlert{}, false
	}
	key := alertKey{device: device, parameter: parameter}
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[key]
	if !ok {
		return alerting.ActiveAlert{}, false
	}
	return alert.view(key), true
}

// Len returns the number of active alerts.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// Close stops all pending exposure timers. Later readings are ignored.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, alert := range r.alerts {
		if alert.timer != nil {
			alert.timer.Stop()
			alert.timer = nil
		}
	}
}

func (r *Registry) startLocked(key alertKey, result Result, value float64) {
	r.generation++
	now := r.clock.Now().UTC()
	alert := &activeAlert{
		id:         r.newID(),
		generation: r.generation,
		severity:   result.Severity,
		startedAt:  now,
		threshold:  result.Threshold,
		exposure:   result.Exposure,
		lastValue:  value,
	}
	r.alerts[key] = alert

	startedAt := now
	threshold := result.Threshold
	event := alerting.AlertEvent{
		ID:        r.newID(),
		AlertID:   alert.id,
		Kind:      alerting.EventStart,
		Device:    key.device,
		Parameter: key.parameter,
		Severity:  result.Severity,
		Value:     &value,
		Threshold: &threshold,
		StartedAt: &startedAt,
		Message:   alerting.StartMessage(key.parameter, result.Severity, value),
		At:        now,
	}
	if result.Exposure > 0 {
		exposureMs := result.Exposure.Milliseconds()
		event.ExposureMs = &exposureMs
	}
	r.emitLocked(event)

	if result.Exposure > 0 {
		generation := alert.generation
		alert.timer = r.scheduler.AfterFunc(result.Exposure, func() {
			r.exposureElapsed(key, generation)
		})
	}
	r.logger.Info().
		Str("device", key.device).
		Str("parameter", key.parameter).
		Str("severity", string(result.Severity)).
		Float64("value", value).
		Msg("alert started")
}

func (r *Registry) clearLocked(key alertKey, alert *activeAlert, reason string, value float64) {
	if alert.timer != nil {
		alert.timer.Stop()
		alert.timer = nil
	}
	delete(r.alerts, key)

	now := r.clock.Now().UTC()
	startedAt := alert.startedAt
	threshold := alert.threshold
	r.emitLocked(alerting.AlertEvent{
		ID:        r.newID(),
		AlertID:   alert.id,
		Kind:      alerting.EventCleared,
		Device:    key.device,
		Parameter: key.parameter,
		Severity:  alert.severity,
		Value:     &value,
		Threshold: &threshold,
		StartedAt: &startedAt,
		ClearedAt: &now,
		Reason:    reason,
		Message:   alerting.ClearedMessage(key.parameter, alert.severity, reason),
		At:        now,
	})
	r.logger.Info().
		Str("device", key.device).
		Str("parameter", key.parameter).
		Str("severity", string(alert.severity)).
		Str("reason", reason).
		Msg("alert cleared")
}

func (r *Registry) exposureElapsed(key alertKey, generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	alert, ok := r.alerts[key]
	if !ok || alert.generation != generation {
		// superseded or cleared after the timer fired
		return
	}
	alert.timer = nil
	if alert.exposureFired {
		return
	}
	alert.exposureFired = true

	startedAt := alert.startedAt
	threshold := alert.threshold
	exposureMs := alert.exposure.Milliseconds()
	lastValue := alert.lastValue
	r.emitLocked(alerting.AlertEvent{
		ID:         r.newID(),
		AlertID:    alert.id,
		Kind:       alerting.EventExposureElapsed,
		Device:     key.device,
		Parameter:  key.parameter,
		Severity:   alert.severity,
		Value:      &lastValue,
		Threshold:  &threshold,
		ExposureMs: &exposureMs,
		StartedAt:  &startedAt,
		Message:    alerting.ExposureMessage(key.parameter, alert.severity),
		At:         r.clock.Now().UTC(),
	})
	r.logger.Warn().
		Str("device", key.device).
		Str("parameter", key.parameter).
		Str("severity", string(alert.severity)).
		Int64("exposure_ms", exposureMs).
		Msg("alert exposure elapsed")
}

func (r *Registry) emitLocked(event alerting.AlertEvent) {
	metrics.IncAlertEvent(string(event.Kind), string(event.Severity))
	r.sink.Publish(event)
}

func (a *activeAlert) view(key alertKey) alerting.ActiveAlert {
	view := alerting.ActiveAlert{
		ID:             a.id,
		Device:         key.device,
		Parameter:      key.parameter,
		Severity:       a.severity,
		StartTime:      a.startedAt,
		ThresholdValue: a.threshold,
		ExposureFired:  a.exposureFired,
		LastValue:      a.lastValue,
	}
	if a.exposure > 0 {
		exposureMs := a.exposure.Milliseconds()
		view.ExposureMs = &exposureMs
	}
	return view
}
