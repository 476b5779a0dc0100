package application

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	alerting "minesafe-alerting/internal/alerting/domain"
	"minesafe-alerting/internal/observability/metrics"
)

// SnapshotProvider exposes the current threshold snapshot.
type SnapshotProvider interface {
	Current() *alerting.Snapshot
}

// Service evaluates telemetry readings and drives the alert registry.
type Service struct {
	thresholds SnapshotProvider
	registry   *Registry
	logger     zerolog.Logger
}

// ServiceOption customizes the alerting service.
type ServiceOption func(*Service)

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs an alerting service.
func NewService(thresholds SnapshotProvider, registry *Registry, opts ...ServiceOption) (*Service, error) {
	if thresholds == nil {
		return nil, errors.New("alerting: nil threshold provider")
	}
	if registry == nil {
		return nil, errors.New("alerting: nil registry")
	}
	service := &Service{
		thresholds: thresholds,
		registry:   registry,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// HandleReading evaluates every parameter of a reading in arrival order.
// Unknown parameters and malformed values are skipped without affecting the others.
func (s *Service) HandleReading(_ context.Context, reading alerting.Reading) error {
	if s == nil {
		return errors.New("alerting: nil service")
	}
	if reading.Device == "" {
		return errors.New("alerting: reading missing device")
	}
	if len(reading.Values) == 0 {
		return nil
	}

	snapshot := s.thresholds.Current()
	parameters := make([]string, 0, len(reading.Values))
	for parameter := range reading.Values {
		parameters = append(parameters, parameter)
	}
	sort.Strings(parameters)

	for _, parameter := range parameters {
		raw := reading.Values[parameter]
		if _, ok := snapshot.Lookup(parameter); !ok {
			if s.clearUnconfigured(reading.Device, parameter, raw) {
				continue
			}
			metrics.IncReading(metrics.ReadingUnknownParameter)
			s.logger.Debug().Str("device", reading.Device).Str("parameter", parameter).Msg("no threshold configured, reading ignored")
			continue
		}
		value, ok := ToNumber(raw)
		if !ok {
			metrics.IncReading(metrics.ReadingMalformed)
			s.logger.Debug().Str("device", reading.Device).Str("parameter", parameter).Interface("value", raw).Msg("non-numeric reading ignored")
			continue
		}
		result, matched := Evaluate(parameter, value, snapshot)
		s.registry.Apply(reading.Device, parameter, value, result, matched)
		metrics.IncReading(metrics.ReadingEvaluated)
	}
	return nil
}

// clearUnconfigured recovers a live alert whose threshold was removed from the
// configuration. It reports whether the reading was consumed.
func (s *Service) clearUnconfigured(device, parameter string, raw any) bool {
	if _, active := s.registry.Get(device, parameter); !active {
		return false
	}
	value, ok := ToNumber(raw)
	if !ok {
		return false
	}
	s.registry.Apply(device, parameter, value, Result{}, false)
	metrics.IncReading(metrics.ReadingEvaluated)
	s.logger.Info().Str("device", device).Str("parameter", parameter).Msg("threshold removed, active alert cleared")
	return true
}

// ListActiveAlerts returns a snapshot of all live alerts.
func (s *Service) ListActiveAlerts() []alerting.ActiveAlert {
	if s == nil {
		return nil
	}
	return s.registry.List()
}

// Thresholds returns the snapshot currently used for evaluation.
func (s *Service) Thresholds() *alerting.Snapshot {
	if s == nil {
		return alerting.EmptySnapshot()
	}
	return s.thresholds.Current()
}
