package application

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	alerting "minesafe-alerting/internal/alerting/domain"
	"minesafe-alerting/internal/observability/metrics"
)

const (
	defaultRefreshInterval = 60 * time.Second
	defaultRefreshTimeout  = 10 * time.Second
)

// ThresholdSource loads the full threshold configuration.
type ThresholdSource interface {
	LoadThresholds(ctx context.Context) ([]alerting.Threshold, error)
}

// ThresholdStore publishes an immutable threshold snapshot refreshed from a source.
type ThresholdStore struct {
	source   ThresholdSource
	logger   zerolog.Logger
	clock    Clock
	interval time.Duration
	timeout  time.Duration
	snapshot atomic.Pointer[alerting.Snapshot]
	loaded   atomic.Bool
	trigger  chan struct{}
}

// StoreOption customizes the threshold store.
type StoreOption func(*ThresholdStore)

// WithRefreshInterval overrides the refresh period.
func WithRefreshInterval(interval time.Duration) StoreOption {
	return func(s *ThresholdStore) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithRefreshTimeout bounds a single source load.
func WithRefreshTimeout(timeout time.Duration) StoreOption {
	return func(s *ThresholdStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithStoreLogger assigns a logger.
func WithStoreLogger(logger zerolog.Logger) StoreOption {
	return func(s *ThresholdStore) {
		s.logger = logger
	}
}

// WithStoreClock assigns a clock.
func WithStoreClock(clock Clock) StoreOption {
	return func(s *ThresholdStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewThresholdStore constructs a store with an empty snapshot.
func NewThresholdStore(source ThresholdSource, opts ...StoreOption) (*ThresholdStore, error) {
	if source == nil {
		return nil, errors.New("threshold store: nil source")
	}
	store := &ThresholdStore{
		source:   source,
		logger:   zerolog.Nop(),
		clock:    systemClock{},
		interval: defaultRefreshInterval,
		timeout:  defaultRefreshTimeout,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(store)
	}
	store.snapshot.Store(alerting.EmptySnapshot())
	return store, nil
}

// Current returns the latest published snapshot.
func (s *ThresholdStore) Current() *alerting.Snapshot {
	if s == nil {
		return alerting.EmptySnapshot()
	}
	return s.snapshot.Load()
}

// Refresh loads thresholds and swaps the snapshot. On failure the previous snapshot stays published.
func (s *ThresholdStore) Refresh(ctx context.Context) error {
	if s == nil {
		return errors.New("threshold store: nil store")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	thresholds, err := s.source.LoadThresholds(ctx)
	if err != nil {
		metrics.ObserveThresholdRefresh(metrics.ResultError, 0)
		s.logger.Error().Err(err).Int("kept", s.Current().Len()).Msg("threshold refresh failed, keeping previous snapshot")
		return err
	}
	valid := make([]alerting.Threshold, 0, len(thresholds))
	for _, th := range thresholds {
		if err := th.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("parameter", th.Parameter).Msg("skipping invalid threshold")
			continue
		}
		if !th.Monotonic() {
			s.logger.Warn().Str("parameter", th.Parameter).Msg("threshold levels are not ordered caution <= warning <= critical")
		}
		valid = append(valid, th)
	}
	next := alerting.NewSnapshot(valid, s.clock.Now())
	s.snapshot.Store(next)
	s.loaded.Store(true)
	metrics.ObserveThresholdRefresh(metrics.ResultSuccess, next.Len())
	s.logger.Debug().Int("parameters", next.Len()).Msg("threshold snapshot refreshed")
	return nil
}

// RequestRefresh asks the running loop to refresh as soon as possible.
func (s *ThresholdStore) RequestRefresh() {
	if s == nil {
		return
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes on every interval or request until ctx is done. It also
// refreshes immediately unless a snapshot has already been loaded.
func (s *ThresholdStore) Run(ctx context.Context) {
	if s == nil {
		return
	}
	if !s.loaded.Load() {
		_ = s.Refresh(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		case <-s.trigger:
			_ = s.Refresh(ctx)
		}
	}
}
