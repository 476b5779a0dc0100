package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	alerting "minesafe-alerting/internal/alerting/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fire runs the callback even when stopped, reproducing a timer that fired
// concurrently with its cancellation.
func (t *fakeTimer) fire() {
	t.mu.Lock()
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	fn()
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	timer := &fakeTimer{delay: d, fn: f}
	s.mu.Lock()
	s.timers = append(s.timers, timer)
	s.mu.Unlock()
	return timer
}

func (s *fakeScheduler) all() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*fakeTimer, len(s.timers))
	copy(out, s.timers)
	return out
}

func (s *fakeScheduler) last(t *testing.T) *fakeTimer {
	t.Helper()
	timers := s.all()
	if len(timers) == 0 {
		t.Fatalf("expected a scheduled timer")
	}
	return timers[len(timers)-1]
}

type recordingSink struct {
	mu     sync.Mutex
	events []alerting.AlertEvent
}

func (r *recordingSink) Publish(event alerting.AlertEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingSink) Notify(_ context.Context, event alerting.AlertEvent) {
	r.Publish(event)
}

func (r *recordingSink) snapshot() []alerting.AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alerting.AlertEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingSink) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type stubSource struct {
	mu         sync.Mutex
	thresholds []alerting.Threshold
	err        error
	calls      int
}

func (s *stubSource) LoadThresholds(_ context.Context) ([]alerting.Threshold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.thresholds, nil
}

func (s *stubSource) set(thresholds []alerting.Threshold, err error) {
	s.mu.Lock()
	s.thresholds = thresholds
	s.err = err
	s.mu.Unlock()
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type staticSnapshot struct {
	snapshot *alerting.Snapshot
}

func (s staticSnapshot) Current() *alerting.Snapshot { return s.snapshot }

func level(value float64, exposure time.Duration) *alerting.Level {
	return &alerting.Level{Value: value, Exposure: exposure}
}

// temperatureThresholds: caution 38 (no exposure), warning 39 (5s), critical 40 (1s).
func temperatureThresholds() []alerting.Threshold {
	return []alerting.Threshold{{
		Parameter: "temperature",
		Unit:      "°C",
		Caution:   level(38, 0),
		Warning:   level(39, 5*time.Second),
		Critical:  level(40, time.Second),
	}}
}

type testHarness struct {
	service   *Service
	registry  *Registry
	sink      *recordingSink
	scheduler *fakeScheduler
	clock     *fakeClock
}

func newHarness(t *testing.T, thresholds []alerting.Threshold) *testHarness {
	t.Helper()
	sink := &recordingSink{}
	scheduler := &fakeScheduler{}
	clock := newFakeClock()
	var seq int
	var seqMu sync.Mutex
	registry, err := NewRegistry(sink,
		WithScheduler(scheduler),
		WithClock(clock),
		WithIDGenerator(func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	service, err := NewService(staticSnapshot{snapshot: alerting.NewSnapshot(thresholds, clock.Now())}, registry)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testHarness{service: service, registry: registry, sink: sink, scheduler: scheduler, clock: clock}
}

func (h *testHarness) read(t *testing.T, device string, values map[string]any) {
	t.Helper()
	if err := h.service.HandleReading(context.Background(), alerting.Reading{Device: device, Values: values}); err != nil {
		t.Fatalf("handle reading: %v", err)
	}
}

type wantEvent struct {
	kind     alerting.EventKind
	severity alerting.Severity
	reason   string
}

func assertEvents(t *testing.T, got []alerting.AlertEvent, want []wantEvent) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %s", len(want), len(got), describe(got))
	}
	for i := range want {
		if got[i].Kind != want[i].kind || got[i].Severity != want[i].severity || got[i].Reason != want[i].reason {
			t.Fatalf("event %d: expected %s/%s/%q, got %s/%s/%q (all: %s)",
				i, want[i].kind, want[i].severity, want[i].reason,
				got[i].Kind, got[i].Severity, got[i].Reason, describe(got))
		}
	}
}

func describe(events []alerting.AlertEvent) string {
	out := ""
	for _, event := range events {
		out += fmt.Sprintf("[%s %s %s] ", event.Kind, event.Severity, event.Reason)
	}
	return out
}
