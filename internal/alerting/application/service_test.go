package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	alerting "minesafe-alerting/internal/alerting/domain"
)

func TestCautionStartWithoutExposure(t *testing.T) {
	h := newHarness(t, temperatureThresholds())

	h.read(t, "helmet-1", map[string]any{"temperature": 38.5})

	events := h.sink.snapshot()
	assertEvents(t, events, []wantEvent{{kind: alerting.EventStart, severity: alerting.SeverityCaution}})
	if len(h.scheduler.all()) != 0 {
		t.Fatalf("expected no exposure timer for caution")
	}
	start := events[0]
	if start.Device != "helmet-1" || start.Parameter != "temperature" {
		t.Fatalf("unexpected key %s/%s", start.Device, start.Parameter)
	}
	if start.Value == nil || *start.Value != 38.5 {
		t.Fatalf("expected value 38.5, got %v", start.Value)
	}
	if start.Threshold == nil || *start.Threshold != 38 {
		t.Fatalf("expected threshold 38, got %v", start.Threshold)
	}
	if start.ExposureMs != nil {
		t.Fatalf("expected no exposureMs, got %v", *start.ExposureMs)
	}
	if start.Message != "temperature caution threshold exceeded (value=38.5)" {
		t.Fatalf("unexpected message %q", start.Message)
	}
}

func TestSameSeverityOnlyUpdatesLastValue(t *testing.T) {
	h := newHarness(t, temperatureThresholds())

	h.read(t, "helmet-1", map[string]any{"temperature": 38.2})
	before, ok := h.registry.Get("helmet-1", "temperature")
	if !ok {
		t.Fatalf("expected active alert")
	}
	h.clock.Add(3 * time.Second)
	h.read(t, "helmet-1", map[string]any{"temperature": 38.7})

	assertEvents(t, h.sink.snapshot(), []wantEvent{{kind: alerting.EventStart, severity: alerting.SeverityCaution}})
	after, ok := h.registry.Get("helmet-1", "temperature")
	if !ok {
		t.Fatalf("expected active alert")
	}
	if after.LastValue != 38.7 {
		t.Fatalf("expected last value 38.7, got %v", after.LastValue)
	}
	if !after.StartTime.Equal(before.StartTime) || after.ID != before.ID {
		t.Fatalf("expected same alert instance, got %+v vs %+v", after, before)
	}
}

func TestSeverityDecreaseRestartsAlert(t *testing.T) {
	thresholds := []alerting.Threshold{{
		Parameter: "methane",
		Caution:   level(1, 10*time.Second),
		Warning:   level(2, 5*time.Second),
		Critical:  level(4, time.Second),
	}}
	h := newHarness(t, thresholds)

	h.read(t, "sensor-7", map[string]any{"methane": 2.5})
	warningTimer := h.scheduler.last(t)
	h.sink.reset()

	h.read(t, "sensor-7", map[string]any{"methane": 1.5})

	assertEvents(t, h.sink.snapshot(), []wantEvent{
		{kind: alerting.EventCleared, severity: alerting.SeverityWarning, reason: alerting.ReasonSeverityDecrease},
		{kind: alerting.EventStart, severity: alerting.SeverityCaution},
	})
	if !warningTimer.isStopped() {
		t.Fatalf("expected warning timer to be cancelled")
	}
	cautionTimer := h.scheduler.last(t)
	if cautionTimer == warningTimer || cautionTimer.delay != 10*time.Second {
		t.Fatalf("expected fresh caution timer of 10s, got %s", cautionTimer.delay)
	}
}

func TestExposureElapsedFiresOnceAndAlertStaysActive(t *testing.T) {
	h := newHarness(t, temperatureThresholds())

	h.read(t, "helmet-1", map[string]any{"temperature": 41})
	timer := h.scheduler.last(t)
	if timer.delay != time.Second {
		t.Fatalf("expected 1s exposure timer, got %s", timer.delay)
	}
	h.clock.Add(time.Second)
	timer.fire()
	timer.fire()

	assertEvents(t, h.sink.snapshot(), []wantEvent{
		{kind: alerting.EventStart, severity: alerting.SeverityCritical},
		{kind: alerting.EventExposureElapsed, severity: alerting.SeverityCritical},
	})
	exposure := h.sink.snapshot()[1]
	if exposure.ExposureMs == nil || *exposure.ExposureMs != 1000 {
		t.Fatalf("expected exposureMs 1000, got %v", exposure.ExposureMs)
	}
	if exposure.Message != "temperature critical exposure duration reached" {
		t.Fatalf("unexpected message %q", exposure.Message)
	}

	alert, ok := h.registry.Get("helmet-1", "temperature")
	if !ok || !alert.ExposureFired {
		t.Fatalf("expected active alert with exposure fired, got %+v", alert)
	}

	h.read(t, "helmet-1", map[string]any{"temperature": 41.5})
	if got := len(h.sink.snapshot()); got != 2 {
		t.Fatalf("expected no further events, got %d", got)
	}
	alert, _ = h.registry.Get("helmet-1", "temperature")
	if alert.LastValue != 41.5 || !alert.ExposureFired {
		t.Fatalf("expected update in place, got %+v", alert)
	}
	if len(h.scheduler.all()) != 1 {
		t.Fatalf("expected no new timer, got %d", len(h.scheduler.all()))
	}
}

func TestClearCancelsPendingExposure(t *testing.T) {
	h := newHarness(t, temperatureThresholds())

	h.read(t, "helmet-1", map[string]any{"temperature": 41})
	timer := h.scheduler.last(t)
	h.read(t, "helmet-1", map[string]any{"temperature": 36})

	if !timer.isStopped() {
		t.Fatalf("expected exposure timer to be stopped")
	}
	// a callback already in flight when the alert was cleared
	timer.fire()

	assertEvents(t, h.sink.snapshot(), []wantEvent{
		{kind: alerting.EventStart, severity: alerting.SeverityCritical},
		{kind: alerting.EventCleared, severity: alerting.SeverityCritical, reason: alerting.ReasonValueRecovered},
	})
	if h.registry.Len() != 0 {
		t.Fatalf("expected no active alerts")
	}
}

func TestStaleTimerIgnoredAfterReplacement(t *testing.T) {
	h := newHarness(t, temperatureThresholds())

	h.read(t, "helmet-1", map[string]any{"temperature": 39.5})
	warningTimer := h.scheduler.last(t)
	h.read(t, "helmet-1", map[string]any{"temperature": 40.5})
	criticalTimer := h.scheduler.last(t)
	h.sink.reset()

	warningTimer.fire()
	if got := h.sink.snapshot(); len(got) != 0 {
		t.Fatalf("expected stale timer to be ignored, got %s", describe(got))
	}

	criticalTimer.fire()
	assertEvents(t, h.sink.snapshot(), []wantEvent{{kind: alerting.EventExposureElapsed, severity: alerting.SeverityCritical}})
}

func TestStaleTimerIgnoredAfterSameLevelRestart(t *testing.T) {
	h := newHarness(t, temperatureThresholds())

	h.read(t, "helmet-1", map[string]any{"temperature": 41})
	first := h.scheduler.last(t)
	h.read(t, "helmet-1", map[string]any{"temperature": 30})
	h.read(t, "helmet-1", map[string]any{"temperature": 41})
	second := h.scheduler.last(t)
	h.sink.reset()

	first.fire()
	if got := h.sink.snapshot(); len(got) != 0 {
		t.Fatalf("expected first instance timer to be ignored, got %s", describe(got))
	}
	second.fire()
	assertEvents(t, h.sink.snapshot(), []wantEvent{{kind: alerting.EventExposureElapsed, severity: alerting.SeverityCritical}})
}

func TestTemperatureScenario(t *testing.T) {
	h := newHarness(t, temperatureThresholds())

	h.read(t, "helmet-1", map[string]any{"temperature": 37})
	if got := h.sink.snapshot(); len(got) != 0 {
		t.Fatalf("expected no event for 37, got %s", describe(got))
	}
	h.read(t, "helmet-1", map[string]any{"temperature": 38.5})
	h.read(t, "helmet-1", map[string]any{"temperature": 39.2})
	warningTimer := h.scheduler.last(t)
	if warningTimer.delay != 5*time.Second {
		t.Fatalf("expected 5s warning exposure, got %s", warningTimer.delay)
	}
	h.clock.Add(5 * time.Second)
	warningTimer.fire()

	h.read(t, "helmet-1", map[string]any{"temperature": 41})
	criticalTimer := h.scheduler.last(t)
	if criticalTimer.delay != time.Second {
		t.Fatalf("expected 1s critical exposure, got %s", criticalTimer.delay)
	}
	h.clock.Add(time.Second)
	criticalTimer.fire()

	h.read(t, "helmet-1", map[string]any{"temperature": 36})

	assertEvents(t, h.sink.snapshot(), []wantEvent{
		{kind: alerting.EventStart, severity: alerting.SeverityCaution},
		{kind: alerting.EventCleared, severity: alerting.SeverityCaution, reason: alerting.ReasonEscalated},
		{kind: alerting.EventStart, severity: alerting.SeverityWarning},
		{kind: alerting.EventExposureElapsed, severity: alerting.SeverityWarning},
		{kind: alerting.EventCleared, severity: alerting.SeverityWarning, reason: alerting.ReasonEscalated},
		{kind: alerting.EventStart, severity: alerting.SeverityCritical},
		{kind: alerting.EventExposureElapsed, severity: alerting.SeverityCritical},
		{kind: alerting.EventCleared, severity: alerting.SeverityCritical, reason: alerting.ReasonValueRecovered},
	})
	events := h.sink.snapshot()
	if events[5].Message != "Temperature too high (>39°C). Immediate attention required." {
		t.Fatalf("expected temperature override message, got %q", events[5].Message)
	}
	if events[2].Message != "Temperature too high (>39°C). Immediate attention required." {
		t.Fatalf("expected override for 39.2, got %q", events[2].Message)
	}
	if h.registry.Len() != 0 {
		t.Fatalf("expected registry to be empty")
	}
}

func TestTemperatureScenarioWithRealTimers(t *testing.T) {
	sink := &recordingSink{}
	registry, err := NewRegistry(sink)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()
	thresholds := []alerting.Threshold{{
		Parameter: "temperature",
		Caution:   level(38, 0),
		Warning:   level(39, 50*time.Millisecond),
		Critical:  level(40, 20*time.Millisecond),
	}}
	service, err := NewService(staticSnapshot{snapshot: alerting.NewSnapshot(thresholds, time.Now())}, registry)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	read := func(value float64) {
		if err := service.HandleReading(context.Background(), alerting.Reading{Device: "helmet-1", Values: map[string]any{"temperature": value}}); err != nil {
			t.Fatalf("handle reading: %v", err)
		}
	}
	waitFor := func(count int) {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if len(sink.snapshot()) >= count {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("timeout waiting for %d events, got %s", count, describe(sink.snapshot()))
	}

	read(37)
	read(38.5)
	read(39.2)
	waitFor(4)
	read(41)
	waitFor(7)
	read(36)

	assertEvents(t, sink.snapshot(), []wantEvent{
		{kind: alerting.EventStart, severity: alerting.SeverityCaution},
		{kind: alerting.EventCleared, severity: alerting.SeverityCaution, reason: alerting.ReasonEscalated},
		{kind: alerting.EventStart, severity: alerting.SeverityWarning},
		{kind: alerting.EventExposureElapsed, severity: alerting.SeverityWarning},
		{kind: alerting.EventCleared, severity: alerting.SeverityWarning, reason: alerting.ReasonEscalated},
		{kind: alerting.EventStart, severity: alerting.SeverityCritical},
		{kind: alerting.EventExposureElapsed, severity: alerting.SeverityCritical},
		{kind: alerting.EventCleared, severity: alerting.SeverityCritical, reason: alerting.ReasonValueRecovered},
	})
}

func TestHandleReadingSkipsUnknownAndMalformedParameters(t *testing.T) {
	h := newHarness(t, append(temperatureThresholds(), alerting.Threshold{
		Parameter: "co",
		Warning:   level(35, 0),
	}))

	h.read(t, "helmet-1", map[string]any{
		"temperature": "not-a-number",
		"humidity":    95.0,
		"co":          50,
	})

	assertEvents(t, h.sink.snapshot(), []wantEvent{{kind: alerting.EventStart, severity: alerting.SeverityWarning}})
	if got := h.sink.snapshot()[0].Parameter; got != "co" {
		t.Fatalf("expected co alert, got %s", got)
	}
	if _, ok := h.registry.Get("helmet-1", "temperature"); ok {
		t.Fatalf("expected no temperature alert")
	}
}

func TestRemovedThresholdClearsActiveAlert(t *testing.T) {
	h := newHarness(t, nil)
	source := &stubSource{thresholds: temperatureThresholds()}
	store, err := NewThresholdStore(source, WithStoreClock(h.clock))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	service, err := NewService(store, h.registry)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	read := func(value any) {
		t.Helper()
		if err := service.HandleReading(context.Background(), alerting.Reading{Device: "helmet-1", Values: map[string]any{"temperature": value}}); err != nil {
			t.Fatalf("handle reading: %v", err)
		}
	}

	read(41.0)
	timer := h.scheduler.last(t)

	source.set(nil, nil)
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	read("sensor-error")
	if _, ok := h.registry.Get("helmet-1", "temperature"); !ok {
		t.Fatalf("expected malformed value to leave the alert alone")
	}
	read(41.0)

	assertEvents(t, h.sink.snapshot(), []wantEvent{
		{kind: alerting.EventStart, severity: alerting.SeverityCritical},
		{kind: alerting.EventCleared, severity: alerting.SeverityCritical, reason: alerting.ReasonValueRecovered},
	})
	if !timer.isStopped() {
		t.Fatalf("expected exposure timer to be cancelled")
	}
	if len(service.ListActiveAlerts()) != 0 {
		t.Fatalf("expected no active alerts")
	}

	read(45.0)
	if len(h.sink.snapshot()) != 2 {
		t.Fatalf("expected unconfigured reading without an alert to be ignored")
	}
}

func TestHandleReadingRequiresDevice(t *testing.T) {
	h := newHarness(t, temperatureThresholds())
	err := h.service.HandleReading(context.Background(), alerting.Reading{Values: map[string]any{"temperature": 41}})
	if err == nil {
		t.Fatalf("expected error for missing device")
	}
	if len(h.sink.snapshot()) != 0 {
		t.Fatalf("expected no events")
	}
}

func TestMalformedValueKeepsExistingAlert(t *testing.T) {
	h := newHarness(t, temperatureThresholds())

	h.read(t, "helmet-1", map[string]any{"temperature": 41})
	h.read(t, "helmet-1", map[string]any{"temperature": "sensor-error"})

	if len(h.sink.snapshot()) != 1 {
		t.Fatalf("expected only the start event, got %s", describe(h.sink.snapshot()))
	}
	if _, ok := h.registry.Get("helmet-1", "temperature"); !ok {
		t.Fatalf("expected alert to remain active")
	}
}

func TestListActiveAlertsSnapshot(t *testing.T) {
	h := newHarness(t, temperatureThresholds())

	h.read(t, "helmet-2", map[string]any{"temperature": 39.5})
	h.read(t, "helmet-1", map[string]any{"temperature": 38.1})

	list := h.service.ListActiveAlerts()
	if len(list) != 2 {
		t.Fatalf("expected 2 active alerts, got %d", len(list))
	}
	if list[0].Device != "helmet-1" || list[1].Device != "helmet-2" {
		t.Fatalf("expected sorted by device, got %s, %s", list[0].Device, list[1].Device)
	}
	if list[0].ExposureMs != nil {
		t.Fatalf("expected nil exposure for caution")
	}
	if list[1].ExposureMs == nil || *list[1].ExposureMs != 5000 {
		t.Fatalf("expected 5000ms exposure for warning, got %v", list[1].ExposureMs)
	}
	if list[1].ThresholdValue != 39 || list[1].LastValue != 39.5 || list[1].ExposureFired {
		t.Fatalf("unexpected warning view %+v", list[1])
	}

	list[0].LastValue = 999
	again := h.service.ListActiveAlerts()
	if again[0].LastValue == 999 {
		t.Fatalf("expected list to be a copy")
	}
	if len(h.sink.snapshot()) != 2 {
		t.Fatalf("expected listing to have no side effects")
	}
}

func TestRegistryCloseStopsTimers(t *testing.T) {
	h := newHarness(t, temperatureThresholds())

	h.read(t, "helmet-1", map[string]any{"temperature": 41})
	timer := h.scheduler.last(t)
	h.registry.Close()
	if !timer.isStopped() {
		t.Fatalf("expected timer stopped on close")
	}
	timer.fire()
	h.read(t, "helmet-1", map[string]any{"temperature": 30})
	if got := len(h.sink.snapshot()); got != 1 {
		t.Fatalf("expected no events after close, got %d", got)
	}
}

func TestConcurrentReadingsPerDevice(t *testing.T) {
	h := newHarness(t, temperatureThresholds())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			device := fmt.Sprintf("helmet-%d", i)
			for _, value := range []float64{38.5, 39.5, 41, 41.2} {
				if err := h.service.HandleReading(context.Background(), alerting.Reading{Device: device, Values: map[string]any{"temperature": value}}); err != nil {
					t.Errorf("handle reading: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	if h.registry.Len() != 20 {
		t.Fatalf("expected 20 active alerts, got %d", h.registry.Len())
	}
	perDevice := make(map[string][]alerting.AlertEvent)
	for _, event := range h.sink.snapshot() {
		perDevice[event.Device] = append(perDevice[event.Device], event)
	}
	for device, events := range perDevice {
		assertEvents(t, events, []wantEvent{
			{kind: alerting.EventStart, severity: alerting.SeverityCaution},
			{kind: alerting.EventCleared, severity: alerting.SeverityCaution, reason: alerting.ReasonEscalated},
			{kind: alerting.EventStart, severity: alerting.SeverityWarning},
			{kind: alerting.EventCleared, severity: alerting.SeverityWarning, reason: alerting.ReasonEscalated},
			{kind: alerting.EventStart, severity: alerting.SeverityCritical},
		})
		if events[0].Device != device {
			t.Fatalf("unexpected device grouping")
		}
	}
}
