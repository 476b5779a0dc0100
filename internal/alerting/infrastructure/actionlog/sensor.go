package actionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const defaultSensorInterval = 10 * time.Second

// SensorLog writes raw telemetry payloads, at most one line per device per interval.
type SensorLog struct {
	file     *rotatingFile
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// SensorOption customizes a SensorLog.
type SensorOption func(*SensorLog)

// WithSensorInterval overrides the per-device throttle.
func WithSensorInterval(interval time.Duration) SensorOption {
	return func(s *SensorLog) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSensorNow overrides the time source.
func WithSensorNow(now func() time.Time) SensorOption {
	return func(s *SensorLog) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSensorLog(cfg Rotation, opts ...SensorOption) (*SensorLog, error) {
	file, err := openRotating(cfg)
	if err != nil {
		return nil, err
	}
	s := &SensorLog{
		file:     file,
		interval: defaultSensorInterval,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Record writes {"type":"sensor","time":...,...payload} unless the device was
// logged less than the interval ago. It reports whether a line was written.
func (s *SensorLog) Record(_ context.Context, device string, payload map[string]any) (bool, error) {
	if device == "" {
		return false, nil
	}
	now := s.now()
	s.mu.Lock()
	if last, ok := s.last[device]; ok && now.Sub(last) < s.interval {
		s.mu.Unlock()
		return false, nil
	}
	s.last[device] = now
	s.mu.Unlock()

	entry := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		entry[k] = v
	}
	entry["type"] = "sensor"
	entry["time"] = formatTime(now)
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("sensor log: encode: %w", err)
	}
	return true, s.file.writeLine(raw)
}

// SensorQuery filters Entries. Empty device and zero bounds match everything.
type SensorQuery struct {
	Device string
	Start  time.Time
	End    time.Time
}

// Entries returns logged payloads newest first.
func (s *SensorLog) Entries(ctx context.Context, q SensorQuery) ([]map[string]any, error) {
	lines, err := s.file.readLines()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &entry); err != nil {
			continue
		}
		if q.Device != "" && deviceOf(entry) != q.Device {
			continue
		}
		if !q.Start.IsZero() || !q.End.IsZero() {
			ts, _ := entry["time"].(string)
			at, ok := parseTime(ts)
			if !ok {
				continue
			}
			if !q.Start.IsZero() && at.Before(q.Start) {
				continue
			}
			if !q.End.IsZero() && at.After(q.End) {
				continue
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// Close closes the underlying file.
func (s *SensorLog) Close() error {
	return s.file.close()
}

func deviceOf(entry map[string]any) string {
	for _, key := range []string{"deviceName", "device_name"} {
		if v, ok := entry[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
