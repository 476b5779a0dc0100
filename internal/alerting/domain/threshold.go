package alerting

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Level is one severity step of a threshold.
type Level struct {
	Value    float64       `json:"value" yaml:"value"`
	Exposure time.Duration `json:"-" yaml:"-"`
}

// ExposureMs returns the exposure duration in milliseconds.
func (l Level) ExposureMs() int64 {
	return l.Exposure.Milliseconds()
}

// Threshold holds the caution/warning/critical levels of one parameter.
type Threshold struct {
	Parameter string
	Unit      string
	Caution   *Level
	Warning   *Level
	Critical  *Level
}

// LevelFor returns the configured level for a severity.
func (t Threshold) LevelFor(severity Severity) *Level {
	switch severity {
	case SeverityCaution:
		return t.Caution
	case SeverityWarning:
		return t.Warning
	case SeverityCritical:
		return t.Critical
	default:
		return nil
	}
}

// Validate checks that a threshold can be published.
func (t Threshold) Validate() error {
	if strings.TrimSpace(t.Parameter) == "" {
		return fmt.Errorf("%w: empty parameter", ErrInvalidThreshold)
	}
	for _, severity := range []Severity{SeverityCaution, SeverityWarning, SeverityCritical} {
		level := t.LevelFor(severity)
		if level == nil {
			continue
		}
		if math.IsNaN(level.Value) || math.IsInf(level.Value, 0) {
			return fmt.Errorf("%w: %s %s value not finite", ErrInvalidThreshold, t.Parameter, severity)
		}
		if level.Exposure < 0 {
			return fmt.Errorf("%w: %s %s exposure negative", ErrInvalidThreshold, t.Parameter, severity)
		}
	}
	return nil
}

// Monotonic reports whether caution <= warning <= critical for the levels present.
func (t Threshold) Monotonic() bool {
	prev := math.Inf(-1)
	for _, level := range []*Level{t.Caution, t.Warning, t.Critical} {
		if level == nil {
			continue
		}
		if level.Value < prev {
			return false
		}
		prev = level.Value
	}
	return true
}

// Snapshot is an immutable set of thresholds keyed by parameter.
type Snapshot struct {
	thresholds map[string]Threshold
	loadedAt   time.Time
}

// NewSnapshot copies thresholds into a snapshot. Later entries win on duplicate parameters.
func NewSnapshot(thresholds []Threshold, loadedAt time.Time) *Snapshot {
	set := make(map[string]Threshold, len(thresholds))
	for _, th := range thresholds {
		if th.Parameter == "" {
			continue
		}
		set[th.Parameter] = cloneThreshold(th)
	}
	return &Snapshot{thresholds: set, loadedAt: loadedAt.UTC()}
}

// EmptySnapshot returns a snapshot with no thresholds.
func EmptySnapshot() *Snapshot {
	return &Snapshot{thresholds: map[string]Threshold{}}
}

// Lookup returns the threshold for a parameter.
func (s *Snapshot) Lookup(parameter string) (Threshold, bool) {
	if s == nil {
		return Threshold{}, false
	}
	th, ok := s.thresholds[parameter]
	if !ok {
		return Threshold{}, false
	}
	return cloneThreshold(th), true
}

// Len returns the number of parameters.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.thresholds)
}

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Thresholds returns a copy of all thresholds sorted by parameter.
func (s *Snapshot) Thresholds() []Threshold {
	if s == nil {
		return nil
	}
	out := make([]Threshold, 0, len(s.thresholds))
	for _, th := range s.thresholds {
		out = append(out, cloneThreshold(th))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parameter < out[j].Parameter })
	return out
}

func cloneThreshold(th Threshold) Threshold {
	th.Caution = cloneLevel(th.Caution)
	th.Warning = cloneLevel(th.Warning)
	th.Critical = cloneLevel(th.Critical)
	return th
}

func cloneLevel(level *Level) *Level {
	if level == nil {
		return nil
	}
	copied := *level
	return &copied
}
