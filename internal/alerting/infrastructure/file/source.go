package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	alerting "minesafe-alerting/internal/alerting/domain"
)

type document struct {
	Thresholds []thresholdEntry `yaml:"thresholds"`
}

type thresholdEntry struct {
	Parameter string      `yaml:"parameter"`
	Unit      string      `yaml:"unit,omitempty"`
	Caution   *levelEntry `yaml:"caution,omitempty"`
	Warning   *levelEntry `yaml:"warning,omitempty"`
	Critical  *levelEntry `yaml:"critical,omitempty"`
}

type levelEntry struct {
	Value           float64 `yaml:"value"`
	ExposureSeconds float64 `yaml:"exposureSeconds,omitempty"`
}

// Source reads thresholds from a YAML file:
//
//	thresholds:
//	  - parameter: temperature
//	    unit: "°C"
//	    warning: {value: 39, exposureSeconds: 5}
type Source struct {
	path string
	mu   sync.Mutex
}

func NewSource(path string) (*Source, error) {
	if path == "" {
		return nil, errors.New("threshold file: empty path")
	}
	return &Source{path: path}, nil
}

// Path returns the watched file.
func (s *Source) Path() string {
	return s.path
}

// LoadThresholds parses the file on every call.
func (s *Source) LoadThresholds(_ context.Context) ([]alerting.Threshold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]alerting.Threshold, 0, len(doc.Thresholds))
	for _, entry := range doc.Thresholds {
		out = append(out, alerting.Threshold{
			Parameter: entry.Parameter,
			Unit:      entry.Unit,
			Caution:   entry.Caution.level(),
			Warning:   entry.Warning.level(),
			Critical:  entry.Critical.level(),
		})
	}
	return out, nil
}

// Update rewrites the levels of an existing parameter in place.
func (s *Source) Update(_ context.Context, th alerting.Threshold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	idx := -1
	for i := range doc.Thresholds {
		if doc.Thresholds[i].Parameter == th.Parameter {
			idx = i
			break
		}
	}
	if idx < 0 {
		return alerting.ErrNotFound
	}
	doc.Thresholds[idx].Caution = entryFor(th.Caution)
	doc.Thresholds[idx].Warning = entryFor(th.Warning)
	doc.Thresholds[idx].Critical = entryFor(th.Critical)
	return s.write(doc)
}

func (s *Source) read() (document, error) {
	var doc document
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return doc, fmt.Errorf("read threshold file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse threshold file: %w", err)
	}
	return doc, nil
}

// write replaces the file through a rename so watchers never see a partial document.
func (s *Source) write(doc document) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".thresholds-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (e *levelEntry) level() *alerting.Level {
	if e == nil {
		return nil
	}
	return &alerting.Level{
		Value:    e.Value,
		Exposure: time.Duration(e.ExposureSeconds * float64(time.Second)),
	}
}

func entryFor(level *alerting.Level) *levelEntry {
	if level == nil {
		return nil
	}
	return &levelEntry{Value: level.Value, ExposureSeconds: level.Exposure.Seconds()}
}
