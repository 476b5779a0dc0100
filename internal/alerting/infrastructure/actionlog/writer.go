package actionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	alerting "minesafe-alerting/internal/alerting/domain"
)

// Writer appends "time | action | {details}" lines to a rotating file.
type Writer struct {
	file *rotatingFile
	now  func() time.Time
}

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithNow overrides the time source used for action lines.
func WithNow(now func() time.Time) WriterOption {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

func NewWriter(cfg Rotation, opts ...WriterOption) (*Writer, error) {
	file, err := openRotating(cfg)
	if err != nil {
		return nil, err
	}
	w := &Writer{file: file, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Actor identifies who performed an operator action.
type Actor struct {
	EmpID    string `json:"emp_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Append records an alert lifecycle event using its kind as action.
func (w *Writer) Append(_ context.Context, event alerting.AlertEvent) error {
	return w.write(event.At, event.Action(), nil, event)
}

// AppendAction records an operator action such as a threshold update. A nil
// actor omits the actor column.
func (w *Writer) AppendAction(_ context.Context, action string, actor *Actor, details any) error {
	return w.write(w.now(), action, actor, details)
}

func (w *Writer) write(at time.Time, action string, actor *Actor, details any) error {
	if w == nil {
		return fmt.Errorf("actionlog: nil writer")
	}
	action = strings.TrimSpace(action)
	if action == "" || strings.Contains(action, "|") {
		return fmt.Errorf("actionlog: invalid action %q", action)
	}
	if details == nil {
		details = struct{}{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("actionlog: encode details: %w", err)
	}
	if at.IsZero() {
		at = w.now()
	}
	line := make([]byte, 0, len(raw)+64)
	line = append(line, formatTime(at)...)
	line = append(line, " | "...)
	line = append(line, action...)
	line = append(line, " | "...)
	if actor != nil {
		rawActor, err := json.Marshal(actor)
		if err != nil {
			return fmt.Errorf("actionlog: encode actor: %w", err)
		}
		line = append(line, "actor="...)
		line = append(line, rawActor...)
		line = append(line, " | "...)
	}
	line = append(line, raw...)
	return w.file.writeLine(line)
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	return w.file.close()
}
