package notify

import (
	"bytes"
	"errors"
	"text/template"
	"time"

	alerting "minesafe-alerting/internal/alerting/domain"
)

const DefaultTemplate = `[Alert {{.EventLabel}}] {{.Severity}}
Device: {{.Device}}
Parameter: {{.Parameter}}
{{- if .Value }}
Value: {{.Value}}{{ if .Threshold }} (threshold {{.Threshold}}){{ end }}
{{- end }}
{{- if .Exposure }}
Exposure: {{.Exposure}}
{{- end }}
{{- if .Reason }}
Reason: {{.Reason}}
{{- end }}
Time: {{.Time}}
{{.Message}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Device     string
	Parameter  string
	Severity   string
	Value      string
	Threshold  string
	Exposure   string
	Reason     string
	Message    string
	Time       string
	Event      string
	EventLabel string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildTemplateData(event alerting.AlertEvent) TemplateData {
	data := TemplateData{
		Device:     event.Device,
		Parameter:  event.Parameter,
		Severity:   event.Severity.String(),
		Reason:     event.Reason,
		Message:    event.Message,
		Time:       event.At.UTC().Format(time.RFC3339),
		Event:      string(event.Kind),
		EventLabel: eventLabel(event.Kind),
	}
	if event.Value != nil {
		data.Value = alerting.FormatValue(*event.Value)
	}
	if event.Threshold != nil {
		data.Threshold = alerting.FormatValue(*event.Threshold)
	}
	if event.ExposureMs != nil && *event.ExposureMs > 0 {
		data.Exposure = (time.Duration(*event.ExposureMs) * time.Millisecond).String()
	}
	return data
}

func eventLabel(kind alerting.EventKind) string {
	switch kind {
	case alerting.EventStart:
		return "Triggered"
	case alerting.EventExposureElapsed:
		return "Exposure Reached"
	case alerting.EventCleared:
		return "Cleared"
	default:
		return string(kind)
	}
}
