package alerting

import "strings"

// Severity is an alert level ordered by increasing urgency.
// The zero value means no alert.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityCaution  Severity = "caution"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalizes a severity string.
func ParseSeverity(value string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(value))) {
	case SeverityCaution:
		return SeverityCaution, true
	case SeverityWarning:
		return SeverityWarning, true
	case SeverityCritical:
		return SeverityCritical, true
	default:
		return SeverityNone, false
	}
}

// Rank orders severities; none ranks 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCaution:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast returns true when s is as urgent as target.
func (s Severity) AtLeast(target Severity) bool {
	return s.Rank() >= target.Rank()
}

func (s Severity) String() string {
	if s == SeverityNone {
		return "none"
	}
	return string(s)
}
