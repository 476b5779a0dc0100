package actionlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entry is one parsed action log line.
type Entry struct {
	Time    string          `json:"time"`
	Action  string          `json:"action"`
	Actor   json.RawMessage `json:"actor"`
	Details json.RawMessage `json:"details"`
	Summary string          `json:"summary"`
	Raw     string          `json:"raw"`

	at time.Time
}

// At returns the parsed timestamp, zero when the line had none.
func (e Entry) At() time.Time {
	return e.at
}

// Query filters Entries. Zero bounds are open.
type Query struct {
	Start time.Time
	End   time.Time
}

// Entries returns the parsed action log, newest first.
func (w *Writer) Entries(ctx context.Context, q Query) ([]Entry, error) {
	lines, err := w.file.readLines()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := ParseLine(lines[i])
		if !q.Start.IsZero() && (entry.at.IsZero() || entry.at.Before(q.Start)) {
			continue
		}
		if !q.End.IsZero() && (entry.at.IsZero() || entry.at.After(q.End)) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// ParseLine splits "time | action | [actor=... | ]details". Unparseable
// parts are kept as null JSON.
func ParseLine(line string) Entry {
	parts := strings.Split(line, " | ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	entry := Entry{Raw: line, Actor: json.RawMessage("null"), Details: json.RawMessage("{}")}
	entry.Time = parts[0]
	entry.at, _ = parseTime(entry.Time)
	if len(parts) > 1 {
		entry.Action = parts[1]
	}
	if len(parts) > 2 {
		rest := parts[2:]
		if len(rest) > 1 && strings.HasPrefix(rest[0], "actor=") {
			if actor := strings.TrimPrefix(rest[0], "actor="); json.Valid([]byte(actor)) {
				entry.Actor = json.RawMessage(actor)
			}
			rest = rest[1:]
		}
		if details := strings.Join(rest, " | "); json.Valid([]byte(details)) {
			entry.Details = json.RawMessage(details)
		}
	}
	entry.Summary = Summarize(entry.Action, entry.Details)
	return entry
}

// Summarize builds a one-line human readable description of an action.
func Summarize(action string, details json.RawMessage) string {
	fields := map[string]any{}
	_ = json.Unmarshal(details, &fields)
	str := func(key string) string {
		if v, ok := fields[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}

	switch action {
	case "threshold_updated", "threshold_set":
		if p := str("parameter"); p != "" {
			return fmt.Sprintf("Updated thresholds for %s.", p)
		}
		return "Updated thresholds."
	case "alert_started", "alert_exposure_elapsed", "alert_cleared":
		if msg := str("message"); msg != "" {
			if device := str("device"); device != "" {
				return fmt.Sprintf("%s: %s.", device, msg)
			}
			return msg + "."
		}
	}

	words := strings.NewReplacer("_", " ", "-", " ").Replace(action)
	keys := orderedKeys(details)
	if len(keys) == 0 {
		return words + "."
	}
	if len(keys) > 4 {
		keys = keys[:4]
	}
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		raw, _ := json.Marshal(fields[key])
		parts = append(parts, key+"="+string(raw))
	}
	return fmt.Sprintf("%s: %s.", words, strings.Join(parts, ", "))
}

// orderedKeys returns the top-level object keys in document order.
func orderedKeys(raw json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}
