package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidPayload indicates a message that is not a JSON object.
	ErrInvalidPayload = errors.New("telemetry: invalid payload")
	// ErrMissingDevice indicates a message without deviceName/device_name.
	ErrMissingDevice = errors.New("telemetry: missing device name")
)

// metaKeys are top-level fields never treated as parameters.
var metaKeys = map[string]bool{
	"deviceName":  true,
	"device_name": true,
	"type":        true,
	"time":        true,
	"timestamp":   true,
}

// Message is one decoded device payload.
type Message struct {
	Device string
	// Values holds the parameters to evaluate.
	Values map[string]any
	// Raw is the full payload as received, numbers kept as json.Number.
	Raw map[string]any
	At  time.Time
}

// Decode parses a device payload. Parameters come from sensorData.vitals and
// sensorData.environment (environment wins on conflicts); without sensorData
// the numeric top-level fields are used.
func Decode(raw []byte, now time.Time) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil || payload == nil {
		return Message{}, ErrInvalidPayload
	}
	if len(payload) == 0 {
		return Message{}, ErrInvalidPayload
	}

	msg := Message{
		Device: deviceName(payload),
		Raw:    payload,
		At:     timestampOf(payload, now),
		Values: map[string]any{},
	}
	if msg.Device == "" {
		return msg, ErrMissingDevice
	}

	if sensorData, ok := payload["sensorData"]; ok && sensorData != nil {
		section, _ := sensorData.(map[string]any)
		for _, group := range []string{"vitals", "environment"} {
			values, ok := section[group].(map[string]any)
			if !ok {
				continue
			}
			for parameter, value := range values {
				msg.Values[parameter] = value
			}
		}
		return msg, nil
	}

	for key, value := range payload {
		if metaKeys[key] {
			continue
		}
		if number, ok := value.(json.Number); ok {
			msg.Values[key] = number
		}
	}
	return msg, nil
}

func deviceName(payload map[string]any) string {
	for _, key := range []string{"deviceName", "device_name"} {
		if v, ok := payload[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// timestampOf reads time/timestamp as RFC 3339 or epoch seconds/milliseconds.
func timestampOf(payload map[string]any, now time.Time) time.Time {
	for _, key := range []string{"time", "timestamp"} {
		switch v := payload[key].(type) {
		case string:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t.UTC()
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				if t, err := parseEpoch(n); err == nil {
					return t
				}
			}
		}
	}
	return now.UTC()
}

func parseEpoch(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
