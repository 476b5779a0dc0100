package alerting

import "time"

// Reading is one telemetry message of a device.
type Reading struct {
	Device string
	Values map[string]any
	At     time.Time
}

// ActiveAlert is a read-only view of a live alert.
type ActiveAlert struct {
	ID             string    `json:"id"`
	Device         string    `json:"device"`
	Parameter      string    `json:"parameter"`
	Severity       Severity  `json:"severity"`
	StartTime      time.Time `json:"startTime"`
	ThresholdValue float64   `json:"thresholdValue"`
	ExposureMs     *int64    `json:"exposureMs"`
	ExposureFired  bool      `json:"exposureFired"`
	LastValue      float64   `json:"lastValue"`
}
