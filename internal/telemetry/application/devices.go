package application

import (
	"sync"
	"time"
)

// DeviceSnapshots keeps the latest value of every parameter per device.
type DeviceSnapshots struct {
	mu      sync.RWMutex
	devices map[string]map[string]any
	seen    map[string]time.Time
}

func NewDeviceSnapshots() *DeviceSnapshots {
	return &DeviceSnapshots{
		devices: make(map[string]map[string]any),
		seen:    make(map[string]time.Time),
	}
}

// Merge overlays values onto the device's last known values.
func (d *DeviceSnapshots) Merge(device string, values map[string]any, at time.Time) {
	if device == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.devices[device]
	if !ok {
		current = make(map[string]any, len(values))
		d.devices[device] = current
	}
	for k, v := range values {
		current[k] = v
	}
	d.seen[device] = at.UTC()
}

// Devices returns a copy of every device snapshot.
func (d *DeviceSnapshots) Devices() map[string]map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]map[string]any, len(d.devices))
	for device, values := range d.devices {
		copied := make(map[string]any, len(values))
		for k, v := range values {
			copied[k] = v
		}
		out[device] = copied
	}
	return out
}

// LastSeen returns when a device last reported.
func (d *DeviceSnapshots) LastSeen(device string) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	at, ok := d.seen[device]
	return at, ok
}
