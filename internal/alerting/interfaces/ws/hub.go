package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	alerting "minesafe-alerting/internal/alerting/domain"
	"minesafe-alerting/internal/observability/metrics"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod  = (pongWait * 9) / 10
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is applied at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// DeviceSource returns the latest values per device.
type DeviceSource interface {
	Devices() map[string]map[string]any
}

// AlertSource lists live alerts.
type AlertSource interface {
	ListActiveAlerts() []alerting.ActiveAlert
}

type snapshotMessage struct {
	Type    string                    `json:"type"`
	Devices map[string]map[string]any `json:"devices"`
	Alerts  []alerting.ActiveAlert    `json:"alerts"`
}

type alertMessage struct {
	Type string `json:"type"`
	alerting.AlertEvent
}

type telemetryMessage struct {
	Type   string         `json:"type"`
	Device string         `json:"device"`
	Data   map[string]any `json:"data"`
	At     time.Time      `json:"at"`
}

// Hub pushes alert events and telemetry to connected dashboard clients.
// Clients whose buffer is full are disconnected.
type Hub struct {
	devices DeviceSource
	alerts  AlertSource
	logger  zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	// first is written before anything queued on send.
	first []byte
}

// New creates a Hub. Either source may be nil.
func New(devices DeviceSource, alerts AlertSource, logger zerolog.Logger) *Hub {
	return &Hub{
		devices: devices,
		alerts:  alerts,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the connection, sends the current snapshot and then
// streams broadcasts until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	// Registered before the snapshot is built so no broadcast falls in between.
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	defer h.unregister(c)
	if data, err := h.snapshot(); err == nil {
		c.first = data
	}

	go c.writePump()
	c.readPump()
}

// Notify implements application.AlertNotifier.
func (h *Hub) Notify(_ context.Context, event alerting.AlertEvent) {
	data, err := json.Marshal(alertMessage{Type: "alert", AlertEvent: event})
	if err != nil {
		return
	}
	h.broadcast(data)
}

// PublishTelemetry relays a device's latest values.
func (h *Hub) PublishTelemetry(device string, values map[string]any, at time.Time) {
	data, err := json.Marshal(telemetryMessage{Type: "telemetry", Device: device, Data: values, At: at.UTC()})
	if err != nil {
		h.logger.Debug().Err(err).Str("device", device).Msg("encode telemetry message")
		return
	}
	h.broadcast(data)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() ([]byte, error) {
	msg := snapshotMessage{
		Type:    "snapshot",
		Devices: map[string]map[string]any{},
		Alerts:  []alerting.ActiveAlert{},
	}
	if h.devices != nil {
		msg.Devices = h.devices.Devices()
	}
	if h.alerts != nil {
		if alerts := h.alerts.ListActiveAlerts(); alerts != nil {
			msg.Alerts = alerts
		}
	}
	return json.Marshal(msg)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(data []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		metrics.IncDeliveryDropped("websocket")
		h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("websocket client too slow, disconnecting")
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	if c.first != nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, c.first); err != nil {
			return
		}
	}

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only processes control frames and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
