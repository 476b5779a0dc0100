package application

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	alerting "minesafe-alerting/internal/alerting/domain"
	"minesafe-alerting/internal/observability/metrics"
)

const (
	defaultLogQueueSize  = 1024
	defaultAppendTimeout = 5 * time.Second
)

// AlertNotifier receives alert events. Notify must return without blocking on I/O.
type AlertNotifier interface {
	Notify(ctx context.Context, event alerting.AlertEvent)
}

// EventLog durably records alert events.
type EventLog interface {
	Append(ctx context.Context, event alerting.AlertEvent) error
}

type namedLog struct {
	name string
	log  EventLog
}

// Broadcaster fans alert events out to subscribers and durable logs.
// Subscriber delivery and log appends fail independently.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[uint64]AlertNotifier
	nextID      uint64

	logs          []namedLog
	queueMu       sync.RWMutex
	queue         chan alerting.AlertEvent
	closed        bool
	started       bool
	appendTimeout time.Duration
	logger        zerolog.Logger

	startOnce sync.Once
	done      chan struct{}
}

// BroadcasterOption customizes the broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithEventLog adds a durable log.
func WithEventLog(name string, log EventLog) BroadcasterOption {
	return func(b *Broadcaster) {
		if log != nil {
			b.logs = append(b.logs, namedLog{name: name, log: log})
		}
	}
}

// WithLogQueueSize sets the pending log record capacity.
func WithLogQueueSize(size int) BroadcasterOption {
	return func(b *Broadcaster) {
		if size > 0 {
			b.queue = make(chan alerting.AlertEvent, size)
		}
	}
}

// WithAppendTimeout bounds a single log append.
func WithAppendTimeout(timeout time.Duration) BroadcasterOption {
	return func(b *Broadcaster) {
		if timeout > 0 {
			b.appendTimeout = timeout
		}
	}
}

// WithBroadcasterLogger assigns a logger.
func WithBroadcasterLogger(logger zerolog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// NewBroadcaster constructs a broadcaster. Call Start to begin log appends.
func NewBroadcaster(opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		subscribers:   make(map[uint64]AlertNotifier),
		queue:         make(chan alerting.AlertEvent, defaultLogQueueSize),
		appendTimeout: defaultAppendTimeout,
		logger:        zerolog.Nop(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a notifier and returns a function removing it.
func (b *Broadcaster) Subscribe(notifier AlertNotifier) func() {
	if b == nil || notifier == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[id] = notifier
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish implements EventSink.
func (b *Broadcaster) Publish(event alerting.AlertEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subscribers := make([]AlertNotifier, 0, len(b.subscribers))
	for _, notifier := range b.subscribers {
		subscribers = append(subscribers, notifier)
	}
	b.mu.RUnlock()

	ctx := context.Background()
	for _, notifier := range subscribers {
		b.deliver(ctx, notifier, event)
	}

	if len(b.logs) == 0 {
		return
	}
	b.queueMu.RLock()
	defer b.queueMu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- event:
	default:
		metrics.IncDeliveryDropped("event_log")
		b.logger.Error().Str("event_id", event.ID).Str("kind", string(event.Kind)).Msg("event log queue full, record dropped")
	}
}

// Start launches the log append worker.
func (b *Broadcaster) Start() {
	if b == nil {
		return
	}
	b.startOnce.Do(func() {
		b.queueMu.Lock()
		b.started = true
		b.queueMu.Unlock()
		go b.runLogs()
	})
}

// Close stops accepting log records and waits for queued ones to be written.
func (b *Broadcaster) Close() {
	if b == nil {
		return
	}
	b.queueMu.Lock()
	if b.closed {
		b.queueMu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	started := b.started
	b.queueMu.Unlock()
	if started {
		<-b.done
	}
}

func (b *Broadcaster) deliver(ctx context.Context, notifier AlertNotifier, event alerting.AlertEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncDeliveryDropped("subscriber")
			b.logger.Error().Interface("panic", rec).Str("event_id", event.ID).Msg("subscriber panicked")
		}
	}()
	notifier.Notify(ctx, event)
}

func (b *Broadcaster) runLogs() {
	defer close(b.done)
	for event := range b.queue {
		for _, entry := range b.logs {
			b.append(entry, event)
		}
	}
}

func (b *Broadcaster) append(entry namedLog, event alerting.AlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), b.appendTimeout)
	defer cancel()
	if err := entry.log.Append(ctx, event); err != nil {
		metrics.IncLogAppendFailure(entry.name)
		b.logger.Error().Err(err).Str("log", entry.name).Str("event_id", event.ID).Msg("event log append failed")
	}
}
