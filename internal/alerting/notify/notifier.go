package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	alerting "minesafe-alerting/internal/alerting/domain"
	"minesafe-alerting/internal/observability/metrics"
)

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 10 * time.Second
	defaultAttempts    = 3
	defaultBackoff     = time.Second
)

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alert events and sends them through a channel from a
// background worker. Notify never blocks the caller.
type Notifier struct {
	channel     Channel
	template    *Template
	logger      zerolog.Logger
	clock       Clock
	minSeverity alerting.Severity
	kinds       map[alerting.EventKind]bool
	cooldown    time.Duration
	dedupe      time.Duration
	limiter     *rate.Limiter
	sendTimeout time.Duration
	attempts    int
	backoff     time.Duration

	queue chan alerting.AlertEvent

	mu   sync.Mutex
	sent map[string]sendRecord

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Option configures the notifier.
type Option func(*Notifier)

// WithTemplate overrides the default template.
func WithTemplate(tpl *Template) Option {
	return func(n *Notifier) {
		if tpl != nil {
			n.template = tpl
		}
	}
}

// WithNotifierLogger assigns a logger.
func WithNotifierLogger(logger zerolog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithMinSeverity drops events below the given severity.
func WithMinSeverity(severity alerting.Severity) Option {
	return func(n *Notifier) {
		n.minSeverity = severity
	}
}

// WithKinds restricts notifications to the given event kinds.
func WithKinds(kinds ...alerting.EventKind) Option {
	return func(n *Notifier) {
		if len(kinds) == 0 {
			return
		}
		n.kinds = make(map[alerting.EventKind]bool, len(kinds))
		for _, kind := range kinds {
			n.kinds[kind] = true
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same
// device, parameter and event kind.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupe = window
		}
	}
}

// WithRateLimit caps outbound sends per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(n *Notifier) {
		if perSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithQueueSize overrides the pending notification buffer.
func WithQueueSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan alerting.AlertEvent, size)
		}
	}
}

// WithRetry configures send attempts and the delay between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(n *Notifier) {
		if attempts > 0 {
			n.attempts = attempts
		}
		if backoff >= 0 {
			n.backoff = backoff
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(channel Channel, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	tpl, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	n := &Notifier{
		channel:     channel,
		template:    tpl,
		logger:      zerolog.Nop(),
		clock:       systemClock{},
		sendTimeout: defaultSendTimeout,
		attempts:    defaultAttempts,
		backoff:     defaultBackoff,
		queue:       make(chan alerting.AlertEvent, defaultQueueSize),
		sent:        make(map[string]sendRecord),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify queues an event for delivery. Full queues drop the event.
func (n *Notifier) Notify(_ context.Context, event alerting.AlertEvent) {
	if n == nil || !n.accepts(event) {
		return
	}
	select {
	case <-n.stop:
		return
	default:
	}
	select {
	case n.queue <- event:
	default:
		metrics.IncDeliveryDropped("notifier")
		n.logger.Warn().Str("device", event.Device).Str("parameter", event.Parameter).Msg("notification queue full, dropping event")
	}
}

// Start launches the delivery worker.
func (n *Notifier) Start() {
	if n == nil {
		return
	}
	n.startOnce.Do(func() {
		go n.run()
	})
}

// Close stops the worker after the queued events are sent.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.closeOnce.Do(func() {
		close(n.stop)
		started := true
		n.startOnce.Do(func() { started = false })
		if started {
			<-n.done
		}
	})
}

func (n *Notifier) run() {
	defer close(n.done)
	for {
		select {
		case event := <-n.queue:
			n.dispatch(event)
		case <-n.stop:
			for {
				select {
				case event := <-n.queue:
					n.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) accepts(event alerting.AlertEvent) bool {
	if n.kinds != nil && !n.kinds[event.Kind] {
		return false
	}
	if n.minSeverity != alerting.SeverityNone && !event.Severity.AtLeast(n.minSeverity) {
		return false
	}
	return true
}

func (n *Notifier) dispatch(event alerting.AlertEvent) {
	content, err := n.template.Render(buildTemplateData(event))
	if err != nil {
		metrics.IncNotification(metrics.ResultError)
		n.logger.Error().Err(err).Msg("render notification")
		return
	}
	key := notificationKey(event)
	if !n.shouldSend(key, content) {
		metrics.IncNotification("suppressed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
	defer cancel()
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			metrics.IncNotification(metrics.ResultError)
			n.logger.Error().Err(err).Msg("notification rate limit wait")
			return
		}
	}
	if err := n.send(ctx, content); err != nil {
		metrics.IncNotification(metrics.ResultError)
		n.logger.Error().Err(err).Str("device", event.Device).Str("parameter", event.Parameter).Str("kind", string(event.Kind)).Msg("send notification")
		return
	}
	n.markSent(key, content)
	metrics.IncNotification(metrics.ResultSuccess)
}

func (n *Notifier) send(ctx context.Context, content string) error {
	var err error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if err = n.channel.Send(ctx, content); err == nil {
			return nil
		}
		if attempt == n.attempts {
			break
		}
		n.logger.Warn().Err(err).Int("attempt", attempt).Msg("notification send failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.backoff * time.Duration(attempt)):
		}
	}
	return err
}

func (n *Notifier) shouldSend(key, content string) bool {
	if n.cooldown <= 0 && n.dedupe <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupe > 0 && record.hash == hashContent(content) && now.Sub(record.at) < n.dedupe {
		return false
	}
	return true
}

func (n *Notifier) markSent(key, content string) {
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(event alerting.AlertEvent) string {
	return event.Device + "|" + event.Parameter + "|" + string(event.Kind)
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
