package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	alertapp "minesafe-alerting/internal/alerting/application"
	alerting "minesafe-alerting/internal/alerting/domain"
	"minesafe-alerting/internal/alerting/infrastructure/actionlog"
	thresholdfile "minesafe-alerting/internal/alerting/infrastructure/file"
	"minesafe-alerting/internal/alerting/infrastructure/postgres"
	alerthttp "minesafe-alerting/internal/alerting/interfaces/http"
	"minesafe-alerting/internal/alerting/interfaces/ws"
	"minesafe-alerting/internal/alerting/notify"
	"minesafe-alerting/internal/config"
	"minesafe-alerting/internal/logger"
	"minesafe-alerting/internal/observability/metrics"
	telemetryapp "minesafe-alerting/internal/telemetry/application"
	telemetryhttp "minesafe-alerting/internal/telemetry/interfaces/http"
	telemetrykafka "minesafe-alerting/internal/telemetry/interfaces/kafka"
)

type thresholdBackend interface {
	alertapp.ThresholdSource
	alerthttp.ThresholdWriter
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("config error")
	}
	log := logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("db open error")
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("db ping error")
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("db migrate error")
		}
	}
	metrics.Init(db, log)

	var backend thresholdBackend
	var watchPath string
	switch cfg.ThresholdSource {
	case config.SourceFile:
		source, err := thresholdfile.NewSource(cfg.ThresholdsFile)
		if err != nil {
			log.Fatal().Err(err).Msg("threshold file error")
		}
		backend = source
		watchPath = source.Path()
	default:
		repo, err := postgres.NewThresholdRepository(db)
		if err != nil {
			log.Fatal().Err(err).Msg("threshold repository error")
		}
		backend = repo
	}

	store, err := alertapp.NewThresholdStore(backend,
		alertapp.WithRefreshInterval(cfg.ThresholdRefresh),
		alertapp.WithStoreLogger(logger.WithComponent("thresholds")),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("threshold store error")
	}

	actions, err := actionlog.NewWriter(rotation(cfg.ActionLog))
	if err != nil {
		log.Fatal().Err(err).Msg("action log error")
	}
	defer actions.Close()
	sensors, err := actionlog.NewSensorLog(rotation(cfg.SensorLog), actionlog.WithSensorInterval(cfg.SensorInterval))
	if err != nil {
		log.Fatal().Err(err).Msg("sensor log error")
	}
	defer sensors.Close()

	broadcasterOpts := []alertapp.BroadcasterOption{
		alertapp.WithEventLog("action_log", actions),
		alertapp.WithBroadcasterLogger(logger.WithComponent("broadcaster")),
	}
	var history *postgres.EventRepository
	if db != nil {
		history, err = postgres.NewEventRepository(db)
		if err != nil {
			log.Fatal().Err(err).Msg("event repository error")
		}
		broadcasterOpts = append(broadcasterOpts, alertapp.WithEventLog("postgres", history))
	}
	broadcaster := alertapp.NewBroadcaster(broadcasterOpts...)

	registry, err := alertapp.NewRegistry(broadcaster, alertapp.WithRegistryLogger(logger.WithComponent("registry")))
	if err != nil {
		log.Fatal().Err(err).Msg("alert registry error")
	}
	service, err := alertapp.NewService(store, registry, alertapp.WithLogger(logger.WithComponent("alerting")))
	if err != nil {
		log.Fatal().Err(err).Msg("alerting service error")
	}

	devices := telemetryapp.NewDeviceSnapshots()
	hub := ws.New(devices, service, logger.WithComponent("ws"))
	sseBroker := alerthttp.NewSSEBroker()
	broadcaster.Subscribe(sseBroker)
	broadcaster.Subscribe(hub)

	notifier, err := buildNotifier(cfg.Notify, log)
	if err != nil {
		log.Fatal().Err(err).Msg("notifier error")
	}
	if notifier != nil {
		broadcaster.Subscribe(notifier)
		notifier.Start()
	}

	ingestor, err := telemetryapp.NewIngestor(service, devices,
		telemetryapp.WithSensorRecorder(sensors),
		telemetryapp.WithRelay(hub),
		telemetryapp.WithIngestLogger(logger.WithComponent("ingest")),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("ingestor error")
	}

	deps := alerthttp.Dependencies{
		Alerts:          service,
		Thresholds:      store,
		ThresholdWriter: backend,
		Refresher:       store,
		Actions:         actions,
		Sensors:         sensors,
		Logger:          logger.WithComponent("http"),
	}
	if history != nil {
		deps.History = history
	}
	alertHandler, err := alerthttp.NewHandler(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("alerting handler error")
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestor, logger.WithComponent("ingest"))
	if err != nil {
		log.Fatal().Err(err).Msg("ingest handler error")
	}
	devicesHandler, err := telemetryhttp.NewDevicesHandler(devices)
	if err != nil {
		log.Fatal().Err(err).Msg("devices handler error")
	}

	mux := http.NewServeMux()
	alertHandler.Register(mux)
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(sseBroker))
	mux.Handle("/api/v1/telemetry", ingestHandler)
	mux.Handle("/api/v1/devices", devicesHandler)
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Error().Err(err).Str("worker", name).Msg("worker stopped")
			}
		}()
	}

	broadcaster.Start()
	ingestor.Start()
	// A failed initial load is retried as soon as Run starts.
	if err := store.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial threshold load failed")
	}
	run("thresholds", func(ctx context.Context) error {
		store.Run(ctx)
		return nil
	})
	run("ws", func(ctx context.Context) error {
		hub.Run(ctx)
		return nil
	})
	if watchPath != "" {
		run("threshold-watch", func(ctx context.Context) error {
			return thresholdfile.Watch(ctx, watchPath, logger.WithComponent("threshold-watch"), store.RequestRefresh)
		})
	}
	var consumer *telemetrykafka.Consumer
	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err = telemetrykafka.NewConsumer(telemetrykafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, ingestor, telemetrykafka.WithLogger(logger.WithComponent("kafka")))
		if err != nil {
			log.Fatal().Err(err).Msg("kafka consumer error")
		}
		run("kafka", consumer.Run)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(mux, logger.WithComponent("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown error")
	}
	wg.Wait()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Warn().Err(err).Msg("kafka close error")
		}
	}
	ingestor.Close()
	registry.Close()
	broadcaster.Close()
	if notifier != nil {
		notifier.Close()
	}
}

func rotation(file config.LogFile) actionlog.Rotation {
	return actionlog.Rotation{
		Path:       file.Path,
		MaxSizeMB:  file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAgeDays: file.MaxAgeDays,
		Compress:   file.Compress,
	}
}

func buildNotifier(cfg config.Notify, log zerolog.Logger) (*notify.Notifier, error) {
	var channels []notify.Channel
	if cfg.WebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	if cfg.TelegramToken != "" {
		channel, err := notify.NewTelegramChannel(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	if len(channels) == 0 {
		log.Info().Msg("no notification channels configured")
		return nil, nil
	}

	tpl, err := notify.NewTemplate(cfg.Template)
	if err != nil {
		return nil, err
	}
	opts := []notify.Option{
		notify.WithTemplate(tpl),
		notify.WithNotifierLogger(logger.WithComponent("notify")),
		notify.WithCooldown(cfg.Cooldown),
		notify.WithDedupeWindow(cfg.DedupeWindow),
		notify.WithRateLimit(cfg.RatePerSecond, cfg.RateBurst),
	}
	if severity, ok := alerting.ParseSeverity(cfg.MinSeverity); ok {
		opts = append(opts, notify.WithMinSeverity(severity))
	}
	return notify.NewNotifier(notify.NewMultiChannel(channels...), opts...)
}

func loggingMiddleware(next http.Handler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		elapsed := time.Since(start)
		metrics.ObserveHTTP(r.Method, resp.status, elapsed)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", resp.status).
			Dur("duration", elapsed).
			Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working behind the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
