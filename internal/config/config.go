package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Threshold sources.
const (
	SourcePostgres = "postgres"
	SourceFile     = "file"
)

// LogFile configures a rotated log file.
type LogFile struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Kafka configures the telemetry consumer. An empty broker list disables it.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Notify configures outbound alert notifications.
type Notify struct {
	WebhookURL     string        `yaml:"webhook_url"`
	TelegramToken  string        `yaml:"telegram_token"`
	TelegramChatID int64         `yaml:"telegram_chat_id"`
	Template       string        `yaml:"template"`
	MinSeverity    string        `yaml:"min_severity"`
	Cooldown       time.Duration `yaml:"cooldown"`
	DedupeWindow   time.Duration `yaml:"dedupe_window"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	RateBurst      int           `yaml:"rate_burst"`
}

// Config holds service configuration.
type Config struct {
	HTTPAddr         string        `yaml:"http_addr"`
	LogLevel         string        `yaml:"log_level"`
	DatabaseURL      string        `yaml:"database_url"`
	ThresholdSource  string        `yaml:"threshold_source"`
	ThresholdsFile   string        `yaml:"thresholds_file"`
	ThresholdRefresh time.Duration `yaml:"threshold_refresh"`
	ActionLog        LogFile       `yaml:"action_log"`
	SensorLog        LogFile       `yaml:"sensor_log"`
	SensorInterval   time.Duration `yaml:"sensor_interval"`
	Kafka            Kafka         `yaml:"kafka"`
	Notify           Notify        `yaml:"notify"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// Load reads an optional .env file, environment variables and an optional
// yaml overlay named by ALERTING_CONFIG. Values present in the overlay win.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	cfg := Config{
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:         getenvDefault("LOG_LEVEL", "info"),
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		ThresholdSource:  strings.ToLower(getenvDefault("THRESHOLD_SOURCE", SourcePostgres)),
		ThresholdsFile:   getenvDefault("THRESHOLDS_FILE", "thresholds.yaml"),
		ThresholdRefresh: getenvDuration("THRESHOLD_REFRESH", time.Minute),
		ActionLog: LogFile{
			Path:       getenvDefault("ACTION_LOG_PATH", "logs/action.log"),
			MaxSizeMB:  getenvIntDefault("ACTION_LOG_MAX_SIZE_MB", 10),
			MaxBackups: getenvIntDefault("ACTION_LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getenvIntDefault("ACTION_LOG_MAX_AGE_DAYS", 30),
			Compress:   getenvBool("ACTION_LOG_COMPRESS", false),
		},
		SensorLog: LogFile{
			Path:       getenvDefault("SENSOR_LOG_PATH", "logs/sensor.log"),
			MaxSizeMB:  getenvIntDefault("SENSOR_LOG_MAX_SIZE_MB", 50),
			MaxBackups: getenvIntDefault("SENSOR_LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getenvIntDefault("SENSOR_LOG_MAX_AGE_DAYS", 7),
			Compress:   getenvBool("SENSOR_LOG_COMPRESS", true),
		},
		SensorInterval: getenvDuration("SENSOR_LOG_INTERVAL", 10*time.Second),
		Kafka: Kafka{
			Brokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
			Topic:   getenvDefault("KAFKA_TOPIC", "health"),
			GroupID: getenvDefault("KAFKA_GROUP_ID", "minesafe-alerting"),
		},
		Notify: Notify{
			WebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
			TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			Template:      os.Getenv("NOTIFY_TEMPLATE"),
			MinSeverity:   getenvDefault("NOTIFY_MIN_SEVERITY", "warning"),
			Cooldown:      getenvDuration("NOTIFY_COOLDOWN", 5*time.Minute),
			DedupeWindow:  getenvDuration("NOTIFY_DEDUP_WINDOW", 0),
			RatePerSecond: getenvFloatDefault("NOTIFY_RATE_PER_SEC", 1),
			RateBurst:     getenvIntDefault("NOTIFY_RATE_BURST", 5),
		},
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		chatID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Notify.TelegramChatID = chatID
	}

	if path := os.Getenv("ALERTING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.ThresholdSource = strings.ToLower(cfg.ThresholdSource)
	}

	return cfg, cfg.Validate()
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	switch c.ThresholdSource {
	case SourcePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL or PG_DSN is required for the postgres threshold source"))
		}
	case SourceFile:
		if c.ThresholdsFile == "" {
			errs = append(errs, errors.New("THRESHOLDS_FILE is required for the file threshold source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown THRESHOLD_SOURCE %q", c.ThresholdSource))
	}
	if c.ThresholdRefresh <= 0 {
		errs = append(errs, errors.New("THRESHOLD_REFRESH must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set"))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
