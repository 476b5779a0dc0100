package postgres

import (
	"context"
	"database/sql"
	"errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS thresholds (
	parameter          TEXT PRIMARY KEY,
	unit               TEXT NOT NULL DEFAULT '',
	caution_threshold  DOUBLE PRECISION NULL,
	caution_exposure   DOUBLE PRECISION NULL,
	warning_threshold  DOUBLE PRECISION NULL,
	warning_exposure   DOUBLE PRECISION NULL,
	critical_threshold DOUBLE PRECISION NULL,
	critical_exposure  DOUBLE PRECISION NULL,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE thresholds
	ALTER COLUMN caution_exposure TYPE DOUBLE PRECISION,
	ALTER COLUMN warning_exposure TYPE DOUBLE PRECISION,
	ALTER COLUMN critical_exposure TYPE DOUBLE PRECISION;

CREATE TABLE IF NOT EXISTS alert_events (
	id          TEXT PRIMARY KEY,
	alert_id    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	device      TEXT NOT NULL,
	parameter   TEXT NOT NULL,
	severity    TEXT NOT NULL,
	value       DOUBLE PRECISION NULL,
	threshold   DOUBLE PRECISION NULL,
	exposure_ms BIGINT NULL,
	started_at  TIMESTAMPTZ NULL,
	cleared_at  TIMESTAMPTZ NULL,
	reason      TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS alert_events_device_time_idx ON alert_events (device, occurred_at DESC);
`

// Migrate creates the tables used by the alerting service when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("alerting migrate: nil db")
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}
