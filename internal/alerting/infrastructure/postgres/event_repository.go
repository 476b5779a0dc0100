package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerting "minesafe-alerting/internal/alerting/domain"
)

// EventRepository persists alert lifecycle events.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) (*EventRepository, error) {
	if db == nil {
		return nil, errors.New("alert event repo: nil db")
	}
	return &EventRepository{db: db}, nil
}

// Append inserts an event. Replayed ids are ignored.
func (r *EventRepository) Append(ctx context.Context, event alerting.AlertEvent) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_events (
	id, alert_id, kind, device, parameter, severity, value, threshold,
	exposure_ms, started_at, cleared_at, reason, message, occurred_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO NOTHING`,
		event.ID, event.AlertID, string(event.Kind), event.Device, event.Parameter, string(event.Severity),
		nullFloat(event.Value), nullFloat(event.Threshold), nullInt(event.ExposureMs),
		nullTime(event.StartedAt), nullTime(event.ClearedAt), event.Reason, event.Message, event.At.UTC(),
	)
	return err
}

// EventQuery filters ListEvents.
type EventQuery struct {
	Device string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// ListEvents returns events newest first.
func (r *EventRepository) ListEvents(ctx context.Context, q EventQuery) ([]alerting.AlertEvent, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, alert_id, kind, device, parameter, severity, value, threshold,
	exposure_ms, started_at, cleared_at, reason, message, occurred_at
FROM alert_events
WHERE ($1 = '' OR device = $1)
	AND ($2::timestamptz IS NULL OR occurred_at >= $2)
	AND ($3::timestamptz IS NULL OR occurred_at <= $3)
ORDER BY occurred_at DESC
LIMIT $4`,
		q.Device, optionalTime(q.Since), optionalTime(q.Until), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerting.AlertEvent
	for rows.Next() {
		var (
			ev                   alerting.AlertEvent
			kind, severity       string
			value, threshold     sql.NullFloat64
			exposure             sql.NullInt64
			startedAt, clearedAt sql.NullTime
		)
		if err := rows.Scan(&ev.ID, &ev.AlertID, &kind, &ev.Device, &ev.Parameter, &severity,
			&value, &threshold, &exposure, &startedAt, &clearedAt, &ev.Reason, &ev.Message, &ev.At); err != nil {
			return nil, err
		}
		ev.Kind = alerting.EventKind(kind)
		ev.Severity = alerting.Severity(severity)
		if value.Valid {
			v := value.Float64
			ev.Value = &v
		}
		if threshold.Valid {
			v := threshold.Float64
			ev.Threshold = &v
		}
		if exposure.Valid {
			v := exposure.Int64
			ev.ExposureMs = &v
		}
		if startedAt.Valid {
			v := startedAt.Time.UTC()
			ev.StartedAt = &v
		}
		if clearedAt.Valid {
			v := clearedAt.Time.UTC()
			ev.ClearedAt = &v
		}
		ev.At = ev.At.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC()
}

func optionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
