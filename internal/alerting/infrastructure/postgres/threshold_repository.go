package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	alerting "minesafe-alerting/internal/alerting/domain"
)

// ThresholdRepository reads and updates the thresholds table.
type ThresholdRepository struct {
	db *sql.DB
}

func NewThresholdRepository(db *sql.DB) (*ThresholdRepository, error) {
	if db == nil {
		return nil, errors.New("threshold repo: nil db")
	}
	return &ThresholdRepository{db: db}, nil
}

const thresholdColumns = `parameter, unit, caution_threshold, caution_exposure,
	warning_threshold, warning_exposure, critical_threshold, critical_exposure`

// LoadThresholds returns every configured threshold.
func (r *ThresholdRepository) LoadThresholds(ctx context.Context) ([]alerting.Threshold, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+thresholdColumns+` FROM thresholds ORDER BY parameter`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerting.Threshold
	for rows.Next() {
		th, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one threshold or ErrNotFound.
func (r *ThresholdRepository) Get(ctx context.Context, parameter string) (alerting.Threshold, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+thresholdColumns+` FROM thresholds WHERE parameter = $1`, parameter)
	th, err := scanThreshold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return alerting.Threshold{}, alerting.ErrNotFound
	}
	return th, err
}

// Update overwrites the levels of an existing parameter. Unknown parameters
// are not created.
func (r *ThresholdRepository) Update(ctx context.Context, th alerting.Threshold) error {
	caution, cautionExp := levelArgs(th.Caution)
	warning, warningExp := levelArgs(th.Warning)
	critical, criticalExp := levelArgs(th.Critical)
	res, err := r.db.ExecContext(ctx, `
UPDATE thresholds SET
	caution_threshold = $2, caution_exposure = $3,
	warning_threshold = $4, warning_exposure = $5,
	critical_threshold = $6, critical_exposure = $7,
	updated_at = NOW()
WHERE parameter = $1`,
		th.Parameter, caution, cautionExp, warning, warningExp, critical, criticalExp,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alerting.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThreshold(row rowScanner) (alerting.Threshold, error) {
	var (
		th                                  alerting.Threshold
		unit                                sql.NullString
		caution, warning, critical          sql.NullFloat64
		cautionExp, warningExp, criticalExp sql.NullFloat64
	)
	if err := row.Scan(&th.Parameter, &unit, &caution, &cautionExp, &warning, &warningExp, &critical, &criticalExp); err != nil {
		return alerting.Threshold{}, err
	}
	th.Unit = unit.String
	th.Caution = toLevel(caution, cautionExp)
	th.Warning = toLevel(warning, warningExp)
	th.Critical = toLevel(critical, criticalExp)
	return th, nil
}

// exposure columns hold seconds, fractions included.
func toLevel(value sql.NullFloat64, exposure sql.NullFloat64) *alerting.Level {
	if !value.Valid {
		return nil
	}
	level := &alerting.Level{Value: value.Float64}
	if exposure.Valid && exposure.Float64 > 0 {
		level.Exposure = time.Duration(math.Round(exposure.Float64 * float64(time.Second)))
	}
	return level
}

func levelArgs(level *alerting.Level) (any, any) {
	if level == nil {
		return nil, nil
	}
	var exposure any
	if level.Exposure > 0 {
		exposure = level.Exposure.Seconds()
	}
	return level.Value, exposure
}
