package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"eoty/internal/models"
)

type AnomalyRepository interface {
	// CreateIfAbsent writes the anomaly unless an unresolved one already
	// exists for the same (type, subject, day bucket). Returns true when a
	// row was inserted.
	CreateIfAbsent(ctx context.Context, anomaly *models.Anomaly) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Anomaly, error)
	// List returns anomalies at or above minSeverity with the given
	// resolution state, highest severity first.
	List(ctx context.Context, minSeverity int, resolved bool, limit int) ([]*models.Anomaly, error)
	MarkResolved(ctx context.Context, id string) error
}

type anomalyRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewAnomalyRepository(db *sqlx.DB, logger *zap.Logger) AnomalyRepository {
	return &anomalyRepository{db: db, logger: logger}
}

func (r *anomalyRepository) CreateIfAbsent(ctx context.Context, anomaly *models.Anomaly) (bool, error) {
	// The partial unique index on (anomaly_type, subject, day_bucket) WHERE
	// NOT resolved makes the conflict target work only for open anomalies.
	query := `INSERT INTO audit_anomalies (id, anomaly_type, severity, subject, details, day_bucket)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (anomaly_type, subject, day_bucket) WHERE NOT resolved DO NOTHING
	          RETURNING created_at`
	err := r.db.QueryRowxContext(ctx, query, anomaly.ID, anomaly.Type, anomaly.Severity,
		anomaly.Subject, anomaly.Detail, anomaly.DayBucket).Scan(&anomaly.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *anomalyRepository) GetByID(ctx context.Context, id string) (*models.Anomaly, error) {
	var anomaly models.Anomaly
	query := `SELECT id, anomaly_type, severity, subject, details, day_bucket, resolved, created_at
	          FROM audit_anomalies WHERE id = $1`
	if err := r.db.GetContext(ctx, &anomaly, query, id); err != nil {
		return nil, err
	}
	return &anomaly, nil
}

func (r *anomalyRepository) List(ctx context.Context, minSeverity int, resolved bool, limit int) ([]*models.Anomaly, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var anomalies []*models.Anomaly
	query := `SELECT id, anomaly_type, severity, subject, details, day_bucket, resolved, created_at
	          FROM audit_anomalies
	          WHERE resolved = $1
	            AND CASE severity WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END >= $2
	          ORDER BY CASE severity WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
	                   created_at DESC
	          LIMIT $3`
	if err := r.db.SelectContext(ctx, &anomalies, query, resolved, minSeverity, limit); err != nil {
		return nil, err
	}
	return anomalies, nil
}

func (r *anomalyRepository) MarkResolved(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE audit_anomalies SET resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNoRows("anomaly", id)
	}
	return nil
}
