package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"eoty/internal/models"
)

type AuditRepository interface {
	Create(ctx context.Context, event *models.AuditEvent) error
}

type auditRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewAuditRepository(db *sqlx.DB, logger *zap.Logger) AuditRepository {
	return &auditRepository{db: db, logger: logger}
}

func (r *auditRepository) Create(ctx context.Context, event *models.AuditEvent) error {
	query := `INSERT INTO audit_events (id, actor_id, event, subject, detail)
	          VALUES ($1, $2, $3, $4, $5) RETURNING created_at`
	return r.db.QueryRowxContext(ctx, query, event.ID, event.ActorID, event.Event,
		event.Subject, event.Detail).Scan(&event.CreatedAt)
}

type NotificationRepository interface {
	Create(ctx context.Context, tx *sqlx.Tx, notification *models.Notification) error
}

type notificationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewNotificationRepository(db *sqlx.DB, logger *zap.Logger) NotificationRepository {
	return &notificationRepository{db: db, logger: logger}
}

func (r *notificationRepository) Create(ctx context.Context, tx *sqlx.Tx, notification *models.Notification) error {
	query := `INSERT INTO notifications (id, user_id, kind, body)
	          VALUES ($1, $2, $3, $4) RETURNING created_at`
	return tx.QueryRowxContext(ctx, query, notification.ID, notification.UserID,
		notification.Kind, notification.Body).Scan(&notification.CreatedAt)
}
