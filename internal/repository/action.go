package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"eoty/internal/models"
)

type ActionRepository interface {
	// Create inserts inside tx so the action lands atomically with the post
	// transition and report resolution. The table is append-only; the schema
	// rejects updates and deletes.
	Create(ctx context.Context, tx *sqlx.Tx, action *models.ModerationAction) error
	ListByPost(ctx context.Context, postID string) ([]*models.ModerationAction, error)
	CountByModeratorSince(ctx context.Context, moderatorID string, since time.Time) (int, error)
	CountNonApproveByAuthorSince(ctx context.Context, authorID string, since time.Time) (int, error)
}

type actionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewActionRepository(db *sqlx.DB, logger *zap.Logger) ActionRepository {
	return &actionRepository{db: db, logger: logger}
}

func (r *actionRepository) Create(ctx context.Context, tx *sqlx.Tx, action *models.ModerationAction) error {
	query := `INSERT INTO moderation_actions (id, moderator_id, post_id, target_user_id, action, reason, before_status, after_status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`
	return tx.QueryRowxContext(ctx, query, action.ID, action.ModeratorID, action.PostID,
		action.TargetUserID, action.Action, action.Reason, action.BeforeStatus, action.AfterStatus).
		Scan(&action.CreatedAt)
}

func (r *actionRepository) ListByPost(ctx context.Context, postID string) ([]*models.ModerationAction, error) {
	var actions []*models.ModerationAction
	query := `SELECT id, moderator_id, post_id, target_user_id, action, reason, before_status, after_status, created_at
	          FROM moderation_actions WHERE post_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &actions, query, postID); err != nil {
		return nil, err
	}
	return actions, nil
}

func (r *actionRepository) CountByModeratorSince(ctx context.Context, moderatorID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM moderation_actions WHERE moderator_id = $1 AND created_at >= $2`
	err := r.db.GetContext(ctx, &count, query, moderatorID, since)
	return count, err
}

func (r *actionRepository) CountNonApproveByAuthorSince(ctx context.Context, authorID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM moderation_actions a
	          JOIN posts p ON p.id = a.post_id
	          WHERE p.author_id = $1 AND a.action <> 'approve' AND a.created_at >= $2`
	err := r.db.GetContext(ctx, &count, query, authorID, since)
	return count, err
}
