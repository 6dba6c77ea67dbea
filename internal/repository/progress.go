package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"eoty/internal/models"
)

// Reports older than the stored row by more than this are dropped outright;
// within the tolerance they still merge (at-least-once delivery reorders).
const progressSkewTolerance = "5 seconds"

type ProgressRepository interface {
	// Merge applies a progress report idempotently: last_watched_seconds
	// takes the maximum, is_completed latches, updated_at moves forward.
	// accepted is false when the report advanced nothing.
	Merge(ctx context.Context, report *models.ProgressReport) (*models.LessonProgress, bool, error)
	Get(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error)
}

type progressRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewProgressRepository(db *sqlx.DB, logger *zap.Logger) ProgressRepository {
	return &progressRepository{db: db, logger: logger}
}

func (r *progressRepository) Merge(ctx context.Context, report *models.ProgressReport) (*models.LessonProgress, bool, error) {
	var row models.LessonProgress
	query := `INSERT INTO lesson_progress (user_id, lesson_id, progress, last_watched_seconds, is_completed, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (user_id, lesson_id) DO UPDATE SET
	            last_watched_seconds = GREATEST(lesson_progress.last_watched_seconds, EXCLUDED.last_watched_seconds),
	            progress = GREATEST(lesson_progress.progress, EXCLUDED.progress),
	            is_completed = lesson_progress.is_completed OR EXCLUDED.is_completed,
	            updated_at = GREATEST(lesson_progress.updated_at, EXCLUDED.updated_at)
	          WHERE EXCLUDED.updated_at > lesson_progress.updated_at - interval '` + progressSkewTolerance + `'
	          RETURNING user_id, lesson_id, progress, last_watched_seconds, is_completed, updated_at`
	err := r.db.GetContext(ctx, &row, query, report.UserID, report.LessonID,
		report.Progress, report.LastWatchedSeconds, report.IsCompleted, report.ReportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict update skipped: the report was too stale. Surface the
		// stored row untouched.
		stored, gerr := r.Get(ctx, report.UserID, report.LessonID)
		if gerr != nil {
			return nil, false, gerr
		}
		return stored, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	accepted := report.LastWatchedSeconds >= row.LastWatchedSeconds
	return &row, accepted, nil
}

func (r *progressRepository) Get(ctx context.Context, userID, lessonID string) (*models.LessonProgress, error) {
	var row models.LessonProgress
	query := `SELECT user_id, lesson_id, progress, last_watched_seconds, is_completed, updated_at
	          FROM lesson_progress WHERE user_id = $1 AND lesson_id = $2`
	if err := r.db.GetContext(ctx, &row, query, userID, lessonID); err != nil {
		return nil, err
	}
	return &row, nil
}
