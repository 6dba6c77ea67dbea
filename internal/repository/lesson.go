package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"eoty/internal/models"
)

type LessonRepository interface {
	GetByID(ctx context.Context, id string) (*models.Lesson, error)
}

type lessonRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewLessonRepository(db *sqlx.DB, logger *zap.Logger) LessonRepository {
	return &lessonRepository{db: db, logger: logger}
}

func (r *lessonRepository) GetByID(ctx context.Context, id string) (*models.Lesson, error) {
	var lesson models.Lesson
	query := `SELECT id, course_id, title, video_provider, stream_ref, object_url, duration_seconds, created_at
	          FROM lessons WHERE id = $1`
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		return nil, err
	}
	return &lesson, nil
}
