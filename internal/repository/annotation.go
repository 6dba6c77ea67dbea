package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"eoty/internal/models"
)

type AnnotationRepository interface {
	Create(ctx context.Context, annotation *models.Annotation) error
	// ListForViewer applies visibility before ordering: the viewer sees all
	// public annotations plus their own private ones, sorted by timestamp
	// then created_at.
	ListForViewer(ctx context.Context, lessonID, viewerID string) ([]*models.Annotation, error)
}

type annotationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewAnnotationRepository(db *sqlx.DB, logger *zap.Logger) AnnotationRepository {
	return &annotationRepository{db: db, logger: logger}
}

func (r *annotationRepository) Create(ctx context.Context, annotation *models.Annotation) error {
	query := `INSERT INTO annotations (id, lesson_id, user_id, ts, kind, content, is_public)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`
	return r.db.QueryRowxContext(ctx, query, annotation.ID, annotation.LessonID, annotation.UserID,
		annotation.Timestamp, annotation.Kind, annotation.Content, annotation.IsPublic).
		Scan(&annotation.CreatedAt)
}

func (r *annotationRepository) ListForViewer(ctx context.Context, lessonID, viewerID string) ([]*models.Annotation, error) {
	var annotations []*models.Annotation
	query := `SELECT id, lesson_id, user_id, ts, kind, content, is_public, created_at
	          FROM annotations
	          WHERE lesson_id = $1 AND (is_public OR user_id = $2)
	          ORDER BY ts ASC, created_at ASC`
	if err := r.db.SelectContext(ctx, &annotations, query, lessonID, viewerID); err != nil {
		return nil, err
	}
	return annotations, nil
}
