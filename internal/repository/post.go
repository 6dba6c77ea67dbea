package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"eoty/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	// GetByIDForUpdate locks the post row for the duration of tx; concurrent
	// moderation of the same post serializes here.
	GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Post, error)
	UpdateModeration(ctx context.Context, tx *sqlx.Tx, id, status string, banReason *string) error
	RedactContent(ctx context.Context, tx *sqlx.Tx, id string) error
	IncrementReportCount(ctx context.Context, id string) (int, error)
	MarkFlagged(ctx context.Context, id string, at time.Time) error
	Assign(ctx context.Context, id string, reviewerID *string) error
	ListByLesson(ctx context.Context, lessonID string) ([]*models.Post, error)
}

type postRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewPostRepository(db *sqlx.DB, logger *zap.Logger) PostRepository {
	return &postRepository{db: db, logger: logger}
}

const postColumns = `id, author_id, topic_id, topic_title, lesson_id, parent_id, content,
	video_timestamp, pinned, status, ban_reason, report_count, flagged_at, assigned_to,
	created_at, updated_at`

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	query := `INSERT INTO posts (id, author_id, topic_id, topic_title, lesson_id, parent_id, content, video_timestamp, pinned, status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          RETURNING created_at, updated_at`
	return r.db.QueryRowxContext(ctx, query, post.ID, post.AuthorID, post.TopicID, post.TopicTitle,
		post.LessonID, post.ParentID, post.Content, post.VideoTimestamp, post.Pinned, post.Status).
		Scan(&post.CreatedAt, &post.UpdatedAt)
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	if err := r.db.GetContext(ctx, &post, query, id); err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Post, error) {
	var post models.Post
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &post, query, id); err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) UpdateModeration(ctx context.Context, tx *sqlx.Tx, id, status string, banReason *string) error {
	query := `UPDATE posts SET status = $1, ban_reason = $2, updated_at = now() WHERE id = $3`
	_, err := tx.ExecContext(ctx, query, status, banReason, id)
	return err
}

// RedactContent blanks a deleted post's content. The row itself is kept so
// audit references stay resolvable.
func (r *postRepository) RedactContent(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE posts SET content = '' WHERE id = $1`, id)
	return err
}

// IncrementReportCount is a single atomic statement; concurrent reporters
// never lose an increment.
func (r *postRepository) IncrementReportCount(ctx context.Context, id string) (int, error) {
	var count int
	query := `UPDATE posts SET report_count = report_count + 1, updated_at = now()
	          WHERE id = $1 RETURNING report_count`
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *postRepository) MarkFlagged(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE posts SET flagged_at = $1 WHERE id = $2 AND flagged_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, at, id)
	return err
}

func (r *postRepository) Assign(ctx context.Context, id string, reviewerID *string) error {
	query := `UPDATE posts SET assigned_to = $1 WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, reviewerID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNoRows("post", id)
	}
	return nil
}

// ListByLesson returns the discussion posts of a lesson, replies included,
// deleted posts excluded. Moderated-state substitution is the caller's job.
func (r *postRepository) ListByLesson(ctx context.Context, lessonID string) ([]*models.Post, error) {
	var posts []*models.Post
	query := `SELECT p.id, p.author_id, p.topic_id, p.topic_title, p.lesson_id, p.parent_id,
	                 p.content, p.video_timestamp, p.pinned, p.status, p.ban_reason,
	                 p.report_count, p.flagged_at, p.assigned_to, p.created_at, p.updated_at,
	                 u.first_name AS author_first_name, u.last_name AS author_last_name
	          FROM posts p
	          LEFT JOIN users u ON u.id = p.author_id
	          WHERE p.lesson_id = $1 AND p.status <> 'deleted'
	          ORDER BY p.created_at ASC`
	if err := r.db.SelectContext(ctx, &posts, query, lessonID); err != nil {
		return nil, err
	}
	return posts, nil
}
