package repository

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"eoty/internal/models"
)

type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	// FindRecent returns the newest report by reporter on post created at or
	// after since, or nil when none exists. Backs the dedup window across
	// restarts.
	FindRecent(ctx context.Context, reporterID, postID string, since time.Time) (*models.Report, error)
	ListByPost(ctx context.Context, postID string) ([]*models.Report, error)
	// ResolvePending resolves every pending report on the post inside tx and
	// returns how many rows changed.
	ResolvePending(ctx context.Context, tx *sqlx.Tx, postID, resolution, resolvedBy string, at time.Time) (int, error)
	CountDistinctPostsSince(ctx context.Context, reporterID string, since time.Time) (int, error)
	CountDistinctPostsByIPSince(ctx context.Context, ipPrefix string, since time.Time) (int, error)
	PendingBacklog(ctx context.Context) (count int, oldest *time.Time, err error)
	Stats(ctx context.Context, since time.Time) (*models.ModerationStats, error)
	ListQueue(ctx context.Context, filter models.QueueFilter) ([]*models.QueueEntry, string, error)
}

type reportRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewReportRepository(db *sqlx.DB, logger *zap.Logger) ReportRepository {
	return &reportRepository{db: db, logger: logger}
}

func (r *reportRepository) Create(ctx context.Context, report *models.Report) error {
	query := `INSERT INTO reports (id, post_id, reporter_id, reporter_ip, reason, detail, resolution)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`
	return r.db.QueryRowxContext(ctx, query, report.ID, report.PostID, report.ReporterID,
		report.ReporterIP, report.Reason, report.Detail, report.Resolution).Scan(&report.CreatedAt)
}

func (r *reportRepository) FindRecent(ctx context.Context, reporterID, postID string, since time.Time) (*models.Report, error) {
	var report models.Report
	query := `SELECT id, post_id, reporter_id, reporter_ip, reason, detail, resolution, resolved_by, resolved_at, created_at
	          FROM reports
	          WHERE reporter_id = $1 AND post_id = $2 AND created_at >= $3
	          ORDER BY created_at DESC LIMIT 1`
	err := r.db.GetContext(ctx, &report, query, reporterID, postID, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *reportRepository) ListByPost(ctx context.Context, postID string) ([]*models.Report, error) {
	var reports []*models.Report
	query := `SELECT id, post_id, reporter_id, reporter_ip, reason, detail, resolution, resolved_by, resolved_at, created_at
	          FROM reports WHERE post_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &reports, query, postID); err != nil {
		return nil, err
	}
	return reports, nil
}

func (r *reportRepository) ResolvePending(ctx context.Context, tx *sqlx.Tx, postID, resolution, resolvedBy string, at time.Time) (int, error) {
	query := `UPDATE reports SET resolution = $1, resolved_by = $2, resolved_at = $3
	          WHERE post_id = $4 AND resolution = 'pending'`
	res, err := tx.ExecContext(ctx, query, resolution, resolvedBy, at, postID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *reportRepository) CountDistinctPostsSince(ctx context.Context, reporterID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(DISTINCT post_id) FROM reports WHERE reporter_id = $1 AND created_at >= $2`
	err := r.db.GetContext(ctx, &count, query, reporterID, since)
	return count, err
}

func (r *reportRepository) CountDistinctPostsByIPSince(ctx context.Context, ipPrefix string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(DISTINCT post_id) FROM reports WHERE reporter_ip LIKE $1 AND created_at >= $2`
	err := r.db.GetContext(ctx, &count, query, ipPrefix+"%", since)
	return count, err
}

func (r *reportRepository) PendingBacklog(ctx context.Context) (int, *time.Time, error) {
	var row struct {
		Count  int        `db:"count"`
		Oldest *time.Time `db:"oldest"`
	}
	query := `SELECT COUNT(*) AS count, MIN(created_at) AS oldest FROM reports WHERE resolution = 'pending'`
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		return 0, nil, err
	}
	return row.Count, row.Oldest, nil
}

func (r *reportRepository) Stats(ctx context.Context, since time.Time) (*models.ModerationStats, error) {
	var stats models.ModerationStats
	query := `SELECT
	            COUNT(*) FILTER (WHERE created_at >= $1) AS total_reports,
	            COUNT(*) FILTER (WHERE resolution = 'pending') AS pending_reports,
	            COUNT(*) FILTER (WHERE resolution <> 'pending' AND resolved_at >= $1) AS resolved_reports
	          FROM reports`
	if err := r.db.GetContext(ctx, &stats, query, since); err != nil {
		return nil, err
	}
	if err := r.db.GetContext(ctx, &stats.ActionsTaken,
		`SELECT COUNT(*) FROM moderation_actions WHERE created_at >= $1`, since); err != nil {
		return nil, err
	}
	if err := r.db.GetContext(ctx, &stats.FlaggedContent,
		`SELECT COUNT(*) FROM posts WHERE flagged_at >= $1`, since); err != nil {
		return nil, err
	}
	return &stats, nil
}

// queueCursor is (priority, oldest pending report, post id) of the last
// returned entry, matching the listing order exactly.
type queueCursor struct {
	priority int
	oldest   time.Time
	postID   string
}

func encodeQueueCursor(c queueCursor) string {
	raw := fmt.Sprintf("%d|%d|%s", c.priority, c.oldest.UnixNano(), c.postID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeQueueCursor(s string) (queueCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return queueCursor{}, err
	}
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 {
		return queueCursor{}, fmt.Errorf("malformed cursor")
	}
	prio, err := strconv.Atoi(parts[0])
	if err != nil {
		return queueCursor{}, err
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return queueCursor{}, err
	}
	return queueCursor{priority: prio, oldest: time.Unix(0, nanos).UTC(), postID: parts[2]}, nil
}

// ListQueue materializes one page of the logical reviewer queue: posts with
// pending reports, priority desc then oldest pending first.
func (r *reportRepository) ListQueue(ctx context.Context, filter models.QueueFilter) ([]*models.QueueEntry, string, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	args := []interface{}{}
	where := []string{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AssignedTo != nil {
		where = append(where, "p.assigned_to = "+arg(*filter.AssignedTo))
	}
	if filter.MaxAge > 0 {
		where = append(where, "q.oldest_report_at >= "+arg(time.Now().Add(-filter.MaxAge)))
	}
	if filter.MinPriority > 0 {
		where = append(where, "q.priority >= "+arg(filter.MinPriority))
	}
	if filter.Cursor != "" {
		cur, err := decodeQueueCursor(filter.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		// Keyset condition for the mixed ordering: priority desc, then
		// (oldest_report_at, post_id) asc.
		prio := arg(cur.priority)
		where = append(where, "(q.priority < "+prio+
			" OR (q.priority = "+prio+
			" AND (q.oldest_report_at, q.post_id) > ("+arg(cur.oldest)+", "+arg(cur.postID)+")))")
	}

	filterSQL := ""
	if len(where) > 0 {
		filterSQL = " WHERE " + strings.Join(where, " AND ")
	}

	query := `
		WITH q AS (
			SELECT
				rep.post_id,
				COUNT(*) AS report_count,
				MIN(rep.created_at) AS oldest_report_at,
				STRING_AGG(DISTINCT rep.reason, ',') AS reason_summary,
				CASE
					WHEN bool_or(rep.reason IN ('harassment', 'offensive')) THEN 3
					WHEN COUNT(*) >= 5 THEN 2
					ELSE 1
				END AS priority
			FROM reports rep
			WHERE rep.resolution = 'pending'
			GROUP BY rep.post_id
		)
		SELECT
			q.post_id,
			p.content,
			COALESCE(u.first_name, '') AS author_first_name,
			COALESCE(u.last_name, '') AS author_last_name,
			p.topic_title,
			p.status,
			q.report_count,
			q.priority,
			q.reason_summary,
			q.oldest_report_at,
			p.assigned_to
		FROM q
		JOIN posts p ON p.id = q.post_id
		LEFT JOIN users u ON u.id = p.author_id` + filterSQL + `
		ORDER BY q.priority DESC, q.oldest_report_at ASC, q.post_id ASC
		LIMIT ` + arg(limit+1)

	var entries []*models.QueueEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[limit-1]
		nextCursor = encodeQueueCursor(queueCursor{
			priority: last.Priority,
			oldest:   last.OldestReportAt,
			postID:   last.PostID,
		})
	}

	for _, entry := range entries {
		reports, err := r.queueReports(ctx, entry.PostID)
		if err != nil {
			r.logger.Error("Failed to load queue entry reports",
				zap.String("post_id", entry.PostID), zap.Error(err))
			continue
		}
		entry.Reports = reports
	}

	return entries, nextCursor, nil
}

func (r *reportRepository) queueReports(ctx context.Context, postID string) ([]models.ReportSummary, error) {
	var reports []models.ReportSummary
	query := `SELECT reason, detail FROM reports
	          WHERE post_id = $1 AND resolution = 'pending'
	          ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &reports, query, postID); err != nil {
		return nil, err
	}
	return reports, nil
}
