package moderation

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"eoty/internal/models"
	"eoty/internal/repository"
)

// In-memory repository fakes. Only what the service touches is modeled.

type fakePostRepo struct {
	posts map[string]*models.Post
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{posts: make(map[string]*models.Post)}
}

func (f *fakePostRepo) Create(_ context.Context, post *models.Post) error {
	f.posts[post.ID] = post
	return nil
}

func (f *fakePostRepo) GetByID(_ context.Context, id string) (*models.Post, error) {
	post, ok := f.posts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *post
	return &cp, nil
}

func (f *fakePostRepo) GetByIDForUpdate(ctx context.Context, _ *sqlx.Tx, id string) (*models.Post, error) {
	return f.GetByID(ctx, id)
}

func (f *fakePostRepo) UpdateModeration(_ context.Context, _ *sqlx.Tx, id, status string, banReason *string) error {
	f.posts[id].Status = status
	f.posts[id].BanReason = banReason
	return nil
}

func (f *fakePostRepo) RedactContent(_ context.Context, _ *sqlx.Tx, id string) error {
	f.posts[id].Content = ""
	return nil
}

func (f *fakePostRepo) IncrementReportCount(_ context.Context, id string) (int, error) {
	post, ok := f.posts[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	post.ReportCount++
	return post.ReportCount, nil
}

func (f *fakePostRepo) MarkFlagged(_ context.Context, id string, at time.Time) error {
	post := f.posts[id]
	if post.FlaggedAt == nil {
		post.FlaggedAt = &at
	}
	return nil
}

func (f *fakePostRepo) Assign(_ context.Context, id string, reviewerID *string) error {
	post, ok := f.posts[id]
	if !ok {
		return sql.ErrNoRows
	}
	post.AssignedTo = reviewerID
	return nil
}

func (f *fakePostRepo) ListByLesson(_ context.Context, lessonID string) ([]*models.Post, error) {
	var out []*models.Post
	for _, p := range f.posts {
		if p.LessonID != nil && *p.LessonID == lessonID && p.Status != models.PostStatusDeleted {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeReportRepo struct {
	reports []*models.Report

	backlogCount  int
	backlogOldest *time.Time
	stats         models.ModerationStats
}

func newFakeReportRepo() *fakeReportRepo { return &fakeReportRepo{} }

func (f *fakeReportRepo) Create(_ context.Context, report *models.Report) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakeReportRepo) FindRecent(_ context.Context, reporterID, postID string, since time.Time) (*models.Report, error) {
	var newest *models.Report
	for _, r := range f.reports {
		if r.ReporterID == reporterID && r.PostID == postID && !r.CreatedAt.Before(since) {
			if newest == nil || r.CreatedAt.After(newest.CreatedAt) {
				newest = r
			}
		}
	}
	return newest, nil
}

func (f *fakeReportRepo) ListByPost(_ context.Context, postID string) ([]*models.Report, error) {
	var out []*models.Report
	for _, r := range f.reports {
		if r.PostID == postID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReportRepo) ResolvePending(_ context.Context, _ *sqlx.Tx, postID, resolution, resolvedBy string, at time.Time) (int, error) {
	n := 0
	for _, r := range f.reports {
		if r.PostID == postID && r.Resolution == models.ResolutionPending {
			r.Resolution = resolution
			r.ResolvedBy = &resolvedBy
			r.ResolvedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeReportRepo) CountDistinctPostsSince(_ context.Context, reporterID string, since time.Time) (int, error) {
	seen := make(map[string]bool)
	for _, r := range f.reports {
		if r.ReporterID == reporterID && !r.CreatedAt.Before(since) {
			seen[r.PostID] = true
		}
	}
	return len(seen), nil
}

func (f *fakeReportRepo) CountDistinctPostsByIPSince(_ context.Context, ipPrefix string, since time.Time) (int, error) {
	seen := make(map[string]bool)
	for _, r := range f.reports {
		if strings.HasPrefix(r.ReporterIP, ipPrefix) && !r.CreatedAt.Before(since) {
			seen[r.PostID] = true
		}
	}
	return len(seen), nil
}

func (f *fakeReportRepo) PendingBacklog(_ context.Context) (int, *time.Time, error) {
	return f.backlogCount, f.backlogOldest, nil
}

func (f *fakeReportRepo) Stats(_ context.Context, _ time.Time) (*models.ModerationStats, error) {
	cp := f.stats
	return &cp, nil
}

func (f *fakeReportRepo) ListQueue(_ context.Context, _ models.QueueFilter) ([]*models.QueueEntry, string, error) {
	return nil, "", nil
}

type fakeActionRepo struct {
	actions []*models.ModerationAction
}

func newFakeActionRepo() *fakeActionRepo { return &fakeActionRepo{} }

func (f *fakeActionRepo) Create(_ context.Context, _ *sqlx.Tx, action *models.ModerationAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeActionRepo) ListByPost(_ context.Context, postID string) ([]*models.ModerationAction, error) {
	var out []*models.ModerationAction
	for _, a := range f.actions {
		if a.PostID != nil && *a.PostID == postID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeActionRepo) CountByModeratorSince(_ context.Context, moderatorID string, since time.Time) (int, error) {
	n := 0
	for _, a := range f.actions {
		if a.ModeratorID == moderatorID && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeActionRepo) CountNonApproveByAuthorSince(_ context.Context, authorID string, since time.Time) (int, error) {
	n := 0
	for _, a := range f.actions {
		if a.TargetUserID != nil && *a.TargetUserID == authorID &&
			a.Action != models.ActionApprove && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type fakeAnomalyRepo struct {
	anomalies []*models.Anomaly
}

func newFakeAnomalyRepo() *fakeAnomalyRepo { return &fakeAnomalyRepo{} }

func (f *fakeAnomalyRepo) CreateIfAbsent(_ context.Context, anomaly *models.Anomaly) (bool, error) {
	for _, a := range f.anomalies {
		if !a.Resolved && a.Type == anomaly.Type && a.Subject == anomaly.Subject && a.DayBucket == anomaly.DayBucket {
			return false, nil
		}
	}
	if anomaly.CreatedAt.IsZero() {
		anomaly.CreatedAt = time.Now()
	}
	f.anomalies = append(f.anomalies, anomaly)
	return true, nil
}

func (f *fakeAnomalyRepo) GetByID(_ context.Context, id string) (*models.Anomaly, error) {
	for _, a := range f.anomalies {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAnomalyRepo) List(_ context.Context, minSeverity int, resolved bool, limit int) ([]*models.Anomaly, error) {
	var out []*models.Anomaly
	for _, a := range f.anomalies {
		if a.Resolved == resolved && models.SeverityRank(a.Severity) >= minSeverity {
			out = append(out, a)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeAnomalyRepo) MarkResolved(_ context.Context, id string) error {
	for _, a := range f.anomalies {
		if a.ID == id {
			a.Resolved = true
			return nil
		}
	}
	return sql.ErrNoRows
}

type fakeAuditRepo struct {
	events []*models.AuditEvent
}

func newFakeAuditRepo() *fakeAuditRepo { return &fakeAuditRepo{} }

func (f *fakeAuditRepo) Create(_ context.Context, event *models.AuditEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeNotificationRepo struct {
	notifications []*models.Notification
}

func newFakeNotificationRepo() *fakeNotificationRepo { return &fakeNotificationRepo{} }

func (f *fakeNotificationRepo) Create(_ context.Context, _ *sqlx.Tx, n *models.Notification) error {
	f.notifications = append(f.notifications, n)
	return nil
}

type testEnv struct {
	svc           *Service
	posts         *fakePostRepo
	reports       *fakeReportRepo
	actions       *fakeActionRepo
	anomalies     *fakeAnomalyRepo
	notifications *fakeNotificationRepo
	audit         *fakeAuditRepo
}

func defaultTestConfig() Config {
	return Config{
		FlagThreshold:       3,
		DedupWindow:         10 * time.Minute,
		ReportRateLimit:     30,
		ReportRateWindow:    time.Minute,
		BurstThreshold:      10,
		BurstWindow:         5 * time.Minute,
		RapidActionLimit:    20,
		RapidActionWindow:   10 * time.Minute,
		RepeatOffenderLimit: 3,
	}
}

func newTestEnv(cfg Config) *testEnv {
	env := &testEnv{
		posts:         newFakePostRepo(),
		reports:       newFakeReportRepo(),
		actions:       newFakeActionRepo(),
		anomalies:     newFakeAnomalyRepo(),
		notifications: newFakeNotificationRepo(),
		audit:         newFakeAuditRepo(),
	}
	env.svc = NewService(nil, env.posts, env.reports, env.actions,
		env.anomalies, env.notifications, env.audit, cfg, zap.NewNop())
	return env
}

var _ repository.PostRepository = (*fakePostRepo)(nil)
var _ repository.ReportRepository = (*fakeReportRepo)(nil)
var _ repository.ActionRepository = (*fakeActionRepo)(nil)
var _ repository.AnomalyRepository = (*fakeAnomalyRepo)(nil)
var _ repository.AuditRepository = (*fakeAuditRepo)(nil)
var _ repository.NotificationRepository = (*fakeNotificationRepo)(nil)
