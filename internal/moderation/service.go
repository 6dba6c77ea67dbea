// Package moderation implements the forum content-moderation pipeline:
// report intake with dedup and rate limiting, the logical reviewer queue,
// transactional action application with audit, and anomaly detection.
package moderation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"eoty/internal/apperr"
	"eoty/internal/models"
	"eoty/internal/repository"
)

// Config carries the pipeline thresholds. Zero values are not defaulted
// here; main wires them from the application config.
type Config struct {
	FlagThreshold       int
	DedupWindow         time.Duration
	ReportRateLimit     int64
	ReportRateWindow    time.Duration
	BurstThreshold      int
	BurstWindow         time.Duration
	RapidActionLimit    int
	RapidActionWindow   time.Duration
	RepeatOffenderLimit int
}

type dedupEntry struct {
	reportID string
	at       time.Time
}

type Service struct {
	db            *sqlx.DB
	posts         repository.PostRepository
	reports       repository.ReportRepository
	actions       repository.ActionRepository
	anomalies     repository.AnomalyRepository
	notifications repository.NotificationRepository
	audit         repository.AuditRepository
	cfg           Config
	logger        *zap.Logger

	// dedup caches (reporter, post) pairs for the idempotency window; the
	// store is still consulted on miss so restarts don't break dedup.
	dedup    *lru.Cache[string, dedupEntry]
	limiters *lru.Cache[string, *slidingwindow.Limiter]

	now func() time.Time
}

func NewService(
	db *sqlx.DB,
	posts repository.PostRepository,
	reports repository.ReportRepository,
	actions repository.ActionRepository,
	anomalies repository.AnomalyRepository,
	notifications repository.NotificationRepository,
	audit repository.AuditRepository,
	cfg Config,
	logger *zap.Logger,
) *Service {
	dedup, _ := lru.New[string, dedupEntry](100_000)
	limiters, _ := lru.New[string, *slidingwindow.Limiter](100_000)
	return &Service{
		db:            db,
		posts:         posts,
		reports:       reports,
		actions:       actions,
		anomalies:     anomalies,
		notifications: notifications,
		audit:         audit,
		cfg:           cfg,
		logger:        logger,
		dedup:         dedup,
		limiters:      limiters,
		now:           time.Now,
	}
}

// ReportInput is a user complaint against a post.
type ReportInput struct {
	PostID     string
	ReporterID string
	ReporterIP string
	Reason     string
	Detail     string
}

func validReason(reason string) bool {
	switch reason {
	case models.ReasonInappropriate, models.ReasonSpam, models.ReasonHarassment,
		models.ReasonOffensive, models.ReasonOther:
		return true
	}
	return false
}

// Report files a complaint. Duplicate reports by the same reporter on the
// same post within the dedup window return the existing report id without
// touching counters.
func (s *Service) Report(ctx context.Context, in ReportInput) (string, error) {
	if !validReason(in.Reason) {
		return "", apperr.Newf(apperr.KindValidation, "unknown report reason %q", in.Reason)
	}

	if !s.reporterLimiter(in.ReporterID).Allow() {
		return "", apperr.New(apperr.KindRateLimited, "too many reports, slow down")
	}

	post, err := s.posts.GetByID(ctx, in.PostID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.New(apperr.KindNotFound, "post not found")
	}
	if err != nil {
		return "", fmt.Errorf("load post: %w", err)
	}
	if post.Status == models.PostStatusDeleted {
		return "", apperr.New(apperr.KindNotFound, "post not found")
	}

	now := s.now()
	dedupKey := in.ReporterID + "|" + in.PostID
	if entry, ok := s.dedup.Get(dedupKey); ok && now.Sub(entry.at) < s.cfg.DedupWindow {
		return entry.reportID, nil
	}
	if prev, err := s.reports.FindRecent(ctx, in.ReporterID, in.PostID, now.Add(-s.cfg.DedupWindow)); err != nil {
		return "", fmt.Errorf("dedup lookup: %w", err)
	} else if prev != nil {
		s.dedup.Add(dedupKey, dedupEntry{reportID: prev.ID, at: prev.CreatedAt})
		return prev.ID, nil
	}

	report := &models.Report{
		ID:         uuid.NewString(),
		PostID:     in.PostID,
		ReporterID: in.ReporterID,
		ReporterIP: in.ReporterIP,
		Reason:     in.Reason,
		Detail:     in.Detail,
		Resolution: models.ResolutionPending,
	}
	if err := s.reports.Create(ctx, report); err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}

	count, err := s.posts.IncrementReportCount(ctx, in.PostID)
	if err != nil {
		return "", fmt.Errorf("increment report counter: %w", err)
	}
	if count == s.cfg.FlagThreshold {
		if err := s.posts.MarkFlagged(ctx, in.PostID, now); err != nil {
			s.logger.Error("Failed to flag post", zap.String("post_id", in.PostID), zap.Error(err))
		} else {
			s.logger.Info("Post flagged for review",
				zap.String("post_id", in.PostID), zap.Int("report_count", count))
		}
	}

	s.dedup.Add(dedupKey, dedupEntry{reportID: report.ID, at: now})

	// Anomaly detection is best-effort and must not fail the report.
	s.afterReport(ctx, in)

	return report.ID, nil
}

func (s *Service) reporterLimiter(reporterID string) *slidingwindow.Limiter {
	if lim, ok := s.limiters.Get(reporterID); ok {
		return lim
	}
	lim, _ := slidingwindow.NewLimiter(s.cfg.ReportRateWindow, s.cfg.ReportRateLimit,
		func() (slidingwindow.Window, slidingwindow.StopFunc) {
			return slidingwindow.NewLocalWindow()
		})
	s.limiters.Add(reporterID, lim)
	return lim
}

// ListQueue pages the logical reviewer queue.
func (s *Service) ListQueue(ctx context.Context, actor models.Actor, filter models.QueueFilter) ([]*models.QueueEntry, string, error) {
	if !models.CanModerate(actor.Role) {
		s.auditForbidden(ctx, actor, "queue", "list_queue")
		return nil, "", apperr.New(apperr.KindForbidden, "moderator role required")
	}
	entries, next, err := s.reports.ListQueue(ctx, filter)
	if err != nil {
		return nil, "", fmt.Errorf("list queue: %w", err)
	}
	return entries, next, nil
}

// Assign claims or releases a queue entry for a reviewer.
func (s *Service) Assign(ctx context.Context, actor models.Actor, postID string, reviewerID *string) error {
	if !models.CanModerate(actor.Role) {
		s.auditForbidden(ctx, actor, postID, "assign")
		return apperr.New(apperr.KindForbidden, "moderator role required")
	}
	err := s.posts.Assign(ctx, postID, reviewerID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "post not found")
	}
	return err
}

// Moderate applies an administrative action to a post. The post transition,
// report resolution, audit action, and warn notification land in a single
// transaction; a serialization conflict is retried once before surfacing.
func (s *Service) Moderate(ctx context.Context, postID string, actor models.Actor, action, reason string) (string, error) {
	if !ValidAction(action) {
		return "", apperr.Newf(apperr.KindValidation, "unknown action %q", action)
	}
	reason = strings.TrimSpace(reason)
	if action != models.ActionApprove && reason == "" {
		return "", apperr.Newf(apperr.KindValidation, "reason is required for %s", action)
	}
	if !models.CanModerate(actor.Role) {
		s.auditForbidden(ctx, actor, postID, action)
		return "", apperr.New(apperr.KindForbidden, "moderator role required")
	}

	actionID, authorID, err := s.moderateTx(ctx, postID, actor, action, reason)
	if repository.IsSerializationError(err) {
		s.logger.Warn("Moderation transaction conflicted, retrying once",
			zap.String("post_id", postID), zap.String("action", action))
		actionID, authorID, err = s.moderateTx(ctx, postID, actor, action, reason)
		if repository.IsSerializationError(err) {
			post, gerr := s.posts.GetByID(ctx, postID)
			state := "unknown"
			if gerr == nil {
				state = post.Status
			}
			return "", apperr.Newf(apperr.KindConflict, "concurrent moderation, post is now %s", state)
		}
	}
	if err != nil {
		return "", err
	}

	s.afterModerate(ctx, actor, authorID)
	return actionID, nil
}

func (s *Service) moderateTx(ctx context.Context, postID string, actor models.Actor, action, reason string) (string, string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("begin moderation tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	post, err := s.posts.GetByIDForUpdate(ctx, tx, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", apperr.New(apperr.KindNotFound, "post not found")
	}
	if err != nil {
		return "", "", fmt.Errorf("lock post: %w", err)
	}

	next, ok := NextStatus(post.Status, action)
	if !ok {
		return "", "", apperr.Newf(apperr.KindInvalidTransition,
			"cannot %s a %s post", action, post.Status)
	}

	banReason := post.BanReason
	switch action {
	case models.ActionBanPost:
		banReason = &reason
	case models.ActionUnbanPost:
		banReason = nil
	}
	if err := s.posts.UpdateModeration(ctx, tx, postID, next, banReason); err != nil {
		return "", "", fmt.Errorf("update post: %w", err)
	}
	if action == models.ActionDelete {
		if err := s.posts.RedactContent(ctx, tx, postID); err != nil {
			return "", "", fmt.Errorf("redact post: %w", err)
		}
	}

	if _, err := s.reports.ResolvePending(ctx, tx, postID, resolutionFor[action], actor.ID, s.now()); err != nil {
		return "", "", fmt.Errorf("resolve reports: %w", err)
	}

	act := &models.ModerationAction{
		ID:           uuid.NewString(),
		ModeratorID:  actor.ID,
		PostID:       &post.ID,
		TargetUserID: &post.AuthorID,
		Action:       action,
		Reason:       reason,
		BeforeStatus: post.Status,
		AfterStatus:  next,
	}
	if err := s.actions.Create(ctx, tx, act); err != nil {
		return "", "", fmt.Errorf("record action: %w", err)
	}

	if action == models.ActionWarn {
		notification := &models.Notification{
			ID:     uuid.NewString(),
			UserID: post.AuthorID,
			Kind:   "moderation_warning",
			Body:   reason,
		}
		if err := s.notifications.Create(ctx, tx, notification); err != nil {
			return "", "", fmt.Errorf("record warning notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("commit moderation tx: %w", err)
	}
	return act.ID, post.AuthorID, nil
}

// BanPost and UnbanPost are sugar over Moderate.
func (s *Service) BanPost(ctx context.Context, postID string, actor models.Actor, reason string) (string, error) {
	return s.Moderate(ctx, postID, actor, models.ActionBanPost, reason)
}

func (s *Service) UnbanPost(ctx context.Context, postID string, actor models.Actor) (string, error) {
	return s.Moderate(ctx, postID, actor, models.ActionUnbanPost, "unban")
}

// Stats summarizes pipeline activity over the trailing window.
func (s *Service) Stats(ctx context.Context, actor models.Actor, window time.Duration) (*models.ModerationStats, error) {
	if !models.CanModerate(actor.Role) {
		s.auditForbidden(ctx, actor, "stats", "stats")
		return nil, apperr.New(apperr.KindForbidden, "moderator role required")
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	stats, err := s.reports.Stats(ctx, s.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return stats, nil
}

// ListAnomalies returns anomalies, highest severity first. Open anomalies
// by default; resolved=true lists the dismissed ones instead.
func (s *Service) ListAnomalies(ctx context.Context, actor models.Actor, minSeverity string, resolved bool, limit int) ([]*models.Anomaly, error) {
	if !models.CanModerate(actor.Role) {
		s.auditForbidden(ctx, actor, "anomalies", "list_anomalies")
		return nil, apperr.New(apperr.KindForbidden, "moderator role required")
	}
	rank := models.SeverityRank(minSeverity)
	if rank == 0 {
		rank = 1
	}
	anomalies, err := s.anomalies.List(ctx, rank, resolved, limit)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	return anomalies, nil
}

// DismissAnomaly marks an anomaly resolved. The row stays; dismissal is
// itself audited.
func (s *Service) DismissAnomaly(ctx context.Context, id string, actor models.Actor) error {
	if !models.CanModerate(actor.Role) {
		s.auditForbidden(ctx, actor, id, "dismiss_anomaly")
		return apperr.New(apperr.KindForbidden, "moderator role required")
	}
	if _, err := s.anomalies.GetByID(ctx, id); errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "anomaly not found")
	} else if err != nil {
		return fmt.Errorf("load anomaly: %w", err)
	}
	if err := s.anomalies.MarkResolved(ctx, id); err != nil {
		return fmt.Errorf("resolve anomaly: %w", err)
	}
	s.auditEvent(ctx, actor.ID, "anomaly_dismissed", id, "")
	return nil
}

// ReplayPostStatus recomputes a post's status from its action history.
// Exposed for consistency checks; the stored status must match.
func (s *Service) ReplayPostStatus(ctx context.Context, postID string) (string, error) {
	actions, err := s.actions.ListByPost(ctx, postID)
	if err != nil {
		return "", fmt.Errorf("load actions: %w", err)
	}
	return ReplayStatus(actions), nil
}

func (s *Service) auditForbidden(ctx context.Context, actor models.Actor, subject, attempted string) {
	if actor.ID == "" {
		return
	}
	s.auditEvent(ctx, actor.ID, "forbidden_"+attempted, subject,
		fmt.Sprintf("role %s attempted %s", actor.Role, attempted))
}

func (s *Service) auditEvent(ctx context.Context, actorID, event, subject, detail string) {
	err := s.audit.Create(ctx, &models.AuditEvent{
		ID:      uuid.NewString(),
		ActorID: actorID,
		Event:   event,
		Subject: subject,
		Detail:  detail,
	})
	if err != nil {
		s.logger.Error("Failed to write audit event",
			zap.String("event", event), zap.String("subject", subject), zap.Error(err))
	}
}
