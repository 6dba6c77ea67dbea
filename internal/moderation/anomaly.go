package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eoty/internal/models"
)

// Anomaly detection runs post-commit and is always best-effort: a detector
// failure is logged, never surfaced to the caller that triggered it.

func dayBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ipPrefix reduces an IPv4 address to its /24; anything else is used as-is.
func ipPrefix(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) == 4 {
		return strings.Join(parts[:3], ".")
	}
	return ip
}

func (s *Service) recordAnomaly(ctx context.Context, anomalyType, severity, subject, detail string) {
	anomaly := &models.Anomaly{
		ID:        uuid.NewString(),
		Type:      anomalyType,
		Severity:  severity,
		Subject:   subject,
		Detail:    detail,
		DayBucket: dayBucket(s.now()),
	}
	created, err := s.anomalies.CreateIfAbsent(ctx, anomaly)
	if err != nil {
		s.logger.Error("Failed to record anomaly",
			zap.String("type", anomalyType), zap.String("subject", subject), zap.Error(err))
		return
	}
	if created {
		s.logger.Warn("Anomaly detected",
			zap.String("type", anomalyType),
			zap.String("severity", severity),
			zap.String("subject", subject))
	}
}

// afterReport checks reporter-side patterns once a report committed.
func (s *Service) afterReport(ctx context.Context, in ReportInput) {
	since := s.now().Add(-s.cfg.BurstWindow)

	count, err := s.reports.CountDistinctPostsSince(ctx, in.ReporterID, since)
	if err != nil {
		s.logger.Error("Burst detection query failed", zap.Error(err))
	} else if count >= s.cfg.BurstThreshold {
		s.recordAnomaly(ctx, models.AnomalyBurstReports, models.SeverityMedium, in.ReporterID,
			fmt.Sprintf("%d distinct posts reported within %s", count, s.cfg.BurstWindow))
	}

	if in.ReporterIP != "" {
		prefix := ipPrefix(in.ReporterIP)
		count, err := s.reports.CountDistinctPostsByIPSince(ctx, prefix, since)
		if err != nil {
			s.logger.Error("IP burst detection query failed", zap.Error(err))
		} else if count >= s.cfg.BurstThreshold {
			s.recordAnomaly(ctx, models.AnomalyBurstReports, models.SeverityHigh, "ip:"+prefix,
				fmt.Sprintf("%d distinct posts reported from %s.0/24 within %s", count, prefix, s.cfg.BurstWindow))
		}
	}
}

// afterModerate checks moderator- and author-side patterns once an action
// committed.
func (s *Service) afterModerate(ctx context.Context, actor models.Actor, authorID string) {
	now := s.now()

	count, err := s.actions.CountNonApproveByAuthorSince(ctx, authorID, now.Add(-7*24*time.Hour))
	if err != nil {
		s.logger.Error("Repeat offender query failed", zap.Error(err))
	} else if count >= s.cfg.RepeatOffenderLimit {
		s.recordAnomaly(ctx, models.AnomalyRepeatOffender, models.SeverityMedium, authorID,
			fmt.Sprintf("%d non-approve actions against this author's posts within 7 days", count))
	}

	count, err = s.actions.CountByModeratorSince(ctx, actor.ID, now.Add(-s.cfg.RapidActionWindow))
	if err != nil {
		s.logger.Error("Rapid action query failed", zap.Error(err))
	} else if count >= s.cfg.RapidActionLimit {
		s.recordAnomaly(ctx, models.AnomalyRapidActions, models.SeverityMedium, actor.ID,
			fmt.Sprintf("%d actions within %s", count, s.cfg.RapidActionWindow))
	}
}

// Backlog severity bands.
const (
	backlogCountLow    = 25
	backlogCountMedium = 100
	backlogCountHigh   = 200

	backlogAgeLow    = 6 * time.Hour
	backlogAgeMedium = 24 * time.Hour
	backlogAgeHigh   = 72 * time.Hour
)

// SweepBacklog inspects the pending queue and records an unresolved-backlog
// anomaly banded by size and oldest pending age. Called periodically by the
// sweeper and safe to call at any time.
func (s *Service) SweepBacklog(ctx context.Context) {
	count, oldest, err := s.reports.PendingBacklog(ctx)
	if err != nil {
		s.logger.Error("Backlog sweep query failed", zap.Error(err))
		return
	}

	age := time.Duration(0)
	if oldest != nil {
		age = s.now().Sub(*oldest)
	}

	severity := ""
	switch {
	case count > backlogCountHigh || age > backlogAgeHigh:
		severity = models.SeverityHigh
	case count > backlogCountMedium || age > backlogAgeMedium:
		severity = models.SeverityMedium
	case count > backlogCountLow || age > backlogAgeLow:
		severity = models.SeverityLow
	}
	if severity == "" {
		return
	}

	s.recordAnomaly(ctx, models.AnomalyBacklog, severity, "review_backlog",
		fmt.Sprintf("%d pending reports, oldest pending for %s", count, age.Round(time.Minute)))
}
