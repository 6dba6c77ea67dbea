package models

import "time"

// Report reasons.
const (
	ReasonInappropriate = "inappropriate"
	ReasonSpam          = "spam"
	ReasonHarassment    = "harassment"
	ReasonOffensive     = "offensive"
	ReasonOther         = "other"
)

// Report resolutions. A report stays pending until a moderation action on
// its post resolves it, or until the post is deleted.
const (
	ResolutionPending  = "pending"
	ResolutionKept     = "resolved_kept"
	ResolutionHidden   = "resolved_hidden"
	ResolutionDeleted  = "resolved_deleted"
	ResolutionWarned   = "resolved_warned"
)

// Report is a user complaint against a post.
type Report struct {
	ID         string     `db:"id" json:"id"`
	PostID     string     `db:"post_id" json:"post_id"`
	ReporterID string     `db:"reporter_id" json:"reporter_id"`
	ReporterIP string     `db:"reporter_ip" json:"-"`
	Reason     string     `db:"reason" json:"reason"`
	Detail     string     `db:"detail" json:"detail,omitempty"`
	Resolution string     `db:"resolution" json:"resolution"`
	ResolvedBy *string    `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Moderation actions.
const (
	ActionApprove   = "approve"
	ActionHide      = "hide"
	ActionDelete    = "delete"
	ActionWarn      = "warn"
	ActionBanPost   = "ban_post"
	ActionUnbanPost = "unban_post"
)

// ModerationAction is an append-only audit entry. The table rejects
// UPDATE and DELETE at the schema level.
type ModerationAction struct {
	ID           string    `db:"id" json:"id"`
	ModeratorID  string    `db:"moderator_id" json:"moderator_id"`
	PostID       *string   `db:"post_id" json:"post_id,omitempty"`
	TargetUserID *string   `db:"target_user_id" json:"target_user_id,omitempty"`
	Action       string    `db:"action" json:"action"`
	Reason       string    `db:"reason" json:"reason,omitempty"`
	BeforeStatus string    `db:"before_status" json:"before_status"`
	AfterStatus  string    `db:"after_status" json:"after_status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Anomaly types and severities.
const (
	AnomalyBurstReports    = "burst_reports"
	AnomalyRepeatOffender  = "repeat_offender"
	AnomalyRapidActions    = "moderator_rapid_actions"
	AnomalyBacklog         = "unresolved_backlog"

	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Anomaly is a system-detected pattern worth human attention. Anomalies
// may be dismissed but never deleted; writes are idempotent per
// (type, subject, day bucket) while unresolved.
type Anomaly struct {
	ID        string    `db:"id" json:"id"`
	Type      string    `db:"anomaly_type" json:"anomaly_type"`
	Severity  string    `db:"severity" json:"severity"`
	Subject   string    `db:"subject" json:"subject"`
	Detail    string    `db:"details" json:"details"`
	DayBucket string    `db:"day_bucket" json:"-"`
	Resolved  bool      `db:"resolved" json:"resolved"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SeverityRank orders severities for filtering and sorting.
func SeverityRank(s string) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// AuditEvent records administrative happenings outside the action table:
// anomaly dismissals and rejected privilege escalations.
type AuditEvent struct {
	ID        string    `db:"id" json:"id"`
	ActorID   string    `db:"actor_id" json:"actor_id"`
	Event     string    `db:"event" json:"event"`
	Subject   string    `db:"subject" json:"subject"`
	Detail    string    `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification is a user-facing record generated by the warn action.
// Delivery is handled by an external collaborator.
type Notification struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Kind      string     `db:"kind" json:"kind"`
	Body      string     `db:"body" json:"body"`
	ReadAt    *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// ModerationStats summarizes pipeline activity within a window.
type ModerationStats struct {
	TotalReports    int `db:"total_reports" json:"total_reports"`
	PendingReports  int `db:"pending_reports" json:"pending_reports"`
	ResolvedReports int `db:"resolved_reports" json:"resolved_reports"`
	ActionsTaken    int `db:"actions_taken" json:"actions_taken"`
	FlaggedContent  int `db:"flagged_content" json:"flagged_content"`
}
