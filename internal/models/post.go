package models

import "time"

// Post statuses. Once a post is deleted its id is retained so audit
// references stay resolvable; only the content may be redacted.
const (
	PostStatusVisible = "visible"
	PostStatusHidden  = "hidden"
	PostStatusDeleted = "deleted"
	PostStatusBanned  = "banned"
)

// Placeholder bodies shown to non-moderators in place of moderated content.
const (
	PlaceholderHidden = "[hidden by moderators]"
	PlaceholderBanned = "[removed by moderators]"
)

// Post is a forum post. Lesson discussions are posts with LessonID set;
// standalone forum topics carry TopicID instead. Both go through the same
// moderation pipeline.
type Post struct {
	ID             string     `db:"id" json:"id"`
	AuthorID       string     `db:"author_id" json:"author_id"`
	TopicID        *string    `db:"topic_id" json:"topic_id,omitempty"`
	TopicTitle     string     `db:"topic_title" json:"topic_title,omitempty"`
	LessonID       *string    `db:"lesson_id" json:"lesson_id,omitempty"`
	ParentID       *string    `db:"parent_id" json:"parent_id,omitempty"`
	Content        string     `db:"content" json:"content"`
	VideoTimestamp *float64   `db:"video_timestamp" json:"video_timestamp,omitempty"`
	Pinned         bool       `db:"pinned" json:"pinned"`
	Status         string     `db:"status" json:"status"`
	BanReason      *string    `db:"ban_reason" json:"ban_reason,omitempty"`
	ReportCount    int        `db:"report_count" json:"report_count"`
	FlaggedAt      *time.Time `db:"flagged_at" json:"flagged_at,omitempty"`
	AssignedTo     *string    `db:"assigned_to" json:"assigned_to,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`

	// Populated only by listings that join users.
	AuthorFirstName *string `db:"author_first_name" json:"-"`
	AuthorLastName  *string `db:"author_last_name" json:"-"`

	// Replies is filled in by thread assembly, never by the store.
	Replies []*Post `db:"-" json:"replies,omitempty"`
}

// IsTopLevel reports whether the post may carry a pin or replies.
func (p *Post) IsTopLevel() bool { return p.ParentID == nil }
