package models

import "time"

// Video providers. The descriptor is a tagged variant: exactly one of
// StreamRef or ObjectURL is meaningful for a configured provider.
const (
	ProviderAdaptiveStream = "adaptive_stream"
	ProviderObjectURL      = "object_url"
	ProviderNone           = "none"
)

// Lesson is the unit of playback. DurationSeconds is a hint from the
// authoring side and bounds annotation timestamps.
type Lesson struct {
	ID              string    `db:"id" json:"id"`
	CourseID        *string   `db:"course_id" json:"course_id,omitempty"`
	Title           string    `db:"title" json:"title"`
	VideoProvider   string    `db:"video_provider" json:"video_provider"`
	StreamRef       *string   `db:"stream_ref" json:"stream_ref,omitempty"`
	ObjectURL       *string   `db:"object_url" json:"object_url,omitempty"`
	DurationSeconds float64   `db:"duration_seconds" json:"duration"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Annotation kinds.
const (
	AnnotationHighlight = "highlight"
	AnnotationComment   = "comment"
	AnnotationBookmark  = "bookmark"
)

// Annotation is a timestamped note on a lesson's timeline. Bookmarks may
// have empty content; highlights and comments must not.
type Annotation struct {
	ID        string    `db:"id" json:"id"`
	LessonID  string    `db:"lesson_id" json:"lesson_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Timestamp float64   `db:"ts" json:"timestamp"`
	Kind      string    `db:"kind" json:"type"`
	Content   string    `db:"content" json:"content"`
	IsPublic  bool      `db:"is_public" json:"is_public"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// LessonProgress is one row per (user, lesson). last_watched_seconds is
// monotone non-decreasing and is_completed latches once true.
type LessonProgress struct {
	UserID             string    `db:"user_id" json:"user_id"`
	LessonID           string    `db:"lesson_id" json:"lesson_id"`
	Progress           float64   `db:"progress" json:"progress"`
	LastWatchedSeconds float64   `db:"last_watched_seconds" json:"last_watched_seconds"`
	IsCompleted        bool      `db:"is_completed" json:"is_completed"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// ProgressReport is the at-least-once tuple the session engine flushes.
// The store merges it idempotently: max on seconds, latch on completion.
type ProgressReport struct {
	UserID             string    `json:"user_id"`
	LessonID           string    `json:"lesson_id"`
	Progress           float64   `json:"progress"`
	LastWatchedSeconds float64   `json:"last_watched_seconds"`
	IsCompleted        bool      `json:"is_completed"`
	ReportedAt         time.Time `json:"reported_at"`
}
