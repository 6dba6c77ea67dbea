package models

import "time"

// Queue priorities, highest first in listings.
const (
	PriorityHigh   = 3
	PriorityMedium = 2
	PriorityLow    = 1
)

// ReportSummary is the per-report slice of a queue entry.
type ReportSummary struct {
	Reason string `db:"reason" json:"reason"`
	Detail string `db:"detail" json:"detail,omitempty"`
}

// QueueEntry is one post awaiting review. The queue is a logical view over
// pending reports; nothing is materialized.
type QueueEntry struct {
	PostID          string          `db:"post_id" json:"post_id"`
	Content         string          `db:"content" json:"content"`
	AuthorFirstName string          `db:"author_first_name" json:"-"`
	AuthorLastName  string          `db:"author_last_name" json:"-"`
	TopicTitle      string          `db:"topic_title" json:"topic_title"`
	Status          string          `db:"status" json:"status"`
	ReportCount     int             `db:"report_count" json:"report_count"`
	Priority        int             `db:"priority" json:"priority"`
	ReasonSummary   string          `db:"reason_summary" json:"reason_summary"`
	OldestReportAt  time.Time       `db:"oldest_report_at" json:"created_at"`
	AssignedTo      *string         `db:"assigned_to" json:"assigned_to,omitempty"`
	Reports         []ReportSummary `json:"reports"`
}

// QueueFilter narrows and pages the reviewer queue.
type QueueFilter struct {
	AssignedTo  *string       // nil means any assignee
	MinPriority int           // 0 means all
	MaxAge      time.Duration // 0 means unbounded
	Cursor      string
	Limit       int
}
