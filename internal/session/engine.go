// Package session holds the in-memory viewing sessions. Sessions are
// per-process state: progress durability comes from the periodic flushes
// into lesson_progress, which merge idempotently, so losing a session on
// restart costs at most one flush interval of watch time.
package session

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"eoty/internal/apperr"
	"eoty/internal/models"
	"eoty/internal/repository"
	"eoty/internal/streamclient"
)

const (
	// completionRatio is the watched fraction at which a lesson latches
	// completed.
	completionRatio = 0.95

	// maxHeartbeatDelta caps the watch time credited per heartbeat. Clients
	// heartbeat every second or two; anything above this is a gap (tab
	// suspended, network stall) and must not count as watching.
	maxHeartbeatDelta = 2 * time.Second

	// closeFlushTimeout bounds the final flush on Close so a dying progress
	// store cannot hang request handlers.
	closeFlushTimeout = 2 * time.Second

	flushMaxRetries = 3
)

type Config struct {
	FlushInterval   time.Duration
	BufferRetention time.Duration
	MaxSessions     int
}

// AnnotationLister is the slice of the annotation store Open needs.
type AnnotationLister interface {
	ListForViewer(ctx context.Context, lessonID, viewerID string) ([]*models.Annotation, error)
}

// DiscussionLister is the slice of the post store Open needs.
type DiscussionLister interface {
	ListByLesson(ctx context.Context, lessonID string) ([]*models.Post, error)
}

type key struct {
	userID   string
	lessonID string
}

// Session tracks one user watching one lesson. All fields are guarded by mu.
type Session struct {
	mu sync.Mutex

	userID   string
	lessonID string
	duration float64

	startedAt      time.Time
	lastHeartbeat  time.Time
	lastFlush      time.Time
	position       float64
	maxPosition    float64
	watchedSeconds float64
	playing        bool
	completed      bool
	degraded       bool

	// failed marks a session whose provider dispatch exhausted its retries.
	// Progress accumulated before and after still flushes normally.
	failed bool
}

// View is the client-facing snapshot of a session.
type View struct {
	UserID         string    `json:"user_id"`
	LessonID       string    `json:"lesson_id"`
	Position       float64   `json:"position"`
	MaxPosition    float64   `json:"max_position"`
	WatchedSeconds float64   `json:"watched_seconds"`
	Completed      bool      `json:"completed"`
	Degraded       bool      `json:"degraded"`
	Failed         bool      `json:"failed"`
	StartedAt      time.Time `json:"started_at"`
}

// OpenResult bundles everything a client needs to start playback.
type OpenResult struct {
	Session     View                   `json:"session"`
	Playable    Playable               `json:"playable"`
	Progress    *models.LessonProgress `json:"progress,omitempty"`
	Annotations []*models.Annotation   `json:"annotations"`
	Discussions []*models.Post         `json:"discussions"`
	Warnings    []string               `json:"warnings,omitempty"`
}

type bufferedReport struct {
	report     models.ProgressReport
	enqueuedAt time.Time
}

// Engine is the session registry plus the flush pipeline behind it.
type Engine struct {
	cfg         Config
	lessons     repository.LessonRepository
	annotations AnnotationLister
	posts       DiscussionLister
	progress    repository.ProgressRepository
	provider    *streamclient.Client
	logger      *zap.Logger
	now         func() time.Time

	// newBackoff builds the retry policy for one flush attempt series.
	newBackoff func() backoff.BackOff

	mu       sync.RWMutex
	sessions map[key]*Session

	// buffer holds reports that could not be flushed while the progress
	// store is degraded. FIFO, bounded by retention age only.
	bufMu  sync.Mutex
	buffer []bufferedReport
}

func NewEngine(cfg Config, lessons repository.LessonRepository, annotations AnnotationLister,
	posts DiscussionLister, progress repository.ProgressRepository,
	provider *streamclient.Client, logger *zap.Logger) *Engine {
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.BufferRetention == 0 {
		cfg.BufferRetention = 5 * time.Minute
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 10000
	}
	return &Engine{
		cfg:         cfg,
		lessons:     lessons,
		annotations: annotations,
		posts:       posts,
		progress:    progress,
		provider:    provider,
		logger:      logger,
		now:         time.Now,
		newBackoff:  flushBackoff,
		sessions:    make(map[key]*Session),
	}
}

// Open starts (or restarts) a viewing session. The lesson, stored progress,
// annotations and the discussion thread load concurrently; only the lesson
// is required. Each sidecar load that fails degrades to an empty result
// with a warning instead of blocking playback.
func (e *Engine) Open(ctx context.Context, userID, lessonID string) (*OpenResult, error) {
	var (
		lesson      *models.Lesson
		stored      *models.LessonProgress
		annotations []*models.Annotation
		discussions []*models.Post

		progressWarn, annotationsWarn, discussionsWarn string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l, err := e.lessons.GetByID(gctx, lessonID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.Newf(apperr.KindNotFound, "lesson %s not found", lessonID)
		}
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to load lesson", err)
		}
		lesson = l
		return nil
	})
	g.Go(func() error {
		p, err := e.progress.Get(gctx, userID, lessonID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			e.logger.Warn("Failed to load stored progress, starting from zero",
				zap.String("user_id", userID), zap.String("lesson_id", lessonID), zap.Error(err))
			progressWarn = "stored progress unavailable, starting from the last known position on this device"
			return nil
		}
		stored = p
		return nil
	})
	g.Go(func() error {
		a, err := e.annotations.ListForViewer(gctx, lessonID, userID)
		if err != nil {
			e.logger.Warn("Failed to load annotations for session",
				zap.String("lesson_id", lessonID), zap.Error(err))
			annotationsWarn = "annotations are temporarily unavailable"
			return nil
		}
		annotations = a
		return nil
	})
	g.Go(func() error {
		p, err := e.posts.ListByLesson(gctx, lessonID)
		if err != nil {
			e.logger.Warn("Failed to load discussions for session",
				zap.String("lesson_id", lessonID), zap.Error(err))
			discussionsWarn = "discussions are temporarily unavailable"
			return nil
		}
		discussions = threadDiscussions(p)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var warnings []string
	for _, w := range []string{progressWarn, annotationsWarn, discussionsWarn} {
		if w != "" {
			warnings = append(warnings, w)
		}
	}

	playable, failed := e.checkProvider(ctx, Resolve(lesson), lessonID)

	now := e.now()
	sess := &Session{
		userID:        userID,
		lessonID:      lessonID,
		duration:      lesson.DurationSeconds,
		startedAt:     now,
		lastHeartbeat: now,
		lastFlush:     now,
		failed:        failed,
	}
	if stored != nil {
		sess.position = stored.LastWatchedSeconds
		sess.maxPosition = stored.LastWatchedSeconds
		sess.completed = stored.IsCompleted
	}

	k := key{userID: userID, lessonID: lessonID}
	e.mu.Lock()
	prev := e.sessions[k]
	if prev == nil && len(e.sessions) >= e.cfg.MaxSessions {
		e.mu.Unlock()
		return nil, apperr.New(apperr.KindUnavailable, "session capacity reached, try again shortly")
	}
	e.sessions[k] = sess
	e.mu.Unlock()

	// A replaced session still owes its unflushed watch time.
	if prev != nil {
		prev.mu.Lock()
		report := prev.reportLocked(now)
		prev.mu.Unlock()
		e.flush(ctx, prev, report)
	}

	return &OpenResult{
		Session:     sess.view(),
		Playable:    playable,
		Progress:    stored,
		Annotations: annotations,
		Discussions: discussions,
		Warnings:    warnings,
	}, nil
}

// checkProvider layers provider availability onto a resolved Playable,
// retrying transient failures with the flush backoff policy. Exhausting the
// retries fails the dispatch: the session still opens so partial progress
// keeps flushing, but playback is withheld.
func (e *Engine) checkProvider(ctx context.Context, playable Playable, lessonID string) (Playable, bool) {
	if playable.Mode != ModeAdaptiveStream {
		return playable, false
	}

	var status *streamclient.PlaybackStatus
	check := func() error {
		st, err := e.provider.CheckPlayback(ctx, playable.StreamRef)
		if err != nil {
			return err
		}
		status = st
		return nil
	}
	err := backoff.Retry(check, backoff.WithContext(e.newBackoff(), ctx))
	switch {
	case err != nil:
		e.logger.Warn("Streaming provider check failed after retries",
			zap.String("lesson_id", lessonID), zap.Error(err))
		return Playable{Mode: ModeNone, Reason: ReasonProviderUnreachable}, true
	case !status.Ready:
		return Playable{Mode: ModeNone, Reason: ReasonStreamNotReady}, false
	}
	return playable, false
}

// threadDiscussions nests replies under their parents and substitutes
// placeholder content for moderated posts. Session open is a playback
// surface; moderators review originals through the discussion listing.
func threadDiscussions(posts []*models.Post) []*models.Post {
	byID := make(map[string]*models.Post, len(posts))
	for _, p := range posts {
		redactModerated(p)
		byID[p.ID] = p
	}

	var roots []*models.Post
	for _, p := range posts {
		if p.ParentID != nil {
			if parent, ok := byID[*p.ParentID]; ok {
				parent.Replies = append(parent.Replies, p)
				continue
			}
		}
		roots = append(roots, p)
	}
	return roots
}

func redactModerated(p *models.Post) {
	switch p.Status {
	case models.PostStatusHidden:
		p.Content = models.PlaceholderHidden
	case models.PostStatusBanned:
		p.Content = models.PlaceholderBanned
	default:
		return
	}
	p.AuthorFirstName, p.AuthorLastName = nil, nil
}

// Heartbeat records the current playhead. Watch time accrues only while
// playing, and only up to maxHeartbeatDelta per beat. A flush happens on
// the interval or when playback pauses, whichever comes first, so a pause
// never leaves freshly watched time unpersisted.
func (e *Engine) Heartbeat(ctx context.Context, userID, lessonID string, position float64, playing bool) (*View, error) {
	if position < 0 {
		return nil, apperr.New(apperr.KindValidation, "position must be non-negative")
	}
	sess, err := e.get(userID, lessonID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	sess.mu.Lock()
	elapsed := now.Sub(sess.lastHeartbeat)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > maxHeartbeatDelta {
		elapsed = maxHeartbeatDelta
	}
	if playing {
		sess.watchedSeconds += elapsed.Seconds()
	}
	paused := sess.playing && !playing
	sess.playing = playing
	sess.position = position
	sess.maxPosition = max(sess.maxPosition, position)
	if sess.duration > 0 && sess.maxPosition >= completionRatio*sess.duration {
		sess.completed = true
	}
	sess.lastHeartbeat = now

	var report models.ProgressReport
	due := paused || now.Sub(sess.lastFlush) >= e.cfg.FlushInterval
	if due {
		sess.lastFlush = now
		report = sess.reportLocked(now)
	}
	view := sess.viewLocked()
	sess.mu.Unlock()

	if due {
		e.flush(ctx, sess, report)
	}
	return &view, nil
}

// Seek moves the playhead without accruing watch time and flushes
// immediately so a reload right after the jump lands where the user left.
func (e *Engine) Seek(ctx context.Context, userID, lessonID string, position float64) (*View, error) {
	if position < 0 {
		return nil, apperr.New(apperr.KindValidation, "position must be non-negative")
	}
	sess, err := e.get(userID, lessonID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	sess.mu.Lock()
	if sess.duration > 0 && position > sess.duration+1.0 {
		sess.mu.Unlock()
		return nil, apperr.New(apperr.KindValidation, "position is beyond the end of the lesson")
	}
	sess.position = position
	sess.maxPosition = max(sess.maxPosition, position)
	if sess.duration > 0 && sess.maxPosition >= completionRatio*sess.duration {
		sess.completed = true
	}
	sess.lastHeartbeat = now
	sess.lastFlush = now
	report := sess.reportLocked(now)
	view := sess.viewLocked()
	sess.mu.Unlock()

	e.flush(ctx, sess, report)
	return &view, nil
}

// Complete latches the session completed regardless of position and
// flushes. Used for lessons the client finished by other means, like
// quizzes embedded past the video.
func (e *Engine) Complete(ctx context.Context, userID, lessonID string) (*View, error) {
	sess, err := e.get(userID, lessonID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	sess.mu.Lock()
	sess.completed = true
	sess.lastFlush = now
	report := sess.reportLocked(now)
	view := sess.viewLocked()
	sess.mu.Unlock()

	e.flush(ctx, sess, report)
	return &view, nil
}

// Close tears down the session with one final bounded flush.
func (e *Engine) Close(ctx context.Context, userID, lessonID string) (*View, error) {
	k := key{userID: userID, lessonID: lessonID}
	e.mu.Lock()
	sess := e.sessions[k]
	delete(e.sessions, k)
	e.mu.Unlock()
	if sess == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "no open session for lesson %s", lessonID)
	}

	now := e.now()
	sess.mu.Lock()
	report := sess.reportLocked(now)
	view := sess.viewLocked()
	sess.mu.Unlock()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeFlushTimeout)
	defer cancel()
	e.flush(fctx, sess, report)
	return &view, nil
}

func (e *Engine) get(userID, lessonID string) (*Session, error) {
	e.mu.RLock()
	sess := e.sessions[key{userID: userID, lessonID: lessonID}]
	e.mu.RUnlock()
	if sess == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "no open session for lesson %s", lessonID)
	}
	return sess, nil
}

// flush merges a report into the store, retrying briefly. Persistent
// failure buffers the report and marks the session degraded; the next
// successful flush drains the buffer and clears the flag.
func (e *Engine) flush(ctx context.Context, sess *Session, report models.ProgressReport) {
	if err := e.merge(ctx, report); err != nil {
		e.logger.Warn("Progress flush failed, buffering report",
			zap.String("user_id", report.UserID),
			zap.String("lesson_id", report.LessonID),
			zap.Error(err))
		e.enqueue(report)
		sess.setDegraded(true)
		return
	}
	sess.setDegraded(false)
	e.drain(ctx)
}

// flushBackoff is the default retry policy: 1s, 2s, 4s, then give up.
func flushBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 4 * time.Second
	bo.RandomizationFactor = 0
	return backoff.WithMaxRetries(bo, flushMaxRetries)
}

func (e *Engine) merge(ctx context.Context, report models.ProgressReport) error {
	op := func() error {
		_, _, err := e.progress.Merge(ctx, &report)
		return err
	}
	return backoff.Retry(op, backoff.WithContext(e.newBackoff(), ctx))
}

func (e *Engine) enqueue(report models.ProgressReport) {
	now := e.now()
	e.bufMu.Lock()
	defer e.bufMu.Unlock()

	// Age out the front of the queue; anything past retention has been
	// superseded by later reports for the same session anyway.
	cutoff := now.Add(-e.cfg.BufferRetention)
	for len(e.buffer) > 0 && e.buffer[0].enqueuedAt.Before(cutoff) {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, bufferedReport{report: report, enqueuedAt: now})
}

// drain replays buffered reports in order with single attempts; the merge
// upsert makes replay idempotent. Stops at the first failure and keeps the
// rest for the next flush.
func (e *Engine) drain(ctx context.Context) {
	e.bufMu.Lock()
	pending := e.buffer
	e.buffer = nil
	e.bufMu.Unlock()
	if len(pending) == 0 {
		return
	}

	cutoff := e.now().Add(-e.cfg.BufferRetention)
	for i, item := range pending {
		if item.enqueuedAt.Before(cutoff) {
			continue
		}
		if _, _, err := e.progress.Merge(ctx, &item.report); err != nil {
			e.bufMu.Lock()
			e.buffer = append(pending[i:], e.buffer...)
			e.bufMu.Unlock()
			e.logger.Warn("Buffered progress drain interrupted",
				zap.Int("remaining", len(pending)-i), zap.Error(err))
			return
		}
	}
	e.logger.Info("Buffered progress drained", zap.Int("count", len(pending)))
}

// Len reports the number of open sessions.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

func (s *Session) setDegraded(v bool) {
	s.mu.Lock()
	s.degraded = v
	s.mu.Unlock()
}

func (s *Session) reportLocked(at time.Time) models.ProgressReport {
	progress := 0.0
	if s.duration > 0 {
		progress = min(s.maxPosition/s.duration, 1)
	}
	return models.ProgressReport{
		UserID:             s.userID,
		LessonID:           s.lessonID,
		Progress:           progress,
		LastWatchedSeconds: s.maxPosition,
		IsCompleted:        s.completed,
		ReportedAt:         at,
	}
}

func (s *Session) viewLocked() View {
	return View{
		UserID:         s.userID,
		LessonID:       s.lessonID,
		Position:       s.position,
		MaxPosition:    s.maxPosition,
		WatchedSeconds: s.watchedSeconds,
		Completed:      s.completed,
		Degraded:       s.degraded,
		Failed:         s.failed,
		StartedAt:      s.startedAt,
	}
}

func (s *Session) view() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}
