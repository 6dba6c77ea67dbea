package session

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eoty/internal/apperr"
	"eoty/internal/models"
	"eoty/internal/streamclient"
)

type fakeLessonRepo struct {
	lessons map[string]*models.Lesson
}

func (f *fakeLessonRepo) GetByID(_ context.Context, id string) (*models.Lesson, error) {
	lesson, ok := f.lessons[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return lesson, nil
}

type fakeAnnotationLister struct {
	annotations []*models.Annotation
	fail        bool
}

func (f *fakeAnnotationLister) ListForViewer(_ context.Context, lessonID, viewerID string) ([]*models.Annotation, error) {
	if f.fail {
		return nil, errors.New("annotation store down")
	}
	var out []*models.Annotation
	for _, a := range f.annotations {
		if a.LessonID == lessonID && (a.IsPublic || a.UserID == viewerID) {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeDiscussionLister struct {
	posts []*models.Post
	fail  bool
}

func (f *fakeDiscussionLister) ListByLesson(_ context.Context, lessonID string) ([]*models.Post, error) {
	if f.fail {
		return nil, errors.New("post store down")
	}
	var out []*models.Post
	for _, p := range f.posts {
		if p.LessonID != nil && *p.LessonID == lessonID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeProgressRepo struct {
	mu     sync.Mutex
	rows   map[string]*models.LessonProgress
	fail   bool
	merges int
}

func newFakeProgressRepo() *fakeProgressRepo {
	return &fakeProgressRepo{rows: make(map[string]*models.LessonProgress)}
}

func (f *fakeProgressRepo) Merge(_ context.Context, report *models.ProgressReport) (*models.LessonProgress, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, false, errors.New("store down")
	}
	f.merges++

	k := report.UserID + "|" + report.LessonID
	row, ok := f.rows[k]
	if !ok {
		row = &models.LessonProgress{UserID: report.UserID, LessonID: report.LessonID}
		f.rows[k] = row
	}
	row.LastWatchedSeconds = max(row.LastWatchedSeconds, report.LastWatchedSeconds)
	row.Progress = max(row.Progress, report.Progress)
	row.IsCompleted = row.IsCompleted || report.IsCompleted
	if report.ReportedAt.After(row.UpdatedAt) {
		row.UpdatedAt = report.ReportedAt
	}

	cp := *row
	return &cp, report.LastWatchedSeconds >= row.LastWatchedSeconds, nil
}

func (f *fakeProgressRepo) Get(_ context.Context, userID, lessonID string) (*models.LessonProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("store down")
	}
	row, ok := f.rows[userID+"|"+lessonID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *row
	return &cp, nil
}

func (f *fakeProgressRepo) mergeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.merges
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func streamLesson(id string, duration float64) *models.Lesson {
	ref := "ref-" + id
	return &models.Lesson{
		ID: id, Title: "Lesson " + id,
		VideoProvider: models.ProviderAdaptiveStream,
		StreamRef:     &ref, DurationSeconds: duration,
	}
}

func newTestEngine(cfg Config, lessons map[string]*models.Lesson, progress *fakeProgressRepo) (*Engine, *clock) {
	e := NewEngine(cfg, &fakeLessonRepo{lessons: lessons}, &fakeAnnotationLister{}, &fakeDiscussionLister{},
		progress, streamclient.NewClient("", 0, zap.NewNop()), zap.NewNop())
	c := &clock{t: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	e.now = c.now
	// Single attempt per retry series; backoff timing is not under test here.
	e.newBackoff = func() backoff.BackOff { return &backoff.StopBackOff{} }
	return e, c
}

func TestOpenUnknownLesson(t *testing.T) {
	e, _ := newTestEngine(Config{}, map[string]*models.Lesson{}, newFakeProgressRepo())

	_, err := e.Open(context.Background(), "u1", "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestOpenResumesFromStoredProgress(t *testing.T) {
	progress := newFakeProgressRepo()
	progress.rows["u1|l1"] = &models.LessonProgress{
		UserID: "u1", LessonID: "l1", LastWatchedSeconds: 120, Progress: 0.4,
	}
	e, _ := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, progress)

	result, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)
	assert.Equal(t, ModeAdaptiveStream, result.Playable.Mode)
	assert.Equal(t, 120.0, result.Session.Position)
	assert.Empty(t, result.Warnings)
	require.NotNil(t, result.Progress)
	assert.Equal(t, 120.0, result.Progress.LastWatchedSeconds)
}

func TestOpenDegradesToFreshStartWhenStoreDown(t *testing.T) {
	progress := newFakeProgressRepo()
	progress.fail = true
	e, _ := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, progress)

	result, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err, "playback must start even with the progress store down")
	assert.NotEmpty(t, result.Warnings)
	assert.Zero(t, result.Session.Position)
}

func TestOpenCapacity(t *testing.T) {
	e, _ := newTestEngine(Config{MaxSessions: 1}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, newFakeProgressRepo())

	_, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)

	_, err = e.Open(context.Background(), "u2", "l1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))

	// Reopening an existing session does not count against capacity.
	_, err = e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)
}

func TestOpenLoadsCompanionContent(t *testing.T) {
	e, _ := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, newFakeProgressRepo())
	l1 := "l1"
	parentID := "d1"
	e.annotations = &fakeAnnotationLister{annotations: []*models.Annotation{
		{ID: "a1", LessonID: "l1", UserID: "u1", Kind: models.AnnotationComment, Content: "mine"},
		{ID: "a2", LessonID: "l1", UserID: "u2", Kind: models.AnnotationComment, Content: "theirs, private"},
	}}
	e.posts = &fakeDiscussionLister{posts: []*models.Post{
		{ID: "d1", LessonID: &l1, Content: "top"},
		{ID: "d2", LessonID: &l1, ParentID: &parentID, Content: "reply"},
		{ID: "d3", LessonID: &l1, Content: "nasty", Status: models.PostStatusBanned},
	}}

	result, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)

	require.Len(t, result.Annotations, 1, "only the viewer's own private annotations")
	assert.Equal(t, "a1", result.Annotations[0].ID)

	require.Len(t, result.Discussions, 2)
	assert.Equal(t, "top", result.Discussions[0].Content)
	require.Len(t, result.Discussions[0].Replies, 1)
	assert.Equal(t, "reply", result.Discussions[0].Replies[0].Content)
	assert.Equal(t, models.PlaceholderBanned, result.Discussions[1].Content)
}

func TestOpenIsolatesCompanionFailures(t *testing.T) {
	e, _ := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, newFakeProgressRepo())
	e.annotations = &fakeAnnotationLister{fail: true}
	e.posts = &fakeDiscussionLister{fail: true}

	result, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err, "sidecar loads never block playback")
	assert.Len(t, result.Warnings, 2)
	assert.Empty(t, result.Annotations)
	assert.Empty(t, result.Discussions)
	assert.Equal(t, ModeAdaptiveStream, result.Playable.Mode)
}

func TestOpenRetriesProviderCheck(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ref":"ref-l1","ready":true,"state":"ready"}`))
	}))
	defer srv.Close()

	e, _ := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, newFakeProgressRepo())
	e.provider = streamclient.NewClient(srv.URL, 5*time.Second, zap.NewNop())
	e.newBackoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, flushMaxRetries)
	}

	result, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)
	assert.Equal(t, ModeAdaptiveStream, result.Playable.Mode)
	assert.Equal(t, int32(3), calls.Load(), "two transient failures are retried through")
	assert.False(t, result.Session.Failed)
}

func TestOpenProviderExhaustionFailsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	progress := newFakeProgressRepo()
	e, c := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, progress)
	e.provider = streamclient.NewClient(srv.URL, 5*time.Second, zap.NewNop())

	result, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)
	assert.Equal(t, ModeNone, result.Playable.Mode)
	assert.Equal(t, ReasonProviderUnreachable, result.Playable.Reason)
	assert.True(t, result.Session.Failed)

	// The failed session still tracks and persists partial progress.
	c.advance(time.Second)
	_, err = e.Seek(context.Background(), "u1", "l1", 20)
	require.NoError(t, err)
	assert.Equal(t, 20.0, progress.rows["u1|l1"].LastWatchedSeconds)
}

func TestHeartbeatClampsElapsed(t *testing.T) {
	e, c := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, newFakeProgressRepo())
	_, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)

	// A 10s gap credits at most 2s of watch time.
	c.advance(10 * time.Second)
	view, err := e.Heartbeat(context.Background(), "u1", "l1", 10, true)
	require.NoError(t, err)
	assert.Equal(t, 2.0, view.WatchedSeconds)

	c.advance(1 * time.Second)
	view, err = e.Heartbeat(context.Background(), "u1", "l1", 11, true)
	require.NoError(t, err)
	assert.Equal(t, 3.0, view.WatchedSeconds)
}

func TestHeartbeatPausedAccruesNothing(t *testing.T) {
	e, c := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, newFakeProgressRepo())
	_, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)

	c.advance(time.Second)
	view, err := e.Heartbeat(context.Background(), "u1", "l1", 5, false)
	require.NoError(t, err)
	assert.Zero(t, view.WatchedSeconds)
	assert.Equal(t, 5.0, view.Position)
}

func TestHeartbeatPauseFlushes(t *testing.T) {
	progress := newFakeProgressRepo()
	e, c := newTestEngine(Config{FlushInterval: 30 * time.Second},
		map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, progress)
	_, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)

	c.advance(time.Second)
	_, err = e.Heartbeat(context.Background(), "u1", "l1", 10, true)
	require.NoError(t, err)
	assert.Zero(t, progress.mergeCount())

	// Pausing is a state change: it flushes even mid-interval.
	c.advance(time.Second)
	_, err = e.Heartbeat(context.Background(), "u1", "l1", 12, false)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.mergeCount())
	assert.Equal(t, 12.0, progress.rows["u1|l1"].LastWatchedSeconds)

	// Staying paused is not another state change.
	c.advance(time.Second)
	_, err = e.Heartbeat(context.Background(), "u1", "l1", 12, false)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.mergeCount())
}

func TestHeartbeatWithoutSession(t *testing.T) {
	e, _ := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, newFakeProgressRepo())

	_, err := e.Heartbeat(context.Background(), "u1", "l1", 5, true)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCompletionLatches(t *testing.T) {
	e, c := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 100)}, newFakeProgressRepo())
	_, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)

	c.advance(time.Second)
	view, err := e.Heartbeat(context.Background(), "u1", "l1", 95, true)
	require.NoError(t, err)
	assert.True(t, view.Completed, "95%% of a 100s lesson completes it")

	// Jumping back does not un-complete or regress the high-water mark.
	c.advance(time.Second)
	view, err = e.Heartbeat(context.Background(), "u1", "l1", 10, true)
	require.NoError(t, err)
	assert.True(t, view.Completed)
	assert.Equal(t, 95.0, view.MaxPosition)
	assert.Equal(t, 10.0, view.Position)
}

func TestFlushCadence(t *testing.T) {
	progress := newFakeProgressRepo()
	e, c := newTestEngine(Config{FlushInterval: 30 * time.Second},
		map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, progress)
	_, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)

	c.advance(10 * time.Second)
	_, err = e.Heartbeat(context.Background(), "u1", "l1", 10, true)
	require.NoError(t, err)
	assert.Zero(t, progress.mergeCount(), "no flush before the interval elapses")

	c.advance(25 * time.Second)
	_, err = e.Heartbeat(context.Background(), "u1", "l1", 35, true)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.mergeCount())
	assert.Equal(t, 35.0, progress.rows["u1|l1"].LastWatchedSeconds)
}

func TestSeekFlushesWithoutAccrual(t *testing.T) {
	progress := newFakeProgressRepo()
	e, c := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, progress)
	_, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)

	c.advance(10 * time.Second)
	view, err := e.Seek(context.Background(), "u1", "l1", 200)
	require.NoError(t, err)
	assert.Zero(t, view.WatchedSeconds, "seeking is not watching")
	assert.Equal(t, 200.0, view.Position)
	assert.Equal(t, 1, progress.mergeCount(), "seek flushes immediately")

	_, err = e.Seek(context.Background(), "u1", "l1", 5000)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDegradedBuffersAndDrains(t *testing.T) {
	progress := newFakeProgressRepo()
	e, c := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, progress)
	_, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)

	progress.fail = true
	c.advance(time.Second)
	view, err := e.Seek(context.Background(), "u1", "l1", 50)
	require.NoError(t, err, "a failed flush never fails the playback action")
	assert.True(t, view.Degraded)

	e.bufMu.Lock()
	buffered := len(e.buffer)
	e.bufMu.Unlock()
	assert.Equal(t, 1, buffered)

	// Store recovers: the next flush succeeds and replays the buffer.
	progress.fail = false
	c.advance(time.Second)
	view, err = e.Seek(context.Background(), "u1", "l1", 60)
	require.NoError(t, err)
	assert.False(t, view.Degraded)

	e.bufMu.Lock()
	buffered = len(e.buffer)
	e.bufMu.Unlock()
	assert.Zero(t, buffered)
	assert.Equal(t, 60.0, progress.rows["u1|l1"].LastWatchedSeconds)
}

func TestCompleteLatchesAndFlushes(t *testing.T) {
	progress := newFakeProgressRepo()
	e, _ := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, progress)
	_, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)

	view, err := e.Complete(context.Background(), "u1", "l1")
	require.NoError(t, err)
	assert.True(t, view.Completed)
	assert.True(t, progress.rows["u1|l1"].IsCompleted)
}

func TestCloseRemovesSession(t *testing.T) {
	progress := newFakeProgressRepo()
	e, c := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, progress)
	_, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)

	c.advance(time.Second)
	_, err = e.Heartbeat(context.Background(), "u1", "l1", 42, true)
	require.NoError(t, err)

	view, err := e.Close(context.Background(), "u1", "l1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, view.MaxPosition)
	assert.Equal(t, 42.0, progress.rows["u1|l1"].LastWatchedSeconds)
	assert.Zero(t, e.Len())

	_, err = e.Close(context.Background(), "u1", "l1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestReopenFlushesPreviousSession(t *testing.T) {
	progress := newFakeProgressRepo()
	e, c := newTestEngine(Config{}, map[string]*models.Lesson{"l1": streamLesson("l1", 300)}, progress)
	_, err := e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)

	c.advance(time.Second)
	_, err = e.Heartbeat(context.Background(), "u1", "l1", 30, true)
	require.NoError(t, err)

	_, err = e.Open(context.Background(), "u1", "l1")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Len())
	assert.Equal(t, 30.0, progress.rows["u1|l1"].LastWatchedSeconds,
		"the replaced session's unflushed watch time is not lost")
}
