// Package lessons covers the content surface around a lesson: the playback
// descriptor, timeline annotations, the depth-1 discussion thread, and
// progress reports arriving outside an open session.
package lessons

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eoty/internal/apperr"
	"eoty/internal/models"
	"eoty/internal/repository"
	"eoty/internal/session"
)

// timestampEpsilon tolerates encoder rounding at the very end of a video.
const timestampEpsilon = 1.0

const maxContentLength = 4000

type AnnotationInput struct {
	Timestamp float64
	Kind      string
	Content   string
	IsPublic  bool
}

type DiscussionInput struct {
	Content        string
	ParentID       *string
	VideoTimestamp *float64
	Pinned         bool
}

// Author is the public shape of a post's author.
type Author struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DiscussionPost is one entry of a lesson's thread, placeholder-substituted
// where moderation applies.
type DiscussionPost struct {
	ID             string           `json:"id"`
	Author         Author           `json:"author"`
	Content        string           `json:"content"`
	VideoTimestamp *float64         `json:"video_timestamp,omitempty"`
	Pinned         bool             `json:"pinned"`
	Status         string           `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	Replies        []DiscussionPost `json:"replies,omitempty"`
}

// LessonView is the lesson plus its resolved playback descriptor.
type LessonView struct {
	Lesson   *models.Lesson   `json:"lesson"`
	Playable session.Playable `json:"playable"`
}

type Service struct {
	lessons     repository.LessonRepository
	annotations repository.AnnotationRepository
	posts       repository.PostRepository
	progress    repository.ProgressRepository
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(lessons repository.LessonRepository, annotations repository.AnnotationRepository,
	posts repository.PostRepository, progress repository.ProgressRepository, logger *zap.Logger) *Service {
	return &Service{
		lessons:     lessons,
		annotations: annotations,
		posts:       posts,
		progress:    progress,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Service) getLesson(ctx context.Context, id string) (*models.Lesson, error) {
	lesson, err := s.lessons.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "lesson %s not found", id)
	}
	if err != nil {
		s.logger.Error("Failed to load lesson", zap.String("lesson_id", id), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load lesson", err)
	}
	return lesson, nil
}

func (s *Service) GetLesson(ctx context.Context, id string) (*LessonView, error) {
	lesson, err := s.getLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	return &LessonView{Lesson: lesson, Playable: session.Resolve(lesson)}, nil
}

func (s *Service) ListAnnotations(ctx context.Context, lessonID string, viewer models.Actor) ([]*models.Annotation, error) {
	if _, err := s.getLesson(ctx, lessonID); err != nil {
		return nil, err
	}
	annotations, err := s.annotations.ListForViewer(ctx, lessonID, viewer.ID)
	if err != nil {
		s.logger.Error("Failed to list annotations", zap.String("lesson_id", lessonID), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list annotations", err)
	}
	return annotations, nil
}

func (s *Service) CreateAnnotation(ctx context.Context, lessonID string, actor models.Actor, in AnnotationInput) (string, error) {
	switch in.Kind {
	case models.AnnotationHighlight, models.AnnotationComment, models.AnnotationBookmark:
	default:
		return "", apperr.Newf(apperr.KindValidation, "unknown annotation type %q", in.Kind)
	}

	content := strings.TrimSpace(in.Content)
	if content == "" && in.Kind != models.AnnotationBookmark {
		return "", apperr.Newf(apperr.KindValidation, "%s annotations require content", in.Kind)
	}
	if len(content) > maxContentLength {
		return "", apperr.New(apperr.KindValidation, "content too long")
	}

	lesson, err := s.getLesson(ctx, lessonID)
	if err != nil {
		return "", err
	}
	if in.Timestamp < 0 || (lesson.DurationSeconds > 0 && in.Timestamp > lesson.DurationSeconds+timestampEpsilon) {
		return "", apperr.New(apperr.KindValidation, "timestamp is outside the lesson")
	}

	annotation := &models.Annotation{
		ID:        uuid.NewString(),
		LessonID:  lessonID,
		UserID:    actor.ID,
		Timestamp: in.Timestamp,
		Kind:      in.Kind,
		Content:   content,
		IsPublic:  in.IsPublic,
	}
	if err := s.annotations.Create(ctx, annotation); err != nil {
		s.logger.Error("Failed to create annotation", zap.String("lesson_id", lessonID), zap.Error(err))
		return "", apperr.Wrap(apperr.KindInternal, "failed to create annotation", err)
	}
	return annotation.ID, nil
}

// ListDiscussions returns the lesson's thread: pinned top-level posts first,
// the rest newest-first, replies oldest-first under their parent. Hidden and
// banned posts stay in place with placeholder content unless the viewer can
// moderate.
func (s *Service) ListDiscussions(ctx context.Context, lessonID string, viewer models.Actor) ([]DiscussionPost, error) {
	if _, err := s.getLesson(ctx, lessonID); err != nil {
		return nil, err
	}
	posts, err := s.posts.ListByLesson(ctx, lessonID)
	if err != nil {
		s.logger.Error("Failed to list discussions", zap.String("lesson_id", lessonID), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list discussions", err)
	}

	moderator := models.CanModerate(viewer.Role)
	replies := make(map[string][]DiscussionPost)
	var topLevel []DiscussionPost
	for _, p := range posts {
		entry := s.render(p, moderator)
		if p.ParentID != nil {
			replies[*p.ParentID] = append(replies[*p.ParentID], entry)
			continue
		}
		topLevel = append(topLevel, entry)
	}

	sort.SliceStable(topLevel, func(i, j int) bool {
		if topLevel[i].Pinned != topLevel[j].Pinned {
			return topLevel[i].Pinned
		}
		return topLevel[i].CreatedAt.After(topLevel[j].CreatedAt)
	})
	for i := range topLevel {
		topLevel[i].Replies = replies[topLevel[i].ID]
	}
	return topLevel, nil
}

func (s *Service) render(p *models.Post, moderator bool) DiscussionPost {
	entry := DiscussionPost{
		ID:             p.ID,
		Content:        p.Content,
		VideoTimestamp: p.VideoTimestamp,
		Pinned:         p.Pinned,
		Status:         p.Status,
		CreatedAt:      p.CreatedAt,
	}
	if p.AuthorFirstName != nil {
		entry.Author.FirstName = *p.AuthorFirstName
	}
	if p.AuthorLastName != nil {
		entry.Author.LastName = *p.AuthorLastName
	}
	if !moderator {
		switch p.Status {
		case models.PostStatusHidden:
			entry.Content = models.PlaceholderHidden
			entry.Author = Author{}
		case models.PostStatusBanned:
			entry.Content = models.PlaceholderBanned
			entry.Author = Author{}
		}
	}
	return entry
}

func (s *Service) PostDiscussion(ctx context.Context, lessonID string, actor models.Actor, in DiscussionInput) (string, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return "", apperr.New(apperr.KindValidation, "content is required")
	}
	if len(content) > maxContentLength {
		return "", apperr.New(apperr.KindValidation, "content too long")
	}

	lesson, err := s.getLesson(ctx, lessonID)
	if err != nil {
		return "", err
	}
	if in.VideoTimestamp != nil {
		ts := *in.VideoTimestamp
		if ts < 0 || (lesson.DurationSeconds > 0 && ts > lesson.DurationSeconds+timestampEpsilon) {
			return "", apperr.New(apperr.KindValidation, "video_timestamp is outside the lesson")
		}
	}

	if in.ParentID != nil {
		parent, err := s.posts.GetByID(ctx, *in.ParentID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.Newf(apperr.KindNotFound, "parent post %s not found", *in.ParentID)
		}
		if err != nil {
			return "", apperr.Wrap(apperr.KindInternal, "failed to load parent post", err)
		}
		if parent.LessonID == nil || *parent.LessonID != lessonID {
			return "", apperr.New(apperr.KindValidation, "parent post belongs to a different lesson")
		}
		if !parent.IsTopLevel() {
			return "", apperr.New(apperr.KindValidation, "replies cannot be nested")
		}
		if parent.Status != models.PostStatusVisible {
			return "", apperr.New(apperr.KindValidation, "cannot reply to a moderated post")
		}
	}

	pinned := false
	if in.Pinned {
		if in.ParentID != nil {
			return "", apperr.New(apperr.KindValidation, "replies cannot be pinned")
		}
		if actor.Role != models.RoleTeacher && !models.CanModerate(actor.Role) {
			return "", apperr.New(apperr.KindForbidden, "only instructors can pin discussions")
		}
		pinned = true
	}

	post := &models.Post{
		ID:             uuid.NewString(),
		AuthorID:       actor.ID,
		LessonID:       &lessonID,
		ParentID:       in.ParentID,
		Content:        content,
		VideoTimestamp: in.VideoTimestamp,
		Pinned:         pinned,
		Status:         models.PostStatusVisible,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		s.logger.Error("Failed to create discussion post", zap.String("lesson_id", lessonID), zap.Error(err))
		return "", apperr.Wrap(apperr.KindInternal, "failed to create post", err)
	}
	return post.ID, nil
}

// ReportProgress merges a client-submitted progress tuple outside any open
// session. The merge never regresses stored state; accepted tells the
// client whether its value advanced anything.
func (s *Service) ReportProgress(ctx context.Context, lessonID string, actor models.Actor,
	progress, lastWatchedSeconds float64, completed bool) (*models.LessonProgress, bool, error) {
	if progress < 0 || progress > 1 {
		return nil, false, apperr.New(apperr.KindValidation, "progress must be between 0 and 1")
	}
	if lastWatchedSeconds < 0 {
		return nil, false, apperr.New(apperr.KindValidation, "last_watched_seconds must be non-negative")
	}
	if _, err := s.getLesson(ctx, lessonID); err != nil {
		return nil, false, err
	}

	report := &models.ProgressReport{
		UserID:             actor.ID,
		LessonID:           lessonID,
		Progress:           progress,
		LastWatchedSeconds: lastWatchedSeconds,
		IsCompleted:        completed,
		ReportedAt:         s.now(),
	}
	row, accepted, err := s.progress.Merge(ctx, report)
	if err != nil {
		s.logger.Error("Failed to merge progress",
			zap.String("user_id", actor.ID), zap.String("lesson_id", lessonID), zap.Error(err))
		return nil, false, apperr.Wrap(apperr.KindUnavailable, "progress store unavailable", err)
	}
	return row, accepted, nil
}
