package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"eoty/internal/lessons"
	"eoty/internal/middleware"
)

type LessonHandler interface {
	GetLesson(c *gin.Context)
	ListAnnotations(c *gin.Context)
	CreateAnnotation(c *gin.Context)
	ListDiscussions(c *gin.Context)
	PostDiscussion(c *gin.Context)
	ReportProgress(c *gin.Context)
}

type lessonHandler struct {
	svc *lessons.Service
	log *logrus.Logger
}

func NewLessonHandler(svc *lessons.Service, log *logrus.Logger) LessonHandler {
	return &lessonHandler{svc: svc, log: log}
}

func (h *lessonHandler) GetLesson(c *gin.Context) {
	view, err := h.svc.GetLesson(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, view)
}

func (h *lessonHandler) ListAnnotations(c *gin.Context) {
	annotations, err := h.svc.ListAnnotations(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"annotations": annotations})
}

type CreateAnnotationRequest struct {
	Timestamp float64 `json:"timestamp"`
	Content   string  `json:"content"`
	Type      string  `json:"type" binding:"required"`
	IsPublic  bool    `json:"is_public"`
}

func (h *lessonHandler) CreateAnnotation(c *gin.Context) {
	var req CreateAnnotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	id, err := h.svc.CreateAnnotation(c.Request.Context(), c.Param("id"), middleware.Actor(c), lessons.AnnotationInput{
		Timestamp: req.Timestamp,
		Kind:      req.Type,
		Content:   req.Content,
		IsPublic:  req.IsPublic,
	})
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusCreated, gin.H{"id": id})
}

func (h *lessonHandler) ListDiscussions(c *gin.Context) {
	posts, err := h.svc.ListDiscussions(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"posts": posts})
}

type PostDiscussionRequest struct {
	Content        string   `json:"content" binding:"required"`
	VideoTimestamp *float64 `json:"video_timestamp"`
	ParentID       *string  `json:"parent_id"`
	Pinned         bool     `json:"pinned"`
}

func (h *lessonHandler) PostDiscussion(c *gin.Context) {
	var req PostDiscussionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	id, err := h.svc.PostDiscussion(c.Request.Context(), c.Param("id"), middleware.Actor(c), lessons.DiscussionInput{
		Content:        req.Content,
		ParentID:       req.ParentID,
		VideoTimestamp: req.VideoTimestamp,
		Pinned:         req.Pinned,
	})
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusCreated, gin.H{"id": id})
}

type ProgressRequest struct {
	Progress           float64 `json:"progress"`
	LastWatchedSeconds float64 `json:"last_watched_seconds"`
	IsCompleted        bool    `json:"is_completed"`
}

func (h *lessonHandler) ReportProgress(c *gin.Context) {
	var req ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	row, accepted, err := h.svc.ReportProgress(c.Request.Context(), c.Param("id"), middleware.Actor(c),
		req.Progress, req.LastWatchedSeconds, req.IsCompleted)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"accepted":                    accepted,
		"stored_last_watched_seconds": row.LastWatchedSeconds,
		"stored_progress":             row.Progress,
		"is_completed":                row.IsCompleted,
	})
}
