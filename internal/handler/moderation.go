package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"eoty/internal/middleware"
	"eoty/internal/models"
	"eoty/internal/moderation"
)

const (
	defaultQueueLimit  = 20
	defaultStatsWindow = 24 * time.Hour
)

type ModerationHandler interface {
	ListReports(c *gin.Context)
	Moderate(c *gin.Context)
	AssignReport(c *gin.Context)
	BanPost(c *gin.Context)
	UnbanPost(c *gin.Context)
	ReportPost(c *gin.Context)
	ListAnomalies(c *gin.Context)
	DismissAnomaly(c *gin.Context)
}

type moderationHandler struct {
	svc *moderation.Service
	log *logrus.Logger
}

func NewModerationHandler(svc *moderation.Service, log *logrus.Logger) ModerationHandler {
	return &moderationHandler{svc: svc, log: log}
}

// queueEntryResponse is the wire shape of one reviewer-queue row. The queue
// is keyed by post: the entry id is the post id.
type queueEntryResponse struct {
	ID            string                 `json:"id"`
	PostID        string                 `json:"post_id"`
	Content       string                 `json:"content"`
	Author        gin.H                  `json:"author"`
	TopicTitle    string                 `json:"topic_title"`
	ReportCount   int                    `json:"report_count"`
	Reports       []models.ReportSummary `json:"reports"`
	Priority      int                    `json:"priority"`
	ReasonSummary string                 `json:"reason_summary"`
	CreatedAt     time.Time              `json:"created_at"`
	Status        string                 `json:"status"`
	AssignedTo    *string                `json:"assigned_to,omitempty"`
}

func (h *moderationHandler) ListReports(c *gin.Context) {
	actor := middleware.Actor(c)

	filter := models.QueueFilter{
		Cursor: c.Query("cursor"),
		Limit:  defaultQueueLimit,
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "limit must be between 1 and 100"})
			return
		}
		filter.Limit = limit
	}
	if v := c.Query("assigned_to"); v != "" {
		filter.AssignedTo = &v
	}
	if v := c.Query("min_priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "min_priority must be a number"})
			return
		}
		filter.MinPriority = p
	}
	if v := c.Query("max_age"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "max_age must be a positive duration, e.g. 72h"})
			return
		}
		filter.MaxAge = d
	}
	statsWindow := defaultStatsWindow
	if v := c.Query("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "window must be a positive duration, e.g. 24h"})
			return
		}
		statsWindow = d
	}

	entries, nextCursor, err := h.svc.ListQueue(c.Request.Context(), actor, filter)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	stats, err := h.svc.Stats(c.Request.Context(), actor, statsWindow)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}

	reports := make([]queueEntryResponse, 0, len(entries))
	for _, e := range entries {
		reports = append(reports, queueEntryResponse{
			ID:      e.PostID,
			PostID:  e.PostID,
			Content: e.Content,
			Author: gin.H{
				"first_name": e.AuthorFirstName,
				"last_name":  e.AuthorLastName,
			},
			TopicTitle:    e.TopicTitle,
			ReportCount:   e.ReportCount,
			Reports:       e.Reports,
			Priority:      e.Priority,
			ReasonSummary: e.ReasonSummary,
			CreatedAt:     e.OldestReportAt.UTC(),
			Status:        e.Status,
			AssignedTo:    e.AssignedTo,
		})
	}

	respondData(c, http.StatusOK, gin.H{
		"reports":          reports,
		"total_reports":    stats.TotalReports,
		"pending_reports":  stats.PendingReports,
		"resolved_reports": stats.ResolvedReports,
		"flagged_content":  stats.FlaggedContent,
		"actions_taken":    stats.ActionsTaken,
		"next_cursor":      nextCursor,
	})
}

type ModerateRequest struct {
	Action string `json:"action" binding:"required"`
	Reason string `json:"reason"`
}

func (h *moderationHandler) Moderate(c *gin.Context) {
	var req ModerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	actionID, err := h.svc.Moderate(c.Request.Context(), c.Param("id"), middleware.Actor(c), req.Action, req.Reason)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"action_id": actionID})
}

type AssignRequest struct {
	ReviewerID *string `json:"reviewer_id"`
}

func (h *moderationHandler) AssignReport(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	if err := h.svc.Assign(c.Request.Context(), middleware.Actor(c), c.Param("id"), req.ReviewerID); err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"post_id": c.Param("id"), "assigned_to": req.ReviewerID})
}

type BanRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *moderationHandler) BanPost(c *gin.Context) {
	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	actionID, err := h.svc.BanPost(c.Request.Context(), c.Param("id"), middleware.Actor(c), req.Reason)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"action_id": actionID})
}

func (h *moderationHandler) UnbanPost(c *gin.Context) {
	actionID, err := h.svc.UnbanPost(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"action_id": actionID})
}

type ReportRequest struct {
	Reason string `json:"reason" binding:"required"`
	Detail string `json:"detail"`
}

// ReportPost files a complaint against any post, forum or discussion.
func (h *moderationHandler) ReportPost(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	actor := middleware.Actor(c)
	reportID, err := h.svc.Report(c.Request.Context(), moderation.ReportInput{
		PostID:     c.Param("id"),
		ReporterID: actor.ID,
		ReporterIP: c.ClientIP(),
		Reason:     req.Reason,
		Detail:     req.Detail,
	})
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusCreated, gin.H{"report_id": reportID})
}

func (h *moderationHandler) ListAnomalies(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	resolved := false
	if v := c.Query("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "resolved must be true or false"})
			return
		}
		resolved = b
	}

	anomalies, err := h.svc.ListAnomalies(c.Request.Context(), middleware.Actor(c), c.Query("min_severity"), resolved, limit)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"anomalies": anomalies})
}

func (h *moderationHandler) DismissAnomaly(c *gin.Context) {
	if err := h.svc.DismissAnomaly(c.Request.Context(), c.Param("id"), middleware.Actor(c)); err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"id": c.Param("id"), "resolved": true})
}
