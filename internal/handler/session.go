package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"eoty/internal/middleware"
	"eoty/internal/session"
)

type SessionHandler interface {
	Open(c *gin.Context)
	Heartbeat(c *gin.Context)
	Seek(c *gin.Context)
	Complete(c *gin.Context)
	Close(c *gin.Context)
}

type sessionHandler struct {
	engine *session.Engine
	log    *logrus.Logger
}

func NewSessionHandler(engine *session.Engine, log *logrus.Logger) SessionHandler {
	return &sessionHandler{engine: engine, log: log}
}

func (h *sessionHandler) Open(c *gin.Context) {
	result, err := h.engine.Open(c.Request.Context(), middleware.Actor(c).ID, c.Param("id"))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, result)
}

type HeartbeatRequest struct {
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
}

func (h *sessionHandler) Heartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	view, err := h.engine.Heartbeat(c.Request.Context(), middleware.Actor(c).ID, c.Param("id"), req.Position, req.Playing)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, view)
}

type SeekRequest struct {
	Position float64 `json:"position"`
}

func (h *sessionHandler) Seek(c *gin.Context) {
	var req SeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	view, err := h.engine.Seek(c.Request.Context(), middleware.Actor(c).ID, c.Param("id"), req.Position)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, view)
}

func (h *sessionHandler) Complete(c *gin.Context) {
	view, err := h.engine.Complete(c.Request.Context(), middleware.Actor(c).ID, c.Param("id"))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, view)
}

func (h *sessionHandler) Close(c *gin.Context) {
	view, err := h.engine.Close(c.Request.Context(), middleware.Actor(c).ID, c.Param("id"))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, view)
}
