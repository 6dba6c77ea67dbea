package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"eoty/internal/apperr"
)

// unavailableRetryAfter is the retry hint, in seconds, attached to 503s.
const unavailableRetryAfter = 5

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// respondErr maps the error taxonomy onto the response envelope. A blown
// store deadline is a dependency outage, not a server bug, so it reports
// as unavailable. Internal errors get a correlation id so the generic
// client message can be matched to server logs.
func respondErr(c *gin.Context, log *logrus.Logger, err error) {
	kind := apperr.KindOf(err)
	message := apperr.MessageOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		kind = apperr.KindUnavailable
		message = "the request timed out, retry shortly"
	}
	status := apperr.HTTPStatus(kind)

	body := gin.H{"success": false, "message": message}
	switch {
	case status == http.StatusServiceUnavailable:
		body["retry_after"] = unavailableRetryAfter
		c.Header("Retry-After", "5")
		log.WithField("path", c.FullPath()).Warnf("dependency unavailable: %v", err)
	case status >= http.StatusInternalServerError:
		cid := uuid.NewString()
		body["correlation_id"] = cid
		log.WithFields(logrus.Fields{"path": c.FullPath(), "correlation_id": cid}).Errorf("request failed: %v", err)
	}
	c.JSON(status, body)
}
