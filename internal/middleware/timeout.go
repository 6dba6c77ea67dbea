package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// StoreTimeout bounds the request context so a stalled store call surfaces
// as a deadline error instead of a hung handler. Every repository call on
// the request path inherits the deadline through the context.
func StoreTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
