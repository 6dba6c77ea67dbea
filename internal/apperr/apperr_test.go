package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindInvalidTransition, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindUnavailable, http.StatusServiceUnavailable},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.kind), tt.kind.String())
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(New(KindNotFound, "nope")))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("outer: %w", New(KindConflict, "busy"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestMessageOfMasksInternals(t *testing.T) {
	assert.Equal(t, "post not found", MessageOf(New(KindNotFound, "post not found")))
	assert.Equal(t, "internal error", MessageOf(errors.New("pq: connection refused")))
	assert.Equal(t, "internal error", MessageOf(Wrap(KindInternal, "db exploded", errors.New("boom"))))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(KindUnavailable, "store timeout", cause)
	assert.True(t, errors.Is(err, cause))
}
