package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eoty/internal/models"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		from    string
		action  string
		want    string
		allowed bool
	}{
		{models.PostStatusVisible, models.ActionApprove, models.PostStatusVisible, true},
		{models.PostStatusVisible, models.ActionHide, models.PostStatusHidden, true},
		{models.PostStatusVisible, models.ActionDelete, models.PostStatusDeleted, true},
		{models.PostStatusVisible, models.ActionWarn, models.PostStatusVisible, true},
		{models.PostStatusVisible, models.ActionBanPost, models.PostStatusBanned, true},
		{models.PostStatusVisible, models.ActionUnbanPost, "", false},

		{models.PostStatusHidden, models.ActionApprove, models.PostStatusVisible, true},
		{models.PostStatusHidden, models.ActionBanPost, models.PostStatusBanned, true},
		{models.PostStatusHidden, models.ActionUnbanPost, "", false},

		{models.PostStatusBanned, models.ActionUnbanPost, models.PostStatusVisible, true},
		{models.PostStatusBanned, models.ActionDelete, models.PostStatusDeleted, true},
		{models.PostStatusBanned, models.ActionHide, "", false},
		{models.PostStatusBanned, models.ActionApprove, "", false},

		// Deleted is terminal.
		{models.PostStatusDeleted, models.ActionApprove, "", false},
		{models.PostStatusDeleted, models.ActionHide, "", false},
		{models.PostStatusDeleted, models.ActionDelete, "", false},
		{models.PostStatusDeleted, models.ActionUnbanPost, "", false},
	}
	for _, tt := range tests {
		got, ok := NextStatus(tt.from, tt.action)
		assert.Equal(t, tt.allowed, ok, "%s + %s", tt.from, tt.action)
		if tt.allowed {
			assert.Equal(t, tt.want, got, "%s + %s", tt.from, tt.action)
		}
	}
}

func TestResolutionMapping(t *testing.T) {
	assert.Equal(t, models.ResolutionKept, resolutionFor[models.ActionApprove])
	assert.Equal(t, models.ResolutionHidden, resolutionFor[models.ActionHide])
	assert.Equal(t, models.ResolutionDeleted, resolutionFor[models.ActionDelete])
	assert.Equal(t, models.ResolutionWarned, resolutionFor[models.ActionWarn])
	assert.Equal(t, models.ResolutionHidden, resolutionFor[models.ActionBanPost])
	assert.Equal(t, models.ResolutionKept, resolutionFor[models.ActionUnbanPost])
}

func TestReplayStatus(t *testing.T) {
	history := func(actions ...string) []*models.ModerationAction {
		out := make([]*models.ModerationAction, len(actions))
		for i, a := range actions {
			out[i] = &models.ModerationAction{Action: a}
		}
		return out
	}

	require.Equal(t, models.PostStatusVisible, ReplayStatus(nil))
	assert.Equal(t, models.PostStatusHidden, ReplayStatus(history(models.ActionHide)))
	assert.Equal(t, models.PostStatusVisible, ReplayStatus(history(models.ActionHide, models.ActionApprove)))
	assert.Equal(t, models.PostStatusVisible, ReplayStatus(history(models.ActionBanPost, models.ActionUnbanPost)))
	assert.Equal(t, models.PostStatusDeleted, ReplayStatus(history(models.ActionBanPost, models.ActionDelete)))
	assert.Equal(t, models.PostStatusVisible, ReplayStatus(history(models.ActionWarn, models.ActionWarn)))
}
