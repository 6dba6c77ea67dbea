package moderation

import "eoty/internal/models"

type transitionKey struct {
	from   string
	action string
}

// transitions is the closed post state machine. Anything absent fails with
// an invalid-transition error. warn never changes the post; approve on a
// hidden post restores it.
var transitions = map[transitionKey]string{
	{models.PostStatusVisible, models.ActionApprove}: models.PostStatusVisible,
	{models.PostStatusVisible, models.ActionHide}:    models.PostStatusHidden,
	{models.PostStatusVisible, models.ActionDelete}:  models.PostStatusDeleted,
	{models.PostStatusVisible, models.ActionWarn}:    models.PostStatusVisible,
	{models.PostStatusVisible, models.ActionBanPost}: models.PostStatusBanned,

	{models.PostStatusHidden, models.ActionApprove}: models.PostStatusVisible,
	{models.PostStatusHidden, models.ActionHide}:    models.PostStatusHidden,
	{models.PostStatusHidden, models.ActionDelete}:  models.PostStatusDeleted,
	{models.PostStatusHidden, models.ActionWarn}:    models.PostStatusHidden,
	{models.PostStatusHidden, models.ActionBanPost}: models.PostStatusBanned,

	{models.PostStatusBanned, models.ActionDelete}:    models.PostStatusDeleted,
	{models.PostStatusBanned, models.ActionUnbanPost}: models.PostStatusVisible,
}

// NextStatus returns the status resulting from applying action to a post
// in the given state, and whether the transition is allowed at all.
func NextStatus(from, action string) (string, bool) {
	next, ok := transitions[transitionKey{from: from, action: action}]
	return next, ok
}

// resolutionFor maps an action to the resolution applied to every pending
// report on the target. Unbanning restores content, so outstanding reports
// (there should rarely be any) resolve as kept.
var resolutionFor = map[string]string{
	models.ActionApprove:   models.ResolutionKept,
	models.ActionHide:      models.ResolutionHidden,
	models.ActionDelete:    models.ResolutionDeleted,
	models.ActionWarn:      models.ResolutionWarned,
	models.ActionBanPost:   models.ResolutionHidden,
	models.ActionUnbanPost: models.ResolutionKept,
}

// ValidAction reports whether the action belongs to the closed set.
func ValidAction(action string) bool {
	switch action {
	case models.ActionApprove, models.ActionHide, models.ActionDelete,
		models.ActionWarn, models.ActionBanPost, models.ActionUnbanPost:
		return true
	}
	return false
}

// ReplayStatus folds an action history from the initial visible state.
// The stored post status must always equal the replay result.
func ReplayStatus(actions []*models.ModerationAction) string {
	status := models.PostStatusVisible
	for _, a := range actions {
		if next, ok := NextStatus(status, a.Action); ok {
			status = next
		}
	}
	return status
}
