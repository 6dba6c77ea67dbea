package session

import "eoty/internal/models"

// Playback modes handed to clients.
const (
	ModeAdaptiveStream = "adaptive_stream"
	ModeDirectURL      = "direct_url"
	ModeNone           = "none"
)

// Reasons attached when Mode is "none".
const (
	ReasonMissingStreamRef    = "missing_stream_ref"
	ReasonMissingURL          = "missing_url"
	ReasonUnconfigured        = "unconfigured"
	ReasonStreamNotReady      = "stream_not_ready"
	ReasonProviderUnreachable = "provider_unavailable"
)

// Playable tells the client how to start playback. Exactly one of StreamRef
// or URL is set when Mode is not "none"; Reason is set only when it is.
type Playable struct {
	Mode      string `json:"mode"`
	StreamRef string `json:"stream_ref,omitempty"`
	URL       string `json:"url,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Resolve maps a lesson's video descriptor to a Playable. Pure: provider
// availability is layered on by the engine afterwards.
func Resolve(lesson *models.Lesson) Playable {
	provider := lesson.VideoProvider
	if provider == "" {
		// Legacy rows predate the provider column; infer from whichever
		// reference is present.
		switch {
		case lesson.StreamRef != nil && *lesson.StreamRef != "":
			provider = models.ProviderAdaptiveStream
		case lesson.ObjectURL != nil && *lesson.ObjectURL != "":
			provider = models.ProviderObjectURL
		default:
			provider = models.ProviderNone
		}
	}

	switch provider {
	case models.ProviderAdaptiveStream:
		if lesson.StreamRef == nil || *lesson.StreamRef == "" {
			return Playable{Mode: ModeNone, Reason: ReasonMissingStreamRef}
		}
		return Playable{Mode: ModeAdaptiveStream, StreamRef: *lesson.StreamRef}
	case models.ProviderObjectURL:
		if lesson.ObjectURL == nil || *lesson.ObjectURL == "" {
			return Playable{Mode: ModeNone, Reason: ReasonMissingURL}
		}
		return Playable{Mode: ModeDirectURL, URL: *lesson.ObjectURL}
	default:
		return Playable{Mode: ModeNone, Reason: ReasonUnconfigured}
	}
}
