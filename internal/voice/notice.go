package voice

import (
	"errors"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// NoticeKind classifies a [Notice].
type NoticeKind string

const (
	NoticeDeviceUnavailable NoticeKind = "device_unavailable"
	NoticePermissionDenied  NoticeKind = "permission_denied"
	NoticeOutputUnavailable NoticeKind = "output_unavailable"
	NoticeConnectionFailed  NoticeKind = "connection_failed"
	NoticeConnectionLost    NoticeKind = "connection_lost"
	NoticeFramesDropped     NoticeKind = "frames_dropped"
	NoticeBackendError      NoticeKind = "backend_error"
	NoticeInstructions      NoticeKind = "instructions_updated"
	NoticeState             NoticeKind = "state"

	// NoticePartial carries the accumulated text of an unfinished utterance.
	NoticePartial NoticeKind = "partial"
	// NoticeTranscript carries a finalised transcript entry.
	NoticeTranscript NoticeKind = "transcript"
)

// Fixed user-facing texts. Raw error text never reaches a notice.
const (
	msgDeviceUnavailable = "No microphone is available. Check that one is connected."
	msgPermissionDenied  = "Microphone access was denied. Allow access and try again."
	msgOutputUnavailable = "Audio output is unavailable. Replies are shown as text only."
	msgCaptureFailed     = "The microphone could not be started."
	msgConnectionFailed  = "Could not connect to the voice service."
	msgConnectionLost    = "The connection to the voice service was lost."
	msgFramesDropped     = "Audio could not be sent while connecting and was discarded."
	msgBackendError      = "The assistant hit a problem. Please try again."
	msgInstructions      = "The assistant's instructions were updated."
)

// Notice is a user-visible status message.
type Notice struct {
	Kind NoticeKind

	// Role is set for NoticePartial and NoticeTranscript.
	Role string

	// Agent names the routed agent for assistant transcript notices.
	Agent string

	Message string
}

// deviceNotice maps a capture or playback failure onto its notice.
func deviceNotice(err error, output bool) Notice {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return Notice{Kind: NoticePermissionDenied, Message: msgPermissionDenied}
	case output:
		return Notice{Kind: NoticeOutputUnavailable, Message: msgOutputUnavailable}
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return Notice{Kind: NoticeDeviceUnavailable, Message: msgDeviceUnavailable}
	default:
		return Notice{Kind: NoticeDeviceUnavailable, Message: msgCaptureFailed}
	}
}
