// Package realtime defines the Provider interface for upstream realtime voice
// backends.
//
// A realtime provider wraps a speech-capable model reachable over a single
// long-lived bidirectional connection: audio goes in as base64 PCM16 frames,
// synthesized audio and transcripts come back as a stream of [Event] values.
// The relay server keeps one upstream [Session] per client session and
// translates between the client wire protocol and the provider's events.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"time"

	"github.com/MrWong99/voicelink/pkg/protocol"
)

// EventType discriminates upstream [Event] values.
type EventType int

const (
	// EventAudioDelta carries a chunk of synthesized speech.
	EventAudioDelta EventType = iota
	// EventAudioDone marks the end of one synthesized audio item.
	EventAudioDone
	// EventUserTranscript carries the final transcription of user speech.
	EventUserTranscript
	// EventAssistantDelta carries a partial assistant transcript.
	EventAssistantDelta
	// EventAssistantDone carries the final assistant transcript.
	EventAssistantDone
	// EventSessionUpdated confirms an applied session configuration.
	EventSessionUpdated
	// EventError is a non-fatal error reported by the backend.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventAudioDelta:
		return "audio_delta"
	case EventAudioDone:
		return "audio_done"
	case EventUserTranscript:
		return "user_transcript"
	case EventAssistantDelta:
		return "assistant_delta"
	case EventAssistantDone:
		return "assistant_done"
	case EventSessionUpdated:
		return "session_updated"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one upstream occurrence.
type Event struct {
	Type EventType

	// ItemID identifies the conversation item the event belongs to.
	ItemID string

	// Audio is base64 PCM16 for EventAudioDelta.
	Audio string

	// Text is the transcript text for transcript events.
	Text string

	// Code and Message describe an EventError.
	Code    string
	Message string
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// LiveUpdate reports whether a session accepts configuration changes
	// without being rebuilt.
	LiveUpdate bool

	// Voices lists the voice identifiers the provider accepts.
	Voices []string

	// MaxSessionDuration is the provider-imposed session lifetime limit.
	// Zero means no documented limit.
	MaxSessionDuration time.Duration
}

// Session is an open upstream session.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// AppendAudio forwards one base64 PCM16 frame.
	AppendAudio(ctx context.Context, payload string) error

	// Commit ends the user's turn and requests a response.
	Commit(ctx context.Context) error

	// Cancel stops the response currently being generated.
	Cancel(ctx context.Context) error

	// Update applies cfg to the live session. Providers without
	// [Capabilities.LiveUpdate] return an error.
	Update(ctx context.Context, cfg protocol.SessionConfig) error

	// Events returns the upstream event stream. It is closed when the
	// session ends; check Err afterwards.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil after a clean
	// close.
	Err() error

	// Close terminates the session. Calling Close more than once is safe.
	Close() error
}

// Provider opens upstream sessions.
type Provider interface {
	// Connect opens a session configured with cfg. The session is ready for
	// audio when Connect returns.
	Connect(ctx context.Context, cfg protocol.SessionConfig) (Session, error)

	// Capabilities returns static provider metadata.
	Capabilities() Capabilities
}
