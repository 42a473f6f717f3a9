// Package protocol defines the voice session wire protocol: the JSON message
// envelope exchanged between client and relay, its decoder, and the
// connection lifecycle state machine. It is transport-agnostic.
package protocol

// Kind discriminates [Message] variants on the wire ("type").
type Kind string

const (
	KindSessionCreate         Kind = "session.create"
	KindSessionUpdate         Kind = "session.update"
	KindAudioAppend           Kind = "audio.append"
	KindAudioCommit           Kind = "audio.commit"
	KindAudioDelta            Kind = "audio.delta"
	KindAudioDone             Kind = "audio.done"
	KindTranscriptUser        Kind = "transcript.user"
	KindTranscriptAssistant   Kind = "transcript.assistant"
	KindConversationInterrupt Kind = "conversation.interrupt"
	KindConnectionEstablished Kind = "connection.established"
	KindError                 Kind = "error"
)

// Known reports whether k is part of the protocol.
func (k Kind) Known() bool {
	switch k {
	case KindSessionCreate, KindSessionUpdate,
		KindAudioAppend, KindAudioCommit, KindAudioDelta, KindAudioDone,
		KindTranscriptUser, KindTranscriptAssistant,
		KindConversationInterrupt, KindConnectionEstablished, KindError:
		return true
	}
	return false
}

// IsTranscript reports whether k is a transcript.* kind.
func (k Kind) IsTranscript() bool {
	return k == KindTranscriptUser || k == KindTranscriptAssistant
}

// Role values carried by transcript messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Error codes sent by the relay.
const (
	CodeServerError    = "SERVER_ERROR"
	CodeWebsocketError = "WEBSOCKET_ERROR"
	CodeSessionLimit   = "SESSION_LIMIT"
	CodeUpstreamError  = "UPSTREAM_ERROR"
)

// Message is the flat wire envelope. Which fields are meaningful depends on
// Type; the constructors below build well-formed variants.
type Message struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"sessionId,omitempty"`

	// session.create
	Session *SessionConfig `json:"session,omitempty"`

	// session.update
	Config *SessionConfig `json:"config,omitempty"`

	// audio.append, audio.delta: base64 PCM16 at 16 kHz mono.
	Audio string `json:"audio,omitempty"`

	// audio.delta, audio.done, transcript.*
	ItemID string `json:"itemId,omitempty"`

	// transcript.*
	Text    string `json:"text,omitempty"`
	Role    string `json:"role,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ── Session configuration ─────────────────────────────────────────────────────

// SessionConfig carries negotiated session parameters. Pointer and slice
// fields left nil are "unset" so that partial updates can be merged.
type SessionConfig struct {
	Modalities              []string       `json:"modalities,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Temperature             *float64       `json:"temperature,omitempty"`
	MaxResponseOutputTokens *int           `json:"max_response_output_tokens,omitempty"`
	ToolChoice              string         `json:"tool_choice,omitempty"`
}

// Transcription enables input transcription with the named model.
type Transcription struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity segmentation.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// Audio format and model defaults.
const (
	FormatPCM16            = "pcm16"
	DefaultVoice           = "alloy"
	DefaultTranscriptModel = "whisper-1"
	DefaultInstructions    = "You are a helpful AI voice assistant. Please respond naturally and conversationally."
	DefaultTurnDetection   = "server_vad"
	DefaultThreshold       = 0.5
	DefaultPrefixPaddingMs = 300
	DefaultSilenceDuration = 200
	DefaultTemperature     = 0.8
	DefaultMaxOutputTokens = 4096
	DefaultToolChoice      = "auto"
	ModalityText           = "text"
	ModalityAudio          = "audio"
)

// DefaultSessionConfig returns the negotiation sent on connect: text and
// audio modalities, PCM16 both ways, whisper transcription and server VAD.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities:              []string{ModalityText, ModalityAudio},
		Instructions:            DefaultInstructions,
		Voice:                   DefaultVoice,
		InputAudioFormat:        FormatPCM16,
		OutputAudioFormat:       FormatPCM16,
		InputAudioTranscription: &Transcription{Model: DefaultTranscriptModel},
		TurnDetection: &TurnDetection{
			Type:              DefaultTurnDetection,
			Threshold:         DefaultThreshold,
			PrefixPaddingMs:   DefaultPrefixPaddingMs,
			SilenceDurationMs: DefaultSilenceDuration,
		},
	}
}

// Merge returns c with every field that is set in update applied on top.
func (c SessionConfig) Merge(update SessionConfig) SessionConfig {
	out := c
	if update.Modalities != nil {
		out.Modalities = append([]string(nil), update.Modalities...)
	}
	if update.Instructions != "" {
		out.Instructions = update.Instructions
	}
	if update.Voice != "" {
		out.Voice = update.Voice
	}
	if update.InputAudioFormat != "" {
		out.InputAudioFormat = update.InputAudioFormat
	}
	if update.OutputAudioFormat != "" {
		out.OutputAudioFormat = update.OutputAudioFormat
	}
	if update.InputAudioTranscription != nil {
		t := *update.InputAudioTranscription
		out.InputAudioTranscription = &t
	}
	if update.TurnDetection != nil {
		td := *update.TurnDetection
		out.TurnDetection = &td
	}
	if update.Temperature != nil {
		v := *update.Temperature
		out.Temperature = &v
	}
	if update.MaxResponseOutputTokens != nil {
		v := *update.MaxResponseOutputTokens
		out.MaxResponseOutputTokens = &v
	}
	if update.ToolChoice != "" {
		out.ToolChoice = update.ToolChoice
	}
	return out
}

// ── Constructors ──────────────────────────────────────────────────────────────

// SessionCreate builds a session.create message.
func SessionCreate(cfg SessionConfig) Message {
	return Message{Type: KindSessionCreate, Session: &cfg}
}

// SessionUpdate builds a session.update message carrying a partial config.
func SessionUpdate(cfg SessionConfig) Message {
	return Message{Type: KindSessionUpdate, Config: &cfg}
}

// InstructionsUpdate builds a session.update that only changes instructions.
func InstructionsUpdate(instructions string) Message {
	return SessionUpdate(SessionConfig{Instructions: instructions})
}

// AudioAppend builds an audio.append message.
func AudioAppend(payload string) Message {
	return Message{Type: KindAudioAppend, Audio: payload}
}

// AudioCommit builds an audio.commit message.
func AudioCommit() Message { return Message{Type: KindAudioCommit} }

// AudioDelta builds an audio.delta message.
func AudioDelta(payload, itemID string) Message {
	return Message{Type: KindAudioDelta, Audio: payload, ItemID: itemID}
}

// AudioDone builds an audio.done message.
func AudioDone(itemID string) Message {
	return Message{Type: KindAudioDone, ItemID: itemID}
}

// Transcript builds a transcript.user or transcript.assistant message.
func Transcript(role, text string, final bool, itemID string) Message {
	kind := KindTranscriptUser
	if role == RoleAssistant {
		kind = KindTranscriptAssistant
	}
	return Message{Type: kind, Role: role, Text: text, IsFinal: final, ItemID: itemID}
}

// Interrupt builds a conversation.interrupt message.
func Interrupt() Message { return Message{Type: KindConversationInterrupt} }

// ConnectionEstablished builds a connection.established message.
func ConnectionEstablished(sessionID string) Message {
	return Message{Type: KindConnectionEstablished, SessionID: sessionID}
}

// Error builds an error message.
func Error(message, code string) Message {
	return Message{Type: KindError, Message: message, Code: code}
}

// TranscriptRole returns the speaker role of a transcript message, derived from
// its kind when the role field is absent.
func (m Message) TranscriptRole() string {
	if m.Role != "" {
		return m.Role
	}
	if m.Type == KindTranscriptAssistant {
		return RoleAssistant
	}
	return RoleUser
}
