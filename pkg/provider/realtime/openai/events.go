package openai

import (
	"github.com/MrWong99/voicelink/pkg/protocol"
	"github.com/MrWong99/voicelink/pkg/provider/realtime"
)

// ── Client events ─────────────────────────────────────────────────────────────

type bareEvent struct {
	Type string `json:"type"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionObject `json:"session"`
}

// sessionObject is sent complete on every update. The relay offers no tools,
// so tools is always an empty list.
type sessionObject struct {
	Modalities              []string                `json:"modalities"`
	Instructions            string                  `json:"instructions"`
	Voice                   string                  `json:"voice"`
	InputAudioFormat        string                  `json:"input_audio_format"`
	OutputAudioFormat       string                  `json:"output_audio_format"`
	InputAudioTranscription *protocol.Transcription `json:"input_audio_transcription"`
	TurnDetection           *protocol.TurnDetection `json:"turn_detection"`
	Tools                   []any                   `json:"tools"`
	ToolChoice              string                  `json:"tool_choice"`
	Temperature             float64                 `json:"temperature"`
	MaxResponseOutputTokens int                     `json:"max_response_output_tokens"`
}

func newSessionObject(cfg protocol.SessionConfig) sessionObject {
	c := protocol.DefaultSessionConfig().Merge(cfg)
	obj := sessionObject{
		Modalities:              c.Modalities,
		Instructions:            c.Instructions,
		Voice:                   c.Voice,
		InputAudioFormat:        c.InputAudioFormat,
		OutputAudioFormat:       c.OutputAudioFormat,
		InputAudioTranscription: c.InputAudioTranscription,
		TurnDetection:           c.TurnDetection,
		Tools:                   []any{},
		ToolChoice:              protocol.DefaultToolChoice,
		Temperature:             protocol.DefaultTemperature,
		MaxResponseOutputTokens: protocol.DefaultMaxOutputTokens,
	}
	if c.ToolChoice != "" {
		obj.ToolChoice = c.ToolChoice
	}
	if c.Temperature != nil {
		obj.Temperature = *c.Temperature
	}
	if c.MaxResponseOutputTokens != nil {
		obj.MaxResponseOutputTokens = *c.MaxResponseOutputTokens
	}
	return obj
}

// ── Server events ─────────────────────────────────────────────────────────────

// serverEvent holds the union of the fields the relay reads from any server
// event type.
type serverEvent struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// converters maps server event types onto relay events. A converter
// returning false drops the event, as does a type missing from the table.
var converters = map[string]func(e *serverEvent) (realtime.Event, bool){
	"response.audio.delta": func(e *serverEvent) (realtime.Event, bool) {
		return realtime.Event{Type: realtime.EventAudioDelta, ItemID: e.ItemID, Audio: e.Delta}, e.Delta != ""
	},
	"response.audio.done": func(e *serverEvent) (realtime.Event, bool) {
		return realtime.Event{Type: realtime.EventAudioDone, ItemID: e.ItemID}, true
	},
	"conversation.item.input_audio_transcription.completed": func(e *serverEvent) (realtime.Event, bool) {
		return realtime.Event{Type: realtime.EventUserTranscript, ItemID: e.ItemID, Text: e.Transcript}, true
	},
	"response.text.delta":             assistantDelta,
	"response.audio_transcript.delta": assistantDelta,
	"response.text.done": func(e *serverEvent) (realtime.Event, bool) {
		return realtime.Event{Type: realtime.EventAssistantDone, ItemID: e.ItemID, Text: e.Text}, true
	},
	"response.audio_transcript.done": func(e *serverEvent) (realtime.Event, bool) {
		return realtime.Event{Type: realtime.EventAssistantDone, ItemID: e.ItemID, Text: e.Transcript}, true
	},
	"session.created": sessionUpdated,
	"session.updated": sessionUpdated,
	"error":           upstreamError,
}

func assistantDelta(e *serverEvent) (realtime.Event, bool) {
	return realtime.Event{Type: realtime.EventAssistantDelta, ItemID: e.ItemID, Text: e.Delta}, e.Delta != ""
}

func sessionUpdated(*serverEvent) (realtime.Event, bool) {
	return realtime.Event{Type: realtime.EventSessionUpdated}, true
}

// upstreamError prefers the specific code and falls back to the error type.
func upstreamError(e *serverEvent) (realtime.Event, bool) {
	ev := realtime.Event{Type: realtime.EventError, Message: "unknown error"}
	if d := e.Error; d != nil {
		if d.Message != "" {
			ev.Message = d.Message
		}
		ev.Code = d.Code
		if ev.Code == "" {
			ev.Code = d.Type
		}
	}
	return ev, true
}

func (e *serverEvent) toEvent() (realtime.Event, bool) {
	conv, ok := converters[e.Type]
	if !ok {
		return realtime.Event{}, false
	}
	return conv(e)
}
