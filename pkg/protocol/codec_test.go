package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrWong99/voicelink/pkg/audio"
)

func TestDecode_ValidMessages(t *testing.T) {
	t.Parallel()

	payload := audio.EncodeFrame([]float32{0.1, -0.1})
	tests := []struct {
		name string
		in   string
		want Kind
	}{
		{"established", `{"type":"connection.established","sessionId":"abc"}`, KindConnectionEstablished},
		{"delta", `{"type":"audio.delta","audio":"` + payload + `","itemId":"i1"}`, KindAudioDelta},
		{"done", `{"type":"audio.done","itemId":"i1"}`, KindAudioDone},
		{"user transcript", `{"type":"transcript.user","text":"hi","isFinal":true}`, KindTranscriptUser},
		{"assistant transcript", `{"type":"transcript.assistant","text":"hel","role":"assistant"}`, KindTranscriptAssistant},
		{"error", `{"type":"error","message":"boom","code":"SERVER_ERROR"}`, KindError},
		{"commit", `{"type":"audio.commit"}`, KindAudioCommit},
		{"unknown fields ignored", `{"type":"audio.commit","extra":1}`, KindAudioCommit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := Decode([]byte(tt.in))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if m.Type != tt.want {
				t.Errorf("Type = %q, want %q", m.Type, tt.want)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		wantCode string
	}{
		{"not json", `{not json`, DecodeInvalidJSON},
		{"array", `[1,2]`, DecodeInvalidJSON},
		{"missing type", `{"text":"hi"}`, DecodeMissingType},
		{"unknown type", `{"type":"response.audio.delta"}`, DecodeUnknownType},
		{"odd audio", `{"type":"audio.delta","audio":"AAEC"}`, DecodeInvalidAudio},
		{"bad base64", `{"type":"audio.append","audio":"%%%"}`, DecodeInvalidAudio},
		{"bad role", `{"type":"transcript.user","role":"narrator"}`, DecodeInvalidField},
		{"established without id", `{"type":"connection.established"}`, DecodeInvalidField},
		{"error without message", `{"type":"error"}`, DecodeInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tt.in))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *DecodeError", err)
			}
			if de.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", de.Code, tt.wantCode)
			}
			if !IsDecodeError(err) {
				t.Error("IsDecodeError = false")
			}
		})
	}
}

func TestEncode_SessionCreateCarriesDefaults(t *testing.T) {
	t.Parallel()

	data, err := Encode(SessionCreate(DefaultSessionConfig()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["type"] != "session.create" {
		t.Errorf("type = %v", raw["type"])
	}
	sess, ok := raw["session"].(map[string]any)
	if !ok {
		t.Fatalf("session = %v, want object", raw["session"])
	}
	if sess["input_audio_format"] != "pcm16" || sess["output_audio_format"] != "pcm16" {
		t.Errorf("formats = %v/%v, want pcm16", sess["input_audio_format"], sess["output_audio_format"])
	}
	if sess["voice"] != "alloy" {
		t.Errorf("voice = %v, want alloy", sess["voice"])
	}
	td, _ := sess["turn_detection"].(map[string]any)
	if td["type"] != "server_vad" || td["threshold"] != 0.5 {
		t.Errorf("turn_detection = %v", td)
	}
	tr, _ := sess["input_audio_transcription"].(map[string]any)
	if tr["model"] != "whisper-1" {
		t.Errorf("transcription = %v", tr)
	}
}

func TestEncode_FieldNames(t *testing.T) {
	t.Parallel()

	data, err := Encode(AudioAppend("AAA="))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := string(data); got != `{"type":"audio.append","audio":"AAA="}` {
		t.Errorf("audio.append = %s", got)
	}

	data, err = Encode(InstructionsUpdate("be concise"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := string(data); got != `{"type":"session.update","config":{"instructions":"be concise"}}` {
		t.Errorf("session.update = %s", got)
	}

	if _, err := Encode(Message{}); err == nil {
		t.Error("Encode of untyped message succeeded")
	}
}

func TestSessionConfig_Merge(t *testing.T) {
	t.Parallel()

	base := DefaultSessionConfig()
	temp := 0.3
	got := base.Merge(SessionConfig{Instructions: "be concise", Temperature: &temp})

	if got.Instructions != "be concise" {
		t.Errorf("Instructions = %q", got.Instructions)
	}
	if got.Voice != DefaultVoice {
		t.Errorf("Voice = %q, want untouched default", got.Voice)
	}
	if got.Temperature == nil || *got.Temperature != 0.3 {
		t.Errorf("Temperature = %v", got.Temperature)
	}
	temp = 0.9
	if *got.Temperature != 0.3 {
		t.Error("Merge aliased the update's pointer")
	}
	if base.Instructions != DefaultInstructions {
		t.Error("Merge mutated the receiver")
	}
}

func TestMessage_TranscriptRole(t *testing.T) {
	t.Parallel()

	if r := (Message{Type: KindTranscriptAssistant}).TranscriptRole(); r != RoleAssistant {
		t.Errorf("assistant kind role = %q", r)
	}
	if r := (Message{Type: KindTranscriptUser}).TranscriptRole(); r != RoleUser {
		t.Errorf("user kind role = %q", r)
	}
	m := Transcript(RoleAssistant, "hi", true, "i1")
	if m.Type != KindTranscriptAssistant || !m.IsFinal || m.ItemID != "i1" {
		t.Errorf("Transcript = %+v", m)
	}
}
