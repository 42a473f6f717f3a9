package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// Decode error codes.
const (
	DecodeInvalidJSON   = "invalid_json"
	DecodeMissingType   = "missing_type"
	DecodeUnknownType   = "unknown_type"
	DecodeInvalidField  = "invalid_field"
	DecodeInvalidAudio  = "invalid_audio"
	DecodeMissingConfig = "missing_config"
)

// DecodeError reports a malformed inbound message. The message is dropped;
// the connection is unaffected.
type DecodeError struct {
	Code    string
	Message string
	// Param names the offending field, when there is one.
	Param string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("protocol: decode %s (%s): %s", e.Code, e.Param, e.Message)
	}
	return fmt.Sprintf("protocol: decode %s: %s", e.Code, e.Message)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Encode marshals m for the wire.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, errors.New("protocol: encode: message has no type")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses one inbound frame. Failures are returned as *[DecodeError].
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, &DecodeError{Code: DecodeInvalidJSON, Message: "frame is not a JSON message object", Err: err}
	}
	if err := Validate(m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the per-kind required fields of m.
func Validate(m Message) error {
	if m.Type == "" {
		return &DecodeError{Code: DecodeMissingType, Message: "message has no type", Param: "type"}
	}
	if !m.Type.Known() {
		return &DecodeError{Code: DecodeUnknownType, Message: fmt.Sprintf("unknown message type %q", m.Type), Param: "type"}
	}

	switch m.Type {
	case KindAudioAppend, KindAudioDelta:
		if err := audio.ValidatePayload(m.Audio); err != nil {
			return &DecodeError{Code: DecodeInvalidAudio, Message: "audio payload is not base64 PCM16", Param: "audio", Err: err}
		}
	case KindTranscriptUser, KindTranscriptAssistant:
		if m.Role != "" && m.Role != RoleUser && m.Role != RoleAssistant {
			return &DecodeError{Code: DecodeInvalidField, Message: fmt.Sprintf("unknown role %q", m.Role), Param: "role"}
		}
	case KindConnectionEstablished:
		if m.SessionID == "" {
			return &DecodeError{Code: DecodeInvalidField, Message: "connection.established without sessionId", Param: "sessionId"}
		}
	case KindError:
		if m.Message == "" {
			return &DecodeError{Code: DecodeInvalidField, Message: "error without message", Param: "message"}
		}
	}
	return nil
}
