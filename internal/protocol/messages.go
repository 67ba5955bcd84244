package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk     MessageType = "client_audio_chunk"
	TypeClientControl        MessageType = "client_control"
	TypeStateChanged         MessageType = "state_changed"
	TypeMicRequest           MessageType = "mic_request"
	TypeMicStatus            MessageType = "mic_status"
	TypeTranscriptEntry      MessageType = "transcript_entry"
	TypeAssistantAudio       MessageType = "assistant_audio_chunk"
	TypeNavigate             MessageType = "navigate"
	TypeTaskStatus           MessageType = "task_status"
	TypeFinalizationComplete MessageType = "finalization_complete"
	TypeErrorEvent           MessageType = "error_event"
)

// Client control actions.
const (
	ActionToggle      = "toggle"
	ActionFinish      = "finish"
	ActionRetryMic    = "retry_mic"
	ActionMicGranted  = "mic_granted"
	ActionMicDenied   = "mic_denied"
	ActionMicNotFound = "mic_not_found"
	ActionMicError    = "mic_error"
)

var (
	ErrUnsupportedType   = errors.New("unsupported message type")
	ErrUnsupportedAction = errors.New("unsupported control action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	Channels    int         `json:"channels,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Detail    string      `json:"detail,omitempty"`
}

type StateChanged struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
}

type MicRequest struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type MicStatus struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Status    string      `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	Message   string      `json:"message,omitempty"`
}

type TranscriptEntry struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate"`
	Channels    int         `json:"channels"`
	AudioBase64 string      `json:"audio_base64"`
}

type Navigate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Target    string      `json:"target"`
}

type TaskStatus struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Task      string      `json:"task"`
	Status    string      `json:"status"`
	Detail    string      `json:"detail,omitempty"`
}

type FinalizationComplete struct {
	Type      MessageType  `json:"type"`
	SessionID string       `json:"session_id"`
	Tasks     []TaskStatus `json:"tasks"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		if msg.Channels <= 0 {
			msg.Channels = 1
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		if !KnownAction(msg.Action) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func KnownAction(action string) bool {
	switch action {
	case ActionToggle, ActionFinish, ActionRetryMic,
		ActionMicGranted, ActionMicDenied, ActionMicNotFound, ActionMicError:
		return true
	}
	return false
}
