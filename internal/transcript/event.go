// Package transcript turns realtime channel events into an ordered transcript.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one utterance. Timestamp is the local processing instant.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is an inbound message from the realtime event channel. Every field
// other than Type is optional. Fields that arrive with an unexpected JSON
// type are left empty rather than failing the whole event.
type Event struct {
	Type                    string
	EventID                 string
	ResponseID              string
	Delta                   string
	Transcript              string
	Text                    string
	InputAudioTranscription string
	OutputTranscript        string

	// Error is set on "error" events.
	Error *EventError

	Raw json.RawMessage
}

// EventError is the error object of a realtime "error" event.
type EventError struct {
	Type    string
	Code    string
	Message string
}

// ParseEvent decodes one data channel message.
func ParseEvent(raw []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Event{}, fmt.Errorf("decode realtime event: %w", err)
	}
	ev := Event{
		Type:                    stringField(fields["type"]),
		EventID:                 stringField(fields["event_id"]),
		ResponseID:              stringField(fields["response_id"]),
		Delta:                   stringField(fields["delta"]),
		Transcript:              stringField(fields["transcript"]),
		Text:                    stringField(fields["text"]),
		InputAudioTranscription: stringField(fields["input_audio_transcription"]),
		OutputTranscript:        outputTranscript(fields["output"]),
		Error:                   errorField(fields["error"]),
		Raw:                     append(json.RawMessage(nil), raw...),
	}
	return ev, nil
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func errorField(raw json.RawMessage) *EventError {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return &EventError{
		Type:    stringField(obj["type"]),
		Code:    stringField(obj["code"]),
		Message: stringField(obj["message"]),
	}
}

// outputTranscript reads output[0].content[0].transcript.
func outputTranscript(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return ""
	}
	var blocks []map[string]json.RawMessage
	if err := json.Unmarshal(items[0]["content"], &blocks); err != nil || len(blocks) == 0 {
		return ""
	}
	return stringField(blocks[0]["transcript"])
}

// inferRole is the heuristic for generic transcript/text fields.
func inferRole(eventType string) Role {
	if strings.Contains(eventType, "input") {
		return RoleUser
	}
	return RoleAssistant
}
