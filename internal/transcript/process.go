package transcript

import "time"

type rule struct {
	name  string
	match func(ev Event) (Role, string, bool)
}

// rules are evaluated in order and every match appends an entry.
var rules = []rule{
	{
		name: "input_audio_transcription",
		match: func(ev Event) (Role, string, bool) {
			return RoleUser, ev.InputAudioTranscription, ev.InputAudioTranscription != ""
		},
	},
	{
		name: "output_content_transcript",
		match: func(ev Event) (Role, string, bool) {
			return RoleAssistant, ev.OutputTranscript, ev.OutputTranscript != ""
		},
	},
	{
		name: "transcript",
		match: func(ev Event) (Role, string, bool) {
			return inferRole(ev.Type), ev.Transcript, ev.Transcript != ""
		},
	},
	{
		name: "text",
		match: func(ev Event) (Role, string, bool) {
			return inferRole(ev.Type), ev.Text, ev.Text != ""
		},
	},
}

// Process returns acc with the entries produced by ev appended. acc is not
// modified; the returned slice may share its backing array only past len(acc).
func Process(ev Event, acc []Entry, now time.Time) []Entry {
	out := make([]Entry, len(acc), len(acc)+len(rules))
	copy(out, acc)
	for _, r := range rules {
		role, content, ok := r.match(ev)
		if !ok {
			continue
		}
		out = append(out, Entry{Role: role, Content: content, Timestamp: now})
	}
	return out
}
