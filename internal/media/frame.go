package media

import "time"

const (
	// SampleRate is the single PCM rate used across the capture, mix and record path.
	SampleRate = 48000
	// FrameDuration is the cadence of every track and of the mixer clock.
	FrameDuration = 20 * time.Millisecond
	// FrameSamples is the number of samples per channel in one frame.
	FrameSamples = SampleRate / 50
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Frame is one FrameDuration slice of interleaved PCM16 audio.
type Frame struct {
	Samples  []int16
	Channels int
}

// Silence returns a zeroed frame with the given channel count.
func Silence(channels int) Frame {
	if channels <= 0 {
		channels = 1
	}
	return Frame{Samples: make([]int16, FrameSamples*channels), Channels: channels}
}

func (f Frame) silenced() Frame {
	return Frame{Samples: make([]int16, len(f.Samples)), Channels: f.Channels}
}
