package audio

import (
	"encoding/binary"
	"math"

	"github.com/ent0n29/interviewsim/internal/media"
)

// ToMono averages interleaved channels down to one.
func ToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// ToChannels converts a mono or stereo frame to the requested channel count.
func ToChannels(f media.Frame, channels int) media.Frame {
	if f.Channels == channels || channels <= 0 {
		return f
	}
	mono := ToMono(f.Samples, f.Channels)
	if channels == 1 {
		return media.Frame{Samples: mono, Channels: 1}
	}
	out := make([]int16, len(mono)*channels)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return media.Frame{Samples: out, Channels: channels}
}

// Resample converts mono samples between rates with linear interpolation.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(samples) == 0 {
		return samples
	}
	n := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	out := make([]int16, n)
	ratio := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}
	return out
}

// BytesToSamples decodes little-endian PCM16 bytes. A trailing odd byte is dropped.
func BytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// SamplesToBytes encodes PCM16 samples as little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Framer cuts an arbitrary mono sample stream into fixed media frames.
type Framer struct {
	pending []int16
}

// Push appends samples and returns every complete frame now available.
func (f *Framer) Push(samples []int16) []media.Frame {
	f.pending = append(f.pending, samples...)
	var out []media.Frame
	for len(f.pending) >= media.FrameSamples {
		frame := make([]int16, media.FrameSamples)
		copy(frame, f.pending[:media.FrameSamples])
		f.pending = f.pending[media.FrameSamples:]
		out = append(out, media.Frame{Samples: frame, Channels: 1})
	}
	return out
}

// Pending reports buffered samples not yet emitted.
func (f *Framer) Pending() int { return len(f.pending) }
