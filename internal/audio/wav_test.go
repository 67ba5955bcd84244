package audio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ent0n29/interviewsim/internal/media"
)

func TestWAVEncoderProducesDecodableStereo(t *testing.T) {
	enc := NewWAVEncoder(2)
	mono := media.Frame{Samples: make([]int16, media.FrameSamples), Channels: 1}
	mono.Samples[0] = 1234
	if err := enc.WriteFrame(mono); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	blob, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if enc.ContentType() != "audio/wav" {
		t.Fatalf("ContentType() = %q", enc.ContentType())
	}

	pcm, err := DecodeWAV(bytes.NewReader(blob))
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if pcm.Channels != 2 || pcm.SampleRate != media.SampleRate {
		t.Fatalf("decoded format = %d ch @ %d Hz", pcm.Channels, pcm.SampleRate)
	}
	if len(pcm.Samples) != media.FrameSamples*2 {
		t.Fatalf("decoded %d samples, want %d", len(pcm.Samples), media.FrameSamples*2)
	}
	if pcm.Samples[0] != 1234 || pcm.Samples[1] != 1234 {
		t.Fatalf("first stereo pair = %d,%d, want 1234,1234", pcm.Samples[0], pcm.Samples[1])
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, err := DecodeWAV(bytes.NewReader([]byte("not a wav file at all")))
	if !errors.Is(err, ErrUnsupportedWAV) {
		t.Fatalf("DecodeWAV() error = %v, want ErrUnsupportedWAV", err)
	}
}

func TestResampleChangesLength(t *testing.T) {
	in := make([]int16, 160)
	for i := range in {
		in[i] = int16(i)
	}
	out := Resample(in, 16000, 48000)
	if len(out) != 480 {
		t.Fatalf("len(out) = %d, want 480", len(out))
	}
	if out[0] != 0 || out[len(out)-1] != 159 {
		t.Fatalf("endpoints = %d..%d, want 0..159", out[0], out[len(out)-1])
	}
}

func TestFramerEmitsFullFramesOnly(t *testing.T) {
	var f Framer
	if got := f.Push(make([]int16, media.FrameSamples-1)); len(got) != 0 {
		t.Fatalf("Push() emitted %d frames before a full frame", len(got))
	}
	got := f.Push(make([]int16, media.FrameSamples+5))
	if len(got) != 2 {
		t.Fatalf("Push() emitted %d frames, want 2", len(got))
	}
	if f.Pending() != 4 {
		t.Fatalf("Pending() = %d, want 4", f.Pending())
	}
}

func TestSampleBytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	got := BytesToSamples(SamplesToBytes(in))
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], in[i])
		}
	}
}
