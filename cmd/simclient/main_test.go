package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ent0n29/interviewsim/internal/audio"
)

func TestPrepareClipDownmixesAndResamples(t *testing.T) {
	// Two stereo frames at 24 kHz: L=1000,R=-1000 then L=3000,R=1000.
	stereo := []int16{1000, -1000, 3000, 1000}
	var wav bytes.Buffer
	if err := audio.WriteWAV(&wav, stereo, 24000, 2); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}

	clip, err := prepareClip(&wav)
	if err != nil {
		t.Fatalf("prepareClip() error = %v", err)
	}
	if clip.SampleRate != clipRate || clip.Channels != 1 {
		t.Fatalf("clip format = %d Hz x%d, want %d Hz mono", clip.SampleRate, clip.Channels, clipRate)
	}
	if len(clip.Samples) != 4 {
		t.Fatalf("len(samples) = %d, want 4", len(clip.Samples))
	}
	if clip.Samples[0] != 0 {
		t.Fatalf("first sample = %d, want 0", clip.Samples[0])
	}
}

func TestChunkSamples(t *testing.T) {
	samples := make([]int16, 4800+100)
	chunks := chunkSamples(samples, 48000, 50)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 2400 || len(chunks[2]) != 100 {
		t.Fatalf("chunk sizes = %d,%d,%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://sim.example/base/", "s 1", "u1")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	if !strings.HasPrefix(got, "wss://sim.example/base/v1/conversation/ws?") {
		t.Fatalf("url = %q", got)
	}
	if !strings.Contains(got, "session_id=s+1") || !strings.Contains(got, "user_id=u1") {
		t.Fatalf("url = %q, want session and user query", got)
	}
	if _, err := wsURLForSession("ftp://x", "s", "u"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

func TestParseFlagsValidation(t *testing.T) {
	cfg, err := parseFlags([]string{"-objectives", " a | |b ", "-verbose=false"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if len(cfg.objectives) != 2 || cfg.objectives[1] != "b" {
		t.Fatalf("objectives = %v", cfg.objectives)
	}
	if _, err := parseFlags([]string{"-objectives", " | "}); err == nil {
		t.Fatalf("expected error for empty objectives")
	}
	if _, err := parseFlags([]string{"-chunk-ms", "5"}); err == nil {
		t.Fatalf("expected error for small chunk-ms")
	}
}
