package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ent0n29/interviewsim/internal/audio"
	"github.com/ent0n29/interviewsim/internal/media"
)

// Permission replies a client may send after a microphone prompt.
const (
	ReplyGranted  = "mic_granted"
	ReplyDenied   = "mic_denied"
	ReplyNotFound = "mic_not_found"
	ReplyError    = "mic_error"
)

type reply struct {
	action string
	detail string
}

// ClientDevices gets the microphone from a remote client. GetUserMedia asks
// the client through prompt and waits for Resolve; audio then arrives through
// PushAudio.
type ClientDevices struct {
	prompt func(ctx context.Context) error

	mu      sync.Mutex
	waiting chan reply
	stream  *media.Stream
	track   *media.BroadcastTrack
	framer  audio.Framer
}

func NewClientDevices(prompt func(ctx context.Context) error) *ClientDevices {
	return &ClientDevices{prompt: prompt}
}

func (d *ClientDevices) GetUserMedia(ctx context.Context) (*media.Stream, error) {
	d.mu.Lock()
	if d.stream != nil && !d.stream.Stopped() {
		s := d.stream
		d.mu.Unlock()
		return s, nil
	}
	if d.waiting != nil {
		d.mu.Unlock()
		return nil, errors.New("microphone request already pending")
	}
	wait := make(chan reply, 1)
	d.waiting = wait
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.waiting == wait {
			d.waiting = nil
		}
		d.mu.Unlock()
	}()

	if d.prompt != nil {
		if err := d.prompt(ctx); err != nil {
			return nil, fmt.Errorf("prompt for microphone: %w", err)
		}
	}

	var r reply
	select {
	case r = <-wait:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch r.action {
	case ReplyGranted:
	case ReplyDenied:
		return nil, ErrPermissionDenied
	case ReplyNotFound:
		return nil, ErrNotFound
	default:
		detail := strings.TrimSpace(r.detail)
		if detail == "" {
			detail = "unknown error"
		}
		return nil, fmt.Errorf("microphone unavailable: %s", detail)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	track := media.NewBroadcastTrack(media.KindAudio)
	stream := media.NewStream(track)
	stream.OnStop(func() {
		d.mu.Lock()
		if d.track == track {
			d.track = nil
			d.framer = audio.Framer{}
		}
		d.mu.Unlock()
	})
	d.track = track
	d.stream = stream
	return stream, nil
}

// Resolve answers a pending GetUserMedia. It reports whether a request was waiting.
func (d *ClientDevices) Resolve(action, detail string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiting == nil {
		return false
	}
	select {
	case d.waiting <- reply{action: action, detail: detail}:
	default:
		return false
	}
	d.waiting = nil
	return true
}

// PushAudio feeds interleaved PCM16 from the client into the microphone track.
// Audio arriving before permission or after the stream stopped is dropped.
func (d *ClientDevices) PushAudio(samples []int16, sampleRate, channels int) int {
	d.mu.Lock()
	track := d.track
	if track == nil {
		d.mu.Unlock()
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	mono := audio.Resample(audio.ToMono(samples, channels), sampleRate, media.SampleRate)
	frames := d.framer.Push(mono)
	d.mu.Unlock()

	for _, f := range frames {
		track.Publish(f)
	}
	return len(frames)
}
