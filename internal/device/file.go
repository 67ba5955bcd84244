package device

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ent0n29/interviewsim/internal/audio"
	"github.com/ent0n29/interviewsim/internal/media"
)

// FileDevices plays a WAV file as the microphone, paced in real time.
type FileDevices struct {
	path string
	loop bool
	tick func() (<-chan time.Time, func())

	mu     sync.Mutex
	stream *media.Stream
}

func NewFileDevices(path string, loop bool) *FileDevices {
	return &FileDevices{path: path, loop: loop, tick: wallTicker}
}

func wallTicker() (<-chan time.Time, func()) {
	t := time.NewTicker(media.FrameDuration)
	return t.C, t.Stop
}

func (d *FileDevices) GetUserMedia(ctx context.Context) (*media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil && !d.stream.Stopped() {
		return d.stream, nil
	}

	f, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()
	pcm, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decode audio file: %w", err)
	}

	var framer audio.Framer
	frames := framer.Push(audio.Resample(audio.ToMono(pcm.Samples, pcm.Channels), pcm.SampleRate, media.SampleRate))

	track := media.NewBroadcastTrack(media.KindAudio)
	stream := media.NewStream(track)
	stop := make(chan struct{})
	stream.OnStop(func() { close(stop) })

	tick, cancel := d.tick()
	go func() {
		defer cancel()
		i := 0
		for {
			select {
			case <-stop:
				return
			case <-tick:
			}
			if i >= len(frames) {
				if !d.loop || len(frames) == 0 {
					track.Publish(media.Silence(1))
					continue
				}
				i = 0
			}
			track.Publish(frames[i])
			i++
		}
	}()

	d.stream = stream
	return stream, nil
}
