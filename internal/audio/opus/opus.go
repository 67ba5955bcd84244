// Package opus binds libopus for the realtime send/receive path and for Ogg
// recordings. It needs cgo and the libopus development headers.
package opus

import (
	"bytes"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	libopus "gopkg.in/hraban/opus.v2"

	"github.com/ent0n29/interviewsim/internal/audio"
	"github.com/ent0n29/interviewsim/internal/media"
)

// maxPacketBytes bounds one encoded 20 ms Opus packet.
const maxPacketBytes = 4000

// Encoder turns PCM frames into raw Opus packets.
type Encoder struct {
	enc      *libopus.Encoder
	channels int
	buf      []byte
}

func NewEncoder(channels int) (*Encoder, error) {
	enc, err := libopus.NewEncoder(media.SampleRate, channels, libopus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &Encoder{enc: enc, channels: channels, buf: make([]byte, maxPacketBytes)}, nil
}

// Encode returns a fresh slice holding one Opus packet for f.
func (e *Encoder) Encode(f media.Frame) ([]byte, error) {
	f = audio.ToChannels(f, e.channels)
	n, err := e.enc.Encode(f.Samples, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return append([]byte(nil), e.buf[:n]...), nil
}

// Decoder turns Opus packets back into PCM frames.
type Decoder struct {
	dec      *libopus.Decoder
	channels int
	pcm      []int16
}

func NewDecoder(channels int) (*Decoder, error) {
	dec, err := libopus.NewDecoder(media.SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	// 120 ms is the longest Opus packet.
	return &Decoder{dec: dec, channels: channels, pcm: make([]int16, media.FrameSamples*6*channels)}, nil
}

func (d *Decoder) Decode(packet []byte) (media.Frame, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return media.Frame{}, fmt.Errorf("opus decode: %w", err)
	}
	out := make([]int16, n*d.channels)
	copy(out, d.pcm[:n*d.channels])
	return media.Frame{Samples: out, Channels: d.channels}, nil
}

// OggEncoder records frames as an Ogg/Opus file held in memory.
type OggEncoder struct {
	enc      *Encoder
	buf      bytes.Buffer
	ogg      *oggwriter.OggWriter
	seq      uint16
	ts       uint32
	finished bool
}

func NewOggEncoder(channels int) (*OggEncoder, error) {
	enc, err := NewEncoder(channels)
	if err != nil {
		return nil, err
	}
	e := &OggEncoder{enc: enc}
	w, err := oggwriter.NewWith(&e.buf, media.SampleRate, uint16(channels))
	if err != nil {
		return nil, fmt.Errorf("ogg writer: %w", err)
	}
	e.ogg = w
	return e, nil
}

func (e *OggEncoder) WriteFrame(f media.Frame) error {
	if e.finished {
		return fmt.Errorf("ogg encoder already finished")
	}
	packet, err := e.enc.Encode(f)
	if err != nil {
		return err
	}
	e.seq++
	e.ts += media.FrameSamples
	return e.ogg.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: e.seq,
			Timestamp:      e.ts,
		},
		Payload: packet,
	})
}

func (e *OggEncoder) Finish() ([]byte, error) {
	if !e.finished {
		e.finished = true
		if err := e.ogg.Close(); err != nil {
			return nil, fmt.Errorf("close ogg writer: %w", err)
		}
	}
	return e.buf.Bytes(), nil
}

func (e *OggEncoder) ContentType() string { return "audio/ogg" }
