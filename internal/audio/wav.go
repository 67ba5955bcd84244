package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ent0n29/interviewsim/internal/media"
)

var ErrUnsupportedWAV = errors.New("unsupported wav format")

// PCM is decoded 16-bit audio with interleaved channels.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// WriteWAV writes interleaved PCM16LE samples to out as a WAV stream.
func WriteWAV(out io.Writer, samples []int16, sampleRate, channels int) error {
	const (
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = media.SampleRate
	}
	if channels <= 0 {
		channels = 1
	}

	dataSize := uint32(len(samples) * 2)
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	fields := []any{
		uint32(16),
		uint16(audioFormat),
		uint16(channels),
		uint32(sampleRate),
		byteRate,
		blockAlign,
		uint16(bitsPerSample),
	}
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeWAV reads a PCM16 WAV stream. Chunks other than fmt and data are skipped.
func DecodeWAV(r io.Reader) (PCM, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return PCM{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return PCM{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedWAV)
	}

	var (
		out     PCM
		haveFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return PCM{}, fmt.Errorf("%w: no data chunk", ErrUnsupportedWAV)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return PCM{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if size < 16 {
				return PCM{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != 16 {
				return PCM{}, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupportedWAV, format, bits)
			}
			out.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return PCM{}, fmt.Errorf("%w: data before fmt", ErrUnsupportedWAV)
			}
			body := make([]byte, size)
			n, err := io.ReadFull(r, body)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return PCM{}, fmt.Errorf("read data chunk: %w", err)
			}
			out.Samples = make([]int16, n/2)
			if err := binary.Read(bytes.NewReader(body[:n/2*2]), binary.LittleEndian, out.Samples); err != nil {
				return PCM{}, fmt.Errorf("decode samples: %w", err)
			}
			return out, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)+int64(size%2)); err != nil {
				return PCM{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// WAVEncoder buffers frames and emits a WAV file on Finish.
type WAVEncoder struct {
	channels int
	samples  []int16
}

func NewWAVEncoder(channels int) *WAVEncoder {
	if channels <= 0 {
		channels = 2
	}
	return &WAVEncoder{channels: channels}
}

func (e *WAVEncoder) WriteFrame(f media.Frame) error {
	e.samples = append(e.samples, ToChannels(f, e.channels).Samples...)
	return nil
}

func (e *WAVEncoder) Finish() ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, e.samples, media.SampleRate, e.channels); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *WAVEncoder) ContentType() string { return "audio/wav" }
