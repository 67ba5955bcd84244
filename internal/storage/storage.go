// Package storage uploads recordings and returns public URLs.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var ErrEmptyBlob = errors.New("storage: empty recording")

// Uploader stores one object and returns a URL it can be fetched from.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (string, error)
}

// RecordingUploader names and uploads conversation recordings.
type RecordingUploader struct {
	up  Uploader
	now func() time.Time
}

func NewRecordingUploader(up Uploader) *RecordingUploader {
	return &RecordingUploader{up: up, now: time.Now}
}

// Upload stores data under recordings/<session>/<unix>.<ext>.
func (u *RecordingUploader) Upload(ctx context.Context, data []byte, contentType, sessionID string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyBlob
	}
	name := ObjectName(sessionID, contentType, u.now())
	url, err := u.up.Upload(ctx, name, contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return url, nil
}

// ObjectName builds the object key for a recording.
func ObjectName(sessionID, contentType string, at time.Time) string {
	sessionID = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sessionID)
	if sessionID == "" {
		sessionID = "unknown"
	}
	return fmt.Sprintf("recordings/%s/%d%s", sessionID, at.Unix(), extension(contentType))
}

func extension(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(contentType, "audio/wav"), strings.HasPrefix(contentType, "audio/x-wav"):
		return ".wav"
	case strings.HasPrefix(contentType, "audio/webm"):
		return ".webm"
	default:
		return ".bin"
	}
}
