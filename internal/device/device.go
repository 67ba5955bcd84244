// Package device acquires the local microphone stream.
package device

import (
	"context"
	"errors"

	"github.com/ent0n29/interviewsim/internal/media"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNotFound         = errors.New("no microphone found")
)

// Devices hands out the local audio stream. Only the caller that acquired a
// stream may stop it.
type Devices interface {
	GetUserMedia(ctx context.Context) (*media.Stream, error)
}
