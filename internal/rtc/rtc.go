// Package rtc is the peer connection surface used by the realtime session
// manager and the mixer. The pion implementation lives in pion.go.
package rtc

import (
	"context"
	"errors"

	"github.com/ent0n29/interviewsim/internal/media"
)

// EventsLabel is the data channel carrying realtime JSON events.
const EventsLabel = "oai-events"

var ErrClosed = errors.New("peer connection closed")

// DataChannel is the out-of-band event channel of a peer connection.
type DataChannel interface {
	Label() string
	// OnMessage replaces the inbound message handler.
	OnMessage(fn func(msg []byte))
	Send(msg []byte) error
	Close() error
}

// PeerConnection is one negotiated audio session plus its data channels.
type PeerConnection interface {
	// Senders lists the local tracks attached for sending.
	Senders() []media.Track
	// Receivers lists remote tracks received so far.
	Receivers() []media.Track
	// OnTrack registers fn for remote tracks arriving later and returns an
	// unsubscribe func.
	OnTrack(fn func(media.Track)) func()

	AddTrack(t media.Track) error
	CreateDataChannel(label string) (DataChannel, error)
	// CreateOffer creates an offer, sets it as the local description and
	// returns its SDP once candidate gathering finished.
	CreateOffer(ctx context.Context) (string, error)
	SetRemoteAnswer(sdp string) error
	// RemoveSenders detaches every outbound track.
	RemoveSenders() error
	SignalingClosed() bool
	// SetTracksEnabled toggles both outbound and inbound audio flow.
	SetTracksEnabled(enabled bool)
	Close() error
}

// Factory creates fresh peer connections. A failed connection is never reused.
type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func() (PeerConnection, error)

func (f FactoryFunc) NewPeerConnection() (PeerConnection, error) { return f() }
