// Package rtctest provides in-memory peer connections for tests.
package rtctest

import (
	"context"
	"errors"
	"sync"

	"github.com/ent0n29/interviewsim/internal/media"
	"github.com/ent0n29/interviewsim/internal/rtc"
)

// Channel is an in-memory data channel. Deliver simulates an inbound message.
type Channel struct {
	label string

	mu      sync.Mutex
	handler func([]byte)
	sent    [][]byte
	closed  bool
	closes  int
}

func NewChannel(label string) *Channel { return &Channel{label: label} }

func (c *Channel) Label() string { return c.label }

func (c *Channel) OnMessage(fn func(msg []byte)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *Channel) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return rtc.ErrClosed
	}
	c.sent = append(c.sent, append([]byte(nil), msg...))
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closed {
		return errors.New("data channel already closed")
	}
	c.closed = true
	return nil
}

// Deliver hands msg to the registered handler synchronously.
func (c *Channel) Deliver(msg []byte) {
	c.mu.Lock()
	fn := c.handler
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Peer is an in-memory peer connection. Fields ending in Err make the
// corresponding call fail.
type Peer struct {
	OfferSDP    string
	OfferErr    error
	AnswerErr   error
	ChannelErr  error
	AddTrackErr error
	CloseErr    error

	mu         sync.Mutex
	senders    []media.Track
	receivers  []media.Track
	handlers   map[int]func(media.Track)
	nextID     int
	channels   []*Channel
	answer     string
	closed     bool
	closeCalls int
	removed    int
	enabled    *bool
}

func NewPeer() *Peer {
	return &Peer{OfferSDP: "v=0 offer", handlers: make(map[int]func(media.Track))}
}

func (p *Peer) Senders() []media.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]media.Track(nil), p.senders...)
}

func (p *Peer) Receivers() []media.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]media.Track(nil), p.receivers...)
}

func (p *Peer) OnTrack(fn func(media.Track)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

// Handlers reports how many OnTrack handlers are registered.
func (p *Peer) Handlers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

// AddRemote simulates a remote track arriving.
func (p *Peer) AddRemote(t media.Track) {
	p.mu.Lock()
	p.receivers = append(p.receivers, t)
	handlers := make([]func(media.Track), 0, len(p.handlers))
	for _, fn := range p.handlers {
		handlers = append(handlers, fn)
	}
	p.mu.Unlock()
	for _, fn := range handlers {
		fn(t)
	}
}

func (p *Peer) AddTrack(t media.Track) error {
	if p.AddTrackErr != nil {
		return p.AddTrackErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return rtc.ErrClosed
	}
	p.senders = append(p.senders, t)
	return nil
}

func (p *Peer) CreateDataChannel(label string) (rtc.DataChannel, error) {
	if p.ChannelErr != nil {
		return nil, p.ChannelErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, rtc.ErrClosed
	}
	ch := NewChannel(label)
	p.channels = append(p.channels, ch)
	return ch, nil
}

func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.OfferErr != nil {
		return "", p.OfferErr
	}
	return p.OfferSDP, nil
}

func (p *Peer) SetRemoteAnswer(sdp string) error {
	if p.AnswerErr != nil {
		return p.AnswerErr
	}
	p.mu.Lock()
	p.answer = sdp
	p.mu.Unlock()
	return nil
}

func (p *Peer) RemoveSenders() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed += len(p.senders)
	p.senders = nil
	return nil
}

func (p *Peer) SignalingClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) SetTracksEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = &enabled
	for _, t := range p.senders {
		t.SetEnabled(enabled)
	}
	for _, t := range p.receivers {
		t.SetEnabled(enabled)
	}
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	p.closed = true
	return p.CloseErr
}

// Channels returns the data channels created so far.
func (p *Peer) Channels() []*Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Channel(nil), p.channels...)
}

func (p *Peer) Answer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answer
}

func (p *Peer) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

func (p *Peer) RemovedSenders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removed
}

// TracksEnabled reports the last SetTracksEnabled value, and whether it was called.
func (p *Peer) TracksEnabled() (enabled, set bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled == nil {
		return false, false
	}
	return *p.enabled, true
}

// Factory returns peers in order and records every peer it created.
type Factory struct {
	Err error
	New func() *Peer

	mu    sync.Mutex
	peers []*Peer
}

func (f *Factory) NewPeerConnection() (rtc.PeerConnection, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	var p *Peer
	if f.New != nil {
		p = f.New()
	} else {
		p = NewPeer()
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *Factory) Peers() []*Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Peer(nil), f.peers...)
}

var _ rtc.PeerConnection = (*Peer)(nil)
var _ rtc.DataChannel = (*Channel)(nil)
