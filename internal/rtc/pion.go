package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/audio"
	"github.com/ent0n29/interviewsim/internal/audio/opus"
	"github.com/ent0n29/interviewsim/internal/logging"
	"github.com/ent0n29/interviewsim/internal/media"
)

// PionConfig configures pion peer connections.
type PionConfig struct {
	ICEServers []string
	Logger     *logrus.Entry
}

// PionFactory builds pion-backed peer connections that exchange Opus audio.
type PionFactory struct {
	api *webrtc.API
	cfg webrtc.Configuration
	log *logrus.Entry
}

func NewPionFactory(cfg PionConfig) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.ICEServers})
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Component(nil, "rtc")
	}
	return &PionFactory{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		cfg: webrtc.Configuration{ICEServers: servers},
		log: log,
	}, nil
}

func (f *PionFactory) NewPeerConnection() (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &pionPeer{
		pc:       pc,
		log:      f.log,
		handlers: make(map[int]func(media.Track)),
	}
	pc.OnTrack(p.handleRemote)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.log.WithField("state", s.String()).Debug("peer connection state changed")
	})
	return p, nil
}

type sender struct {
	track  media.Track
	rtp    *webrtc.RTPSender
	cancel func()
}

type pionPeer struct {
	pc  *webrtc.PeerConnection
	log *logrus.Entry

	mu        sync.Mutex
	senders   []*sender
	receivers []*media.BroadcastTrack
	handlers  map[int]func(media.Track)
	nextID    int
	closed    bool
}

func (p *pionPeer) Senders() []media.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]media.Track, 0, len(p.senders))
	for _, s := range p.senders {
		out = append(out, s.track)
	}
	return out
}

func (p *pionPeer) Receivers() []media.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]media.Track, 0, len(p.receivers))
	for _, t := range p.receivers {
		out = append(out, t)
	}
	return out
}

func (p *pionPeer) OnTrack(fn func(media.Track)) func() {
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

// AddTrack encodes t to Opus and sends it. Only audio tracks are supported.
func (p *pionPeer) AddTrack(t media.Track) error {
	if t == nil || t.Kind() != media.KindAudio {
		return fmt.Errorf("add track: only audio tracks are supported")
	}
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: media.SampleRate, Channels: 2},
		"audio", t.ID(),
	)
	if err != nil {
		return fmt.Errorf("local track: %w", err)
	}
	enc, err := opus.NewEncoder(1)
	if err != nil {
		return err
	}
	rtpSender, err := p.pc.AddTrack(local)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	frames, cancel := t.Subscribe(50)
	s := &sender{track: t, rtp: rtpSender, cancel: cancel}
	p.mu.Lock()
	p.senders = append(p.senders, s)
	p.mu.Unlock()

	go drainRTCP(rtpSender)
	go p.pumpLocal(local, enc, frames)
	return nil
}

func drainRTCP(s *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(buf); err != nil {
			return
		}
	}
}

func (p *pionPeer) pumpLocal(local *webrtc.TrackLocalStaticSample, enc *opus.Encoder, frames <-chan media.Frame) {
	for f := range frames {
		packet, err := enc.Encode(audio.ToChannels(f, 1))
		if err != nil {
			p.log.WithError(err).Warn("encode outbound audio")
			continue
		}
		if err := local.WriteSample(pionmedia.Sample{Data: packet, Duration: media.FrameDuration}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			p.log.WithError(err).Debug("write outbound sample")
		}
	}
}

func (p *pionPeer) handleRemote(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if remote.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	dec, err := opus.NewDecoder(1)
	if err != nil {
		p.log.WithError(err).Error("remote audio decoder")
		return
	}
	track := media.NewBroadcastTrackWithID(remote.ID(), media.KindAudio)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.receivers = append(p.receivers, track)
	handlers := make([]func(media.Track), 0, len(p.handlers))
	for _, fn := range p.handlers {
		handlers = append(handlers, fn)
	}
	p.mu.Unlock()

	p.log.WithField("track_id", remote.ID()).Info("remote audio track received")
	for _, fn := range handlers {
		fn(track)
	}

	defer track.Close()
	var framer audio.Framer
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		f, err := dec.Decode(pkt.Payload)
		if err != nil {
			p.log.WithError(err).Debug("decode remote audio")
			continue
		}
		for _, out := range framer.Push(f.Samples) {
			track.Publish(out)
		}
	}
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return &pionChannel{dc: dc}, nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	desc := p.pc.LocalDescription()
	if desc == nil {
		return "", fmt.Errorf("local description missing after gathering")
	}
	return desc.SDP, nil
}

func (p *pionPeer) SetRemoteAnswer(sdp string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *pionPeer) RemoveSenders() error {
	p.mu.Lock()
	senders := p.senders
	p.senders = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range senders {
		s.cancel()
		if err := p.pc.RemoveTrack(s.rtp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *pionPeer) SignalingClosed() bool {
	return p.pc.SignalingState() == webrtc.SignalingStateClosed
}

func (p *pionPeer) SetTracksEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.senders {
		s.track.SetEnabled(enabled)
	}
	for _, t := range p.receivers {
		t.SetEnabled(enabled)
	}
}

func (p *pionPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	senders := p.senders
	p.senders = nil
	receivers := p.receivers
	p.handlers = make(map[int]func(media.Track))
	p.mu.Unlock()

	for _, s := range senders {
		s.cancel()
	}
	err := p.pc.Close()
	for _, t := range receivers {
		t.Close()
	}
	return err
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Label() string { return c.dc.Label() }

func (c *pionChannel) OnMessage(fn func(msg []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (c *pionChannel) Send(msg []byte) error { return c.dc.Send(msg) }

func (c *pionChannel) Close() error { return c.dc.Close() }
