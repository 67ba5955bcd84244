package app

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/config"
	"github.com/ent0n29/interviewsim/internal/conversation"
	"github.com/ent0n29/interviewsim/internal/httpapi"
	"github.com/ent0n29/interviewsim/internal/logging"
	"github.com/ent0n29/interviewsim/internal/media"
	"github.com/ent0n29/interviewsim/internal/observability"
	"github.com/ent0n29/interviewsim/internal/profile"
	"github.com/ent0n29/interviewsim/internal/realtime"
	"github.com/ent0n29/interviewsim/internal/recorder"
	"github.com/ent0n29/interviewsim/internal/rtc"
)

// conversationFactory wires one orchestrator per websocket connection.
type conversationFactory struct {
	cfg         config.Config
	logger      *logrus.Logger
	metrics     *observability.Metrics
	profiles    profile.Source
	peers       rtc.Factory
	credentials realtime.Credentials
	store       conversation.Persister
	uploader    conversation.Uploader
	analyzer    conversation.Analyzer
}

var _ httpapi.ConversationFactory = (*conversationFactory)(nil)

func (f *conversationFactory) NewConversation(_ context.Context, req httpapi.ConversationRequest) (*conversation.Orchestrator, error) {
	if req.Devices == nil {
		return nil, errors.New("conversation: devices are required")
	}
	log := logging.Component(f.logger, "conversation").WithField("user_id", req.UserID)

	var sink realtime.Sink
	if req.RemoteAudio != nil {
		sink = realtime.SinkFunc(req.RemoteAudio)
	}
	manager := realtime.NewManager(realtime.ManagerConfig{
		BaseURL:     f.cfg.RealtimeURL,
		Model:       f.cfg.RealtimeModel,
		Credentials: f.credentials,
		Sink:        sink,
		Logger:      log.WithField("component", "realtime"),
		Metrics:     f.metrics,
	})

	encoders := recordingEncoders(f.cfg, log)
	return conversation.New(conversation.Config{
		SessionID:         req.SessionID,
		UserID:            req.UserID,
		Profiles:          f.profiles,
		Devices:           req.Devices,
		Peers:             f.peers,
		Sessions:          manager,
		Store:             f.store,
		Uploader:          f.uploader,
		Analyzer:          f.analyzer,
		Observer:          req.Observer,
		Logger:            log,
		Metrics:           f.metrics,
		BackgroundTimeout: f.cfg.BackgroundTimeout,
		NewRecorder: func(stream *media.Stream) conversation.Recorder {
			return recorder.New(stream, encoders, log.WithField("component", "recorder"))
		},
	}), nil
}
