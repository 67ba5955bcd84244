package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/analysis"
	"github.com/ent0n29/interviewsim/internal/config"
	"github.com/ent0n29/interviewsim/internal/httpapi"
	"github.com/ent0n29/interviewsim/internal/interview"
	"github.com/ent0n29/interviewsim/internal/logging"
	"github.com/ent0n29/interviewsim/internal/observability"
	"github.com/ent0n29/interviewsim/internal/profile"
	"github.com/ent0n29/interviewsim/internal/realtime"
	"github.com/ent0n29/interviewsim/internal/rtc"
	"github.com/ent0n29/interviewsim/internal/session"
	"github.com/ent0n29/interviewsim/internal/storage"
)

// BackendInfo describes which optional backends were resolved at startup.
type BackendInfo struct {
	Storage  string
	Analysis string
	Detail   string
	Profiles string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Store    interview.Store
	Backends BackendInfo

	// Cleanup should be called on shutdown to release external resources (DB, redis, cloud clients).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = logging.New(cfg.LogLevel)
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var closers []func() error
	closeAll := func() error {
		var errs []string
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}
	fail := func(err error) (*BuildResult, error) {
		_ = closeAll()
		return nil, err
	}

	store, err := interview.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("interview store init failed: %w", err)
	}
	closers = append(closers, store.Close)

	var cache profile.Cache
	profilesDetail := "store"
	if cfg.RedisAddr != "" {
		rdb, err := profile.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return fail(fmt.Errorf("redis init failed: %w", err))
		}
		closers = append(closers, rdb.Close)
		cache = profile.NewRedisCache(rdb)
		profilesDetail = "store+redis"
	}
	profiles := profile.NewLookup(store, cache, cfg.ProfileCacheTTL, logging.Component(logger, "profile"))

	stored, err := resolveStorage(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if stored.cleanup != nil {
		closers = append(closers, stored.cleanup)
	}

	analyzed, err := resolveAnalysisProvider(ctx, cfg, metrics)
	if err != nil {
		return fail(err)
	}
	if analyzed.cleanup != nil {
		closers = append(closers, analyzed.cleanup)
	}
	analyzer := analysis.NewService(analyzed.provider, logging.Component(logger, "analysis"))

	minter := realtime.NewMinter(realtime.MinterConfig{
		APIKey:             cfg.OpenAIAPIKey,
		APIBase:            cfg.OpenAIAPIBase,
		Model:              cfg.RealtimeModel,
		Voice:              cfg.RealtimeVoice,
		TranscriptionModel: cfg.TranscriptionModel,
		MaxRetries:         cfg.ProviderMaxRetries,
		Profiles:           profiles,
		Logger:             logging.Component(logger, "realtime_minter"),
		Metrics:            metrics,
	})
	var creds realtime.Credentials = minter
	if cfg.CredentialURL != "" {
		creds = realtime.NewHTTPCredentials(cfg.CredentialURL, nil)
	}

	peers, err := rtc.NewPionFactory(rtc.PionConfig{
		ICEServers: cfg.ICEServers,
		Logger:     logging.Component(logger, "rtc"),
	})
	if err != nil {
		return fail(fmt.Errorf("webrtc init failed: %w", err))
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s session.Session) {
		metrics.CountEvent("conversation_expired")
		metrics.SetActiveConversations(sessions.ActiveCount())
		logger.WithField("session_id", s.ID).Info("conversation expired after inactivity")
	})

	factory := &conversationFactory{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		profiles:    profiles,
		peers:       peers,
		credentials: creds,
		store:       store,
		uploader:    storage.NewRecordingUploader(stored.uploader),
		analyzer:    analyzer,
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:      sessions,
		Store:         store,
		Profiles:      profiles,
		Credentials:   minter,
		Analyzer:      analyzer,
		Conversations: factory,
		Metrics:       metrics,
		RecordingsDir: stored.localDir,
		Logger:        logging.Component(logger, "httpapi"),
	})

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Metrics:  metrics,
		Store:    store,
		Backends: BackendInfo{
			Storage:  stored.resolved,
			Analysis: analyzed.resolved,
			Detail:   analyzed.detail,
			Profiles: profilesDetail,
		},
		Cleanup: closeAll,
	}, nil
}
