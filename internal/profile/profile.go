// Package profile resolves the persona context of a practice session.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/interview"
	"github.com/ent0n29/interviewsim/internal/logging"
)

var ErrNotFound = errors.New("profile not found")

// Profile is the persona and learning goals of one session.
type Profile struct {
	CustomerProfile string   `json:"customer_profile"`
	Objectives      []string `json:"objectives"`
}

// Complete reports whether the profile can drive a persona and an analysis.
func (p Profile) Complete() bool {
	return strings.TrimSpace(p.CustomerProfile) != "" && interview.HasObjective(p.Objectives)
}

// Source looks up profiles by session id.
type Source interface {
	GetProfile(ctx context.Context, sessionID string) (Profile, error)
}

// Cache stores JSON values with a TTL.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
}

// Lookup reads sessions from the interview store, optionally through a cache.
type Lookup struct {
	store interview.Store
	cache Cache
	ttl   time.Duration
	log   *logrus.Entry
}

func NewLookup(store interview.Store, cache Cache, ttl time.Duration, log *logrus.Entry) *Lookup {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = logging.Component(nil, "profile")
	}
	return &Lookup{store: store, cache: cache, ttl: ttl, log: log}
}

func cacheKey(sessionID string) string { return "interviewsim:profile:" + sessionID }

func (l *Lookup) GetProfile(ctx context.Context, sessionID string) (Profile, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Profile{}, ErrNotFound
	}

	if l.cache != nil {
		var p Profile
		hit, err := l.cache.GetJSON(ctx, cacheKey(sessionID), &p)
		if err != nil {
			l.log.WithError(err).Warn("profile cache read failed")
		} else if hit {
			return p, nil
		}
	}

	sess, err := l.store.GetSession(ctx, sessionID)
	if errors.Is(err, interview.ErrNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("lookup session: %w", err)
	}
	p := Profile{CustomerProfile: sess.CustomerProfile, Objectives: sess.Objectives}

	if l.cache != nil {
		if err := l.cache.SetJSON(ctx, cacheKey(sessionID), p, l.ttl); err != nil {
			l.log.WithError(err).Warn("profile cache write failed")
		}
	}
	return p, nil
}
