package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ent0n29/interviewsim/internal/media"
	"github.com/ent0n29/interviewsim/internal/rtc"
	"github.com/ent0n29/interviewsim/internal/rtc/rtctest"
)

type staticCreds struct {
	value string
	err   error
	seen  []string
}

func (c *staticCreds) Credential(_ context.Context, sessionID string) (Credential, error) {
	c.seen = append(c.seen, sessionID)
	return Credential{Value: c.value}, c.err
}

func localStream() *media.Stream {
	return media.NewStream(media.NewBroadcastTrack(media.KindAudio))
}

func TestStartNegotiatesSession(t *testing.T) {
	var (
		mu      sync.Mutex
		gotAuth string
		gotCT   string
		gotBody string
		gotPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		gotBody = string(body)
		gotPath = r.URL.RequestURI()
		mu.Unlock()
		_, _ = w.Write([]byte("v=0 answer"))
	}))
	defer srv.Close()

	creds := &staticCreds{value: "ek_123"}
	var attached []string
	m := NewManager(ManagerConfig{
		BaseURL:     srv.URL + "/v1/realtime",
		Model:       "gpt-4o-realtime-preview",
		Credentials: creds,
		Sink:        SinkFunc(func(tr media.Track) { attached = append(attached, tr.ID()) }),
	})
	pc := rtctest.NewPeer()
	dc, err := m.Start(context.Background(), pc, "sess-1", localStream())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if dc == nil || dc.Label() != rtc.EventsLabel {
		t.Fatalf("data channel = %v, want %q", dc, rtc.EventsLabel)
	}
	if len(creds.seen) != 1 || creds.seen[0] != "sess-1" {
		t.Fatalf("credential calls = %v", creds.seen)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Bearer ek_123" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotCT != "application/sdp" {
		t.Fatalf("Content-Type = %q", gotCT)
	}
	if gotBody != "v=0 offer" {
		t.Fatalf("offer body = %q", gotBody)
	}
	if gotPath != "/v1/realtime?model=gpt-4o-realtime-preview" {
		t.Fatalf("path = %q", gotPath)
	}
	if pc.Answer() != "v=0 answer" {
		t.Fatalf("remote answer = %q", pc.Answer())
	}
	if len(pc.Senders()) != 1 {
		t.Fatalf("senders = %d, want local track added", len(pc.Senders()))
	}

	remote := media.NewBroadcastTrackWithID("remote-1", media.KindAudio)
	pc.AddRemote(remote)
	if len(attached) != 1 || attached[0] != "remote-1" {
		t.Fatalf("sink attached = %v", attached)
	}
}

func TestStartReturnsNilChannelOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	cases := map[string]struct {
		creds Credentials
		pc    *rtctest.Peer
		local *media.Stream
	}{
		"credential error": {creds: &staticCreds{err: errors.New("boom")}, pc: rtctest.NewPeer(), local: localStream()},
		"empty credential": {creds: &staticCreds{}, pc: rtctest.NewPeer(), local: localStream()},
		"no local audio":   {creds: &staticCreds{value: "k"}, pc: rtctest.NewPeer(), local: media.NewStream()},
		"sdp rejected":     {creds: &staticCreds{value: "k"}, pc: rtctest.NewPeer(), local: localStream()},
		"offer error": {creds: &staticCreds{value: "k"}, pc: func() *rtctest.Peer {
			p := rtctest.NewPeer()
			p.OfferErr = errors.New("ice failed")
			return p
		}(), local: localStream()},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			m := NewManager(ManagerConfig{BaseURL: srv.URL, Credentials: tc.creds})
			dc, err := m.Start(context.Background(), tc.pc, "s", tc.local)
			if err == nil {
				t.Fatalf("Start() error = nil")
			}
			if dc != nil {
				t.Fatalf("Start() channel = %v, want nil", dc)
			}
		})
	}
}

func TestEndIsIdempotentAndNilSafe(t *testing.T) {
	m := NewManager(ManagerConfig{})
	m.End(nil, nil)

	pc := rtctest.NewPeer()
	if err := pc.AddTrack(media.NewBroadcastTrack(media.KindAudio)); err != nil {
		t.Fatalf("AddTrack() error = %v", err)
	}
	dc, err := pc.CreateDataChannel(rtc.EventsLabel)
	if err != nil {
		t.Fatalf("CreateDataChannel() error = %v", err)
	}

	m.End(pc, dc)
	m.End(pc, dc)

	if pc.CloseCalls() != 1 {
		t.Fatalf("Close calls = %d, want 1", pc.CloseCalls())
	}
	if pc.RemovedSenders() != 1 {
		t.Fatalf("removed senders = %d, want 1", pc.RemovedSenders())
	}
	if ch := dc.(*rtctest.Channel); !ch.Closed() || ch.CloseCalls() != 2 {
		t.Fatalf("data channel closed=%v calls=%d", ch.Closed(), ch.CloseCalls())
	}
}

func TestHTTPCredentialsPassesSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("session_id") != "abc" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sess_1","client_secret":{"value":"ek_9","expires_at":1700000000}}`))
	}))
	defer srv.Close()

	c := NewHTTPCredentials(srv.URL+"/v1/realtime/session", nil)
	cred, err := c.Credential(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if cred.Value != "ek_9" || cred.ExpiresAt.Unix() != 1700000000 {
		t.Fatalf("credential = %+v", cred)
	}
	if _, err := c.Credential(context.Background(), "other"); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("Credential(other) error = %v, want status 400", err)
	}
}
