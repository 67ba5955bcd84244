package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/audio"
	"github.com/ent0n29/interviewsim/internal/conversation"
	"github.com/ent0n29/interviewsim/internal/device"
	"github.com/ent0n29/interviewsim/internal/interview"
	"github.com/ent0n29/interviewsim/internal/media"
	"github.com/ent0n29/interviewsim/internal/protocol"
	"github.com/ent0n29/interviewsim/internal/redact"
	"github.com/ent0n29/interviewsim/internal/session"
)

// ConversationRequest carries the per-connection pieces of one conversation.
type ConversationRequest struct {
	SessionID string
	UserID    string
	Devices   device.Devices
	Observer  conversation.Observer
	// RemoteAudio receives every remote audio track for playback on the client.
	RemoteAudio func(t media.Track)
}

// ConversationFactory builds a fully wired orchestrator for one connection.
type ConversationFactory interface {
	NewConversation(ctx context.Context, req ConversationRequest) (*conversation.Orchestrator, error)
}

func (s *Server) handleConversationWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if userID == "" {
		respondStoreError(w, interview.ErrUnauthenticated)
		return
	}
	if s.conversations == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversations not configured")
		return
	}
	if s.store != nil {
		practice, err := s.store.GetSession(r.Context(), sessionID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if practice.UserID != userID {
			respondStoreError(w, interview.ErrForbidden)
			return
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	live, err := s.sessions.Attach(sessionID, userID, cancel)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyActive) {
			respondError(w, http.StatusConflict, "conversation_active", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer func() {
		_, _ = s.sessions.End(sessionID, live.ConnectionID)
		s.metrics.SetActiveConversations(s.sessions.ActiveCount())
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SetActiveConversations(s.sessions.ActiveCount())
	s.metrics.CountEvent("ws_connected")

	c := &wsConn{
		srv:       s,
		conn:      conn,
		sessionID: sessionID,
		userID:    userID,
		log:       s.log.WithFields(logrus.Fields{"session_id": sessionID, "connection_id": live.ConnectionID}),
		ctx:       ctx,
		cancel:    cancel,
		outbound:  make(chan any, 256),
	}
	c.run()
	s.metrics.CountEvent("ws_disconnected")
}

// wsConn bridges one websocket to one orchestrator. Writes are single-threaded
// through outbound; actions run on their own goroutines so the read loop keeps
// feeding microphone audio and permission replies.
type wsConn struct {
	srv       *Server
	conn      *websocket.Conn
	sessionID string
	userID    string
	log       *logrus.Entry
	ctx       context.Context
	cancel    context.CancelFunc
	outbound  chan any

	devices  *device.ClientDevices
	orch     *conversation.Orchestrator
	actions  sync.WaitGroup
	audioSeq atomic.Int64

	// finishing counts accepted finish actions. The orchestrator is closed
	// only after they return so the transcript is persisted first.
	finishing sync.WaitGroup
}

func (c *wsConn) run() {
	c.devices = device.NewClientDevices(func(context.Context) error {
		if !c.send(protocol.MicRequest{Type: protocol.TypeMicRequest, SessionID: c.sessionID}) {
			return c.ctx.Err()
		}
		return nil
	})
	orch, err := c.srv.conversations.NewConversation(c.ctx, ConversationRequest{
		SessionID:   c.sessionID,
		UserID:      c.userID,
		Devices:     c.devices,
		Observer:    c.onEvent,
		RemoteAudio: c.streamRemoteAudio,
	})
	if err != nil {
		c.log.WithError(err).Error("conversation init failed")
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = c.conn.WriteJSON(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: c.sessionID,
			Code:      "conversation_init_failed",
			Source:    "gateway",
			Detail:    redact.Text(err.Error()),
		})
		return
	}
	c.orch = orch

	writerDone := make(chan struct{})
	go c.writeLoop(writerDone)

	c.goAction("begin", orch.Begin)
	c.readLoop()

	c.cancel()
	c.finishing.Wait()
	orch.Close()
	c.actions.Wait()
	<-writerDone
}

// writeLoop also closes the socket once the connection context ends, which
// unblocks the read loop on expiry or a forced end.
func (c *wsConn) writeLoop(done chan<- struct{}) {
	defer func() {
		_ = c.conn.Close()
		close(done)
	}()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.WithError(err).Debug("websocket write failed")
				c.cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				c.srv.metrics.CountWSMessage("outbound", string(t))
			}
		}
	}
}

func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(2 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		if c.ctx.Err() != nil {
			return
		}
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		_ = c.srv.sessions.Touch(c.sessionID)

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.sendError("invalid_client_message", "gateway", false, err.Error())
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			c.srv.metrics.CountWSMessage("inbound", string(t))
		}
		c.handle(parsed)
	}
}

func (c *wsConn) handle(msg any) {
	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		if m.SessionID != c.sessionID {
			c.sendError("session_mismatch", "gateway", false, "audio chunk for another session")
			return
		}
		raw, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
		if err != nil {
			c.sendError("invalid_audio", "gateway", false, err.Error())
			return
		}
		c.devices.PushAudio(audio.BytesToSamples(raw), m.SampleRate, m.Channels)
	case protocol.ClientControl:
		if m.SessionID != c.sessionID {
			c.sendError("session_mismatch", "gateway", false, "control for another session")
			return
		}
		switch m.Action {
		case protocol.ActionToggle:
			c.goAction(m.Action, c.orch.Toggle)
		case protocol.ActionRetryMic:
			c.goAction(m.Action, c.orch.RequestMic)
		case protocol.ActionFinish:
			c.finishing.Add(1)
			c.goAction(m.Action, func(ctx context.Context) error {
				defer c.finishing.Done()
				return c.finish(ctx)
			})
		case protocol.ActionMicGranted, protocol.ActionMicDenied, protocol.ActionMicNotFound, protocol.ActionMicError:
			if !c.devices.Resolve(m.Action, m.Detail) {
				c.log.WithField("action", m.Action).Debug("no pending microphone request")
			}
		}
	}
}

// finish runs detached from the connection so a client that closes right
// after sending finish still gets its transcript saved.
func (c *wsConn) finish(ctx context.Context) error {
	timeout := c.srv.cfg.BackgroundTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	_, err := c.orch.Finish(fctx)
	return err
}

func (c *wsConn) goAction(name string, fn func(context.Context) error) {
	c.actions.Add(1)
	go func() {
		defer c.actions.Done()
		if err := fn(c.ctx); err != nil {
			c.reportActionError(name, err)
		}
	}()
}

func (c *wsConn) reportActionError(action string, err error) {
	log := c.log.WithError(err).WithField("action", action)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, conversation.ErrBusy):
		log.Info("action rejected while another is in flight")
		c.sendError("busy", "conversation", true, err.Error())
	case errors.Is(err, conversation.ErrNoConnection):
		c.sendError("no_connection", "conversation", false, err.Error())
	case errors.Is(err, conversation.ErrInvalidState):
		c.sendError("invalid_state", "conversation", false, err.Error())
	case action == protocol.ActionFinish:
		code := "finish_failed"
		switch {
		case errors.Is(err, conversation.ErrNoRecording):
			code = "no_recording"
		case errors.Is(err, conversation.ErrPersist):
			code = "persist_failed"
		}
		log.Error("finish failed")
		c.sendError(code, "conversation", false, err.Error())
	default:
		// Toggle and microphone failures already reached the client as events.
		log.Debug("action failed")
	}
}

func (c *wsConn) onEvent(ev conversation.Event) {
	switch ev.Kind {
	case conversation.EventStateChanged:
		_ = c.srv.sessions.SetState(c.sessionID, string(ev.State))
		c.send(protocol.StateChanged{Type: protocol.TypeStateChanged, SessionID: c.sessionID, State: string(ev.State)})
	case conversation.EventMicStatus:
		c.send(protocol.MicStatus{
			Type:      protocol.TypeMicStatus,
			SessionID: c.sessionID,
			Status:    string(ev.Mic),
			Reason:    string(ev.MicReason),
			Message:   ev.Message,
		})
	case conversation.EventTranscriptEntry:
		c.send(protocol.TranscriptEntry{
			Type:      protocol.TypeTranscriptEntry,
			SessionID: c.sessionID,
			Role:      string(ev.Entry.Role),
			Content:   ev.Entry.Content,
			Timestamp: ev.Entry.Timestamp,
		})
	case conversation.EventNavigate:
		c.send(protocol.Navigate{Type: protocol.TypeNavigate, SessionID: c.sessionID, Target: ev.Target})
	case conversation.EventTaskStatus:
		c.send(c.taskStatus(ev.Task))
	case conversation.EventFinalized:
		tasks := make([]protocol.TaskStatus, 0, len(ev.Tasks))
		for _, t := range ev.Tasks {
			tasks = append(tasks, c.taskStatus(t))
		}
		c.send(protocol.FinalizationComplete{Type: protocol.TypeFinalizationComplete, SessionID: c.sessionID, Tasks: tasks})
	case conversation.EventError:
		detail := ev.Message
		if ev.Err != nil {
			detail += ": " + ev.Err.Error()
		}
		c.sendError("conversation_error", "conversation", ev.Recoverable, detail)
	}
}

func (c *wsConn) taskStatus(t conversation.TaskResult) protocol.TaskStatus {
	return protocol.TaskStatus{
		Type:      protocol.TypeTaskStatus,
		SessionID: c.sessionID,
		Task:      string(t.Name),
		Status:    string(t.Status),
		Detail:    t.Detail,
	}
}

// streamRemoteAudio forwards remote frames as PCM16 chunks. Chunks are dropped
// rather than queued when the client falls behind.
func (c *wsConn) streamRemoteAudio(t media.Track) {
	go func() {
		frames, stop := t.Subscribe(64)
		defer stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				msg := protocol.AssistantAudioChunk{
					Type:        protocol.TypeAssistantAudio,
					SessionID:   c.sessionID,
					Seq:         int(c.audioSeq.Add(1)),
					Format:      "pcm16",
					SampleRate:  media.SampleRate,
					Channels:    f.Channels,
					AudioBase64: base64.StdEncoding.EncodeToString(audio.SamplesToBytes(f.Samples)),
				}
				select {
				case c.outbound <- msg:
				default:
					c.srv.metrics.CountWSMessage("dropped", string(protocol.TypeAssistantAudio))
				}
			}
		}
	}()
}

func (c *wsConn) send(msg any) bool {
	select {
	case c.outbound <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *wsConn) sendError(code, source string, retryable bool, detail string) {
	c.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    redact.Text(detail),
	})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.StateChanged:
		return m.Type, true
	case protocol.MicRequest:
		return m.Type, true
	case protocol.MicStatus:
		return m.Type, true
	case protocol.TranscriptEntry:
		return m.Type, true
	case protocol.AssistantAudioChunk:
		return m.Type, true
	case protocol.Navigate:
		return m.Type, true
	case protocol.TaskStatus:
		return m.Type, true
	case protocol.FinalizationComplete:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
