package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	v1 "messenger/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const sessionCloseGrace = time.Second

// wsSession runs the three loops of one connection: reader (caller goroutine),
// writer (drains client.Send) and heartbeat (pings).
type wsSession struct {
	g      *WSGateway
	conn   *websocket.Conn
	client *Client
	rl     *RateLimiter

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newWSSession(g *WSGateway, conn *websocket.Conn, client *Client) *wsSession {
	return &wsSession{
		g:      g,
		conn:   conn,
		client: client,
		rl:     NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow),
	}
}

func (s *wsSession) run(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(parent)
	defer s.cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		s.heartbeatLoop()
	}()

	s.readLoop()
	s.close(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(sessionCloseGrace):
	}
}

// close leaves every room before closing the socket. client.Send stays open
// because the hub may still hold the pointer.
func (s *wsSession) close(code websocket.StatusCode, reason string) {
	s.once.Do(func() {
		s.g.hub.Leave(s.client)
		_ = s.conn.Close(code, reason)
		s.cancel()
	})
}

func (s *wsSession) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.client.Done():
			return
		case env := <-s.client.Send:
			if err := s.write(env); err != nil {
				s.g.log.Info("ws.write.fail",
					"session_id", s.client.SessionID,
					"close_status", websocket.CloseStatus(err),
					"err", err,
				)
				s.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (s *wsSession) write(env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.g.cfg.WriteTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, b)
}

func (s *wsSession) heartbeatLoop() {
	t := time.NewTicker(s.g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.client.Done():
			return
		case <-t.C:
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.g.cfg.HeartbeatTimeout)
		err := s.conn.Ping(ctx)
		cancel()
		if err == nil {
			failures = 0
			continue
		}

		failures++
		s.g.log.Info("ws.ping.fail", "session_id", s.client.SessionID, "failures", failures, "err", err)
		if failures >= s.g.cfg.MaxPingFailures {
			s.close(websocket.StatusGoingAway, "heartbeat failed")
			return
		}
	}
}

func (s *wsSession) readLoop() {
	for {
		env, err := s.read()
		if err != nil {
			if isBadJSON(err) {
				s.sendError("bad_json", "invalid JSON")
				continue
			}
			s.closeOnReadError(err)
			return
		}

		if !s.rl.Allow(time.Now().UTC()) {
			// Written inline: close drops whatever is still queued.
			raw, _ := json.Marshal(v1.ErrorPayload{Code: "rate_limited", Message: "too many events"})
			_ = s.write(newEnvelope(v1.TypeError, raw, time.Now().UTC()))
			s.close(websocket.StatusPolicyViolation, "rate limited")
			return
		}
		if err := env.Validate(); err != nil {
			s.sendError("bad_envelope", err.Error())
			continue
		}
		s.handle(env)
	}
}

func (s *wsSession) read() (v1.Envelope, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.g.cfg.ReadIdleTimeout)
	defer cancel()

	mt, data, err := s.conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	err = json.Unmarshal(data, &env)
	return env, err
}

func (s *wsSession) closeOnReadError(err error) {
	switch {
	case websocket.CloseStatus(err) != -1:
		s.close(websocket.StatusNormalClosure, "peer closed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.close(websocket.StatusNormalClosure, "context done")
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		s.close(websocket.StatusAbnormalClosure, "conn closed")
	default:
		s.g.log.Info("ws.read.fail", "session_id", s.client.SessionID, "err", err)
		s.close(websocket.StatusAbnormalClosure, "read failed")
	}
}

func isBadJSON(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		err.Error() == "unexpected end of JSON input"
}

func (s *wsSession) handle(env v1.Envelope) {
	switch env.Type {
	case v1.TypeRegisterUser:
		s.register(env.Payload)
	case v1.TypeUserUpdate:
		if err := s.relay(env.Payload); err != nil {
			s.sendError("user_update_failed", err.Error())
		}
	default:
		s.sendError("unsupported", "unsupported type: "+env.Type)
	}
}

// register joins the user room. An authenticated session may only join its own room.
func (s *wsSession) register(payload json.RawMessage) {
	var p v1.RegisterUserPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.g.hub.Join(s.client, "")
		return
	}

	uid := p.UserID.String()
	if auth := s.client.AuthUserID; auth != "" && uid != "" && uid != auth {
		s.g.log.Info("ws.register.mismatch", "session_id", s.client.SessionID)
		s.g.hub.send(s.client, v1.TypeRegisterUserConfirmed, v1.RegisterUserConfirmedPayload{
			UserID:  uid,
			Status:  "error",
			Message: "userId does not match session",
		})
		return
	}
	s.g.hub.Join(s.client, uid)
}

func (s *wsSession) relay(payload json.RawMessage) error {
	if len(payload) == 0 {
		return errors.New("missing payload")
	}
	if len(payload) > s.g.cfg.MaxRelayBytes {
		return fmt.Errorf("payload too large: max=%d bytes", s.g.cfg.MaxRelayBytes)
	}
	if _, err := s.g.hub.Relay(s.client, payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (s *wsSession) sendError(code, msg string) {
	if s.ctx.Err() != nil {
		return
	}
	s.g.hub.send(s.client, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}
