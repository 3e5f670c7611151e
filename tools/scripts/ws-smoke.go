// Package main provides a CI-friendly end-to-end smoke test for messenger realtime delivery.
//
// It validates:
//   - handshake + subprotocol selection
//   - register-user on both sides
//   - POST /message/send -> popout user-update for sender and recipient
//   - GET /message/get/messages returns the sent body
//   - idempotent resend with the same Idempotency-Key is rejected
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "messenger/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "messenger.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL   = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin    = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		fromID    = flag.String("from", "1", "Sender user id")
		toID      = flag.String("to", "2", "Recipient user id")
		fromToken = flag.String("from-token", os.Getenv("SMOKE_FROM_TOKEN"), "Bearer token for the sender")
		toToken   = flag.String("to-token", os.Getenv("SMOKE_TO_TOKEN"), "Bearer token for the recipient (optional)")
		text      = flag.String("text", "hello messenger 👋", "Message body to send")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	wsURL, err := wsURLFor(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*fromToken) == "" {
		fatalf("missing -from-token (or SMOKE_FROM_TOKEN)")
	}

	root := context.Background()

	a := mustConnect(root, "A", *fromID, wsURL, *origin, *fromToken, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *toID, wsURL, *origin, *toToken, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("registered: A=user:%s B=user:%s origin=%q\n", a.userID, b.userID, *origin)
	}

	idemKey := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	convID := mustSend(root, *baseURL, *fromToken, *toID, *text, idemKey, http.StatusOK, *timeout)

	mustAssertPopout(root, b, convID, *fromID, *toID, *timeout)
	mustAssertPopout(root, a, convID, *fromID, *toID, *timeout)

	mustHistoryContains(root, *baseURL, *fromToken, convID, *text, *timeout)

	// Only enforced when the server runs with Redis.
	status := mustSendStatus(root, *baseURL, *fromToken, *toID, *text, idemKey, *timeout)
	switch status {
	case http.StatusConflict:
		mustAssertNoType(root, b, v1.TypeUserUpdate, 1200*time.Millisecond)
	case http.StatusOK:
		if *verbose {
			fmt.Println("idempotency not enforced (no redis); skipped dedupe check")
		}
	default:
		fatalf("resend: unexpected status %d", status)
	}

	fmt.Printf("OK: from=%s to=%s conversation_id=%s\n", *fromID, *toID, convID)
}

func wsURLFor(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path += "/ws"
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, userID, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if strings.TrimSpace(token) != "" {
		h.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	reg := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeRegisterUser,
		ID:      fmt.Sprintf("%s-register", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(map[string]string{"userId": userID}),
	}
	mustWriteWithTimeout(parent, conn, reg, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeRegisterUserConfirmed, stepTimeout, nil)

	var p v1.RegisterUserConfirmedPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal register-user-confirmed payload (%s): %v", name, err)
	}
	if p.Status != "ok" {
		fatalf("register-user rejected (%s): %s", name, p.Message)
	}
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if env.V != v1.Version {
				c.fail(fmt.Errorf("bad envelope version: %q", env.V))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustSend(parent context.Context, base, token, to, text, idemKey string, want int, stepTimeout time.Duration) string {
	status, body := postSend(parent, base, token, to, text, idemKey, stepTimeout)
	if status != want {
		fatalf("send: status=%d want=%d body=%s", status, want, body)
	}

	var p struct {
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		fatalf("unmarshal send response: %v", err)
	}
	if strings.TrimSpace(p.ConversationID) == "" || strings.TrimSpace(p.MessageID) == "" {
		fatalf("send response missing ids: %s", body)
	}
	return p.ConversationID
}

func mustSendStatus(parent context.Context, base, token, to, text, idemKey string, stepTimeout time.Duration) int {
	status, _ := postSend(parent, base, token, to, text, idemKey, stepTimeout)
	return status
}

func postSend(parent context.Context, base, token, to, text, idemKey string, stepTimeout time.Duration) (int, []byte) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := mustJSON(map[string]any{"recipients": []string{to}, "body": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/message/send", bytes.NewReader(body))
	if err != nil {
		fatalf("build send request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", idemKey)

	return doHTTP(req)
}

func mustHistoryContains(parent context.Context, base, token, convID, text string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(base, "/")+"/message/get/messages/"+url.PathEscape(convID), nil)
	if err != nil {
		fatalf("build history request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	status, body := doHTTP(req)
	if status != http.StatusOK {
		fatalf("history: status=%d body=%s", status, body)
	}

	var p struct {
		Messages []struct {
			ID   string  `json:"id"`
			Body *string `json:"body"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		fatalf("unmarshal history: %v", err)
	}
	for _, m := range p.Messages {
		if m.Body != nil && *m.Body == text && m.ID != "" {
			return
		}
	}
	fatalf("history missing expected message in conversation %s", convID)
}

func doHTTP(req *http.Request) (int, []byte) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("read %s: %v", req.URL.Path, err)
	}
	return resp.StatusCode, b
}

func mustAssertPopout(parent context.Context, c *smokeClient, convID, from, to string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeUserUpdate, stepTimeout, nil)

	var p v1.PopoutPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal popout payload (%s): %v", c.name, err)
	}
	if p.Type != v1.PopoutType || !p.ShowPopout {
		fatalf("unexpected user-update (%s): type=%q show=%v", c.name, p.Type, p.ShowPopout)
	}
	if p.ConversationID != convID {
		fatalf("popout conversation mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
	if p.FromUserID != from || p.ToUserID != to {
		fatalf("popout addressing mismatch (%s): from=%q to=%q", c.name, p.FromUserID, p.ToUserID)
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
