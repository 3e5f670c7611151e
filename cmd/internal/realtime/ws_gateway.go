package realtime

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"messenger/cmd/identity"

	"github.com/coder/websocket"
)

// WSSubprotocolV1 is offered during the handshake. Clients that do not ask for it are still accepted.
const WSSubprotocolV1 = "messenger.realtime.v1"

// WSGateway is the websocket entrypoint for realtime delivery.
//
// It enforces origin policy, optional handshake auth, rate limits and heartbeats,
// and routes register-user and user-update envelopes to the Hub.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	resolver identity.Resolver
	cfg      WSConfig
	origins  originPolicy
}

// NewWSGateway builds a gateway over hub. resolver may be nil, in which case every
// session is anonymous and RequireAuth rejects all handshakes.
func NewWSGateway(log *slog.Logger, hub *Hub, resolver identity.Resolver, cfg WSConfig) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log, nil)
	}
	cfg = cfg.withDefaults()
	return &WSGateway{
		log:      log,
		hub:      hub,
		resolver: resolver,
		cfg:      cfg,
		origins:  originPolicy{required: cfg.OriginRequired, allowed: cfg.AllowedOrigins},
	}
}

// ServeHTTP upgrades the request and runs the session until either side closes.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.origins.check(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	authUserID, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{WSSubprotocolV1},
		OriginPatterns:     g.origins.acceptPatterns(),
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(g.cfg.MaxFrameBytes)

	client := NewClient(NewSessionID(time.Now()), g.cfg.SendQueueSize)
	client.AuthUserID = authUserID

	g.log.Info("ws.connect",
		"session_id", client.SessionID,
		"authenticated", authUserID != "",
		"subprotocol", conn.Subprotocol(),
	)
	newWSSession(g, conn, client).run(r.Context())
	g.log.Info("ws.disconnect", "session_id", client.SessionID)
}

// authenticate resolves the handshake token. Browsers cannot set headers on
// websocket upgrades, so a "token" query parameter is accepted as well.
func (g *WSGateway) authenticate(r *http.Request) (string, error) {
	tok := identity.TokenFromRequest(r)
	if tok == "" {
		tok = strings.TrimSpace(r.URL.Query().Get("token"))
	}

	switch {
	case tok == "" && g.cfg.RequireAuth:
		return "", errors.New("missing token")
	case tok == "":
		return "", nil
	case g.resolver == nil && g.cfg.RequireAuth:
		return "", errors.New("no resolver configured")
	case g.resolver == nil:
		return "", nil
	}

	p, err := g.resolver.Resolve(r.Context(), tok)
	if err != nil {
		if g.cfg.RequireAuth || !identity.IsUnauthenticated(err) {
			return "", err
		}
		// Optional auth: a stale token downgrades to an anonymous session.
		return "", nil
	}
	return p.UserID, nil
}
