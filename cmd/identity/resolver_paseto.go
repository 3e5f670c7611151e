package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// PasetoResolver verifies PASETO v4.public access tokens carrying a "uid" claim.
// With a secret key it can also issue tokens (used by the dev token command and tests).
type PasetoResolver struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret *paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
	nowFn  func() time.Time
}

// PasetoConfig configures PasetoResolver. Exactly one of SecretKeyHex or PublicKeyHex is required.
type PasetoConfig struct {
	Issuer       string
	SecretKeyHex string
	PublicKeyHex string
	TTL          time.Duration
	ClockSkew    time.Duration
}

// NewPasetoResolver builds a PasetoResolver from hex-encoded Ed25519 keys.
func NewPasetoResolver(cfg PasetoConfig) (*PasetoResolver, error) {
	r := &PasetoResolver{
		issuer:    strings.TrimSpace(cfg.Issuer),
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
	if r.ttl <= 0 {
		r.ttl = 15 * time.Minute
	}

	switch {
	case strings.TrimSpace(cfg.SecretKeyHex) != "":
		sk, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(cfg.SecretKeyHex))
		if err != nil {
			return nil, errors.New("identity: invalid paseto secret key")
		}
		r.secret = &sk
		r.public = sk.Public()
	case strings.TrimSpace(cfg.PublicKeyHex) != "":
		pk, err := paseto.NewV4AsymmetricPublicKeyFromHex(strings.TrimSpace(cfg.PublicKeyHex))
		if err != nil {
			return nil, errors.New("identity: invalid paseto public key")
		}
		r.public = pk
	default:
		return nil, errors.New("identity: paseto key missing")
	}
	return r, nil
}

// NewPasetoSecretKeyHex generates a fresh Ed25519 secret key in hex form.
func NewPasetoSecretKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}

// Issue signs a token for userID. It fails when the resolver only holds a public key.
func (r *PasetoResolver) Issue(userID string, now time.Time) (string, time.Time, error) {
	if r.secret == nil {
		return "", time.Time{}, errors.New("identity: paseto resolver has no secret key")
	}
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, OpError{Op: "identity.PasetoResolver.Issue", Kind: ErrInvalidInput, Msg: "empty user id"}
	}
	exp := now.Add(r.ttl)

	tok := paseto.NewToken()
	if r.issuer != "" {
		tok.SetIssuer(r.issuer)
	}
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	_ = tok.Set("uid", userID)

	return tok.V4Sign(*r.secret, nil), exp, nil
}

func (r *PasetoResolver) Resolve(_ context.Context, tok string) (Principal, error) {
	const op = "identity.PasetoResolver.Resolve"

	tok = strings.TrimSpace(tok)
	if !strings.HasPrefix(tok, "v4.public.") {
		return Principal{}, unauthenticated(op, "not a paseto v4.public token")
	}

	// Fresh parser per call; rules accumulate otherwise.
	p := paseto.NewParser()
	if r.issuer != "" {
		p.AddRule(paseto.IssuedBy(r.issuer))
	}
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(r.nowFn().Add(r.clockSkew)))

	parsed, err := p.ParseV4Public(r.public, tok, nil)
	if err != nil {
		return Principal{}, unauthenticated(op, "invalid token")
	}
	uid, err := parsed.GetString("uid")
	if err != nil || strings.TrimSpace(uid) == "" {
		return Principal{}, unauthenticated(op, "missing uid")
	}
	return Principal{UserID: uid}, nil
}
