package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jw "github.com/golang-jwt/jwt/v5"
)

// JWTResolver validates HS256 tokens and reads the user id from "sub" (or "user_id").
type JWTResolver struct {
	secret []byte
	issuer string
}

// NewJWTResolver constructs a JWTResolver. issuer is optional.
func NewJWTResolver(secret []byte, issuer string) (*JWTResolver, error) {
	if len(secret) < 16 {
		return nil, errors.New("identity: jwt secret too short (min 16 bytes)")
	}
	return &JWTResolver{secret: secret, issuer: strings.TrimSpace(issuer)}, nil
}

func (r *JWTResolver) Resolve(_ context.Context, tok string) (Principal, error) {
	const op = "identity.JWTResolver.Resolve"

	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Principal{}, unauthenticated(op, "missing token")
	}

	opts := []jw.ParserOption{jw.WithValidMethods([]string{jw.SigningMethodHS256.Alg()})}
	if r.issuer != "" {
		opts = append(opts, jw.WithIssuer(r.issuer))
	}

	t, err := jw.Parse(tok, func(*jw.Token) (any, error) { return r.secret, nil }, opts...)
	if err != nil || !t.Valid {
		return Principal{}, unauthenticated(op, "invalid token")
	}
	mc, ok := t.Claims.(jw.MapClaims)
	if !ok {
		return Principal{}, unauthenticated(op, "bad claims")
	}

	uid := claimString(mc["sub"])
	if uid == "" {
		uid = claimString(mc["user_id"])
	}
	if uid == "" {
		return Principal{}, unauthenticated(op, "no subject")
	}
	return Principal{UserID: uid}, nil
}

// claimString accepts string and numeric claims; legacy tokens carry integer user ids.
func claimString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
	}
	return ""
}
