package identity

import (
	"context"
	"errors"
	"strings"
)

// Chain tries each resolver in order and returns the first success.
// A non-authentication error (e.g. the database is down) stops the chain.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, tok string) (Principal, error) {
	if strings.TrimSpace(tok) == "" {
		return Principal{}, unauthenticated("identity.Chain.Resolve", "missing token")
	}
	for _, r := range c {
		if r == nil {
			continue
		}
		p, err := r.Resolve(ctx, tok)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return Principal{}, err
		}
	}
	return Principal{}, unauthenticated("identity.Chain.Resolve", "no resolver accepted the token")
}
