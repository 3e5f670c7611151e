package identity

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	jw "github.com/golang-jwt/jwt/v5"
)

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		auth    string
		session string
		want    string
	}{
		{name: "bearer", auth: "Bearer abc", want: "abc"},
		{name: "bearer case insensitive", auth: "bearer  xyz ", want: "xyz"},
		{name: "session header", session: "s-1", want: "s-1"},
		{name: "bearer wins", auth: "Bearer abc", session: "s-1", want: "abc"},
		{name: "basic falls back", auth: "Basic Zm9v", session: "s-2", want: "s-2"},
		{name: "none", want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", "/", nil)
			if tc.auth != "" {
				r.Header.Set("Authorization", tc.auth)
			}
			if tc.session != "" {
				r.Header.Set(SessionTokenHeader, tc.session)
			}
			if got := TokenFromRequest(r); got != tc.want {
				t.Fatalf("TokenFromRequest()=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestMemoryStore_ResolveAndUsers(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	st.PutUser(User{ID: "1", Username: "ann"})
	st.PutUser(User{ID: "2", Username: "bob"})
	st.PutSession("tok-1", "1")

	p, err := st.Resolve(context.Background(), "tok-1")
	if err != nil || p.UserID != "1" {
		t.Fatalf("Resolve: p=%+v err=%v", p, err)
	}
	if _, err := st.Resolve(context.Background(), "nope"); !IsUnauthenticated(err) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}

	users, err := st.Users(context.Background(), []string{"2", "missing", "1", "2"})
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 2 || users[0].ID != "2" || users[1].ID != "1" {
		t.Fatalf("unexpected users order: %+v", users)
	}

	if _, err := UserByID(context.Background(), st, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJWTResolver(t *testing.T) {
	t.Parallel()

	secret := []byte("0123456789abcdef0123456789abcdef")
	r, err := NewJWTResolver(secret, "")
	if err != nil {
		t.Fatalf("NewJWTResolver: %v", err)
	}

	sign := func(claims jw.MapClaims) string {
		s, err := jw.NewWithClaims(jw.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	exp := time.Now().Add(time.Hour).Unix()

	p, err := r.Resolve(context.Background(), sign(jw.MapClaims{"sub": "42", "exp": exp}))
	if err != nil || p.UserID != "42" {
		t.Fatalf("sub claim: p=%+v err=%v", p, err)
	}

	p, err = r.Resolve(context.Background(), sign(jw.MapClaims{"user_id": float64(7), "exp": exp}))
	if err != nil || p.UserID != "7" {
		t.Fatalf("numeric user_id claim: p=%+v err=%v", p, err)
	}

	expired := sign(jw.MapClaims{"sub": "42", "exp": time.Now().Add(-time.Hour).Unix()})
	if _, err := r.Resolve(context.Background(), expired); !IsUnauthenticated(err) {
		t.Fatalf("expired token should be unauthenticated, got %v", err)
	}

	other, _ := jw.NewWithClaims(jw.SigningMethodHS256, jw.MapClaims{"sub": "42"}).SignedString([]byte("another-secret-another-secret!!"))
	if _, err := r.Resolve(context.Background(), other); !IsUnauthenticated(err) {
		t.Fatalf("foreign signature should be unauthenticated, got %v", err)
	}

	if _, err := NewJWTResolver([]byte("short"), ""); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestPasetoResolver_IssueAndResolve(t *testing.T) {
	t.Parallel()

	r, err := NewPasetoResolver(PasetoConfig{
		Issuer:       "messenger",
		SecretKeyHex: NewPasetoSecretKeyHex(),
		TTL:          time.Minute,
	})
	if err != nil {
		t.Fatalf("NewPasetoResolver: %v", err)
	}

	tok, exp, err := r.Issue("user-9", time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiration must be in the future: %v", exp)
	}

	p, err := r.Resolve(context.Background(), tok)
	if err != nil || p.UserID != "user-9" {
		t.Fatalf("Resolve: p=%+v err=%v", p, err)
	}

	if _, err := r.Resolve(context.Background(), "v4.public.garbage"); !IsUnauthenticated(err) {
		t.Fatalf("garbage token should be unauthenticated, got %v", err)
	}

	stale, _, err := r.Issue("user-9", time.Now().UTC().Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("Issue stale: %v", err)
	}
	if _, err := r.Resolve(context.Background(), stale); !IsUnauthenticated(err) {
		t.Fatalf("expired token should be unauthenticated, got %v", err)
	}
}

type failingResolver struct{ err error }

func (f failingResolver) Resolve(context.Context, string) (Principal, error) {
	return Principal{}, f.err
}

func TestChain(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStore()
	mem.PutSession("legacy", "5")

	c := Chain{failingResolver{err: unauthenticated("x", "nope")}, mem}
	p, err := c.Resolve(context.Background(), "legacy")
	if err != nil || p.UserID != "5" {
		t.Fatalf("chain fallthrough: p=%+v err=%v", p, err)
	}

	if _, err := c.Resolve(context.Background(), ""); !IsUnauthenticated(err) {
		t.Fatalf("empty token should be unauthenticated, got %v", err)
	}

	boom := errors.New("db down")
	c = Chain{failingResolver{err: boom}, mem}
	if _, err := c.Resolve(context.Background(), "legacy"); !errors.Is(err, boom) {
		t.Fatalf("infrastructure errors must stop the chain, got %v", err)
	}
}
