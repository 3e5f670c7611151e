package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads users and sessions owned by the account service.
// It implements both Resolver (session tokens) and Directory.
//
// The pool is owned by the caller.
type PostgresStore struct {
	pool         *pgxpool.Pool
	schema       string
	hashedTokens bool
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding users and user_sessions (default: "messenger").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("identity: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithHashedTokens makes lookups compare against hashed session tokens.
func WithHashedTokens(on bool) PostgresOption {
	return func(s *PostgresStore) error {
		s.hashedTokens = on
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "messenger"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

// Resolve looks the token up in user_sessions. Expired rows do not authenticate.
func (s *PostgresStore) Resolve(ctx context.Context, tok string) (Principal, error) {
	const op = "identity.PostgresStore.Resolve"

	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Principal{}, unauthenticated(op, "missing token")
	}

	sessions := pgIdent(s.schema, "user_sessions")

	var (
		userID    string
		expiresAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, expires_at FROM `+sessions+` WHERE session_token = $1`,
		SessionLookupKey(tok, s.hashedTokens),
	).Scan(&userID, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, unauthenticated(op, "unknown session")
	}
	if err != nil {
		return Principal{}, err
	}
	if expiresAt != nil && !expiresAt.After(time.Now().UTC()) {
		return Principal{}, unauthenticated(op, "session expired")
	}
	if strings.TrimSpace(userID) == "" {
		return Principal{}, unauthenticated(op, "session without user")
	}
	return Principal{UserID: userID}, nil
}

// Users returns the users matching ids, preserving the order of ids.
func (s *PostgresStore) Users(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	users := pgIdent(s.schema, "users")

	rows, err := s.pool.Query(ctx,
		`SELECT id, username, profile_image FROM `+users+` WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]User, len(ids))
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.ProfileImage); err != nil {
			return nil, err
		}
		byID[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orderUsers(ids, byID), nil
}

func orderUsers(ids []string, byID map[string]User) []User {
	out := make([]User, 0, len(byID))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
