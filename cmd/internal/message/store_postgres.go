package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"messenger/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL. Attachments live in a JSONB column.
//
// The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "messenger").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("message: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("message: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
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
		return nil, errors.New("message: nil pool")
	}
	return st, nil
}

const msgColumns = `id, conversation_id, sender_id, body, attachments, reply_to_message_id, created_at, edited_at, deleted_at`

func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if err := validateAppend(in); err != nil {
		return Message{}, err
	}

	now := nowOr(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, err
	}

	atts := cloneAttachments(in.Attachments)
	raw, err := json.Marshal(atts)
	if err != nil {
		return Message{}, fmt.Errorf("encode attachments: %w", err)
	}

	messages := pgIdent(s.schema, "messages")
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (id, conversation_id, sender_id, body, attachments, reply_to_message_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, in.ConversationID, in.SenderID, in.Body, raw, in.ReplyToMessageID, now,
	); err != nil {
		if isForeignKeyViolation(err) {
			return Message{}, errors.Join(ErrInvalidInput, err)
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return Message{
		ID:               id,
		ConversationID:   in.ConversationID,
		SenderID:         in.SenderID,
		Body:             in.Body,
		Attachments:      atts,
		ReplyToMessageID: in.ReplyToMessageID,
		CreatedAt:        now,
	}, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Message, error) {
	messages := pgIdent(s.schema, "messages")
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+msgColumns+` FROM `+messages+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) List(ctx context.Context, conversationID string) ([]Message, error) {
	messages := pgIdent(s.schema, "messages")
	rows, err := s.pool.Query(ctx,
		`SELECT `+msgColumns+` FROM `+messages+`
		  WHERE conversation_id = $1 AND deleted_at IS NULL
		  ORDER BY created_at ASC, seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SoftDelete(ctx context.Context, id string, now time.Time) error {
	messages := pgIdent(s.schema, "messages")
	tag, err := s.pool.Exec(ctx, `UPDATE `+messages+` SET deleted_at = $2 WHERE id = $1`, id, nowOr(now))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m   Message
		raw []byte
	)
	if err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.Body,
		&raw,
		&m.ReplyToMessageID,
		&m.CreatedAt,
		&m.EditedAt,
		&m.DeletedAt,
	); err != nil {
		return Message{}, err
	}
	m.Attachments = []Attachment{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m.Attachments); err != nil {
			return Message{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return m, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
