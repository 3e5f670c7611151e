package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"messenger/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
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
			return errors.New("conversation: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("conversation: invalid schema identifier")
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
		return nil, errors.New("conversation: nil pool")
	}
	return st, nil
}

const convColumns = `c.id, c.creator_id, c.is_group, c.title, c.is_deleted, c.is_blocked, c.created_at, c.updated_at, c.deleted_at`

func (s *PostgresStore) tables() (convs, parts string) {
	return pgIdent(s.schema, "conversations"), pgIdent(s.schema, "conversation_participants")
}

// Create inserts the conversation, the creator row and every recipient row in one transaction.
func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (Conversation, error) {
	if err := validateCreate(in); err != nil {
		return Conversation{}, err
	}

	now := nowOr(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return Conversation{}, err
	}
	recipients := NormalizeRecipients(in.CreatorID, in.RecipientIDs)

	c := Conversation{
		ID:        id,
		CreatorID: in.CreatorID,
		IsGroup:   len(recipients) > 1,
		Title:     in.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	convs, parts := s.tables()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Conversation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+convs+` (id, creator_id, is_group, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		c.ID, c.CreatorID, c.IsGroup, c.Title, now,
	); err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	members := append([]string{in.CreatorID}, recipients...)
	batch := &pgx.Batch{}
	for _, u := range members {
		batch.Queue(
			`INSERT INTO `+parts+` (conversation_id, user_id, invited_by_id, accepted, joined_at)
			 VALUES ($1, $2, $3, true, $4)
			 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			c.ID, u, in.CreatorID, now,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return Conversation{}, fmt.Errorf("insert participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, err
	}

	for _, u := range members {
		c.Participants = append(c.Participants, Participant{
			ConversationID: c.ID,
			UserID:         u,
			InvitedByID:    in.CreatorID,
			Accepted:       true,
			JoinedAt:       now,
		})
	}
	return c, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Conversation, error) {
	convs, _ := s.tables()

	row := s.pool.QueryRow(ctx, `SELECT `+convColumns+` FROM `+convs+` c WHERE c.id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}

	list := []Conversation{c}
	if err := s.attachParticipants(ctx, list); err != nil {
		return Conversation{}, err
	}
	return list[0], nil
}

// visibleTo is the creator-or-participant predicate; EXISTS keeps rows distinct.
func (s *PostgresStore) visibleTo(param string) string {
	_, parts := s.tables()
	return `(c.creator_id = ` + param + ` OR EXISTS (
		SELECT 1 FROM ` + parts + ` p WHERE p.conversation_id = c.id AND p.user_id = ` + param + `))`
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string, page int) (Page, error) {
	page = normalizePage(page)
	convs, _ := s.tables()
	where := `NOT c.is_deleted AND NOT c.is_blocked AND ` + s.visibleTo("$1")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+convs+` c WHERE `+where, userID,
	).Scan(&total); err != nil {
		return Page{}, err
	}

	offset, ok := pageOffset(page)
	if !ok || offset >= total {
		return Page{Conversations: []Conversation{}, Page: page, PageSize: PageSize, Total: total}, nil
	}

	list, err := s.query(ctx,
		`SELECT `+convColumns+` FROM `+convs+` c WHERE `+where+`
		 ORDER BY c.updated_at DESC, c.id DESC
		 LIMIT $2 OFFSET $3`,
		userID, PageSize, offset,
	)
	if err != nil {
		return Page{}, err
	}
	return Page{Conversations: list, Page: page, PageSize: PageSize, Total: total}, nil
}

func (s *PostgresStore) ListBlocked(ctx context.Context, userID string) ([]Conversation, error) {
	convs, _ := s.tables()
	return s.query(ctx,
		`SELECT `+convColumns+` FROM `+convs+` c
		  WHERE c.is_blocked AND NOT c.is_deleted AND `+s.visibleTo("$1")+`
		  ORDER BY c.updated_at DESC, c.id DESC`,
		userID,
	)
}

func (s *PostgresStore) ListDeleted(ctx context.Context, userID string) ([]Conversation, error) {
	convs, _ := s.tables()
	return s.query(ctx,
		`SELECT `+convColumns+` FROM `+convs+` c
		  WHERE c.is_deleted AND c.creator_id = $1
		  ORDER BY c.updated_at DESC, c.id DESC`,
		userID,
	)
}

func (s *PostgresStore) SoftDelete(ctx context.Context, id string, now time.Time) error {
	return s.exec(ctx, `SET is_deleted = true, deleted_at = $2, updated_at = $2`, id, nowOr(now))
}

func (s *PostgresStore) Block(ctx context.Context, id string, now time.Time) error {
	return s.exec(ctx, `SET is_blocked = true, updated_at = $2`, id, nowOr(now))
}

func (s *PostgresStore) Unblock(ctx context.Context, id string, now time.Time) error {
	return s.exec(ctx, `SET is_blocked = false, updated_at = $2`, id, nowOr(now))
}

func (s *PostgresStore) Touch(ctx context.Context, id string, now time.Time) error {
	return s.exec(ctx, `SET updated_at = $2`, id, nowOr(now))
}

func (s *PostgresStore) exec(ctx context.Context, set, id string, now time.Time) error {
	convs, _ := s.tables()
	tag, err := s.pool.Exec(ctx, `UPDATE `+convs+` `+set+` WHERE id = $1`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureParticipants locks the conversation row so concurrent repairs serialize.
func (s *PostgresStore) EnsureParticipants(ctx context.Context, id string, now time.Time) (int, error) {
	convs, parts := s.tables()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var creator string
	err = tx.QueryRow(ctx, `SELECT creator_id FROM `+convs+` WHERE id = $1 FOR UPDATE`, id).Scan(&creator)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	rows, err := tx.Query(ctx, `SELECT user_id FROM `+parts+` WHERE conversation_id = $1`, id)
	if err != nil {
		return 0, err
	}
	existing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, err
	}
	have := make(map[string]struct{}, len(existing))
	for _, u := range existing {
		have[u] = struct{}{}
	}

	added := 0
	if _, ok := have[creator]; !ok {
		tag, err := tx.Exec(ctx,
			`INSERT INTO `+parts+` (conversation_id, user_id, invited_by_id, accepted, joined_at)
			 VALUES ($1, $2, $3, true, $4)
			 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			id, creator, creator, nowOr(now),
		)
		if err != nil {
			return 0, fmt.Errorf("insert participant: %w", err)
		}
		added = int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return added, nil
}

func (s *PostgresStore) Participants(ctx context.Context, id string) ([]Participant, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Participants, nil
}

func (s *PostgresStore) FindDirectBetween(ctx context.Context, a, b string) (Conversation, error) {
	want, ok := directSet(a, b)
	if !ok {
		return Conversation{}, ErrNotFound
	}
	convs, parts := s.tables()
	list, err := s.query(ctx,
		`SELECT `+convColumns+` FROM `+convs+` c
		  WHERE NOT c.is_group AND NOT c.is_deleted AND NOT c.is_blocked AND c.deleted_at IS NULL
		    AND (SELECT array_agg(DISTINCT p.user_id ORDER BY p.user_id)
		           FROM `+parts+` p WHERE p.conversation_id = c.id) = $1::text[]
		  ORDER BY c.updated_at DESC, c.id DESC
		  LIMIT 1`,
		want,
	)
	if err != nil {
		return Conversation{}, err
	}
	if len(list) == 0 {
		return Conversation{}, ErrNotFound
	}
	return list[0], nil
}

func (s *PostgresStore) IDs(ctx context.Context) ([]string, error) {
	convs, _ := s.tables()
	rows, err := s.pool.Query(ctx, `SELECT id FROM `+convs+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Conversation, 0, 8)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachParticipants(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) attachParticipants(ctx context.Context, list []Conversation) error {
	if len(list) == 0 {
		return nil
	}
	_, parts := s.tables()

	idx := make(map[string]int, len(list))
	keys := make([]string, 0, len(list))
	for i, c := range list {
		idx[c.ID] = i
		keys = append(keys, c.ID)
		list[i].Participants = []Participant{}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, user_id, invited_by_id, accepted, joined_at
		   FROM `+parts+`
		  WHERE conversation_id = ANY($1)
		  ORDER BY joined_at ASC, user_id ASC`,
		keys,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.InvitedByID, &p.Accepted, &p.JoinedAt); err != nil {
			return err
		}
		i := idx[p.ConversationID]
		list[i].Participants = append(list[i].Participants, p)
	}
	return rows.Err()
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID,
		&c.CreatorID,
		&c.IsGroup,
		&c.Title,
		&c.IsDeleted,
		&c.IsBlocked,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.DeletedAt,
	)
	return c, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
