package message

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"messenger/cmd/internal/dbschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when MESSENGER_DATABASE_URL is set.

func TestPostgresStore_AppendListDelete(t *testing.T) {
	t.Parallel()

	st, pool, schema := mustPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	convs := pgIdent(schema, "conversations")
	if _, err := pool.Exec(ctx, `INSERT INTO `+convs+` (id, creator_id) VALUES ('c1', '1')`); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	first := mustAppend(t, st, AppendInput{
		ConversationID: "c1",
		SenderID:       ptr("1"),
		Body:           ptr("hello"),
		Attachments: []Attachment{
			{Type: "image/png", URL: "/uploads/profiles/conversation_c1/a.png", Name: ptr("a.png"), Size: ptr(int64(3))},
			{Type: "application/zip", URL: "/uploads/profiles/conversation_c1/b.zip"},
		},
		Now: t0,
	})
	second := mustAppend(t, st, AppendInput{ConversationID: "c1", SenderID: ptr("2"), Body: ptr("same instant"), Now: t0})

	list, err := st.List(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("unexpected order: %+v", list)
	}
	if len(list[0].Attachments) != 2 || list[0].Attachments[1].Type != "application/zip" || *list[0].Attachments[0].Size != 3 {
		t.Fatalf("attachments not preserved: %+v", list[0].Attachments)
	}

	if err := st.SoftDelete(ctx, first.ID, t0.Add(time.Minute)); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	list, _ = st.List(ctx, "c1")
	if len(list) != 1 || list[0].ID != second.ID {
		t.Fatalf("deleted message still listed: %+v", list)
	}
	if _, err := st.Append(ctx, AppendInput{ConversationID: "nope", Now: t0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown conversation: expected ErrInvalidInput, got %v", err)
	}
}

func mustPostgresStore(t *testing.T) (*PostgresStore, *pgxpool.Pool, string) {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("MESSENGER_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: MESSENGER_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	b := make([]byte, 6)
	_, _ = rand.Read(b)
	schema := "msg_it_" + hex.EncodeToString(b)

	if err := dbschema.Apply(ctx, pool, schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dcancel()
		_, _ = pool.Exec(dctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	return st, pool, schema
}
