package message

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func mustAppend(t *testing.T, st Store, in AppendInput) Message {
	t.Helper()
	m, err := st.Append(context.Background(), in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return m
}

func TestAppendList_RoundTripKeepsAttachmentOrder(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	atts := []Attachment{
		{Type: "image/png", URL: "/uploads/profiles/conversation_c1/a.png", Name: ptr("a.png"), Size: ptr(int64(10))},
		{Type: "application/pdf", URL: "/uploads/profiles/conversation_c1/b.pdf"},
		{Type: "text/plain", URL: "/uploads/profiles/conversation_c1/c.txt", Name: ptr("c.txt")},
	}
	m := mustAppend(t, st, AppendInput{ConversationID: "c1", SenderID: ptr("1"), Body: ptr("hi"), Attachments: atts, Now: t0})

	// Mutating the caller slice must not leak into the store.
	atts[0].URL = "changed"

	list, err := st.List(context.Background(), "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != m.ID {
		t.Fatalf("list=%+v", list)
	}
	got := list[0].Attachments
	if len(got) != 3 || got[0].Name == nil || *got[0].Name != "a.png" || got[1].Type != "application/pdf" || got[2].URL != "/uploads/profiles/conversation_c1/c.txt" {
		t.Fatalf("attachments not preserved: %+v", got)
	}
	if got[0].URL == "changed" {
		t.Fatalf("store shares the caller's attachment slice")
	}
	if *list[0].Body != "hi" || *list[0].SenderID != "1" {
		t.Fatalf("body/sender mismatch: %+v", list[0])
	}
}

func TestList_OrderingAndSoftDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemoryStore()

	late := mustAppend(t, st, AppendInput{ConversationID: "c1", Body: ptr("late"), Now: t0.Add(2 * time.Second)})
	early := mustAppend(t, st, AppendInput{ConversationID: "c1", Body: ptr("early"), Now: t0})
	tieA := mustAppend(t, st, AppendInput{ConversationID: "c1", Body: ptr("tie-a"), Now: t0.Add(time.Second)})
	tieB := mustAppend(t, st, AppendInput{ConversationID: "c1", Body: ptr("tie-b"), Now: t0.Add(time.Second)})
	_ = mustAppend(t, st, AppendInput{ConversationID: "other", Body: ptr("x"), Now: t0})

	list, _ := st.List(ctx, "c1")
	var gotIDs []string
	for _, m := range list {
		gotIDs = append(gotIDs, m.ID)
	}
	want := []string{early.ID, tieA.ID, tieB.ID, late.ID}
	if !slices.Equal(gotIDs, want) {
		t.Fatalf("order=%v want=%v", gotIDs, want)
	}

	if err := st.SoftDelete(ctx, tieA.ID, t0.Add(time.Hour)); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	list, _ = st.List(ctx, "c1")
	if len(list) != 3 {
		t.Fatalf("deleted message still listed: %d", len(list))
	}
	for _, m := range list {
		if m.ID == tieA.ID {
			t.Fatalf("deleted message returned by List")
		}
	}

	got, err := st.Get(ctx, tieA.ID)
	if err != nil || got.DeletedAt == nil {
		t.Fatalf("Get after delete: %+v err=%v", got, err)
	}

	if err := st.SoftDelete(ctx, "missing", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppend_Validation(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	if _, err := st.Append(context.Background(), AppendInput{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing conversation: expected ErrInvalidInput, got %v", err)
	}
	_, err := st.Append(context.Background(), AppendInput{ConversationID: "c1", Attachments: []Attachment{{Type: "image/png"}}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("attachment without url: expected ErrInvalidInput, got %v", err)
	}
}
