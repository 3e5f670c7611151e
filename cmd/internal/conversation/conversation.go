// Package conversation stores conversations and their participant rows.
//
// Invariants kept by every Store implementation:
//   - the creator always has a participant row, written in the same transaction as the conversation;
//   - (conversation, user) is unique; inserting an existing pair is a no-op;
//   - IsGroup is decided once at creation and never recomputed.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// PageSize is the fixed page size of ListForUser.
const PageSize = 20

var (
	ErrNotFound     = errors.New("conversation: not found")
	ErrInvalidInput = errors.New("conversation: invalid input")
)

// Conversation is a persisted conversation with its participant rows.
type Conversation struct {
	ID           string        `json:"id"`
	CreatorID    string        `json:"creatorId"`
	IsGroup      bool          `json:"isGroup"`
	Title        *string       `json:"title"`
	IsDeleted    bool          `json:"isDeleted"`
	IsBlocked    bool          `json:"isBlocked"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	DeletedAt    *time.Time    `json:"deletedAt"`
	Participants []Participant `json:"participants"`
}

// Participant links a user to a conversation.
type Participant struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	InvitedByID    string    `json:"invitedById"`
	Accepted       bool      `json:"accepted"`
	JoinedAt       time.Time `json:"joinedAt"`
}

// ParticipantIDs returns participant user ids in stored order.
func (c Conversation) ParticipantIDs() []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		out = append(out, p.UserID)
	}
	return out
}

// HasParticipant reports whether userID has a participant row.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// CreateInput describes a new conversation.
// RecipientIDs may contain duplicates and the creator; both are dropped.
type CreateInput struct {
	CreatorID    string
	RecipientIDs []string
	Title        *string
	Now          time.Time
}

// Page is one page of ListForUser.
type Page struct {
	Conversations []Conversation `json:"conversations"`
	Page          int            `json:"page"`
	PageSize      int            `json:"pageSize"`
	Total         int            `json:"total"`
}

// Store persists conversations and participants.
type Store interface {
	Create(ctx context.Context, in CreateInput) (Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)

	// ListForUser returns non-deleted, non-blocked conversations where userID is creator or participant,
	// newest UpdatedAt first, PageSize per page (page is 1-based).
	ListForUser(ctx context.Context, userID string, page int) (Page, error)
	ListBlocked(ctx context.Context, userID string) ([]Conversation, error)
	// ListDeleted returns soft-deleted conversations created by userID.
	ListDeleted(ctx context.Context, userID string) ([]Conversation, error)

	SoftDelete(ctx context.Context, id string, now time.Time) error
	Block(ctx context.Context, id string, now time.Time) error
	// Unblock clears IsBlocked only; a deleted conversation stays deleted.
	Unblock(ctx context.Context, id string, now time.Time) error
	Touch(ctx context.Context, id string, now time.Time) error

	// EnsureParticipants makes the participant set {creator} ∪ {existing participants}, stamping
	// restored rows with now. It returns how many rows were added and is safe to re-run.
	EnsureParticipants(ctx context.Context, id string, now time.Time) (int, error)
	Participants(ctx context.Context, id string) ([]Participant, error)

	// FindDirectBetween returns the newest non-group, non-deleted, non-blocked conversation whose
	// participant set is exactly {a, b}.
	FindDirectBetween(ctx context.Context, a, b string) (Conversation, error)

	IDs(ctx context.Context) ([]string, error)
}

// NormalizeRecipients trims, dedupes and drops empty ids and the creator, keeping first-seen order.
func NormalizeRecipients(creatorID string, ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids)+1)
	seen[creatorID] = struct{}{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// directSet returns the sorted set {a, b}. ok is false when a == b: no direct
// conversation has fewer than two distinct participants.
func directSet(a, b string) (set []string, ok bool) {
	if a == b {
		return nil, false
	}
	if b < a {
		a, b = b, a
	}
	return []string{a, b}, true
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// pageOffset is the row offset of a 1-based page. ok is false when the offset
// does not fit in an int; such a page is always past the end.
func pageOffset(page int) (offset int, ok bool) {
	if page > math.MaxInt/PageSize {
		return 0, false
	}
	return (page - 1) * PageSize, true
}

func validateCreate(in CreateInput) error {
	if strings.TrimSpace(in.CreatorID) == "" {
		return fmt.Errorf("%w: missing creator", ErrInvalidInput)
	}
	return nil
}

// nowOr truncates to microseconds so in-memory values match what Postgres stores.
func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Microsecond)
}
