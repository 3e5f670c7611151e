// Package message stores conversation messages. Messages are append-only; deletion is soft.
package message

import (
	"context"
	"errors"
	"strings"
	"time"

	"messenger/cmd/identity"
)

var (
	ErrNotFound     = errors.New("message: not found")
	ErrInvalidInput = errors.New("message: invalid input")
)

// Attachment describes one stored file. The list order on a message is the upload order.
type Attachment struct {
	Type string  `json:"type"`
	URL  string  `json:"url"`
	Name *string `json:"name,omitempty"`
	Size *int64  `json:"size,omitempty"`
}

// Message is one persisted message. Sender is filled by the service layer, never by a Store.
type Message struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversationId"`
	SenderID         *string        `json:"senderId"`
	Sender           *identity.User `json:"sender,omitempty"`
	Body             *string        `json:"body"`
	Attachments      []Attachment   `json:"attachments"`
	ReplyToMessageID *string        `json:"replyToMessageId"`
	CreatedAt        time.Time      `json:"createdAt"`
	EditedAt         *time.Time     `json:"editedAt"`
	DeletedAt        *time.Time     `json:"deletedAt"`
}

// AppendInput describes a new message.
type AppendInput struct {
	ConversationID   string
	SenderID         *string
	Body             *string
	Attachments      []Attachment
	ReplyToMessageID *string
	Now              time.Time
}

// Store persists messages.
type Store interface {
	Append(ctx context.Context, in AppendInput) (Message, error)
	Get(ctx context.Context, id string) (Message, error)
	// List returns non-deleted messages of a conversation, oldest first.
	List(ctx context.Context, conversationID string) ([]Message, error)
	SoftDelete(ctx context.Context, id string, now time.Time) error
}

func validateAppend(in AppendInput) error {
	if strings.TrimSpace(in.ConversationID) == "" {
		return errors.Join(ErrInvalidInput, errors.New("missing conversation id"))
	}
	for _, a := range in.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return errors.Join(ErrInvalidInput, errors.New("attachment without url"))
		}
	}
	return nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

func cloneAttachments(in []Attachment) []Attachment {
	out := make([]Attachment, len(in))
	copy(out, in)
	return out
}
