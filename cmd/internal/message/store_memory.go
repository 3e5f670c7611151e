package message

import (
	"context"
	"sort"
	"sync"
	"time"

	"messenger/cmd/identity/ids"
)

// MemoryStore is the dev-mode Store used when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Message
	byConv map[string][]*Message // append order
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Message),
		byConv: make(map[string][]*Message),
	}
}

func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if err := validateAppend(in); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := nowOr(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, err
	}

	m := &Message{
		ID:               id,
		ConversationID:   in.ConversationID,
		SenderID:         in.SenderID,
		Body:             in.Body,
		Attachments:      cloneAttachments(in.Attachments),
		ReplyToMessageID: in.ReplyToMessageID,
		CreatedAt:        now,
	}

	s.mu.Lock()
	s.byID[id] = m
	s.byConv[in.ConversationID] = append(s.byConv[in.ConversationID], m)
	s.mu.Unlock()

	return snapshot(m), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return snapshot(m), nil
}

func (s *MemoryStore) List(ctx context.Context, conversationID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	src := s.byConv[conversationID]
	out := make([]Message, 0, len(src))
	for _, m := range src {
		if m.DeletedAt != nil {
			continue
		}
		out = append(out, snapshot(m))
	}
	s.mu.RUnlock()

	// Stable: equal timestamps keep append order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SoftDelete(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	t := nowOr(now)
	m.DeletedAt = &t
	return nil
}

func snapshot(m *Message) Message {
	c := *m
	c.Attachments = cloneAttachments(m.Attachments)
	return c
}
