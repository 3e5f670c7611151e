package conversation

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"messenger/cmd/identity/ids"
)

// MemoryStore is the dev-mode Store used when no database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*memConv
}

type memConv struct {
	c     Conversation // Participants kept in insertion order
	users map[string]struct{}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*memConv)}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateInput) (Conversation, error) {
	if err := validateCreate(in); err != nil {
		return Conversation{}, err
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	now := nowOr(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return Conversation{}, err
	}
	recipients := NormalizeRecipients(in.CreatorID, in.RecipientIDs)

	mc := &memConv{
		c: Conversation{
			ID:        id,
			CreatorID: in.CreatorID,
			IsGroup:   len(recipients) > 1,
			Title:     in.Title,
			CreatedAt: now,
			UpdatedAt: now,
		},
		users: make(map[string]struct{}, len(recipients)+1),
	}
	mc.add(in.CreatorID, in.CreatorID, now)
	for _, r := range recipients {
		mc.add(r, in.CreatorID, now)
	}

	s.mu.Lock()
	s.convs[id] = mc
	s.mu.Unlock()

	return mc.snapshot(), nil
}

// add is the map-keyed equivalent of ON CONFLICT DO NOTHING.
func (m *memConv) add(userID, invitedBy string, now time.Time) bool {
	if _, ok := m.users[userID]; ok {
		return false
	}
	m.users[userID] = struct{}{}
	m.c.Participants = append(m.c.Participants, Participant{
		ConversationID: m.c.ID,
		UserID:         userID,
		InvitedByID:    invitedBy,
		Accepted:       true,
		JoinedAt:       now,
	})
	return true
}

func (m *memConv) snapshot() Conversation {
	c := m.c
	c.Participants = slices.Clone(m.c.Participants)
	return c
}

func (m *memConv) visibleTo(userID string) bool {
	if m.c.CreatorID == userID {
		return true
	}
	_, ok := m.users[userID]
	return ok
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return mc.snapshot(), nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string, page int) (Page, error) {
	page = normalizePage(page)
	all, err := s.filter(ctx, func(m *memConv) bool {
		return !m.c.IsDeleted && !m.c.IsBlocked && m.visibleTo(userID)
	})
	if err != nil {
		return Page{}, err
	}

	out := Page{Page: page, PageSize: PageSize, Total: len(all), Conversations: []Conversation{}}
	start, ok := pageOffset(page)
	if !ok || start >= len(all) {
		return out, nil
	}
	end := min(start+PageSize, len(all))
	out.Conversations = all[start:end]
	return out, nil
}

func (s *MemoryStore) ListBlocked(ctx context.Context, userID string) ([]Conversation, error) {
	return s.filter(ctx, func(m *memConv) bool {
		return m.c.IsBlocked && !m.c.IsDeleted && m.visibleTo(userID)
	})
}

func (s *MemoryStore) ListDeleted(ctx context.Context, userID string) ([]Conversation, error) {
	return s.filter(ctx, func(m *memConv) bool {
		return m.c.IsDeleted && m.c.CreatorID == userID
	})
}

// filter returns matching conversations ordered UpdatedAt DESC, ID DESC.
func (s *MemoryStore) filter(ctx context.Context, keep func(*memConv) bool) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.convs))
	for _, m := range s.convs {
		if keep(m) {
			out = append(out, m.snapshot())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) SoftDelete(ctx context.Context, id string, now time.Time) error {
	return s.update(ctx, id, func(c *Conversation) {
		t := nowOr(now)
		c.IsDeleted = true
		c.DeletedAt = &t
		c.UpdatedAt = t
	})
}

func (s *MemoryStore) Block(ctx context.Context, id string, now time.Time) error {
	return s.update(ctx, id, func(c *Conversation) {
		c.IsBlocked = true
		c.UpdatedAt = nowOr(now)
	})
}

func (s *MemoryStore) Unblock(ctx context.Context, id string, now time.Time) error {
	return s.update(ctx, id, func(c *Conversation) {
		c.IsBlocked = false
		c.UpdatedAt = nowOr(now)
	})
}

func (s *MemoryStore) Touch(ctx context.Context, id string, now time.Time) error {
	return s.update(ctx, id, func(c *Conversation) {
		c.UpdatedAt = nowOr(now)
	})
}

func (s *MemoryStore) update(ctx context.Context, id string, fn func(*Conversation)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	fn(&mc.c)
	return nil
}

func (s *MemoryStore) EnsureParticipants(ctx context.Context, id string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.convs[id]
	if !ok {
		return 0, ErrNotFound
	}

	// Existing participants already live in mc.users; only the creator can be missing.
	if mc.add(mc.c.CreatorID, mc.c.CreatorID, nowOr(now)) {
		return 1, nil
	}
	return 0, nil
}

func (s *MemoryStore) Participants(ctx context.Context, id string) ([]Participant, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Participants, nil
}

func (s *MemoryStore) FindDirectBetween(ctx context.Context, a, b string) (Conversation, error) {
	want, ok := directSet(a, b)
	if !ok {
		return Conversation{}, ErrNotFound
	}
	matches, err := s.filter(ctx, func(m *memConv) bool {
		if m.c.IsGroup || m.c.IsDeleted || m.c.IsBlocked || m.c.DeletedAt != nil {
			return false
		}
		if len(m.users) != len(want) {
			return false
		}
		for _, u := range want {
			if _, ok := m.users[u]; !ok {
				return false
			}
		}
		return true
	})
	if err != nil {
		return Conversation{}, err
	}
	if len(matches) == 0 {
		return Conversation{}, ErrNotFound
	}
	return matches[0], nil
}

func (s *MemoryStore) IDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]string, 0, len(s.convs))
	for id := range s.convs {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

