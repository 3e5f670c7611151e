package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"messenger/cmd/identity"
	"messenger/cmd/internal/attachment"
	"messenger/cmd/internal/conversation"
	"messenger/cmd/internal/eventbus"
	"messenger/cmd/internal/message"
	v1 "messenger/shared/contracts/realtime/v1"
)

type fixture struct {
	svc   *Service
	users *identity.MemoryStore
	convs *conversation.MemoryStore
	msgs  *message.MemoryStore
	files *attachment.LocalStore
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := identity.NewMemoryStore()
	for _, id := range []string{"1", "2", "3", "4"} {
		users.PutUser(identity.User{ID: id, Username: "user" + id})
		users.PutSession("tok-"+id, id)
	}
	files, err := attachment.NewLocalStore(t.TempDir(), 1<<20, log)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	f := &fixture{
		users: users,
		convs: conversation.NewMemoryStore(),
		msgs:  message.NewMemoryStore(),
		files: files,
		now:   time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	svc, err := New(Deps{
		Identity:      users,
		Directory:     users,
		Conversations: f.convs,
		Messages:      f.msgs,
		Attachments:   files,
		Log:           log,
		Clock: func() time.Time {
			f.now = f.now.Add(time.Second)
			return f.now
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.svc = svc
	return f
}

func ptr[T any](v T) *T { return &v }

func popoutRooms(events []Event) []string {
	var rooms []string
	for _, ev := range events {
		if ev.Name == v1.TypeUserUpdate {
			rooms = append(rooms, ev.Room)
		}
	}
	sort.Strings(rooms)
	return rooms
}

func TestSendMessage_GroupScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, SendMessageInput{
		Token:      "tok-1",
		Recipients: []string{"2", "3", "3", "1"},
		Body:       ptr("hello"),
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	conv, err := f.convs.Get(ctx, res.ConversationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !conv.IsGroup || len(conv.Participants) != 3 || conv.CreatorID != "1" {
		t.Fatalf("unexpected conversation: group=%v participants=%d creator=%s", conv.IsGroup, len(conv.Participants), conv.CreatorID)
	}

	msgs, err := f.msgs.List(ctx, res.ConversationID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(msgs) != 1 || msgs[0].SenderID == nil || *msgs[0].SenderID != "1" || msgs[0].ID != res.MessageID {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	// One popout per recipient room plus one per recipient to the sender room.
	want := []string{"1", "1", "2", "3"}
	if got := popoutRooms(res.Events); !slices.Equal(got, want) {
		t.Fatalf("popout rooms = %v, want %v", got, want)
	}
	for _, ev := range res.Events {
		p := ev.Payload.(v1.PopoutPayload)
		if p.Type != v1.PopoutType || p.ConversationID != res.ConversationID || p.FromUserID != "1" || !p.ShowPopout {
			t.Fatalf("unexpected popout payload: %+v", p)
		}
	}

	if res.Created == nil || !res.Created.NewConversation || res.Created.MessageID != res.MessageID {
		t.Fatalf("unexpected integration event: %+v", res.Created)
	}
}

func TestSendMessage_DirectConversation(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.SendMessage(context.Background(), SendMessageInput{Token: "tok-1", Recipients: []string{"2"}})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	conv, _ := f.convs.Get(context.Background(), res.ConversationID)
	if conv.IsGroup || len(conv.Participants) != 2 {
		t.Fatalf("expected direct conversation with 2 participants, got group=%v n=%d", conv.IsGroup, len(conv.Participants))
	}
}

func TestSendMessage_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   SendMessageInput
		kind error
	}{
		{"no token", SendMessageInput{Recipients: []string{"2"}}, ErrUnauthenticated},
		{"bad token", SendMessageInput{Token: "nope", Recipients: []string{"2"}}, ErrUnauthenticated},
		{"no recipients", SendMessageInput{Token: "tok-1"}, ErrInvalidArgument},
		{"too big", SendMessageInput{Token: "tok-1", Recipients: []string{"2"}, Files: []attachment.File{
			{Name: "a.png", ContentType: "image/png", Size: 11 << 20, Body: strings.NewReader("x")},
		}}, ErrInvalidArgument},
	}
	for _, tc := range cases {
		_, err := f.svc.SendMessage(ctx, tc.in)
		if !errors.Is(err, tc.kind) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.kind, err)
		}
	}

	ids, _ := f.convs.IDs(ctx)
	if len(ids) != 0 {
		t.Fatalf("failed sends must not create conversations, found %d", len(ids))
	}
}

func TestSendMessage_UnknownRecipientsDropped(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.SendMessage(context.Background(), SendMessageInput{Token: "tok-1", Recipients: []string{"2", "999"}})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	conv, _ := f.convs.Get(context.Background(), res.ConversationID)
	if conv.HasParticipant("999") || len(conv.Participants) != 2 {
		t.Fatalf("unknown recipient must be skipped: %v", conv.ParticipantIDs())
	}
}

func TestSendMessage_AttachmentsKeepOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, SendMessageInput{
		Token:      "tok-1",
		Recipients: []string{"2"},
		Files: []attachment.File{
			{Name: "b.txt", ContentType: "text/plain", Size: 1, Body: strings.NewReader("b")},
			{Name: "skip.exe", ContentType: "application/x-msdownload", Size: 1, Body: strings.NewReader("x")},
			{Name: "a.png", ContentType: "image/png", Size: 1, Body: strings.NewReader("a")},
		},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs, _ := f.msgs.List(ctx, res.ConversationID)
	if len(msgs) != 1 || len(msgs[0].Attachments) != 2 {
		t.Fatalf("expected one message with 2 attachments, got %+v", msgs)
	}
	prefix := "/uploads/profiles/conversation_" + res.ConversationID + "/"
	if msgs[0].Attachments[0].URL != prefix+"b.txt" || msgs[0].Attachments[1].URL != prefix+"a.png" {
		t.Fatalf("unexpected attachment order: %+v", msgs[0].Attachments)
	}
	if *msgs[0].Attachments[1].Size != 1 || msgs[0].Attachments[1].Type != "image/png" {
		t.Fatalf("unexpected attachment metadata: %+v", msgs[0].Attachments[1])
	}
}

func TestSendTextMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.SendMessage(ctx, SendMessageInput{Token: "tok-1", Recipients: []string{"2", "3"}})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	before, _ := f.convs.Get(ctx, first.ConversationID)

	res, err := f.svc.SendTextMessage(ctx, SendTextInput{ConversationID: first.ConversationID, SenderID: "2", Body: ptr("reply")})
	if err != nil {
		t.Fatalf("SendTextMessage: %v", err)
	}
	// Every participant is a fan-out target, the sender included.
	if got, want := popoutRooms(res.Events), []string{"1", "2", "2", "2", "3"}; !slices.Equal(got, want) {
		t.Fatalf("popout rooms = %v, want %v", got, want)
	}
	if res.Created == nil || !slices.Equal(res.Created.RecipientIDs, []string{"1", "3"}) {
		t.Fatalf("integration event recipients must exclude the sender: %+v", res.Created)
	}

	after, _ := f.convs.Get(ctx, first.ConversationID)
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatalf("sending must bump updatedAt: before=%v after=%v", before.UpdatedAt, after.UpdatedAt)
	}

	if _, err := f.svc.SendTextMessage(ctx, SendTextInput{ConversationID: first.ConversationID}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := f.svc.SendTextMessage(ctx, SendTextInput{ConversationID: "missing", SenderID: "1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSelfConversationPopouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, SendMessageInput{Token: "tok-1", Recipients: []string{"1"}, Body: ptr("note")})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(res.Events) != 0 {
		t.Fatalf("a conversation without recipients emits no popouts, got %+v", res.Events)
	}

	text, err := f.svc.SendTextMessage(ctx, SendTextInput{ConversationID: res.ConversationID, SenderID: "1", Body: ptr("again")})
	if err != nil {
		t.Fatalf("SendTextMessage: %v", err)
	}
	if len(text.Events) != 1 || text.Events[0].Room != "1" {
		t.Fatalf("self send-text must reach the sender once, got %+v", text.Events)
	}
	p := text.Events[0].Payload.(v1.PopoutPayload)
	if p.FromUserID != "1" || p.ToUserID != "1" || p.ConversationID != res.ConversationID {
		t.Fatalf("unexpected popout payload: %+v", p)
	}
}

func TestPopoutEvents(t *testing.T) {
	cases := []struct {
		name       string
		recipients []string
		want       []string
	}{
		{name: "none", recipients: nil, want: nil},
		{name: "direct", recipients: []string{"2"}, want: []string{"1", "2"}},
		{name: "duplicates", recipients: []string{"2", "2", "3"}, want: []string{"1", "1", "2", "3"}},
		{name: "sender included", recipients: []string{"1", "2"}, want: []string{"1", "1", "2"}},
		{name: "sender only", recipients: []string{"1"}, want: []string{"1"}},
	}
	for _, tc := range cases {
		if got := popoutRooms(popoutEvents("c1", "1", tc.recipients)); !slices.Equal(got, tc.want) {
			t.Fatalf("%s: rooms=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestReadsProjectUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, SendMessageInput{Token: "tok-1", Recipients: []string{"2"}, Body: ptr("hi")})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	page, err := f.svc.ListConversations(ctx, "2", 0)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if page.Page != 1 || page.PageSize != conversation.PageSize || page.Total != 1 || len(page.Conversations) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	view := page.Conversations[0]
	if view.Creator == nil || view.Creator.Username != "user1" || len(view.Users) != 2 {
		t.Fatalf("unexpected projection: creator=%v users=%v", view.Creator, view.Users)
	}

	msgs, err := f.svc.ConversationMessages(ctx, res.ConversationID)
	if err != nil {
		t.Fatalf("ConversationMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Sender == nil || msgs[0].Sender.Username != "user1" {
		t.Fatalf("expected sender projection, got %+v", msgs)
	}

	users, err := f.svc.Participants(ctx, res.ConversationID)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 participant users, got %v", users)
	}
	if _, err := f.svc.Participants(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetConversationBetween(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetConversationBetween(ctx, "1", "2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// A group with the same two users must not match.
	if _, err := f.svc.SendMessage(ctx, SendMessageInput{Token: "tok-1", Recipients: []string{"2", "3"}}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, err := f.svc.GetConversationBetween(ctx, "1", "2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("group conversation must not match, got %v", err)
	}

	direct, err := f.svc.SendMessage(ctx, SendMessageInput{Token: "tok-2", Recipients: []string{"1"}, Body: ptr("a")})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := f.svc.DeleteMessage(ctx, direct.MessageID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	got, err := f.svc.GetConversationBetween(ctx, "1", "2")
	if err != nil {
		t.Fatalf("GetConversationBetween: %v", err)
	}
	if got.Conversation.ID != direct.ConversationID {
		t.Fatalf("expected %s, got %s", direct.ConversationID, got.Conversation.ID)
	}
	if len(got.Messages) != 0 {
		t.Fatalf("a deleted message must not come back: %+v", got.Messages)
	}

	reply, err := f.svc.SendTextMessage(ctx, SendTextInput{ConversationID: direct.ConversationID, SenderID: "1", Body: ptr("b")})
	if err != nil {
		t.Fatalf("SendTextMessage: %v", err)
	}
	got, err = f.svc.GetConversationBetween(ctx, "2", "1")
	if err != nil {
		t.Fatalf("GetConversationBetween: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].ID != reply.MessageID || got.Messages[0].DeletedAt != nil {
		t.Fatalf("expected only the live reply, got %+v", got.Messages)
	}
}

func TestLifecycle_DeleteBlockUnblock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.DeleteConversation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.svc.DeleteMessage(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	res, _ := f.svc.SendMessage(ctx, SendMessageInput{Token: "tok-1", Recipients: []string{"2"}})

	if err := f.svc.BlockConversation(ctx, res.ConversationID); err != nil {
		t.Fatalf("Block: %v", err)
	}
	blocked, _ := f.svc.ListBlocked(ctx, "1")
	if len(blocked) != 1 {
		t.Fatalf("expected 1 blocked conversation, got %d", len(blocked))
	}
	if page, _ := f.svc.ListConversations(ctx, "1", 1); page.Total != 0 {
		t.Fatalf("blocked conversation must leave the list")
	}

	if err := f.svc.DeleteConversation(ctx, res.ConversationID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.svc.UnblockConversation(ctx, res.ConversationID); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	conv, _ := f.convs.Get(ctx, res.ConversationID)
	if conv.IsBlocked || !conv.IsDeleted || conv.DeletedAt == nil {
		t.Fatalf("unblock must keep deleted state: blocked=%v deleted=%v", conv.IsBlocked, conv.IsDeleted)
	}

	deleted, _ := f.svc.ListDeleted(ctx, "1")
	if len(deleted) != 1 {
		t.Fatalf("expected creator to see deleted conversation, got %d", len(deleted))
	}
	if other, _ := f.svc.ListDeleted(ctx, "2"); len(other) != 0 {
		t.Fatalf("only the creator lists deleted conversations")
	}
}

func TestRepairParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.SendMessage(ctx, SendMessageInput{Token: "tok-1", Recipients: []string{"2"}})
	// A sender without a participant row must stay out of the conversation.
	if _, err := f.svc.SendTextMessage(ctx, SendTextInput{ConversationID: res.ConversationID, SenderID: "4", Body: ptr("hi")}); err != nil {
		t.Fatalf("SendTextMessage: %v", err)
	}

	added, err := f.svc.RepairParticipants(ctx, res.ConversationID)
	if err != nil || added != 0 {
		t.Fatalf("repair: added=%d err=%v", added, err)
	}
	ps, _ := f.convs.Participants(ctx, res.ConversationID)
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.UserID)
	}
	sort.Strings(ids)
	if !slices.Equal(ids, []string{"1", "2"}) {
		t.Fatalf("participants after repair=%v want [1 2]", ids)
	}
	if _, err := f.svc.GetConversationBetween(ctx, "1", "2"); err != nil {
		t.Fatalf("direct conversation must still be found after repair: %v", err)
	}
	if _, err := f.svc.RepairParticipants(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := f.svc.SendMessage(ctx, SendMessageInput{Token: "tok-3", Recipients: []string{"1"}}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	rep, err := f.svc.RepairAllParticipants(ctx, 0)
	if err != nil {
		t.Fatalf("RepairAllParticipants: %v", err)
	}
	if rep.Conversations != 2 || rep.Added != 0 || rep.Failed != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

// clockedConversations records the time handed to EnsureParticipants.
type clockedConversations struct {
	conversation.Store
	mu   sync.Mutex
	seen []time.Time
}

func (c *clockedConversations) EnsureParticipants(ctx context.Context, id string, now time.Time) (int, error) {
	c.mu.Lock()
	c.seen = append(c.seen, now)
	c.mu.Unlock()
	return c.Store.EnsureParticipants(ctx, id, now)
}

func TestRepairParticipants_UsesServiceClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, SendMessageInput{Token: "tok-1", Recipients: []string{"2"}})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	fixed := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	convs := &clockedConversations{Store: f.convs}
	svc, err := New(Deps{
		Identity:      f.users,
		Directory:     f.users,
		Conversations: convs,
		Messages:      f.msgs,
		Attachments:   f.files,
		Log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:         func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := svc.RepairParticipants(ctx, res.ConversationID); err != nil {
		t.Fatalf("RepairParticipants: %v", err)
	}
	if len(convs.seen) != 1 || !convs.seen[0].Equal(fixed) {
		t.Fatalf("EnsureParticipants saw %v want [%v]", convs.seen, fixed)
	}
}

func TestNotify(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Notify(context.Background(), Notification{UserID: "2", Type: "friend-request", Message: "hi", From: "1"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(out.Events) != 1 || out.Events[0].Room != "2" || out.Events[0].Name != "notification:2" {
		t.Fatalf("unexpected events: %+v", out.Events)
	}
	p := out.Events[0].Payload.(v1.NotificationPayload)
	if p.FromUsername != "user1" || p.Type != "friend-request" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	if _, err := f.svc.Notify(context.Background(), Notification{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

type recordingHub struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHub) Publish(userID, event string, payload any) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, Event{Room: userID, Name: event, Payload: payload})
	return 1
}

type panickyHub struct{}

func (panickyHub) Publish(string, string, any) int { panic("hub not initialized") }

type failingBus struct{ calls int }

func (b *failingBus) PublishMessageCreated(context.Context, eventbus.MessageCreated) error {
	b.calls++
	return errors.New("broker down")
}

func TestDispatcher(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := &recordingHub{}
	bus := &failingBus{}
	d := NewDispatcher(log, hub, bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.Dispatch(ctx, Outcome{
		Events:  popoutEvents("c1", "1", []string{"2"}),
		Created: &eventbus.MessageCreated{ConversationID: "c1"},
	})
	if len(hub.events) != 2 || hub.events[0].Room != "2" || hub.events[1].Room != "1" {
		t.Fatalf("unexpected published events: %+v", hub.events)
	}
	if bus.calls != 1 {
		t.Fatalf("expected the bus to be called once, got %d", bus.calls)
	}

	// Hub failures never escape.
	NewDispatcher(log, panickyHub{}, nil).Dispatch(context.Background(), Outcome{Events: []Event{{Room: "1", Name: "x"}}})
	var nilDispatcher *Dispatcher
	nilDispatcher.Dispatch(context.Background(), Outcome{})
}

func TestParseRecipients(t *testing.T) {
	cases := []struct {
		in   string
		want []string
		ok   bool
	}{
		{``, nil, true},
		{`[9]`, []string{"9"}, true},
		{`[{"id":9},"10",{"id":"11"}]`, []string{"9", "10", "11"}, true},
		{`7`, []string{"7"}, true},
		{`01HZX3J5B1`, []string{"01HZX3J5B1"}, true},
		{`[1.5]`, nil, false},
		{`[`, nil, false},
	}
	for _, tc := range cases {
		got, err := ParseRecipients(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("ParseRecipients(%q): ok=%v err=%v", tc.in, tc.ok, err)
		}
		if tc.ok && !slices.Equal(got, tc.want) {
			t.Fatalf("ParseRecipients(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseUserRef(t *testing.T) {
	cases := []struct {
		in, want string
		ok       bool
	}{
		{`12`, "12", true},
		{`"12"`, "12", true},
		{`{"id":12}`, "12", true},
		{`abc-123`, "abc-123", true},
		{` `, "", true},
		{`{"name":"x"}`, "", false},
		{`12 34`, "", false},
	}
	for _, tc := range cases {
		got, err := ParseUserRef(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("ParseUserRef(%q): ok=%v err=%v", tc.in, tc.ok, err)
		}
		if got != tc.want {
			t.Fatalf("ParseUserRef(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestErrorHelpers(t *testing.T) {
	err := storeErr("op", conversation.ErrNotFound, "conversation 1 not found")
	if Kind(err) != ErrNotFound || PublicMessage(err) != "conversation 1 not found" {
		t.Fatalf("unexpected mapping: kind=%v msg=%q", Kind(err), PublicMessage(err))
	}
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("cause must stay reachable")
	}
	if Kind(errors.New("x")) != ErrInternal || PublicMessage(errors.New("x")) != "internal error" {
		t.Fatalf("unknown errors must map to internal")
	}
	if Kind(storeErr("op", context.DeadlineExceeded, "")) != ErrInternal {
		t.Fatalf("timeouts must map to internal")
	}
}
