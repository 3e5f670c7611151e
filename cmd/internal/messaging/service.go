package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"messenger/cmd/identity"
	"messenger/cmd/internal/attachment"
	"messenger/cmd/internal/conversation"
	"messenger/cmd/internal/eventbus"
	"messenger/cmd/internal/message"
)

const (
	DefaultStoreTimeout      = 5 * time.Second
	DefaultAttachmentTimeout = 30 * time.Second
)

// Deps are the collaborators of a Service. Directory and Attachments may be nil:
// without a Directory there is no user projection and no recipient check, without
// Attachments uploads are rejected.
type Deps struct {
	Identity      identity.Resolver
	Directory     identity.Directory
	Conversations conversation.Store
	Messages      message.Store
	Attachments   attachment.Store
	Policy        attachment.Policy
	Log           *slog.Logger

	Clock             func() time.Time
	StoreTimeout      time.Duration
	AttachmentTimeout time.Duration
}

// Service is safe for concurrent use.
type Service struct {
	identity      identity.Resolver
	directory     identity.Directory
	conversations conversation.Store
	messages      message.Store
	attachments   attachment.Store
	policy        attachment.Policy
	log           *slog.Logger

	now               func() time.Time
	storeTimeout      time.Duration
	attachmentTimeout time.Duration
}

// New validates deps and fills defaults.
func New(d Deps) (*Service, error) {
	if d.Identity == nil {
		return nil, errors.New("messaging: missing identity resolver")
	}
	if d.Conversations == nil || d.Messages == nil {
		return nil, errors.New("messaging: missing stores")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = DefaultStoreTimeout
	}
	if d.AttachmentTimeout <= 0 {
		d.AttachmentTimeout = DefaultAttachmentTimeout
	}
	if d.Policy.MaxFiles == 0 && d.Policy.MaxFileBytes == 0 && len(d.Policy.AllowedTypes) == 0 {
		d.Policy = attachment.DefaultPolicy()
	}
	return &Service{
		identity:          d.Identity,
		directory:         d.Directory,
		conversations:     d.Conversations,
		messages:          d.Messages,
		attachments:       d.Attachments,
		policy:            d.Policy,
		log:               d.Log,
		now:               d.Clock,
		storeTimeout:      d.StoreTimeout,
		attachmentTimeout: d.AttachmentTimeout,
	}, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *Service) clock() time.Time { return s.now().UTC() }

// ---- send ----

// SendMessageInput starts a new conversation with a first message.
type SendMessageInput struct {
	Token      string
	Recipients []string
	Title      *string
	Body       *string
	Files      []attachment.File
}

// SendResult is returned by SendMessage.
type SendResult struct {
	ConversationID string
	MessageID      string
	Outcome
}

// SendMessage resolves the caller, creates a conversation with the recipients, stores the
// attachments and the first message, and returns popout events for every recipient.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (SendResult, error) {
	const op = "messaging.SendMessage"

	p, err := s.identity.Resolve(ctx, strings.TrimSpace(in.Token))
	if err != nil {
		if identity.IsUnauthenticated(err) {
			return SendResult{}, opErr(op, ErrUnauthenticated, "no valid session", err)
		}
		return SendResult{}, opErr(op, ErrInternal, "", err)
	}
	if len(in.Recipients) == 0 {
		return SendResult{}, opErr(op, ErrInvalidArgument, "select at least one recipient before sending a message", nil)
	}

	recipients := conversation.NormalizeRecipients(p.UserID, in.Recipients)
	recipients, err = s.knownUsers(ctx, recipients)
	if err != nil {
		return SendResult{}, storeErr(op, err, "")
	}

	files, err := s.acceptFiles(in.Files)
	if err != nil {
		return SendResult{}, storeErr(op, err, "")
	}

	now := s.clock()

	sctx, cancel := s.storeCtx(ctx)
	conv, err := s.conversations.Create(sctx, conversation.CreateInput{
		CreatorID:    p.UserID,
		RecipientIDs: recipients,
		Title:        nonEmpty(in.Title),
		Now:          now,
	})
	cancel()
	if err != nil {
		return SendResult{}, storeErr(op, err, "")
	}

	atts, err := s.storeFiles(ctx, conv.ID, files)
	if err != nil {
		return SendResult{}, storeErr(op, err, "")
	}

	sctx, cancel = s.storeCtx(ctx)
	msg, err := s.messages.Append(sctx, message.AppendInput{
		ConversationID: conv.ID,
		SenderID:       &p.UserID,
		Body:           in.Body,
		Attachments:    atts,
		Now:            now,
	})
	cancel()
	if err != nil {
		return SendResult{}, storeErr(op, err, "")
	}

	s.log.Info("conversation.create",
		"conversation_id", conv.ID,
		"creator_id", p.UserID,
		"recipients", len(recipients),
		"is_group", conv.IsGroup,
		"attachments", len(atts),
	)

	return SendResult{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Outcome: Outcome{
			Events: popoutEvents(conv.ID, p.UserID, recipients),
			Created: &eventbus.MessageCreated{
				ConversationID:  conv.ID,
				MessageID:       msg.ID,
				SenderID:        p.UserID,
				RecipientIDs:    recipients,
				AttachmentCount: len(atts),
				NewConversation: true,
				CreatedAt:       msg.CreatedAt,
			},
		},
	}, nil
}

// SendTextInput appends a message to an existing conversation.
type SendTextInput struct {
	ConversationID string
	SenderID       string
	Body           *string
	Files          []attachment.File
}

// SendTextResult is returned by SendTextMessage.
type SendTextResult struct {
	MessageID string
	Outcome
}

// SendTextMessage appends to an existing conversation and notifies its current participants.
func (s *Service) SendTextMessage(ctx context.Context, in SendTextInput) (SendTextResult, error) {
	const op = "messaging.SendTextMessage"

	sender := strings.TrimSpace(in.SenderID)
	if sender == "" {
		return SendTextResult{}, opErr(op, ErrUnauthenticated, "user is not authenticated", nil)
	}

	sctx, cancel := s.storeCtx(ctx)
	conv, err := s.conversations.Get(sctx, strings.TrimSpace(in.ConversationID))
	cancel()
	if err != nil {
		return SendTextResult{}, storeErr(op, err, conversationNotFound(in.ConversationID))
	}

	files, err := s.acceptFiles(in.Files)
	if err != nil {
		return SendTextResult{}, storeErr(op, err, "")
	}
	atts, err := s.storeFiles(ctx, conv.ID, files)
	if err != nil {
		return SendTextResult{}, storeErr(op, err, "")
	}

	now := s.clock()

	sctx, cancel = s.storeCtx(ctx)
	defer cancel()

	msg, err := s.messages.Append(sctx, message.AppendInput{
		ConversationID: conv.ID,
		SenderID:       &sender,
		Body:           in.Body,
		Attachments:    atts,
		Now:            now,
	})
	if err != nil {
		return SendTextResult{}, storeErr(op, err, "")
	}

	// The message is stored; a failed touch only delays the conversation's move to the top.
	if err := s.conversations.Touch(sctx, conv.ID, now); err != nil {
		s.log.Warn("conversation.touch.fail", "conversation_id", conv.ID, "err", err)
	}

	// Every participant is notified, the sender included, so the sender's other sessions follow.
	fanout := conv.ParticipantIDs()
	recipients := make([]string, 0, len(fanout))
	for _, id := range fanout {
		if id != sender {
			recipients = append(recipients, id)
		}
	}

	s.log.Info("message.append", "conversation_id", conv.ID, "message_id", msg.ID, "sender_id", sender, "attachments", len(atts))

	return SendTextResult{
		MessageID: msg.ID,
		Outcome: Outcome{
			Events: popoutEvents(conv.ID, sender, fanout),
			Created: &eventbus.MessageCreated{
				ConversationID:  conv.ID,
				MessageID:       msg.ID,
				SenderID:        sender,
				RecipientIDs:    recipients,
				AttachmentCount: len(atts),
				CreatedAt:       msg.CreatedAt,
			},
		},
	}, nil
}

// knownUsers keeps the ids the directory knows, in order. Without a directory every id is kept.
func (s *Service) knownUsers(ctx context.Context, ids []string) ([]string, error) {
	if s.directory == nil || len(ids) == 0 {
		return ids, nil
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	users, err := s.directory.Users(sctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	if dropped := len(ids) - len(out); dropped > 0 {
		s.log.Info("conversation.recipients.unknown", "dropped", dropped)
	}
	return out, nil
}

func (s *Service) acceptFiles(files []attachment.File) ([]attachment.File, error) {
	if len(files) == 0 {
		return nil, nil
	}
	out, err := s.policy.Filter(files)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 && s.attachments == nil {
		return nil, errors.Join(attachment.ErrRejected, errors.New("attachments are disabled"))
	}
	return out, nil
}

// storeFiles writes files in order under the conversation namespace, within AttachmentTimeout overall.
func (s *Service) storeFiles(ctx context.Context, conversationID string, files []attachment.File) ([]message.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	actx, cancel := context.WithTimeout(ctx, s.attachmentTimeout)
	defer cancel()

	ns := attachment.Namespace(conversationID)
	out := make([]message.Attachment, 0, len(files))
	for _, f := range files {
		obj, err := s.attachments.Put(actx, ns, f)
		if err != nil {
			return nil, err
		}
		name, size := obj.Name, obj.Size
		out = append(out, message.Attachment{
			Type: obj.ContentType,
			URL:  obj.URL,
			Name: &name,
			Size: &size,
		})
	}
	return out, nil
}

// ---- reads ----

// ConversationView is a conversation with its creator and participant users projected.
type ConversationView struct {
	conversation.Conversation
	Creator *identity.User  `json:"creator,omitempty"`
	Users   []identity.User `json:"users"`
}

// ConversationPage is one page of ListConversations.
type ConversationPage struct {
	Conversations []ConversationView `json:"conversations"`
	Page          int                `json:"page"`
	PageSize      int                `json:"pageSize"`
	Total         int                `json:"total"`
}

// Between is the direct conversation of two users with its full history.
type Between struct {
	Conversation ConversationView  `json:"conversation"`
	Messages     []message.Message `json:"messages"`
}

// ListConversations returns the caller's visible conversations, newest first, 20 per page.
func (s *Service) ListConversations(ctx context.Context, userID string, page int) (ConversationPage, error) {
	const op = "messaging.ListConversations"

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	p, err := s.conversations.ListForUser(sctx, strings.TrimSpace(userID), page)
	if err != nil {
		return ConversationPage{}, storeErr(op, err, "")
	}
	views, err := s.project(sctx, p.Conversations)
	if err != nil {
		return ConversationPage{}, storeErr(op, err, "")
	}
	return ConversationPage{Conversations: views, Page: p.Page, PageSize: p.PageSize, Total: p.Total}, nil
}

// ListBlocked returns the caller's blocked conversations.
func (s *Service) ListBlocked(ctx context.Context, userID string) ([]ConversationView, error) {
	const op = "messaging.ListBlocked"

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	convs, err := s.conversations.ListBlocked(sctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, storeErr(op, err, "")
	}
	views, err := s.project(sctx, convs)
	if err != nil {
		return nil, storeErr(op, err, "")
	}
	return views, nil
}

// ListDeleted returns the soft-deleted conversations the caller created.
func (s *Service) ListDeleted(ctx context.Context, userID string) ([]ConversationView, error) {
	const op = "messaging.ListDeleted"

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	convs, err := s.conversations.ListDeleted(sctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, storeErr(op, err, "")
	}
	views, err := s.project(sctx, convs)
	if err != nil {
		return nil, storeErr(op, err, "")
	}
	return views, nil
}

// ConversationMessages returns the non-deleted messages of a conversation, oldest first.
// An unknown conversation yields an empty list.
func (s *Service) ConversationMessages(ctx context.Context, conversationID string) ([]message.Message, error) {
	const op = "messaging.ConversationMessages"

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msgs, err := s.messages.List(sctx, strings.TrimSpace(conversationID))
	if err != nil {
		return nil, storeErr(op, err, "")
	}
	if err := s.projectSenders(sctx, msgs); err != nil {
		return nil, storeErr(op, err, "")
	}
	return msgs, nil
}

// Participants returns the users of a conversation, in participant order.
func (s *Service) Participants(ctx context.Context, conversationID string) ([]identity.User, error) {
	const op = "messaging.Participants"

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	parts, err := s.conversations.Participants(sctx, strings.TrimSpace(conversationID))
	if err != nil {
		return nil, storeErr(op, err, conversationNotFound(conversationID))
	}
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.UserID)
	}
	if s.directory == nil {
		out := make([]identity.User, 0, len(ids))
		for _, id := range ids {
			out = append(out, identity.User{ID: id})
		}
		return out, nil
	}
	users, err := s.directory.Users(sctx, ids)
	if err != nil {
		return nil, storeErr(op, err, "")
	}
	return users, nil
}

// GetConversationBetween returns the direct conversation of a and b with its live messages.
func (s *Service) GetConversationBetween(ctx context.Context, a, b string) (Between, error) {
	const op = "messaging.GetConversationBetween"

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	conv, err := s.conversations.FindDirectBetween(sctx, strings.TrimSpace(a), strings.TrimSpace(b))
	if err != nil {
		return Between{}, storeErr(op, err, "no conversation found between these users")
	}
	msgs, err := s.messages.List(sctx, conv.ID)
	if err != nil {
		return Between{}, storeErr(op, err, "")
	}
	if err := s.projectSenders(sctx, msgs); err != nil {
		return Between{}, storeErr(op, err, "")
	}
	views, err := s.project(sctx, []conversation.Conversation{conv})
	if err != nil {
		return Between{}, storeErr(op, err, "")
	}
	return Between{Conversation: views[0], Messages: msgs}, nil
}

// project attaches creator and participant users with one directory lookup.
func (s *Service) project(ctx context.Context, convs []conversation.Conversation) ([]ConversationView, error) {
	out := make([]ConversationView, len(convs))
	for i, c := range convs {
		out[i] = ConversationView{Conversation: c, Users: []identity.User{}}
	}
	if s.directory == nil || len(convs) == 0 {
		return out, nil
	}

	var ids []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, c := range convs {
		add(c.CreatorID)
		for _, p := range c.Participants {
			add(p.UserID)
		}
	}

	byID, err := s.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if u, ok := byID[out[i].CreatorID]; ok {
			out[i].Creator = &u
		}
		for _, p := range out[i].Participants {
			if u, ok := byID[p.UserID]; ok {
				out[i].Users = append(out[i].Users, u)
			}
		}
	}
	return out, nil
}

// projectSenders fills Message.Sender for senders that still exist.
func (s *Service) projectSenders(ctx context.Context, msgs []message.Message) error {
	if s.directory == nil || len(msgs) == 0 {
		return nil
	}
	var ids []string
	seen := make(map[string]struct{})
	for _, m := range msgs {
		if m.SenderID == nil {
			continue
		}
		if _, ok := seen[*m.SenderID]; !ok {
			seen[*m.SenderID] = struct{}{}
			ids = append(ids, *m.SenderID)
		}
	}
	byID, err := s.usersByID(ctx, ids)
	if err != nil {
		return err
	}
	for i := range msgs {
		if msgs[i].SenderID == nil {
			continue
		}
		if u, ok := byID[*msgs[i].SenderID]; ok {
			msgs[i].Sender = &u
		}
	}
	return nil
}

func (s *Service) usersByID(ctx context.Context, ids []string) (map[string]identity.User, error) {
	if len(ids) == 0 {
		return map[string]identity.User{}, nil
	}
	users, err := s.directory.Users(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]identity.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID, nil
}

// ---- lifecycle ----

// DeleteConversation soft-deletes a conversation.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	return s.mutateConversation(ctx, "messaging.DeleteConversation", "conversation.delete", id, s.conversations.SoftDelete)
}

// BlockConversation hides a conversation from the normal list.
func (s *Service) BlockConversation(ctx context.Context, id string) error {
	return s.mutateConversation(ctx, "messaging.BlockConversation", "conversation.block", id, s.conversations.Block)
}

// UnblockConversation clears the blocked flag. A deleted conversation stays deleted.
func (s *Service) UnblockConversation(ctx context.Context, id string) error {
	return s.mutateConversation(ctx, "messaging.UnblockConversation", "conversation.unblock", id, s.conversations.Unblock)
}

func (s *Service) mutateConversation(ctx context.Context, op, event, id string, fn func(context.Context, string, time.Time) error) error {
	id = strings.TrimSpace(id)
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := fn(sctx, id, s.clock()); err != nil {
		return storeErr(op, err, conversationNotFound(id))
	}
	s.log.Info(event, "conversation_id", id)
	return nil
}

// DeleteMessage soft-deletes a message. Its attachment files are kept.
func (s *Service) DeleteMessage(ctx context.Context, id string) error {
	const op = "messaging.DeleteMessage"

	id = strings.TrimSpace(id)
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.messages.SoftDelete(sctx, id, s.clock()); err != nil {
		return storeErr(op, err, "message not found")
	}
	s.log.Info("message.delete", "message_id", id)
	return nil
}

func conversationNotFound(id string) string {
	return "conversation " + strings.TrimSpace(id) + " not found"
}

func nonEmpty(p *string) *string {
	if p == nil || strings.TrimSpace(*p) == "" {
		return nil
	}
	return p
}
