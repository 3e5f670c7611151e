package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"messenger/cmd/identity"
	"messenger/cmd/internal/attachment"
	"messenger/cmd/internal/messaging"
	"messenger/cmd/security/token"
)

const (
	// NotifyKeyHeader carries the shared key of internal notification producers.
	NotifyKeyHeader = "X-Notify-Key"
	// IdempotencyKeyHeader lets clients retry a send without creating a second conversation.
	IdempotencyKeyHeader = "Idempotency-Key"

	maxJSONBytes     = 64 << 10
	multipartMemory  = 8 << 20
	multipartOverrun = 1 << 20
)

// IdempotencyGuard claims a key once; Release gives it back after a failed request.
type IdempotencyGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// RateGuard counts requests per key inside a window.
type RateGuard interface {
	Allow(ctx context.Context, key string) (bool, int64, error)
}

// Dispatcher delivers the side effects of a successful operation.
type Dispatcher interface {
	Dispatch(ctx context.Context, out messaging.Outcome)
}

// Handler wires the messaging HTTP endpoints to a messaging.Service.
type Handler struct {
	log      *slog.Logger
	svc      *messaging.Service
	disp     Dispatcher
	resolver identity.Resolver
	policy   attachment.Policy

	idem       IdempotencyGuard
	limiter    RateGuard
	retryAfter time.Duration
	notifyKey  string
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithIdempotency enables Idempotency-Key handling on POST /message/send.
func WithIdempotency(g IdempotencyGuard) HandlerOption {
	return func(h *Handler) {
		if h == nil || g == nil {
			return
		}
		h.idem = g
	}
}

// WithRateLimit limits sends per caller; retryAfter is reported on 429.
func WithRateLimit(g RateGuard, retryAfter time.Duration) HandlerOption {
	return func(h *Handler) {
		if h == nil || g == nil {
			return
		}
		h.limiter = g
		h.retryAfter = retryAfter
	}
}

// WithNotifyKey lets internal producers post notifications with a shared key instead of a session.
func WithNotifyKey(key string) HandlerOption {
	return func(h *Handler) {
		if h == nil {
			return
		}
		h.notifyKey = strings.TrimSpace(key)
	}
}

// WithPolicy sizes the multipart limits after the upload policy.
func WithPolicy(p attachment.Policy) HandlerOption {
	return func(h *Handler) {
		if h == nil {
			return
		}
		h.policy = p
	}
}

// NewHandler constructs a Handler. disp may be nil, in which case nothing is delivered live.
func NewHandler(log *slog.Logger, svc *messaging.Service, disp Dispatcher, resolver identity.Resolver, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("httpapi: nil messaging service")
	}
	if resolver == nil {
		return nil, errors.New("httpapi: nil identity resolver")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		svc:      svc,
		disp:     disp,
		resolver: resolver,
		policy:   attachment.DefaultPolicy(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires the messaging routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /message/send", h.handleSend)
	mux.HandleFunc("GET /message/get/conversations/{userId}", h.handleListConversations)
	mux.HandleFunc("GET /message/blocked/conversations/{userId}", h.handleListBlocked)
	mux.HandleFunc("GET /message/get/deleted/messages/{userId}", h.handleListDeleted)
	mux.HandleFunc("DELETE /message/delete/conversation/{conversationId}", h.handleDeleteConversation)
	mux.HandleFunc("POST /message/unblock/conversation/{conversationId}", h.handleUnblockConversation)
	mux.HandleFunc("GET /message/undelete/conversation/{conversationId}", h.handleUnblockConversation)
	mux.HandleFunc("GET /message/get/messages/{conversationId}", h.handleConversationMessages)
	mux.HandleFunc("DELETE /message/delete/{messageId}", h.handleDeleteMessage)
	mux.HandleFunc("POST /message/send/text/{conversationId}", h.handleSendText)
	mux.HandleFunc("POST /message/block/conversation/{conversationId}", h.handleBlockConversation)
	mux.HandleFunc("GET /message/get/participants/{conversationId}", h.handleParticipants)
	mux.HandleFunc("GET /message/get/conversation-between/{userA}/{userB}", h.handleConversationBetween)
	mux.HandleFunc("POST /notification/notify", h.handleNotify)
}

// ---- send ----

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", "could not read the request form")
		return
	}
	defer form.close()

	tok := identity.TokenFromRequest(r)
	guardKey := "send:" + callerKey(tok)

	if h.limiter != nil && tok != "" {
		ok, _, err := h.limiter.Allow(r.Context(), guardKey)
		switch {
		case err != nil:
			h.log.Warn("message.send.rate_limit.error", "err", err)
		case !ok:
			writeRateLimited(w, h.retryAfter)
			return
		}
	}

	idemKey := ""
	if k := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); k != "" && h.idem != nil && tok != "" {
		idemKey = guardKey + ":" + k
		fresh, err := h.idem.Claim(r.Context(), idemKey)
		switch {
		case err != nil:
			h.log.Warn("message.send.idempotency.error", "err", err)
			idemKey = ""
		case !fresh:
			writeError(w, http.StatusConflict, "duplicate_request", "this request was already processed")
			return
		}
	}

	recipients, err := messaging.ParseRecipients(form.recipients())
	if err != nil {
		h.release(r.Context(), idemKey)
		writeError(w, http.StatusBadRequest, "invalid_recipients", "recipients must be a list of user ids")
		return
	}

	res, err := h.svc.SendMessage(r.Context(), messaging.SendMessageInput{
		Token:      tok,
		Recipients: recipients,
		Title:      form.optional("title"),
		Body:       form.optional("body"),
		Files:      form.files,
	})
	if err != nil {
		h.release(r.Context(), idemKey)
		h.writeServiceError(w, r, err)
		return
	}

	h.dispatch(r.Context(), res.Outcome)
	writeJSON(w, http.StatusOK, sendResponse{
		Message:        "Message sent successfully!",
		ConversationID: res.ConversationID,
		MessageID:      res.MessageID,
	})
}

func (h *Handler) handleSendText(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", "could not read the request form")
		return
	}
	defer form.close()

	sender, ok := h.senderFor(w, r, form.value("fk_user_id"))
	if !ok {
		return
	}

	res, err := h.svc.SendTextMessage(r.Context(), messaging.SendTextInput{
		ConversationID: r.PathValue("conversationId"),
		SenderID:       sender,
		Body:           form.optional("body"),
		Files:          form.files,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.dispatch(r.Context(), res.Outcome)
	writeJSON(w, http.StatusOK, sendResponse{Message: "Message sent successfully!", MessageID: res.MessageID})
}

// senderFor picks the sender of a text message. A valid session wins and must agree with
// fk_user_id when both are present; without a session the form field is trusted.
func (h *Handler) senderFor(w http.ResponseWriter, r *http.Request, rawRef string) (string, bool) {
	ref, err := messaging.ParseUserRef(rawRef)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", "fk_user_id is not a user id")
		return "", false
	}

	tok := identity.TokenFromRequest(r)
	if tok == "" {
		return ref, true
	}
	p, err := h.resolver.Resolve(r.Context(), tok)
	if err != nil {
		if identity.IsUnauthenticated(err) {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "no valid session")
			return "", false
		}
		h.log.Error("message.send_text.resolve.error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return "", false
	}
	if ref != "" && ref != p.UserID {
		writeError(w, http.StatusUnauthorized, "user_mismatch", "fk_user_id does not match the session")
		return "", false
	}
	return p.UserID, true
}

// ---- reads ----

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page = n
		}
	}
	res, err := h.svc.ListConversations(r.Context(), r.PathValue("userId"), page)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListBlocked(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListDeleted(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListDeleted(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ConversationMessages(r.Context(), r.PathValue("conversationId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleParticipants(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Participants(r.Context(), r.PathValue("conversationId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleConversationBetween(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetConversationBetween(r.Context(), r.PathValue("userA"), r.PathValue("userB"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---- mutations ----

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.DeleteConversation, r.PathValue("conversationId"), "Conversation deleted successfully.")
}

func (h *Handler) handleBlockConversation(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.BlockConversation, r.PathValue("conversationId"), "Conversation blocked successfully.")
}

func (h *Handler) handleUnblockConversation(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.UnblockConversation, r.PathValue("conversationId"), "Conversation restored successfully.")
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.DeleteMessage, r.PathValue("messageId"), "Message deleted successfully.")
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error, id, okMsg string) {
	if err := fn(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: okMsg})
}

// ---- notifications ----

func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	if !h.notifyAllowed(w, r) {
		return
	}

	var n messaging.Notification
	if err := decodeJSON(w, r, maxJSONBytes, &n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	out, err := h.svc.Notify(r.Context(), n)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.dispatch(r.Context(), out)
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Notification queued."})
}

// notifyAllowed accepts the shared notify key when one is configured, otherwise any valid session.
func (h *Handler) notifyAllowed(w http.ResponseWriter, r *http.Request) bool {
	if h.notifyKey != "" {
		got := strings.TrimSpace(r.Header.Get(NotifyKeyHeader))
		if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(h.notifyKey)) == 1 {
			return true
		}
	}
	tok := identity.TokenFromRequest(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no valid session")
		return false
	}
	if _, err := h.resolver.Resolve(r.Context(), tok); err != nil {
		if identity.IsUnauthenticated(err) {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "no valid session")
			return false
		}
		h.log.Error("notification.notify.resolve.error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return false
	}
	return true
}

// ---- helpers ----

func (h *Handler) dispatch(ctx context.Context, out messaging.Outcome) {
	if h.disp == nil {
		return
	}
	h.disp.Dispatch(ctx, out)
}

func (h *Handler) release(ctx context.Context, key string) {
	if key == "" || h.idem == nil {
		return
	}
	if err := h.idem.Release(context.WithoutCancel(ctx), key); err != nil {
		h.log.Warn("message.send.idempotency.release_failed", "err", err)
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := messaging.Kind(err)
	status, code := statusFor(kind)
	if status >= 500 {
		h.log.Error("messaging.request.error", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		h.log.Debug("messaging.request.rejected", "method", r.Method, "path", r.URL.Path, "code", code, "err", err)
	}
	writeError(w, status, code, messaging.PublicMessage(err))
}

func statusFor(kind error) (int, string) {
	switch {
	case errors.Is(kind, messaging.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(kind, messaging.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(kind, messaging.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// callerKey keys per-caller guards without keeping raw tokens in Redis.
func callerKey(tok string) string {
	if tok == "" {
		return "anonymous"
	}
	return token.HashSessionTokenHex(tok)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many messages, slow down")
}
