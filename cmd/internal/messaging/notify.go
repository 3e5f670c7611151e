package messaging

import (
	"context"
	"strings"

	"messenger/cmd/identity"
	v1 "messenger/shared/contracts/realtime/v1"
)

// Notification is an activity notice for one user (friend request, generic notice).
type Notification struct {
	UserID       string `json:"userId"`
	Type         string `json:"type"`
	Message      string `json:"message"`
	From         string `json:"from,omitempty"`
	FromUsername string `json:"fromUsername,omitempty"`
}

// Notify builds the notification:{userId} event for n. When From is set without a username
// the directory fills it in; a failed lookup only leaves it empty.
func (s *Service) Notify(ctx context.Context, n Notification) (Outcome, error) {
	const op = "messaging.Notify"

	n.UserID = strings.TrimSpace(n.UserID)
	if n.UserID == "" {
		return Outcome{}, opErr(op, ErrInvalidArgument, "missing userId", nil)
	}
	if strings.TrimSpace(n.Type) == "" {
		n.Type = "notification"
	}

	if n.From != "" && n.FromUsername == "" && s.directory != nil {
		sctx, cancel := s.storeCtx(ctx)
		u, err := identity.UserByID(sctx, s.directory, n.From)
		cancel()
		if err == nil {
			n.FromUsername = u.Username
		}
	}

	return Outcome{Events: []Event{{
		Room: n.UserID,
		Name: v1.NotificationType(n.UserID),
		Payload: v1.NotificationPayload{
			Type:         n.Type,
			Message:      n.Message,
			From:         n.From,
			FromUsername: n.FromUsername,
		},
	}}}, nil
}
