// Package eventbus carries integration events between this service and the rest of the platform
// over Kafka. It never carries realtime fan-out between instances of this service.
package eventbus

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Default topics.
const (
	TopicMessageCreated = "messenger.message.created"
	TopicNotifications  = "messenger.notifications"
)

// MessageCreated is emitted after a message is stored.
type MessageCreated struct {
	ConversationID  string    `json:"conversationId"`
	MessageID       string    `json:"messageId"`
	SenderID        string    `json:"senderId"`
	RecipientIDs    []string  `json:"recipientIds"`
	AttachmentCount int       `json:"attachmentCount"`
	NewConversation bool      `json:"newConversation"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Notification is consumed from other services (friend requests, activity notices)
// and delivered to the user's live connections.
type Notification struct {
	UserID       string `json:"userId"`
	Type         string `json:"type"`
	Message      string `json:"message"`
	From         string `json:"from,omitempty"`
	FromUsername string `json:"fromUsername,omitempty"`
}

// DecodeNotification parses a notifications topic value.
func DecodeNotification(value []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(value, &n); err != nil {
		return Notification{}, err
	}
	n.UserID = strings.TrimSpace(n.UserID)
	if n.UserID == "" {
		return Notification{}, errors.New("notification without userId")
	}
	return n, nil
}
