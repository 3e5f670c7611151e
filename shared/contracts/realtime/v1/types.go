// Package v1 defines the realtime delivery protocol spoken on /ws.
//
// Every frame is an Envelope. Clients send register-user and user-update;
// the server sends acks, popout updates, notifications and errors.
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeRegisterUser joins the connection to the user:{id} room (client -> server).
	TypeRegisterUser = "register-user"
	// TypeRegisterUserConfirmed acknowledges register-user (server -> client).
	TypeRegisterUserConfirmed = "register-user-confirmed"

	// TypeUserUpdate is relayed to the fromUserId and toUserId rooms (client -> server),
	// and is also the event carrying the messenger popout (server -> client).
	TypeUserUpdate = "user-update"
	// TypeUserUpdateConfirmed acknowledges a relayed user-update (server -> client).
	TypeUserUpdateConfirmed = "user-update-confirmed"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// NotificationPrefix prefixes per-user notification events: "notification:{userId}".
const NotificationPrefix = "notification:"

// NotificationType returns the event name for notifications addressed to userID.
func NotificationType(userID string) string { return NotificationPrefix + userID }

// PopoutType is the user-update payload type that opens the messenger popout.
const PopoutType = "open-messenger-popout"

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks an inbound (client -> server) envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case TypeRegisterUser, TypeUserUpdate:
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// UserRef is a user id that decodes from a JSON string, a JSON number or an object with an "id" field.
// Legacy clients send all three shapes.
type UserRef string

func (u *UserRef) UnmarshalJSON(b []byte) error {
	id, err := parseUserRef(b)
	if err != nil {
		return err
	}
	*u = UserRef(id)
	return nil
}

// String returns the id.
func (u UserRef) String() string { return string(u) }

func parseUserRef(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	case '{':
		var obj struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return "", err
		}
		if len(obj.ID) == 0 || obj.ID[0] == '{' {
			return "", errors.New("user reference object without scalar id")
		}
		return parseUserRef(obj.ID)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return "", fmt.Errorf("invalid user reference: %s", b)
		}
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return "", fmt.Errorf("user id must be an integer: %s", n)
		}
		return strconv.FormatInt(i, 10), nil
	}
}

// ---- Payloads ----

// RegisterUserPayload requests membership in the caller's user room.
type RegisterUserPayload struct {
	UserID UserRef `json:"userId"`
}

// RegisterUserConfirmedPayload is the register-user ack. Status is "ok" or "error".
type RegisterUserConfirmedPayload struct {
	UserID  string `json:"userId,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// UserUpdateAddressing is the part of a user-update payload the server routes on.
// The full payload is relayed untouched.
type UserUpdateAddressing struct {
	FromUserID UserRef `json:"fromUserId"`
	ToUserID   UserRef `json:"toUserId"`
}

// UserUpdateConfirmedPayload acks a relayed user-update with the original data.
type UserUpdateConfirmedPayload struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// PopoutPayload asks a client to open the messenger popout for a conversation.
type PopoutPayload struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	FromUserID     string `json:"fromUserId"`
	ToUserID       string `json:"toUserId"`
	ShowPopout     bool   `json:"showPopout"`
}

// NotificationPayload is sent as notification:{userId}.
type NotificationPayload struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	From         string `json:"from,omitempty"`
	FromUsername string `json:"fromUsername,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
