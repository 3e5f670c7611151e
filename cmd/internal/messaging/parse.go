package messaging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	v1 "messenger/shared/contracts/realtime/v1"
)

// ParseRecipients decodes a recipients form value. It accepts a JSON array whose elements are
// numbers, strings or {"id": ...} objects, a single such value, or a bare id.
// An empty input yields no recipients.
func ParseRecipients(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if raw[0] != '[' {
		id, err := ParseUserRef(raw)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, nil
		}
		return []string{id}, nil
	}

	var refs []v1.UserRef
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, opErr("messaging.ParseRecipients", ErrInvalidArgument, "recipients must be a list of user ids", err)
	}
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if id := r.String(); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

// ParseUserRef decodes a single user reference: a JSON number, a JSON string, an {"id": ...}
// object, or a bare id such as a ULID.
func ParseUserRef(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	var ref v1.UserRef
	err := json.Unmarshal([]byte(raw), &ref)
	if err == nil {
		return ref.String(), nil
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) && isBareID(raw) {
		return raw, nil
	}
	return "", opErr("messaging.ParseUserRef", ErrInvalidArgument, fmt.Sprintf("invalid user id %q", raw), err)
}

// isBareID accepts unquoted ids made of letters, digits, '-' and '_'.
func isBareID(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	return bytes.IndexFunc([]byte(s), func(r rune) bool {
		return !(r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	}) < 0
}
