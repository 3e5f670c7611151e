package messaging

import (
	"context"
	"errors"

	"messenger/cmd/identity"
	"messenger/cmd/internal/attachment"
	"messenger/cmd/internal/conversation"
	"messenger/cmd/internal/message"
)

// Sentinel error kinds (stable for errors.Is and for mapping to HTTP status codes).
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidArgument = errors.New("invalid_argument")
	ErrNotFound        = errors.New("not_found")
	ErrInternal        = errors.New("internal")
)

// OpError is a typed operation error. Msg is safe to show to the caller; Err is the cause
// and is only logged.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *OpError) Error() string {
	s := e.Op + ": " + e.Kind.Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opErr(op string, kind error, msg string, cause error) error {
	return &OpError{Op: op, Kind: kind, Msg: msg, Err: cause}
}

// Kind returns the sentinel kind of err, defaulting to ErrInternal.
func Kind(err error) error {
	for _, k := range []error{ErrUnauthenticated, ErrInvalidArgument, ErrNotFound, ErrInternal} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// PublicMessage returns the caller-facing text of err.
func PublicMessage(err error) string {
	var oe *OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	switch Kind(err) {
	case ErrUnauthenticated:
		return "not authenticated"
	case ErrInvalidArgument:
		return "invalid request"
	case ErrNotFound:
		return "not found"
	default:
		return "internal error"
	}
}

// storeErr maps a store error: not-found is preserved, a rejected upload is the caller's fault,
// everything else (timeouts included) is internal.
func storeErr(op string, err error, notFoundMsg string) error {
	switch {
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, message.ErrNotFound), errors.Is(err, identity.ErrNotFound):
		return opErr(op, ErrNotFound, notFoundMsg, err)
	case errors.Is(err, attachment.ErrRejected):
		return opErr(op, ErrInvalidArgument, "attachment rejected", err)
	case errors.Is(err, context.DeadlineExceeded):
		return opErr(op, ErrInternal, "timed out", err)
	default:
		return opErr(op, ErrInternal, "", err)
	}
}
