package identity

import "context"

// User is the read-only projection of an account used in conversation responses.
type User struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	ProfileImage *string `json:"profileImage"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
}

// Resolver maps an opaque request token to a Principal.
// Implementations return an error wrapping ErrUnauthenticated for unknown, expired or malformed tokens.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Principal, error)
}

// Directory looks up users by id.
// Users returns the users that exist, in the order of ids; unknown ids are skipped.
type Directory interface {
	Users(ctx context.Context, ids []string) ([]User, error)
}

// UserByID is a convenience over Directory for a single lookup.
func UserByID(ctx context.Context, d Directory, id string) (User, error) {
	users, err := d.Users(ctx, []string{id})
	if err != nil {
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, OpError{Op: "identity.UserByID", Kind: ErrNotFound, Msg: id}
	}
	return users[0], nil
}
