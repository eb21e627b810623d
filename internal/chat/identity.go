package chat

import "context"

// Identity is what a verified token resolves to. The core never sees credentials.
type Identity struct {
	Username string
	Email    string
}

// Verifier checks a bearer token. Any failure must wrap ErrAuthInvalid.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Directory looks up the persisted identity record of a user.
// A missing user is reported as ErrNotFound.
type Directory interface {
	FindByUsername(ctx context.Context, username string) (*Participant, error)
}
