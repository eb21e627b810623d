package chat

import "github.com/suPer8Hu/chat-platform/internal/common"

// Resolver picks the thread a message belongs to. It never consults the
// store: a given id is trusted, an empty one gets a fresh ULID. Two concurrent
// first messages between the same pair therefore open two threads.
type Resolver struct {
	newID func() (string, error)
}

func NewResolver() *Resolver {
	return &Resolver{newID: common.NewULID}
}

func (r *Resolver) Resolve(existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	return r.newID()
}
