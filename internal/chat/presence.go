package chat

import "sync"

// Presence maps each username to its single live connection.
// A later Register for the same user wins; the earlier connection is left open.
type Presence struct {
	mu     sync.RWMutex
	byUser map[string]string
	byConn map[string]string
}

func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Register returns the connection id it replaced, if any.
func (p *Presence) Register(username, connID string) (prev string, replaced bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, replaced = p.byUser[username]
	if replaced {
		delete(p.byConn, prev)
	}
	p.byUser[username] = connID
	p.byConn[connID] = username
	return prev, replaced && prev != connID
}

// Unregister removes the entry whose value is connID. A connection that was
// superseded, or never registered, is a no-op.
func (p *Presence) Unregister(connID string) (username string, removed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	username, ok := p.byConn[connID]
	if !ok {
		return "", false
	}
	delete(p.byConn, connID)
	if p.byUser[username] == connID {
		delete(p.byUser, username)
	}
	return username, true
}

func (p *Presence) Lookup(username string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byUser[username]
	return id, ok
}

func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser)
}
