package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle position of one connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	default:
		return "disconnected"
	}
}

type session struct {
	conn     Conn
	state    State
	username string
	threads  map[string]struct{}
}

// Router binds verified identities to live connections, persists messages
// and fans them out to whichever participants are online.
type Router struct {
	verifier  Verifier
	directory Directory
	presence  *Presence
	resolver  *Resolver
	store     Store
	publisher EventPublisher
	observer  PresenceObserver
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
	// thread id -> joined connection ids
	groups map[string]map[string]struct{}
}

type Option func(*Router)

func WithPublisher(p EventPublisher) Option {
	return func(r *Router) { r.publisher = p }
}

func WithPresenceObserver(o PresenceObserver) Option {
	return func(r *Router) { r.observer = o }
}

func NewRouter(v Verifier, d Directory, p *Presence, res *Resolver, s Store, opts ...Option) *Router {
	if p == nil {
		p = NewPresence()
	}
	if res == nil {
		res = NewResolver()
	}
	r := &Router{
		verifier:  v,
		directory: d,
		presence:  p,
		resolver:  res,
		store:     s,
		now:       time.Now,
		sessions:  make(map[string]*session),
		groups:    make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Presence() *Presence { return r.presence }

// State reports the lifecycle state of connID; unknown connections are disconnected.
func (r *Router) State(connID string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[connID]; ok {
		return s.state
	}
	return StateDisconnected
}

// HandleConnect authenticates a fresh connection. On failure the client gets
// error_message and the connection is closed; it never becomes active.
func (r *Router) HandleConnect(ctx context.Context, conn Conn) error {
	id := conn.ID()

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: connection %s already known", ErrProtocolMisuse, id)
	}
	s := &session{conn: conn, state: StateConnecting, threads: make(map[string]struct{})}
	r.sessions[id] = s
	s.state = StateAuthenticating
	r.mu.Unlock()

	ident, err := r.verifier.Verify(ctx, conn.Token())
	if err != nil {
		if !errors.Is(err, ErrAuthInvalid) {
			err = fmt.Errorf("%w: %v", ErrAuthInvalid, err)
		}
		log.Printf("[Router.HandleConnect] auth failed conn=%s err=%v", id, err)
		r.emit(conn, EventErrorMessage, ErrorPayload{Message: "Failed to authenticate connection", Error: err.Error()})
		r.apply(ctx, handshakePolicy(err), conn)
		return err
	}

	r.mu.Lock()
	if s.state != StateAuthenticating {
		// disconnected while verifying
		r.mu.Unlock()
		return fmt.Errorf("%w: connection %s closed during handshake", ErrProtocolMisuse, id)
	}
	s.state = StateActive
	s.username = ident.Username
	prev, replaced := r.presence.Register(ident.Username, id)
	r.mu.Unlock()

	if replaced {
		log.Printf("[Router.HandleConnect] user=%s superseded conn=%s", ident.Username, prev)
	}
	log.Printf("[Router.HandleConnect] user=%s connected conn=%s", ident.Username, id)

	if r.observer != nil {
		if err := r.observer.Online(ctx, ident.Username, id); err != nil {
			log.Printf("[Router.HandleConnect] presence mirror failed user=%s err=%v", ident.Username, err)
		}
	}
	return nil
}

// HandleDisconnect is idempotent. It only drops the presence entry when that
// entry still points at connID.
func (r *Router) HandleDisconnect(ctx context.Context, connID string) {
	r.mu.Lock()
	s, ok := r.sessions[connID]
	if !ok || s.state == StateDisconnected {
		r.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	delete(r.sessions, connID)
	for threadID := range s.threads {
		r.leaveLocked(threadID, connID)
	}
	username, removed := r.presence.Unregister(connID)
	r.mu.Unlock()

	log.Printf("[Router.HandleDisconnect] conn=%s user=%s", connID, s.username)

	if removed && r.observer != nil {
		if err := r.observer.Offline(ctx, username, connID); err != nil {
			log.Printf("[Router.HandleDisconnect] presence mirror failed user=%s err=%v", username, err)
		}
	}
}

// Join subscribes the connection to the delivery group of threadID.
func (r *Router) Join(ctx context.Context, connID, threadID string) error {
	threadID = strings.TrimSpace(threadID)

	r.mu.Lock()
	s, ok := r.sessions[connID]
	if !ok || s.state != StateActive {
		r.mu.Unlock()
		return r.misuse(ctx, s, "join_chat before authentication")
	}
	if threadID == "" {
		r.mu.Unlock()
		return r.misuse(ctx, s, "thread_id required")
	}
	members, ok := r.groups[threadID]
	if !ok {
		members = make(map[string]struct{})
		r.groups[threadID] = members
	}
	members[connID] = struct{}{}
	s.threads[threadID] = struct{}{}
	conn := s.conn
	r.mu.Unlock()

	r.emit(conn, EventJoinedChat, JoinedPayload{ThreadID: threadID})
	return nil
}

// Send re-verifies the connection's token, persists the message and delivers
// the thread history to the sender and, when online, the receiver.
func (r *Router) Send(ctx context.Context, connID string, req SendRequest) (*Message, error) {
	conn, ok := r.activeConn(connID)
	if !ok {
		return nil, r.misuse(ctx, r.sessionOf(connID), "send_message before authentication")
	}

	ident, err := r.verifier.Verify(ctx, conn.Token())
	if err != nil {
		if !errors.Is(err, ErrAuthInvalid) {
			err = fmt.Errorf("%w: %v", ErrAuthInvalid, err)
		}
		r.fail(ctx, conn, err)
		return nil, err
	}

	msg, err := r.dispatch(ctx, ident, req, conn)
	if err != nil {
		r.fail(ctx, conn, err)
		return nil, err
	}
	return msg, nil
}

// SendAs runs the send pipeline for an already verified identity without an
// originating connection; the sender's live connection, if any, gets the events.
func (r *Router) SendAs(ctx context.Context, ident Identity, req SendRequest) (*Message, error) {
	return r.dispatch(ctx, ident, req, nil)
}

func (r *Router) dispatch(ctx context.Context, ident Identity, req SendRequest, origin Conn) (*Message, error) {
	// content is stored exactly as sent
	req.ReceiverUsername = strings.TrimSpace(req.ReceiverUsername)
	req.ThreadID = strings.TrimSpace(req.ThreadID)
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content required", ErrProtocolMisuse)
	}
	if len(req.ThreadID) > MaxThreadIDLen {
		return nil, fmt.Errorf("%w: thread_id longer than %d", ErrProtocolMisuse, MaxThreadIDLen)
	}

	sender, err := r.directory.FindByUsername(ctx, ident.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSenderNotFound, ident.Username)
		}
		return nil, err
	}

	receiver, err := r.directory.FindByUsername(ctx, req.ReceiverUsername)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrReceiverNotFound, req.ReceiverUsername)
		}
		return nil, err
	}

	threadID, err := r.resolver.Resolve(req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("resolve thread: %w", err)
	}

	msg := &Message{
		ThreadID: threadID,
		Sender:   *sender,
		Receiver: *receiver,
		Content:  req.Content,
	}
	if err := r.store.Append(ctx, msg); err != nil {
		return nil, err
	}
	r.publish(ctx, messageCreated(msg))

	if origin == nil {
		origin = r.connFor(sender.Username)
	}
	if req.ThreadID == "" {
		log.Printf("[Router.Send] new thread=%s %s <--> %s", threadID, sender.Username, receiver.Username)
		r.emit(origin, EventChatCreated, ChatCreatedPayload{Message: msg})
	}

	history, err := r.store.History(ctx, threadID)
	if err != nil {
		return nil, err
	}
	r.emit(origin, EventMessageData, history)

	if target := r.connFor(receiver.Username); target != nil && target != origin {
		r.emit(target, EventMessageData, history)
	}
	return msg, nil
}

// MarkRead stamps the thread read for the connection's user and tells the
// thread's delivery group.
func (r *Router) MarkRead(ctx context.Context, connID, threadID string) (int64, error) {
	conn, ok := r.activeConn(connID)
	if !ok {
		return 0, r.misuse(ctx, r.sessionOf(connID), "mark_read before authentication")
	}
	ident, err := r.verifier.Verify(ctx, conn.Token())
	if err != nil {
		if !errors.Is(err, ErrAuthInvalid) {
			err = fmt.Errorf("%w: %v", ErrAuthInvalid, err)
		}
		r.fail(ctx, conn, err)
		return 0, err
	}
	n, err := r.MarkReadAs(ctx, ident, threadID)
	if err != nil {
		r.fail(ctx, conn, err)
		return 0, err
	}
	return n, nil
}

func (r *Router) MarkReadAs(ctx context.Context, ident Identity, threadID string) (int64, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return 0, fmt.Errorf("%w: thread_id required", ErrProtocolMisuse)
	}
	at := r.now().UTC()
	n, err := r.store.MarkRead(ctx, threadID, ident.Username, at)
	if err != nil {
		return 0, err
	}

	r.publish(ctx, Event{Type: EventTypeThreadRead, ThreadID: threadID, Username: ident.Username, At: at})

	payload := MessagesReadPayload{ThreadID: threadID, Username: ident.Username, ReadAt: at, Count: n}
	for _, c := range r.groupConns(threadID) {
		r.emit(c, EventMessagesRead, payload)
	}
	return n, nil
}

// Touch is called on transport heartbeats to keep an expiring presence
// mirror alive.
func (r *Router) Touch(ctx context.Context, connID string) {
	refresher, ok := r.observer.(PresenceRefresher)
	if !ok {
		return
	}
	s := r.sessionOf(connID)
	if s == nil {
		return
	}
	r.mu.RLock()
	username, active := s.username, s.state == StateActive
	r.mu.RUnlock()
	if !active {
		return
	}
	if err := refresher.Refresh(ctx, username, connID); err != nil {
		log.Printf("[Router.Touch] presence refresh failed user=%s err=%v", username, err)
	}
}

// Online reports whether username holds a live connection in this process.
func (r *Router) Online(username string) bool {
	return r.connFor(username) != nil
}

// CloseAll force-closes every connection, used on shutdown.
func (r *Router) CloseAll(ctx context.Context) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.sessions))
	for _, s := range r.sessions {
		conns = append(conns, s.conn)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		r.disconnect(ctx, c)
	}
	log.Printf("[Router.CloseAll] closed %d connections", len(conns))
}

func (r *Router) fail(ctx context.Context, conn Conn, err error) {
	policy := sendPolicy(err)
	log.Printf("[Router] operation failed conn=%s policy=%s err=%v", conn.ID(), policy, err)
	r.emit(conn, EventErrorMessage, errorPayload(err))
	r.apply(ctx, policy, conn)
}

func (r *Router) apply(ctx context.Context, policy FailurePolicy, conn Conn) {
	if policy == PolicyDisconnect {
		r.disconnect(ctx, conn)
	}
}

func (r *Router) disconnect(ctx context.Context, conn Conn) {
	if err := conn.Close(); err != nil {
		log.Printf("[Router] close conn=%s err=%v", conn.ID(), err)
	}
	r.HandleDisconnect(ctx, conn.ID())
}

func (r *Router) misuse(ctx context.Context, s *session, detail string) error {
	err := fmt.Errorf("%w: %s", ErrProtocolMisuse, detail)
	if s != nil {
		r.fail(ctx, s.conn, err)
	}
	return err
}

func errorPayload(err error) ErrorPayload {
	switch {
	case errors.Is(err, ErrSenderNotFound):
		return ErrorPayload{Message: "Failed to send message sender not found!"}
	case errors.Is(err, ErrReceiverNotFound):
		return ErrorPayload{Message: "Failed to send message receiver not found!"}
	case errors.Is(err, ErrAuthInvalid):
		return ErrorPayload{Message: "Failed to authenticate", Error: err.Error()}
	default:
		return ErrorPayload{Message: "Failed to send message", Error: err.Error()}
	}
}

func (r *Router) emit(conn Conn, event string, payload any) {
	if conn == nil {
		return
	}
	if err := conn.Emit(event, payload); err != nil {
		log.Printf("[Router] emit %s to conn=%s dropped: %v", event, conn.ID(), err)
	}
}

func (r *Router) publish(ctx context.Context, evt Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, evt); err != nil {
		log.Printf("[Router] publish %s thread=%s failed: %v", evt.Type, evt.ThreadID, err)
	}
}

func (r *Router) sessionOf(connID string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[connID]
}

func (r *Router) activeConn(connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok || s.state != StateActive {
		return nil, false
	}
	return s.conn, true
}

func (r *Router) connFor(username string) Conn {
	connID, ok := r.presence.Lookup(username)
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok || s.state != StateActive {
		return nil
	}
	return s.conn
}

func (r *Router) groupConns(threadID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.groups[threadID]
	out := make([]Conn, 0, len(members))
	for connID := range members {
		if s, ok := r.sessions[connID]; ok && s.state == StateActive {
			out = append(out, s.conn)
		}
	}
	return out
}

// leaveLocked must be called with r.mu held.
func (r *Router) leaveLocked(threadID, connID string) {
	members, ok := r.groups[threadID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.groups, threadID)
	}
}
