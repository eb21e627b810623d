package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("connection closed")

type emitted struct {
	event   string
	payload any
}

type fakeConn struct {
	id    string
	token string

	mu     sync.Mutex
	events []emitted
	closed bool
}

func newFakeConn(id, token string) *fakeConn {
	return &fakeConn{id: id, token: token}
}

func (c *fakeConn) ID() string    { return c.id }
func (c *fakeConn) Token() string { return c.token }

func (c *fakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.events = append(c.events, emitted{event: event, payload: payload})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.event)
	}
	return out
}

func (c *fakeConn) last(event string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].event == event {
			return c.events[i].payload, true
		}
	}
	return nil, false
}

type fakeVerifier struct {
	mu     sync.Mutex
	tokens map[string]Identity
}

func (v *fakeVerifier) Verify(_ context.Context, token string) (Identity, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id, ok := v.tokens[token]
	if !ok {
		return Identity{}, fmt.Errorf("%w: unknown token", ErrAuthInvalid)
	}
	return id, nil
}

func (v *fakeVerifier) revoke(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tokens, token)
}

type fakeDirectory map[string]Participant

func (d fakeDirectory) FindByUsername(_ context.Context, username string) (*Participant, error) {
	p, ok := d[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

type countingStore struct {
	Store
	mu        sync.Mutex
	appends   int
	appendErr error
}

func (s *countingStore) Append(ctx context.Context, m *Message) error {
	s.mu.Lock()
	s.appends++
	err := s.appendErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Append(ctx, m)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type fixture struct {
	router    *Router
	verifier  *fakeVerifier
	store     *countingStore
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	verifier := &fakeVerifier{tokens: map[string]Identity{
		"T1":    {Username: "U1", Email: "u1@mail.com"},
		"T2":    {Username: "U2", Email: "u2@mail.com"},
		"T3":    {Username: "U3", Email: "u3@mail.com"},
		"ghost": {Username: "deleted-user", Email: "gone@mail.com"},
	}}
	dir := fakeDirectory{
		"U1": {UserID: 1, Username: "U1", Email: "u1@mail.com"},
		"U2": {UserID: 2, Username: "U2", Email: "u2@mail.com"},
		"U3": {UserID: 3, Username: "U3", Email: "u3@mail.com"},
	}
	store := &countingStore{Store: NewRepo(openTestDB(t))}
	pub := &recordingPublisher{}
	r := NewRouter(verifier, dir, NewPresence(), NewResolver(), store, WithPublisher(pub))
	return &fixture{router: r, verifier: verifier, store: store, publisher: pub}
}

func (f *fixture) connect(t *testing.T, id, token string) *fakeConn {
	t.Helper()
	c := newFakeConn(id, token)
	require.NoError(t, f.router.HandleConnect(context.Background(), c))
	return c
}

func TestRouter_ConnectRegistersPresence(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "connA", "T1")

	id, ok := f.router.Presence().Lookup("U1")
	require.True(t, ok)
	assert.Equal(t, "connA", id)
	assert.Equal(t, StateActive, f.router.State("connA"))
	assert.True(t, f.router.Online("U1"))
}

func TestRouter_ConnectInvalidTokenCloses(t *testing.T) {
	f := newFixture(t)
	c := newFakeConn("connX", "bogus")

	err := f.router.HandleConnect(context.Background(), c)
	require.ErrorIs(t, err, ErrAuthInvalid)

	assert.True(t, c.isClosed())
	assert.Equal(t, []string{EventErrorMessage}, c.names())
	assert.Equal(t, StateDisconnected, f.router.State("connX"))
	assert.Equal(t, 0, f.router.Presence().Len())
}

func TestRouter_FirstMessageScenario(t *testing.T) {
	f := newFixture(t)
	connA := f.connect(t, "connA", "T1")
	connB := f.connect(t, "connB", "T2")

	msg, err := f.router.Send(context.Background(), "connA", SendRequest{Content: "hi", ReceiverUsername: "U2"})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Len(t, msg.ThreadID, 26)
	assert.Equal(t, "U1", msg.Sender.Username)
	assert.Equal(t, "U2", msg.Receiver.Username)

	assert.Equal(t, []string{EventChatCreated, EventMessageData}, connA.names())
	assert.Equal(t, []string{EventMessageData}, connB.names())

	created, _ := connA.last(EventChatCreated)
	assert.Equal(t, msg.ID, created.(ChatCreatedPayload).Message.ID)

	dataA, _ := connA.last(EventMessageData)
	dataB, _ := connB.last(EventMessageData)
	historyA := dataA.([]Message)
	require.Len(t, historyA, 1)
	assert.Equal(t, "hi", historyA[0].Content)
	assert.Equal(t, dataA, dataB)

	assert.False(t, connA.isClosed())
	assert.False(t, connB.isClosed())
}

func TestRouter_FirstMessagesMintDistinctThreads(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "connA", "T1")
	f.connect(t, "connC", "T3")

	m1, err := f.router.Send(context.Background(), "connA", SendRequest{Content: "hi", ReceiverUsername: "U2"})
	require.NoError(t, err)
	m2, err := f.router.Send(context.Background(), "connC", SendRequest{Content: "yo", ReceiverUsername: "U2"})
	require.NoError(t, err)
	assert.NotEqual(t, m1.ThreadID, m2.ThreadID)
}

func TestRouter_ExistingThreadAppends(t *testing.T) {
	f := newFixture(t)
	connA := f.connect(t, "connA", "T1")
	connB := f.connect(t, "connB", "T2")
	ctx := context.Background()

	first, err := f.router.Send(ctx, "connA", SendRequest{Content: "hi", ReceiverUsername: "U2"})
	require.NoError(t, err)

	reply, err := f.router.Send(ctx, "connB", SendRequest{Content: "hello", ReceiverUsername: "U1", ThreadID: first.ThreadID})
	require.NoError(t, err)
	assert.Equal(t, first.ThreadID, reply.ThreadID)

	// chat_created only for the first message
	assert.Equal(t, []string{EventMessageData, EventMessageData}, connB.names())

	data, _ := connA.last(EventMessageData)
	history := data.([]Message)
	require.Len(t, history, 2)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, "hello", history[1].Content)
}

func TestRouter_ReceiverNotFoundKeepsConnection(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, "connC", "T3")

	_, err := f.router.Send(context.Background(), "connC", SendRequest{Content: "boo", ReceiverUsername: "ghost"})
	require.ErrorIs(t, err, ErrReceiverNotFound)
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{EventErrorMessage}, conn.names())
	payload, _ := conn.last(EventErrorMessage)
	assert.Contains(t, payload.(ErrorPayload).Message, "receiver not found")

	assert.Equal(t, 0, f.store.count())
	assert.False(t, conn.isClosed())
	assert.Equal(t, StateActive, f.router.State("connC"))
}

func TestRouter_SenderNotFoundDisconnects(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, "connG", "ghost")

	_, err := f.router.Send(context.Background(), "connG", SendRequest{Content: "hi", ReceiverUsername: "U1"})
	require.ErrorIs(t, err, ErrSenderNotFound)

	payload, ok := conn.last(EventErrorMessage)
	require.True(t, ok)
	assert.Contains(t, payload.(ErrorPayload).Message, "sender not found")
	assert.True(t, conn.isClosed())
	assert.Equal(t, StateDisconnected, f.router.State("connG"))
	_, online := f.router.Presence().Lookup("deleted-user")
	assert.False(t, online)
	assert.Equal(t, 0, f.store.count())
}

func TestRouter_SendWithRevokedTokenReports(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, "connA", "T1")
	f.verifier.revoke("T1")

	_, err := f.router.Send(context.Background(), "connA", SendRequest{Content: "hi", ReceiverUsername: "U2"})
	require.ErrorIs(t, err, ErrAuthInvalid)

	assert.Equal(t, []string{EventErrorMessage}, conn.names())
	assert.False(t, conn.isClosed())
	assert.Equal(t, StateActive, f.router.State("connA"))
	assert.Equal(t, 0, f.store.count())
}

func TestRouter_PersistenceErrorReports(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, "connA", "T1")
	f.store.appendErr = fmt.Errorf("%w: disk on fire", ErrPersistence)

	_, err := f.router.Send(context.Background(), "connA", SendRequest{Content: "hi", ReceiverUsername: "U2"})
	require.ErrorIs(t, err, ErrPersistence)

	payload, _ := conn.last(EventErrorMessage)
	assert.Contains(t, payload.(ErrorPayload).Error, "disk on fire")
	assert.False(t, conn.isClosed())
	assert.Equal(t, StateActive, f.router.State("connA"))
}

func TestRouter_ReceiverOfflineOnlySenderGetsData(t *testing.T) {
	f := newFixture(t)
	connA := f.connect(t, "connA", "T1")

	_, err := f.router.Send(context.Background(), "connA", SendRequest{Content: "anyone?", ReceiverUsername: "U2"})
	require.NoError(t, err)
	assert.Equal(t, []string{EventChatCreated, EventMessageData}, connA.names())
}

func TestRouter_SupersededConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.connect(t, "connB1", "T2")
	newer := f.connect(t, "connB2", "T2")
	f.connect(t, "connA", "T1")

	f.router.HandleDisconnect(ctx, "connB1")

	id, ok := f.router.Presence().Lookup("U2")
	require.True(t, ok)
	assert.Equal(t, "connB2", id)

	_, err := f.router.Send(ctx, "connA", SendRequest{Content: "hi", ReceiverUsername: "U2"})
	require.NoError(t, err)
	assert.Empty(t, old.names())
	assert.Equal(t, []string{EventMessageData}, newer.names())
}

func TestRouter_DisconnectIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, "connA", "T1")

	f.router.HandleDisconnect(ctx, "connA")
	f.router.HandleDisconnect(ctx, "connA")
	f.router.HandleDisconnect(ctx, "never-seen")

	assert.Equal(t, StateDisconnected, f.router.State("connA"))
	assert.Equal(t, 0, f.router.Presence().Len())
}

func TestRouter_DeliveryToGoneConnectionIsSilent(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "connA", "T1")
	connB := f.connect(t, "connB", "T2")
	// transport closed but disconnect not yet processed
	require.NoError(t, connB.Close())

	msg, err := f.router.Send(context.Background(), "connA", SendRequest{Content: "hi", ReceiverUsername: "U2"})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
}

func TestRouter_JoinRequiresActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.router.Join(ctx, "unknown", "01THREAD")
	require.ErrorIs(t, err, ErrProtocolMisuse)

	_, err = f.router.Send(ctx, "unknown", SendRequest{Content: "hi", ReceiverUsername: "U2"})
	require.ErrorIs(t, err, ErrProtocolMisuse)

	conn := f.connect(t, "connA", "T1")
	require.NoError(t, f.router.Join(ctx, "connA", "01THREAD"))
	payload, ok := conn.last(EventJoinedChat)
	require.True(t, ok)
	assert.Equal(t, JoinedPayload{ThreadID: "01THREAD"}, payload)

	err = f.router.Join(ctx, "connA", "  ")
	require.ErrorIs(t, err, ErrProtocolMisuse)
	assert.False(t, conn.isClosed())
}

func TestRouter_MarkReadNotifiesGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	connA := f.connect(t, "connA", "T1")
	connB := f.connect(t, "connB", "T2")

	msg, err := f.router.Send(ctx, "connA", SendRequest{Content: "hi", ReceiverUsername: "U2"})
	require.NoError(t, err)
	require.NoError(t, f.router.Join(ctx, "connA", msg.ThreadID))

	n, err := f.router.MarkRead(ctx, "connB", msg.ThreadID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	payload, ok := connA.last(EventMessagesRead)
	require.True(t, ok)
	read := payload.(MessagesReadPayload)
	assert.Equal(t, "U2", read.Username)
	assert.EqualValues(t, 1, read.Count)

	// connB did not join the group
	_, ok = connB.last(EventMessagesRead)
	assert.False(t, ok)
}

func TestRouter_PublishesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, "connA", "T1")

	msg, err := f.router.Send(ctx, "connA", SendRequest{Content: "hi", ReceiverUsername: "U2"})
	require.NoError(t, err)
	_, err = f.router.MarkReadAs(ctx, Identity{Username: "U2"}, msg.ThreadID)
	require.NoError(t, err)

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	require.Len(t, f.publisher.events, 2)
	created := f.publisher.events[0]
	assert.Equal(t, EventTypeMessageCreated, created.Type)
	assert.Equal(t, msg.ID, created.MessageID)
	assert.Equal(t, "U1", created.Sender.Username)
	assert.Equal(t, "U2", created.Receiver.Username)
	assert.Equal(t, EventTypeThreadRead, f.publisher.events[1].Type)
	assert.Equal(t, "U2", f.publisher.events[1].Username)
}

func TestRouter_SendAsDeliversToLiveConnections(t *testing.T) {
	f := newFixture(t)
	connA := f.connect(t, "connA", "T1")
	connB := f.connect(t, "connB", "T2")

	msg, err := f.router.SendAs(context.Background(), Identity{Username: "U1"}, SendRequest{Content: "via rest", ReceiverUsername: "U2"})
	require.NoError(t, err)
	assert.Equal(t, "via rest", msg.Content)

	assert.Equal(t, []string{EventChatCreated, EventMessageData}, connA.names())
	assert.Equal(t, []string{EventMessageData}, connB.names())
}

func TestRouter_EmptyContentRejected(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, "connA", "T1")

	_, err := f.router.Send(context.Background(), "connA", SendRequest{Content: "   ", ReceiverUsername: "U2"})
	require.ErrorIs(t, err, ErrProtocolMisuse)
	assert.Equal(t, 0, f.store.count())
	assert.False(t, conn.isClosed())
}

func TestRouter_ContentStoredVerbatim(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "connA", "T1")
	ctx := context.Background()

	body := "    indented code\n\tfoo()\n"
	msg, err := f.router.Send(ctx, "connA", SendRequest{Content: body, ReceiverUsername: " U2 "})
	require.NoError(t, err)
	assert.Equal(t, body, msg.Content)
	assert.Equal(t, "U2", msg.Receiver.Username)

	history, err := f.store.History(ctx, msg.ThreadID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, body, history[0].Content)
}

func TestRouter_OverlongThreadIDReported(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, "connA", "T1")

	_, err := f.router.Send(context.Background(), "connA", SendRequest{
		Content:          "hi",
		ReceiverUsername: "U2",
		ThreadID:         strings.Repeat("x", MaxThreadIDLen+1),
	})
	require.ErrorIs(t, err, ErrProtocolMisuse)
	assert.Equal(t, 0, f.store.count())
	assert.False(t, conn.isClosed())
	assert.Contains(t, conn.names(), EventErrorMessage)

	msg, err := f.router.Send(context.Background(), "connA", SendRequest{
		Content:          "hi",
		ReceiverUsername: "U2",
		ThreadID:         strings.Repeat("y", MaxThreadIDLen),
	})
	require.NoError(t, err)
	assert.Len(t, msg.ThreadID, MaxThreadIDLen)
}

func TestRouter_ConcurrentSends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, "connA", "T1")
	f.connect(t, "connB", "T2")

	first, err := f.router.Send(ctx, "connA", SendRequest{Content: "seed", ReceiverUsername: "U2"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, to := "connA", "U2"
			if i%2 == 1 {
				conn, to = "connB", "U1"
			}
			_, err := f.router.Send(ctx, conn, SendRequest{Content: fmt.Sprintf("m%d", i), ReceiverUsername: to, ThreadID: first.ThreadID})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := f.store.History(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Len(t, history, 11)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}
}

func TestRouter_CloseAll(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "connA", "T1")
	b := f.connect(t, "connB", "T2")

	f.router.CloseAll(context.Background())

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, 0, f.router.Presence().Len())
}

func TestFailurePolicies(t *testing.T) {
	assert.Equal(t, PolicyDisconnect, handshakePolicy(ErrAuthInvalid))
	assert.Equal(t, PolicyDisconnect, sendPolicy(fmt.Errorf("%w: x", ErrSenderNotFound)))
	assert.Equal(t, PolicyReport, sendPolicy(fmt.Errorf("%w: x", ErrReceiverNotFound)))
	assert.Equal(t, PolicyReport, sendPolicy(ErrAuthInvalid))
	assert.Equal(t, PolicyReport, sendPolicy(ErrPersistence))
	assert.Equal(t, "disconnect", PolicyDisconnect.String())
}

type recordingObserver struct {
	mu        sync.Mutex
	online    []string
	offline   []string
	refreshed []string
}

func (o *recordingObserver) Online(_ context.Context, username, connID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.online = append(o.online, username+"/"+connID)
	return nil
}

func (o *recordingObserver) Offline(_ context.Context, username, connID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline = append(o.offline, username+"/"+connID)
	return nil
}

func (o *recordingObserver) Refresh(_ context.Context, username, connID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshed = append(o.refreshed, username+"/"+connID)
	return nil
}

func TestRouter_PresenceObserver(t *testing.T) {
	f := newFixture(t)
	obs := &recordingObserver{}
	WithPresenceObserver(obs)(f.router)
	ctx := context.Background()

	f.connect(t, "c1", "T1")
	f.connect(t, "c2", "T1")
	f.router.Touch(ctx, "c2")
	f.router.Touch(ctx, "c1") // superseded: still a session, refresh is ignored by the store
	f.router.HandleDisconnect(ctx, "c1")
	f.router.HandleDisconnect(ctx, "c2")
	f.router.Touch(ctx, "c2")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"U1/c1", "U1/c2"}, obs.online)
	// c1 no longer owned the entry when it left
	assert.Equal(t, []string{"U1/c2"}, obs.offline)
	assert.Equal(t, []string{"U1/c2", "U1/c1"}, obs.refreshed)
}
