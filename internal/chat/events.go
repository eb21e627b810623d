package chat

import (
	"context"
	"encoding/json"
	"time"
)

// Connection-scoped events.
const (
	EventErrorMessage = "error_message"
	EventJoinChat     = "join_chat"
	EventJoinedChat   = "joined_chat"
	EventSendMessage  = "send_message"
	EventChatCreated  = "chat_created"
	EventMessageData  = "message_data"
	EventMarkRead     = "mark_read"
	EventMessagesRead = "messages_read"
)

// Conn is the transport side of one live connection. Emit and Close must be
// safe for concurrent use; Emit on a gone connection returns an error that the
// router ignores.
type Conn interface {
	ID() string
	// Token is the bearer token presented at handshake.
	Token() string
	Emit(event string, payload any) error
	Close() error
}

type ErrorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type JoinedPayload struct {
	ThreadID string `json:"thread_id"`
}

type SendRequest struct {
	Content          string `json:"content"`
	ReceiverUsername string `json:"receiver_username"`
	ThreadID         string `json:"thread_id,omitempty"`
}

// UnmarshalJSON also accepts the camelCase names (receiverUsername, threadId)
// used by older clients. The snake_case field wins when both are present.
func (r *SendRequest) UnmarshalJSON(b []byte) error {
	var raw struct {
		Content               string `json:"content"`
		ReceiverUsername      string `json:"receiver_username"`
		ThreadID              string `json:"thread_id"`
		ReceiverUsernameCamel string `json:"receiverUsername"`
		ThreadIDCamel         string `json:"threadId"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Content = raw.Content
	r.ReceiverUsername = firstNonEmpty(raw.ReceiverUsername, raw.ReceiverUsernameCamel)
	r.ThreadID = firstNonEmpty(raw.ThreadID, raw.ThreadIDCamel)
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

type ChatCreatedPayload struct {
	Message *Message `json:"message"`
}

type ReadRequest struct {
	ThreadID string `json:"thread_id"`
}

type MessagesReadPayload struct {
	ThreadID string    `json:"thread_id"`
	Username string    `json:"username"`
	ReadAt   time.Time `json:"read_at"`
	Count    int64     `json:"count"`
}

// Domain events published after a state change.
const (
	EventTypeMessageCreated = "message.created"
	EventTypeThreadRead     = "thread.read"
)

type Event struct {
	Type      string       `json:"type"`
	ThreadID  string       `json:"thread_id"`
	MessageID uint64       `json:"message_id,omitempty"`
	Sender    *Participant `json:"sender,omitempty"`
	Receiver  *Participant `json:"receiver,omitempty"`
	Username  string       `json:"username,omitempty"`
	Content   string       `json:"content,omitempty"`
	At        time.Time    `json:"at"`
}

func messageCreated(m *Message) Event {
	sender, receiver := m.Sender, m.Receiver
	return Event{
		Type:      EventTypeMessageCreated,
		ThreadID:  m.ThreadID,
		MessageID: m.ID,
		Sender:    &sender,
		Receiver:  &receiver,
		Content:   m.Content,
		At:        m.CreatedAt,
	}
}

type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PresenceObserver mirrors presence changes somewhere outside the process.
type PresenceObserver interface {
	Online(ctx context.Context, username, connID string) error
	Offline(ctx context.Context, username, connID string) error
}

// PresenceRefresher is implemented by observers whose entries expire and need
// a heartbeat while the connection lives.
type PresenceRefresher interface {
	Refresh(ctx context.Context, username, connID string) error
}
