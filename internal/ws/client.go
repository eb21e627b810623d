package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/chat-platform/internal/chat"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// envelope is the frame format in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Client is one websocket connection. It satisfies chat.Conn.
type Client struct {
	id      string
	token   string
	addr    string
	conn    *websocket.Conn
	router  Router
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (c *Client) ID() string    { return c.id }
func (c *Client) Token() string { return c.token }

// Emit queues one frame. It never blocks: a full buffer drops the frame.
func (c *Client) Emit(event string, payload any) error {
	b, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops accepting frames; the write pump flushes what is queued and
// then closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.router.HandleDisconnect(ctx, c.id)
		_ = c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.router.Touch(ctx, c.id)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.Allow() {
			log.Printf("[ws] rate limit exceeded conn=%s addr=%s; discarding frame", c.id, c.addr)
			c.reject("rate limit exceeded")
			continue
		}

		c.dispatch(ctx, raw)
	}
}

// dispatch handles frames strictly in arrival order.
func (c *Client) dispatch(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		c.reject("invalid frame")
		return
	}

	switch env.Event {
	case chat.EventJoinChat:
		_ = c.router.Join(ctx, c.id, threadIDFrom(env.Data))

	case chat.EventSendMessage:
		var req chat.SendRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.reject("invalid send_message payload")
			return
		}
		_, _ = c.router.Send(ctx, c.id, req)

	case chat.EventMarkRead:
		_, _ = c.router.MarkRead(ctx, c.id, threadIDFrom(env.Data))

	default:
		c.reject("unknown event " + env.Event)
	}
}

// threadIDFrom accepts either a bare JSON string or {"thread_id": "..."}.
func threadIDFrom(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var req chat.ReadRequest
	if err := json.Unmarshal(data, &req); err == nil {
		return strings.TrimSpace(req.ThreadID)
	}
	return ""
}

func (c *Client) reject(detail string) {
	if err := c.Emit(chat.EventErrorMessage, chat.ErrorPayload{Message: detail, Error: chat.ErrProtocolMisuse.Error()}); err != nil {
		log.Printf("[ws] emit error_message conn=%s dropped: %v", c.id, err)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("[ws] frame from conn=%s exceeded read limit", c.id)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, io.EOF), errors.Is(err, websocket.ErrCloseSent):
		log.Printf("[ws] conn=%s closed", c.id)
	default:
		log.Printf("[ws] read error conn=%s addr=%s err=%v", c.id, c.addr, err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("[ws] write error conn=%s err=%v", c.id, err)
				_ = c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
