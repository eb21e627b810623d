// Package ws carries chat traffic over gorilla websockets: one Client per
// socket with a read pump feeding the router and a write pump draining Emit.
package ws

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/chat-platform/internal/chat"
)

// Router is the part of chat.Router the transport drives.
type Router interface {
	HandleConnect(ctx context.Context, conn chat.Conn) error
	HandleDisconnect(ctx context.Context, connID string)
	Join(ctx context.Context, connID, threadID string) error
	Send(ctx context.Context, connID string, req chat.SendRequest) (*chat.Message, error)
	MarkRead(ctx context.Context, connID, threadID string) (int64, error)
	Touch(ctx context.Context, connID string)
}

type Options struct {
	AllowedOrigins []string
	MaxMessageSize int64
	RateBurst      int
	RateRefill     time.Duration
}

type Handler struct {
	// base outlives any single request; cancelled on shutdown.
	base     context.Context
	router   Router
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(base context.Context, router Router, opts Options) *Handler {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 5
	}
	if opts.RateRefill <= 0 {
		opts.RateRefill = time.Second
	}
	origins := newOriginPolicy(opts.AllowedOrigins)
	return &Handler{
		base:   base,
		router: router,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

// TokenFromRequest reads the bearer token from x-access-token, Authorization
// or the token query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get("x-access-token")); t != "" {
		return t
	}
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed addr=%s err=%v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(h.opts.MaxMessageSize)

	c := &Client{
		id:      uuid.NewString(),
		token:   TokenFromRequest(r),
		addr:    r.RemoteAddr,
		conn:    conn,
		router:  h.router,
		limiter: newFrameLimiter(h.opts.RateBurst, h.opts.RateRefill),
		send:    make(chan []byte, sendBuffer),
	}

	// the write pump must run before the handshake so a rejection is flushed
	go c.writePump()

	if err := h.router.HandleConnect(h.base, c); err != nil {
		log.Printf("[ws] handshake rejected conn=%s addr=%s err=%v", c.id, c.addr, err)
		_ = c.Close()
		return
	}
	go c.readPump(h.base)
}
