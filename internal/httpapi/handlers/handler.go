package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-platform/internal/auth"
	"github.com/suPer8Hu/chat-platform/internal/chat"
	"github.com/suPer8Hu/chat-platform/internal/config"
	"github.com/suPer8Hu/chat-platform/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-platform/internal/inbox"
	"github.com/suPer8Hu/chat-platform/internal/users"
	"gorm.io/gorm"
)

// PresenceLookup answers presence across processes (the redis mirror).
type PresenceLookup interface {
	IsOnline(ctx context.Context, username string) (bool, error)
}

type Handler struct {
	Cfg      config.Config
	Users    *users.Repo
	Messages *chat.Repo
	Inbox    *inbox.Repo
	JWT      *auth.JWT
	Router   *chat.Router
	// nil falls back to the router's in-process registry
	Presence PresenceLookup
}

func NewHandler(db *gorm.DB, cfg config.Config, router *chat.Router, jwt *auth.JWT, presence PresenceLookup) *Handler {
	return &Handler{
		Cfg:      cfg,
		Users:    users.NewRepo(db),
		Messages: chat.NewRepo(db),
		Inbox:    inbox.NewRepo(db),
		JWT:      jwt,
		Router:   router,
		Presence: presence,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func identityFromContext(c *gin.Context) (chat.Identity, bool) {
	return middleware.IdentityFrom(c)
}
