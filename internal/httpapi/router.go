package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-platform/internal/auth"
	"github.com/suPer8Hu/chat-platform/internal/chat"
	"github.com/suPer8Hu/chat-platform/internal/common"
	"github.com/suPer8Hu/chat-platform/internal/config"
	"github.com/suPer8Hu/chat-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-platform/internal/httpapi/middleware"
	"gorm.io/gorm"
)

type Deps struct {
	Router   *chat.Router
	JWT      *auth.JWT
	Presence handlers.PresenceLookup
	// websocket endpoint, mounted at /ws when set
	WS http.Handler
}

func NewRouter(db *gorm.DB, cfg config.Config, deps Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, deps.Router, deps.JWT, deps.Presence)

	r.GET("/ping", h.Ping)
	if deps.WS != nil {
		r.GET("/ws", gin.WrapH(deps.WS))
	}

	api := r.Group("/api")
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.GET("/users/:username/presence", h.UserPresence)

	// JWT required
	authGroup := api.Group("/")
	authGroup.Use(middleware.AuthRequired(deps.JWT))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/users", h.ListUsernames)
	authGroup.GET("/profile", h.GetProfile)
	authGroup.POST("/profile", h.CreateProfile)
	authGroup.PUT("/profile", h.UpdateProfile)
	authGroup.POST("/messages", h.SendMessage)
	authGroup.GET("/messages", h.GetMessages)
	authGroup.GET("/threads/:thread_id/messages", h.ListThreadMessages)
	authGroup.POST("/threads/:thread_id/read", h.MarkThreadRead)
	authGroup.GET("/inbox", h.ListInbox)
	return r
}
