package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-platform/internal/chat"
	"github.com/suPer8Hu/chat-platform/internal/common"
)

type sendMessageReq struct {
	ReceiverUsername string `json:"receiver_username" binding:"required"`
	Content          string `json:"content" binding:"required"`
	ThreadID         string `json:"thread_id"`
}

// SendMessage runs the same pipeline as a websocket send_message; the live
// connections of both participants still receive message_data.
func (h *Handler) SendMessage(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	msg, err := h.Router.SendAs(c.Request.Context(), ident, chat.SendRequest{
		Content:          req.Content,
		ReceiverUsername: req.ReceiverUsername,
		ThreadID:         req.ThreadID,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrProtocolMisuse):
			common.Fail(c, http.StatusBadRequest, 10002, "content required")
		case errors.Is(err, chat.ErrSenderNotFound):
			common.Fail(c, http.StatusUnauthorized, 40103, "sender not found")
		case errors.Is(err, chat.ErrReceiverNotFound):
			common.Fail(c, http.StatusNotFound, 40403, "receiver not found")
		default:
			log.Printf("[SendMessage] failed user=%s receiver=%s err=%v", ident.Username, req.ReceiverUsername, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "failed to send message")
		}
		return
	}

	common.OK(c, gin.H{"message": msg})
}

// GetMessages returns the history of the caller's most recent thread.
func (h *Handler) GetMessages(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	threadID, err := h.Messages.LatestThreadFor(c.Request.Context(), ident.Username)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			common.OK(c, nil)
			return
		}
		log.Printf("[GetMessages] latest thread failed user=%s err=%v", ident.Username, err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	msgs, err := h.Messages.History(c.Request.Context(), threadID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}
	common.OK(c, gin.H{"thread_id": threadID, "messages": msgs})
}

func (h *Handler) ListThreadMessages(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	threadID := strings.TrimSpace(c.Param("thread_id"))

	if !h.requireParticipant(c, threadID, ident.Username) {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = h.Cfg.HistoryPageSize
	}
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.Messages.HistoryPage(c.Request.Context(), threadID, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) MarkThreadRead(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	threadID := strings.TrimSpace(c.Param("thread_id"))

	if !h.requireParticipant(c, threadID, ident.Username) {
		return
	}

	n, err := h.Router.MarkReadAs(c.Request.Context(), ident, threadID)
	if err != nil {
		log.Printf("[MarkThreadRead] failed user=%s thread=%s err=%v", ident.Username, threadID, err)
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to mark read")
		return
	}
	// the worker applies thread.read as well; both writes are idempotent
	if err := h.Inbox.MarkRead(c.Request.Context(), ident.Username, threadID); err != nil {
		log.Printf("[MarkThreadRead] inbox update failed user=%s thread=%s err=%v", ident.Username, threadID, err)
	}
	common.OK(c, gin.H{"thread_id": threadID, "count": n})
}

// hide threads the caller is not part of
func (h *Handler) requireParticipant(c *gin.Context, threadID, username string) bool {
	if threadID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "thread_id required")
		return false
	}
	ok, err := h.Messages.IsParticipant(c.Request.Context(), threadID, username)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return false
	}
	if !ok {
		common.Fail(c, http.StatusNotFound, 40404, "thread not found")
		return false
	}
	return true
}

func (h *Handler) ListInbox(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	previews, err := h.Inbox.List(c.Request.Context(), ident.Username, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to list inbox")
		return
	}
	common.OK(c, gin.H{"threads": previews})
}

func (h *Handler) UserPresence(c *gin.Context) {
	username := strings.TrimSpace(c.Param("username"))

	online := h.Router.Online(username)
	if !online && h.Presence != nil {
		var err error
		online, err = h.Presence.IsOnline(c.Request.Context(), username)
		if err != nil {
			log.Printf("[UserPresence] redis lookup failed user=%s err=%v", username, err)
			common.Fail(c, http.StatusInternalServerError, 20006, "presence lookup failed")
			return
		}
	}
	common.OK(c, gin.H{"username": username, "online": online})
}
