package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-platform/internal/common"
	"github.com/suPer8Hu/chat-platform/internal/models"
	"github.com/suPer8Hu/chat-platform/internal/users"
	"gorm.io/gorm"
)

const birthdayLayout = "2006-01-02"

type profileReq struct {
	Name      *string  `json:"name"`
	Gender    *string  `json:"gender"`
	Birthday  *string  `json:"birthday"` // YYYY-MM-DD
	Height    *float64 `json:"height"`
	Weight    *float64 `json:"weight"`
	Interests []string `json:"interests"`
}

type profileResp struct {
	Username  string   `json:"username"`
	Name      string   `json:"name"`
	Gender    string   `json:"gender"`
	Birthday  string   `json:"birthday,omitempty"`
	Height    float64  `json:"height"`
	Weight    float64  `json:"weight"`
	Interests []string `json:"interests"`
}

func toProfileResp(u *models.User) profileResp {
	out := profileResp{
		Username:  u.Username,
		Name:      u.Name,
		Gender:    u.Gender,
		Height:    u.Height,
		Weight:    u.Weight,
		Interests: u.Interests,
	}
	if u.Birthday != nil {
		out.Birthday = u.Birthday.Format(birthdayLayout)
	}
	if out.Interests == nil {
		out.Interests = []string{}
	}
	return out
}

// parse validates the request and turns it into a repo update. On failure it
// returns the error code and message to report.
func (req profileReq) parse(now time.Time) (users.ProfileUpdate, int, string) {
	var upd users.ProfileUpdate
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		upd.Name = &name
	}
	if req.Gender != nil {
		g := strings.ToLower(strings.TrimSpace(*req.Gender))
		if g != models.GenderMale && g != models.GenderFemale {
			return upd, 10008, "gender must be male or female"
		}
		upd.Gender = &g
	}
	if req.Birthday != nil {
		b, err := time.Parse(birthdayLayout, strings.TrimSpace(*req.Birthday))
		if err != nil || b.After(now) {
			return upd, 10009, "invalid birthday"
		}
		upd.Birthday = &b
	}
	if req.Height != nil {
		if *req.Height < 0 {
			return upd, 10010, "height must not be negative"
		}
		upd.Height = req.Height
	}
	if req.Weight != nil {
		if *req.Weight < 0 {
			return upd, 10010, "weight must not be negative"
		}
		upd.Weight = req.Weight
	}
	if req.Interests != nil {
		interests := make([]string, 0, len(req.Interests))
		for _, s := range req.Interests {
			if s = strings.TrimSpace(s); s != "" {
				interests = append(interests, s)
			}
		}
		upd.Interests = interests
	}
	return upd, 0, ""
}

func (h *Handler) GetProfile(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	user, err := h.Users.GetByUsername(c.Request.Context(), ident.Username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, toProfileResp(user))
}

// CreateProfile fills in the profile once; a complete profile is only
// changed through UpdateProfile.
func (h *Handler) CreateProfile(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	user, err := h.Users.GetByUsername(c.Request.Context(), ident.Username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if user.ProfileComplete() {
		common.Fail(c, http.StatusNotAcceptable, 40601, "profile already exists")
		return
	}
	h.saveProfile(c, ident.Username)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	ident, ok := identityFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	h.saveProfile(c, ident.Username)
}

func (h *Handler) saveProfile(c *gin.Context, username string) {
	var req profileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	upd, code, msg := req.parse(time.Now())
	if code != 0 {
		common.Fail(c, http.StatusBadRequest, code, msg)
		return
	}

	user, err := h.Users.UpdateProfile(c.Request.Context(), username, upd)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		log.Printf("[Profile] save failed username=%s err=%v", username, err)
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, toProfileResp(user))
}

// ListUsernames lists every username so clients can pick a receiver.
func (h *Handler) ListUsernames(c *gin.Context) {
	names, err := h.Users.ListUsernames(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"usernames": names})
}
