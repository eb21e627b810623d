package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/suPer8Hu/chat-platform/internal/chat"
)

type staticVerifier map[string]chat.Identity

func (v staticVerifier) Verify(_ context.Context, token string) (chat.Identity, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return chat.Identity{}, fmt.Errorf("%w: unknown", chat.ErrAuthInvalid)
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(), RequestID())
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	authed := r.Group("/", AuthRequired(staticVerifier{"Bearer good": {Username: "alice"}, "good": {Username: "alice"}}))
	authed.GET("/me", func(c *gin.Context) {
		ident, _ := IdentityFrom(c)
		c.String(http.StatusOK, ident.Username)
	})
	return r
}

func TestAuthRequired(t *testing.T) {
	r := newEngine()

	for _, tc := range []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bad", "x-access-token", "bad", http.StatusUnauthorized},
		{"access header", "x-access-token", "good", http.StatusOK},
		{"bearer", "Authorization", "Bearer good", http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}
}

func TestRecoveryAndRequestID(t *testing.T) {
	r := newEngine()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":50000`)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}
