package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/bazaar/internal/auth"
	"github.com/tullo/bazaar/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(jwt *auth.JWTService, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(Logging(logger.NewNop()))
	handlers := append([]gin.HandlerFunc{AuthMiddleware(jwt)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": u.ID, "name": u.DisplayName})
	})
	r.GET("/me", handlers...)
	return r
}

func TestAuthMiddleware(t *testing.T) {
	jwt := auth.NewJWTService("secret", 1)
	token, err := jwt.GenerateToken(uuid.New(), "Dana")
	require.NoError(t, err)
	r := newRouter(jwt)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"name":"Dana"`)
			}
		})
	}
}

type stubShared struct {
	allow bool
	err   error
	calls int
}

func (s *stubShared) AllowAction(context.Context, uuid.UUID, string, int, int) (bool, error) {
	s.calls++
	return s.allow, s.err
}

func TestRateLimiter_LocalBurst(t *testing.T) {
	rl := NewRateLimiter(1, nil, nil)
	user := uuid.New()

	assert.True(t, rl.Allow(context.Background(), user, "message"))
	assert.True(t, rl.Allow(context.Background(), user, "message"))
	assert.False(t, rl.Allow(context.Background(), user, "message"))
	assert.True(t, rl.Allow(context.Background(), uuid.New(), "message"), "limits are per user")
}

func TestRateLimiter_SharedFirst(t *testing.T) {
	shared := &stubShared{allow: false}
	rl := NewRateLimiter(10, shared, nil)
	assert.False(t, rl.Allow(context.Background(), uuid.New(), "message"))
	assert.Equal(t, 1, shared.calls)

	shared.err = errors.New("redis down")
	assert.True(t, rl.Allow(context.Background(), uuid.New(), "message"), "falls back to the local limiter")
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(5, nil, nil)
	rl.Allow(context.Background(), uuid.New(), "message")
	rl.Allow(context.Background(), uuid.New(), "message")

	assert.Equal(t, 0, rl.evictIdle(time.Now(), time.Minute))
	assert.Equal(t, 2, rl.evictIdle(time.Now().Add(2*time.Minute), time.Minute))
}

func TestRateLimitMiddleware(t *testing.T) {
	jwt := auth.NewJWTService("secret", 1)
	token, err := jwt.GenerateToken(uuid.New(), "Dana")
	require.NoError(t, err)
	r := newRouter(jwt, RateLimitMiddleware(NewRateLimiter(1, nil, nil), "me"))

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"http://localhost:3000"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
