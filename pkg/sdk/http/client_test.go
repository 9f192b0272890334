package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradesync/pkg/ratelimit"
)

func newTestServer(t *testing.T, register func(r *gin.Engine)) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_GetDecodesEnvelope(t *testing.T) {
	var gotAuth, gotRequestID string
	srv := newTestServer(t, func(r *gin.Engine) {
		r.GET("/profile", func(c *gin.Context) {
			gotAuth = c.GetHeader("Authorization")
			gotRequestID = c.GetHeader("X-Request-ID")
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"data":    gin.H{"name": "alice", "email": "a@example.com"},
				"message": "",
			})
		})
	})

	client := NewClient(srv.URL+"/", WithTokenSource(func() string { return "tok-1" }))

	var out struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	require.NoError(t, client.Get(context.Background(), "/profile", &out))
	assert.Equal(t, "alice", out.Name)
	assert.Equal(t, "a@example.com", out.Email)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.NotEmpty(t, gotRequestID)
}

func TestClient_NoTokenNoAuthorizationHeader(t *testing.T) {
	var gotAuth string
	srv := newTestServer(t, func(r *gin.Engine) {
		r.GET("/ping", func(c *gin.Context) {
			gotAuth = c.GetHeader("Authorization")
			c.JSON(http.StatusOK, gin.H{"success": true, "data": nil})
		})
	})

	client := NewClient(srv.URL)
	client.SetTokenSource(func() string { return "" })
	require.NoError(t, client.Get(context.Background(), "/ping", nil))
	assert.Empty(t, gotAuth)
}

func TestClient_SuccessFalseIsTransportError(t *testing.T) {
	srv := newTestServer(t, func(r *gin.Engine) {
		r.POST("/auth/login", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"success": false, "message": "invalid credentials"})
		})
	})

	client := NewClient(srv.URL)
	err := client.Post(context.Background(), "/auth/login", map[string]string{"email": "x"}, nil)
	require.Error(t, err)

	te, ok := AsTransportError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, te.StatusCode)
	assert.Equal(t, "invalid credentials", te.Message)
	assert.Equal(t, "/auth/login", te.Path)
}

func TestClient_Non2xxIsTransportError(t *testing.T) {
	srv := newTestServer(t, func(r *gin.Engine) {
		r.GET("/orders/me", func(c *gin.Context) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthenticated."})
		})
	})

	client := NewClient(srv.URL, WithRetry(0, 0, 0))
	err := client.Get(context.Background(), "/orders/me", nil)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))

	te, _ := AsTransportError(err)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.Equal(t, "Unauthenticated.", te.Message)
}

func TestClient_RetriesReadsButNotWrites(t *testing.T) {
	var reads, writes int32
	srv := newTestServer(t, func(r *gin.Engine) {
		r.GET("/orders", func(c *gin.Context) {
			if atomic.AddInt32(&reads, 1) < 3 {
				c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "busy"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"buy_orders": []any{}}})
		})
		r.POST("/orders", func(c *gin.Context) {
			atomic.AddInt32(&writes, 1)
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "busy"})
		})
	})

	client := NewClient(srv.URL, WithRetry(3, time.Millisecond, 5*time.Millisecond))

	require.NoError(t, client.Get(context.Background(), "/orders?symbol=BTC", nil))
	assert.Equal(t, int32(3), atomic.LoadInt32(&reads))

	err := client.Post(context.Background(), "/orders", map[string]string{"symbol": "BTC"}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&writes))
}

func TestClient_PostSendsJSONBody(t *testing.T) {
	var got map[string]string
	srv := newTestServer(t, func(r *gin.Engine) {
		r.POST("/orders/:id/cancel", func(c *gin.Context) {
			got = map[string]string{"id": c.Param("id"), "ct": c.ContentType()}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"id": c.Param("id")}})
		})
	})

	client := NewClient(srv.URL)
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, client.Post(context.Background(), "/orders/o1/cancel", struct{}{}, &out))
	assert.Equal(t, "o1", out.ID)
	assert.Equal(t, "o1", got["id"])
	assert.Equal(t, "application/json", got["ct"])
}

func TestClient_RateLimiterHonoursContext(t *testing.T) {
	srv := newTestServer(t, func(r *gin.Engine) {
		r.GET("/profile", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"success": true})
		})
	})

	client := NewClient(srv.URL, WithLimiter(ratelimit.NewSlidingWindow(1, time.Hour)))
	require.NoError(t, client.Get(context.Background(), "/profile", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := client.Get(ctx, "/profile", nil)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
