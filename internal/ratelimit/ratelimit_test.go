package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type stubEvaler struct {
	result interface{}
	err    error
	keys   []string
	args   []interface{}
}

func (s *stubEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	s.keys = keys
	s.args = args
	return redis.NewCmdResult(s.result, s.err)
}

func newRouter(l *Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/enhance", Middleware(l, zap.NewNop()), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router
}

func doPost(router *gin.Engine) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/enhance", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestMiddlewareAllowsWithinLimit(t *testing.T) {
	stub := &stubEvaler{result: []interface{}{int64(1), int64(3), int64(0)}}
	resp := doPost(newRouter(NewLimiter(stub, "enhancer", 2)))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Header().Get("X-RateLimit-Remaining") != "3" || resp.Header().Get("X-RateLimit-Limit") != "4" {
		t.Fatalf("unexpected rate limit headers: %v", resp.Header())
	}
	if len(stub.keys) != 1 || stub.keys[0] != "rate_limit:enhancer:203.0.113.7" {
		t.Fatalf("unexpected bucket key: %v", stub.keys)
	}
	if stub.args[0] != 4 || stub.args[1] != float64(2) {
		t.Fatalf("unexpected bucket parameters: %v", stub.args)
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	stub := &stubEvaler{result: []interface{}{int64(0), int64(0), int64(2)}}
	resp := doPost(newRouter(NewLimiter(stub, "enhancer", 1)))

	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After 2, got %q", resp.Header().Get("Retry-After"))
	}
}

func TestMiddlewareFailsOpen(t *testing.T) {
	stub := &stubEvaler{err: errors.New("connection refused")}
	resp := doPost(newRouter(NewLimiter(stub, "restorer", 1)))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected request to pass when redis is down, got %d", resp.Code)
	}
}
