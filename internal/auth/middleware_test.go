package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "test-secret"

func buildTestToken(t *testing.T, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newRouter(secret, audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/stats", JWTMiddleware(secret, audience), func(c *gin.Context) {
		subject, _ := Subject(c)
		c.String(http.StatusOK, subject)
	})
	return router
}

func doGet(router *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	token := buildTestToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops", Audience: jwt.ClaimStrings{"photo-bridge"}})
	resp := doGet(newRouter(testJWTSecret, "photo-bridge"), token)
	if resp.Code != http.StatusOK || resp.Body.String() != "ops" {
		t.Fatalf("expected 200 with subject, got %d %s", resp.Code, resp.Body.String())
	}
}

func TestJWTMiddlewareRejects(t *testing.T) {
	cases := map[string]struct {
		secret, audience, token string
	}{
		"missing header":      {testJWTSecret, "", ""},
		"wrong audience":      {testJWTSecret, "photo-bridge", buildTestToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops", Audience: jwt.ClaimStrings{"other"}})},
		"missing subject":     {testJWTSecret, "", buildTestToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{})},
		"expired":             {testJWTSecret, "", buildTestToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})},
		"wrong secret":        {"other-secret", "", buildTestToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"})},
		"auth not configured": {"", "", buildTestToken(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"})},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp := doGet(newRouter(tc.secret, tc.audience), tc.token)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Fatal("expected error for non-bearer scheme")
	}
	if _, err := extractBearerToken("Bearer   "); err == nil {
		t.Fatal("expected error for empty token")
	}
	if token, err := extractBearerToken("bearer abc"); err != nil || token != "abc" {
		t.Fatalf("expected abc, got %q %v", token, err)
	}
}
