// README: Tests for auth, role, throttle and recovery middleware.
package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tgtaxi/internal/http/middleware"
	"tgtaxi/internal/infra"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.Token
	err   error
}

func (s *stubVerifier) VerifyToken(_ context.Context, _ string) (*infra.Token, error) {
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier, mws ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier, "svc-token"))
	r.Use(mws...)
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": middleware.CallerUID(c), "role": middleware.CallerRole(c)})
	})
	return r
}

func get(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "user1"}})
	if w := get(r, "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "user1"}})
	if w := get(r, "Authorization", "Token sometoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	if w := get(r, "Authorization", "Bearer invalid"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_UIDAndRolePopulated(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "driver123", Role: "driver"}})
	w := get(r, "Authorization", "Bearer valid")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["uid"] != "driver123" || body["role"] != "driver" {
		t.Errorf("unexpected caller %v", body)
	}
}

func TestAuth_InternalToken(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("unused")}, middleware.RequireRole("admin"))
	if w := get(r, middleware.InternalTokenHeader, "svc-token"); w.Code != http.StatusOK {
		t.Errorf("expected 200 for internal caller, got %d", w.Code)
	}
	if w := get(r, middleware.InternalTokenHeader, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong internal token, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	admin := newTestRouter(&stubVerifier{token: &infra.Token{UID: "a", Role: "admin"}}, middleware.RequireRole("admin"))
	if w := get(admin, "Authorization", "Bearer x"); w.Code != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", w.Code)
	}
	client := newTestRouter(&stubVerifier{token: &infra.Token{UID: "c", Role: "client"}}, middleware.RequireRole("admin"))
	if w := get(client, "Authorization", "Bearer x"); w.Code != http.StatusForbidden {
		t.Errorf("client: expected 403, got %d", w.Code)
	}
}

func TestThrottle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	th := middleware.NewThrottle(0.001, 2)
	r := gin.New()
	r.Use(th.Handler())
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		if w := get(r, "", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	if w := get(r, "", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %d", w.Code)
	}
	if n := th.Prune(); n != 0 {
		t.Errorf("expected no idle visitors, pruned %d", n)
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Recovery(zap.NewNop()))
	r.GET("/test", func(*gin.Context) { panic("boom") })
	if w := get(r, "", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}
