package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/visionguard/visionguard/internal/middleware"
	"github.com/visionguard/visionguard/internal/ratelimit"
	"github.com/visionguard/visionguard/internal/tokens"
)

type mockValidator struct{}

func (mockValidator) ValidateToken(token string) (*tokens.Claims, error) {
	switch token {
	case "valid-access":
		return &tokens.Claims{UserID: "user-1", Role: tokens.RoleOwner, TokenType: tokens.Access}, nil
	case "refresh-token":
		return &tokens.Claims{UserID: "user-1", Role: tokens.RoleOwner, TokenType: tokens.Refresh}, nil
	case "revoked":
		c := &tokens.Claims{UserID: "user-1", Role: tokens.RoleOwner, TokenType: tokens.Access}
		c.ID = "revoked-jti"
		return c, nil
	}
	return nil, tokens.ErrInvalidToken
}

type mockBlacklist struct{}

func (mockBlacklist) IsBlacklisted(ctx context.Context, userID, jti string) (bool, error) {
	return jti == "revoked-jti", nil
}
func (mockBlacklist) AddToBlacklist(ctx context.Context, userID, jti string, ttl time.Duration) error {
	return nil
}

func authedHandler(t *testing.T) http.Handler {
	t.Helper()
	mw := middleware.NewJWTAuth(mockValidator{}, mockBlacklist{})
	return mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := middleware.GetAuthContext(r.Context())
		if !ok || ac.UserID != "user-1" {
			t.Errorf("Auth context not injected: %+v", ac)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestJWTAuth(t *testing.T) {
	handler := authedHandler(t)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer valid-access", http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "valid-access", http.StatusUnauthorized},
		{"refresh token rejected", "Bearer refresh-token", http.StatusUnauthorized},
		{"revoked token rejected", "Bearer revoked", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("Expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	t.Run("development wildcard", func(t *testing.T) {
		h := middleware.CORS(nil)(next)
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "http://anywhere.test")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("Expected wildcard origin in development mode")
		}
	})

	t.Run("production allow-list", func(t *testing.T) {
		h := middleware.CORS([]string{"https://app.example.com"})(next)

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
			t.Error("Listed origin should be echoed")
		}

		req = httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("Unlisted origin must not be allowed")
		}
	})

	t.Run("preflight", func(t *testing.T) {
		h := middleware.CORS(nil)(next)
		req := httptest.NewRequest("OPTIONS", "/", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Errorf("Expected 204 for preflight, got %d", w.Code)
		}
	})
}

func TestRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	limiter := ratelimit.NewLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "salt")
	cfg := ratelimit.LimitConfig{Rate: 1, Window: time.Second}
	h := middleware.RateLimit(limiter, cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	req := httptest.NewRequest("POST", "/offer", nil)
	req.RemoteAddr = "1.2.3.4:5678"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("First request should pass, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Second request should be limited, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on 429")
	}

	// Another client is counted separately.
	other := httptest.NewRequest("POST", "/offer", nil)
	other.RemoteAddr = "5.6.7.8:1234"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, other)
	if w.Code != 200 {
		t.Errorf("Different IP should have its own window, got %d", w.Code)
	}
}

func TestRateLimit_RedisDownFailsOpen(t *testing.T) {
	mr, _ := miniredis.Run()
	addr := mr.Addr()
	mr.Close()

	limiter := ratelimit.NewLimiter(redis.NewClient(&redis.Options{Addr: addr}), "salt")
	h := middleware.RateLimit(limiter, ratelimit.LimitConfig{Rate: 1, Window: time.Second})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }))

	req := httptest.NewRequest("POST", "/offer", nil)
	req.RemoteAddr = "1.2.3.4:5678"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("Limiter outage must fail open, got %d", w.Code)
	}
}
