package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/visionguard/visionguard/internal/api"
	"github.com/visionguard/visionguard/internal/hub"
	"github.com/visionguard/visionguard/internal/middleware"
	"github.com/visionguard/visionguard/internal/rtc"
	"github.com/visionguard/visionguard/internal/stream"
	"github.com/visionguard/visionguard/internal/tokens"
)

type staticValidator struct{}

func (staticValidator) ValidateToken(token string) (*tokens.Claims, error) {
	switch token {
	case "owner-token":
		return &tokens.Claims{UserID: "user-1", Role: tokens.RoleOwner, TokenType: tokens.Access}, nil
	case "other-token":
		return &tokens.Claims{UserID: "user-2", Role: tokens.RoleOwner, TokenType: tokens.Access}, nil
	}
	return nil, tokens.ErrInvalidToken
}

type noBlacklist struct{}

func (noBlacklist) IsBlacklisted(ctx context.Context, userID, jti string) (bool, error) {
	return false, nil
}
func (noBlacklist) AddToBlacklist(ctx context.Context, userID, jti string, ttl time.Duration) error {
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func stubProcessor(streamID string) *stream.Processor {
	return stream.NewProcessor(streamID, "user-1", "shop-1", "entrance",
		stream.ProcessorConfig{SequenceLength: 24},
		stream.ProcessorDeps{})
}

func newTestRouter(t *testing.T) (http.Handler, *stream.Registry, *hub.Hub) {
	t.Helper()
	registry := stream.NewRegistry()
	alertHub := hub.New(hub.Config{}, nil, nil)
	svc := rtc.NewService(rtc.Config{}, nil, registry, nil)

	router := api.NewRouter(api.RouterDeps{
		Signaling: api.NewSignalingHandler(svc),
		Streams:   api.NewStreamHandler(registry, svc),
		AlertWS:   api.NewAlertWSHandler(alertHub, staticValidator{}),
		Health:    api.NewHealthHandler(registry, alertHub),
		JWT:       middleware.NewJWTAuth(staticValidator{}, noBlacklist{}),
	})
	return router, registry, alertHub
}

func doJSON(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestOffer_RequiresAuth(t *testing.T) {
	router, _, _ := newTestRouter(t)
	w := doJSON(t, router, "POST", "/offer", "", `{"type":"offer"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a token, got %d", w.Code)
	}
}

func TestOffer_BadType(t *testing.T) {
	router, _, _ := newTestRouter(t)
	w := doJSON(t, router, "POST", "/offer", "owner-token",
		`{"sdp":"v=0","type":"answer","user_id":"user-1","shop_id":"shop-1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for type != offer, got %d", w.Code)
	}
}

func TestOffer_UserMismatch(t *testing.T) {
	router, _, _ := newTestRouter(t)
	w := doJSON(t, router, "POST", "/offer", "owner-token",
		`{"sdp":"v=0","type":"offer","user_id":"someone-else","shop_id":"shop-1"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for user mismatch, got %d", w.Code)
	}
}

func TestListStreams(t *testing.T) {
	router, registry, _ := newTestRouter(t)

	registry.Add(&stream.Handle{
		StreamID:  "st-1",
		UserID:    "user-1",
		ShopID:    "shop-1",
		Location:  "entrance",
		PC:        nopCloser{},
		Processor: stubProcessor("st-1"),
		CreatedAt: time.Now(),
	})

	w := doJSON(t, router, "GET", "/users/user-1/streams", "owner-token", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		UserID  string `json:"user_id"`
		Streams []struct {
			StreamID string `json:"stream_id"`
			ShopID   string `json:"shop_id"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if len(resp.Streams) != 1 || resp.Streams[0].StreamID != "st-1" {
		t.Errorf("Expected exactly stream st-1, got %+v", resp.Streams)
	}

	// A different caller may not list someone else's streams.
	w = doJSON(t, router, "GET", "/users/user-1/streams", "other-token", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for another user's streams, got %d", w.Code)
	}
}

func TestDeleteStream(t *testing.T) {
	router, registry, _ := newTestRouter(t)

	registry.Add(&stream.Handle{
		StreamID:  "st-1",
		UserID:    "user-1",
		PC:        nopCloser{},
		Processor: stubProcessor("st-1"),
		CreatedAt: time.Now(),
	})

	w := doJSON(t, router, "DELETE", "/users/user-1/streams/st-1", "owner-token", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if registry.Count() != 0 {
		t.Errorf("Stream should be deregistered after delete")
	}

	w = doJSON(t, router, "DELETE", "/users/user-1/streams/st-1", "owner-token", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown stream, got %d", w.Code)
	}
}

func TestDeleteUserStreams(t *testing.T) {
	router, registry, _ := newTestRouter(t)

	for _, id := range []string{"st-1", "st-2"} {
		registry.Add(&stream.Handle{
			StreamID:  id,
			UserID:    "user-1",
			PC:        nopCloser{},
			Processor: stubProcessor(id),
			CreatedAt: time.Now(),
		})
	}

	w := doJSON(t, router, "DELETE", "/users/user-1", "owner-token", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 || registry.Count() != 0 {
		t.Errorf("Expected both streams torn down, count=%d left=%d", resp.Count, registry.Count())
	}
}

func TestWSConnections(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, "GET", "/ws/connections", "owner-token", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 0 {
		t.Errorf("Expected no connections, got %d", resp.Total)
	}

	w = doJSON(t, router, "GET", "/ws/connections/user-1", "owner-token", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for a user with no channel, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, "GET", "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad health body: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected ok status, got %v", resp["status"])
	}
}
