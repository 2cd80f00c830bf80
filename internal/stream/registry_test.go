package stream_test

import (
	"testing"
	"time"

	"github.com/visionguard/visionguard/internal/stream"
)

func handle(streamID, userID string, createdAt time.Time) *stream.Handle {
	return &stream.Handle{
		StreamID:  streamID,
		UserID:    userID,
		ShopID:    "shop-1",
		CreatedAt: createdAt,
	}
}

func TestRegistry_AddAndGet(t *testing.T) {
	r := stream.NewRegistry()
	h := handle("s1", "u1", time.Now())

	if err := r.Add(h); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(handle("s1", "u2", time.Now())); err != stream.ErrDuplicateStream {
		t.Errorf("Expected ErrDuplicateStream, got %v", err)
	}

	got, ok := r.Get("s1")
	if !ok || got.UserID != "u1" {
		t.Errorf("Get returned %+v ok=%v", got, ok)
	}
	if r.Count() != 1 {
		t.Errorf("Expected count 1, got %d", r.Count())
	}
}

func TestRegistry_ListOrderedByCreation(t *testing.T) {
	r := stream.NewRegistry()
	base := time.Now()
	r.Add(handle("s2", "u1", base.Add(time.Second)))
	r.Add(handle("s1", "u1", base))
	r.Add(handle("s3", "u2", base))

	list := r.List("u1")
	if len(list) != 2 {
		t.Fatalf("Expected 2 streams for u1, got %d", len(list))
	}
	if list[0].StreamID != "s1" || list[1].StreamID != "s2" {
		t.Errorf("Expected creation order s1,s2 got %s,%s", list[0].StreamID, list[1].StreamID)
	}
}

func TestRegistry_RemoveAll(t *testing.T) {
	r := stream.NewRegistry()
	r.Add(handle("s1", "u1", time.Now()))
	r.Add(handle("s2", "u1", time.Now()))
	r.Add(handle("s3", "u2", time.Now()))

	removed := r.RemoveAll("u1")
	if len(removed) != 2 {
		t.Fatalf("Expected 2 removed, got %d", len(removed))
	}
	if r.Count() != 1 {
		t.Errorf("Expected 1 remaining, got %d", r.Count())
	}
	if users := r.Users(); len(users) != 1 || users["u2"] != 1 {
		t.Errorf("Unexpected user index: %v", users)
	}
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	r := stream.NewRegistry()
	if h := r.Remove("nope"); h != nil {
		t.Errorf("Expected nil for unknown stream, got %+v", h)
	}
}
