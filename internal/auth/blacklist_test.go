package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/visionguard/visionguard/internal/auth"
)

func TestRedisBlacklist(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	bl := auth.NewRedisBlacklist(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	listed, err := bl.IsBlacklisted(ctx, "user-1", "jti-1")
	if err != nil || listed {
		t.Fatalf("Fresh jti should not be blacklisted: %v %v", listed, err)
	}

	if err := bl.AddToBlacklist(ctx, "user-1", "jti-1", time.Minute); err != nil {
		t.Fatalf("AddToBlacklist failed: %v", err)
	}

	listed, err = bl.IsBlacklisted(ctx, "user-1", "jti-1")
	if err != nil || !listed {
		t.Fatalf("Revoked jti should be blacklisted: %v %v", listed, err)
	}

	// Same jti for another user is untouched.
	listed, _ = bl.IsBlacklisted(ctx, "user-2", "jti-1")
	if listed {
		t.Error("Blacklist keys must be user scoped")
	}

	// Entry expires with the token.
	mr.FastForward(2 * time.Minute)
	listed, _ = bl.IsBlacklisted(ctx, "user-1", "jti-1")
	if listed {
		t.Error("Blacklist entry should expire with its TTL")
	}
}
