package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRedisUnavailable = errors.New("redis unavailable")

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

type Decision struct {
	Limit      int
	Remaining  int
	RetryAfter int // seconds
	Allowed    bool
}

// Atomic INCR with an expiry set on the first hit of the window.
var windowScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// Limiter counts requests per key in a fixed window anchored at the first
// request, backed by Redis so restarts do not reset the counters.
type Limiter struct {
	client *redis.Client
	salt   string
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	return &Limiter{client: client, salt: salt}
}

// HashIP hashes a client IP before it is used as a Redis key.
func (l *Limiter) HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(hash[:])
}

func (l *Limiter) Check(ctx context.Context, key string, cfg LimitConfig) (*Decision, error) {
	count, err := windowScript.Run(ctx, l.client, []string{key}, cfg.Window.Milliseconds()).Int()
	if err != nil {
		return nil, ErrRedisUnavailable
	}

	remaining := cfg.Rate - count
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Limit:      cfg.Rate,
		Remaining:  remaining,
		RetryAfter: int(cfg.Window.Seconds()),
		Allowed:    count <= cfg.Rate,
	}, nil
}
