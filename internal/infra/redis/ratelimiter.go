package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/robotline/claim-engine/internal/ratelimit"
)

const (
	defaultClaimsPerSec int64 = 50
	windowSeconds             = 1
)

var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.ClaimLimiter = (*ClaimRateLimiter)(nil)

// ClaimRateLimiter is a distributed per-kind, per-second limiter on claim
// polls. The counter lives in Redis so every API replica shares the same
// budget; the INCR and EXPIRE run in one Lua script so a crashed caller
// cannot leak a counter without a TTL.
type ClaimRateLimiter struct {
	client       *goredis.Client
	claimsPerSec int64
	now          func() time.Time
	script       *goredis.Script
}

func NewClaimRateLimiter(client *goredis.Client, claimsPerSec int) (*ClaimRateLimiter, error) {
	return newClaimRateLimiter(client, int64(claimsPerSec), time.Now)
}

func newClaimRateLimiter(
	client *goredis.Client,
	claimsPerSec int64,
	nowFn func() time.Time,
) (*ClaimRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if claimsPerSec <= 0 {
		claimsPerSec = defaultClaimsPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &ClaimRateLimiter{
		client:       client,
		claimsPerSec: claimsPerSec,
		now:          nowFn,
		script:       allowScript,
	}, nil
}

func (r *ClaimRateLimiter) Allow(ctx context.Context, kind string) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalizedKind := strings.ToLower(strings.TrimSpace(kind))
	if normalizedKind == "" {
		return false, fmt.Errorf("kind is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("claimrate:%s:%d", normalizedKind, r.now().UTC().Unix())
	result, err := r.script.Run(ctx, r.client, []string{key}, r.claimsPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate claim rate limit: %w", err)
	}

	return result == 1, nil
}
