package otp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiredGrace keeps a challenge readable past its TTL so a late attempt
// reports ErrCredentialExpired instead of ErrCredentialNotFound.
const expiredGrace = time.Minute

// compareAndDeleteScript checks and consumes a challenge atomically.
// The stored value is "<digest>|<expires_at_ms>".
//
// KEYS[1] challenge key
// ARGV[1] submitted digest, ARGV[2] now in ms
//
// Returns 1 on success, 0 not found, -1 expired, -2 mismatch.
var compareAndDeleteScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return 0
end
local sep = string.find(v, '|', 1, true)
local stored = string.sub(v, 1, sep - 1)
local expires = tonumber(string.sub(v, sep + 1))
if tonumber(ARGV[2]) >= expires then
	redis.call('DEL', KEYS[1])
	return -1
end
if stored ~= ARGV[1] then
	return -2
end
redis.call('DEL', KEYS[1])
return 1
`)

// RedisStore keeps challenges in Redis so every instance sees the same
// outstanding codes.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a RedisStore on client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// SetClock overrides the time source. Used in tests.
func (s *RedisStore) SetClock(now func() time.Time) { s.now = now }

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key, digest string, ttl time.Duration) error {
	if strings.Contains(digest, "|") {
		return fmt.Errorf("store challenge: invalid digest")
	}
	value := digest + "|" + strconv.FormatInt(s.now().Add(ttl).UnixMilli(), 10)
	if err := s.client.Set(ctx, key, value, ttl+expiredGrace).Err(); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

// CompareAndDelete implements Store.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, digest string) error {
	res, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, digest, s.now().UnixMilli()).Int64()
	if err != nil {
		return fmt.Errorf("verify challenge: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return ErrCredentialNotFound
	case -1:
		return ErrCredentialExpired
	default:
		return ErrCredentialMismatch
	}
}
