package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	verifiedKeyPrefix    = "check:verified:"
	displayNameKeyPrefix = "user:name:"
	defaultMarkTTL       = 24 * time.Hour
	displayNameTTL       = 10 * time.Minute
)

// markVerifiedScript adds a target to the check's hash and refreshes the TTL
// of the whole hash in one round trip.
var markVerifiedScript = redis.NewScript(`
local key = KEYS[1]
local field = ARGV[1]
local ttl = tonumber(ARGV[2])

local added = redis.call('HSETNX', key, field, 1)
redis.call('EXPIRE', key, ttl)
return added
`)

// RedisAdapter keeps verification marks per check and caches display names.
type RedisAdapter struct {
	client  *redis.Client
	markTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, markTTL time.Duration) *RedisAdapter {
	if markTTL <= 0 {
		markTTL = defaultMarkTTL
	}
	return &RedisAdapter{client: client, markTTL: markTTL}
}

func (r *RedisAdapter) IsVerified(ctx context.Context, checkID, targetKey string) (bool, error) {
	return r.client.HExists(ctx, verifiedKeyPrefix+checkID, targetKey).Result()
}

func (r *RedisAdapter) MarkVerified(ctx context.Context, checkID, targetKey string) error {
	ttl := int64(r.markTTL / time.Second)
	return markVerifiedScript.Run(ctx, r.client, []string{verifiedKeyPrefix + checkID}, targetKey, ttl).Err()
}

func (r *RedisAdapter) ForgetCheck(ctx context.Context, checkID string) error {
	return r.client.Del(ctx, verifiedKeyPrefix+checkID).Err()
}

// CachedName returns a cached display name. ok is false on a cache miss.
func (r *RedisAdapter) CachedName(ctx context.Context, userID string) (name string, ok bool, err error) {
	name, err = r.client.Get(ctx, displayNameKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (r *RedisAdapter) CacheName(ctx context.Context, userID, name string) error {
	return r.client.Set(ctx, displayNameKeyPrefix+userID, name, displayNameTTL).Err()
}
