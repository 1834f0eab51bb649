package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/apparatus-check/internal/port"
)

// NameCache is the read-through cache used by CachedDirectory.
type NameCache interface {
	CachedName(ctx context.Context, userID string) (string, bool, error)
	CacheName(ctx context.Context, userID, name string) error
}

// CachedDirectory resolves display names from a backing resolver, keeping
// hits in a cache. Cache failures fall through to the backing resolver.
type CachedDirectory struct {
	backing port.DisplayNameResolver
	cache   NameCache
	logger  *zap.Logger
}

func NewCachedDirectory(backing port.DisplayNameResolver, cache NameCache, logger *zap.Logger) *CachedDirectory {
	return &CachedDirectory{backing: backing, cache: cache, logger: logger}
}

func (d *CachedDirectory) DisplayNameOf(ctx context.Context, userID string) (string, bool, error) {
	name, ok, err := d.cache.CachedName(ctx, userID)
	if err != nil {
		d.logger.Warn("display name cache read failed", zap.String("user_id", userID), zap.Error(err))
	} else if ok {
		return name, true, nil
	}

	name, ok, err = d.backing.DisplayNameOf(ctx, userID)
	if err != nil || !ok {
		return name, ok, err
	}
	if err := d.cache.CacheName(ctx, userID, name); err != nil {
		d.logger.Warn("display name cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return name, true, nil
}
