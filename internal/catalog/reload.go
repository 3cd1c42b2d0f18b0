package catalog

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ReloadChannel is the redis pub/sub channel operators publish to after a
// catalog mutation (admin CRUD, out of scope) so every engine process
// swaps in the new snapshot without restarting (§13 supplemented feature).
const ReloadChannel = "gamification:catalog:reloaded"

// WatchReload subscribes to ReloadChannel and calls Load on every message
// until ctx is cancelled. It never returns an error for individual reload
// failures; those are logged so one bad publish doesn't kill the watcher.
func (c *Catalog) WatchReload(ctx context.Context, rdb *redis.Client) {
	sub := rdb.Subscribe(ctx, ReloadChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := c.Load(ctx); err != nil {
				c.logger.Error("catalog: reload failed", zap.Error(err))
			}
		}
	}
}

// PublishReload notifies other engine processes that the catalog changed.
func PublishReload(ctx context.Context, rdb *redis.Client) error {
	return rdb.Publish(ctx, ReloadChannel, "reload").Err()
}
