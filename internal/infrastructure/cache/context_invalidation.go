package cache

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InvalidateOtherContexts removes every entry whose (tenant, project) segments
// differ from the active context. Called on tenant or project switches so a
// superseded context's entries cannot outlive the switch; in-flight fetches
// from the old context are discarded by their keys' generation bumps.
func (c *KeyedTTLCache[T]) InvalidateOtherContexts(ctx context.Context, tenantID uuid.UUID, projectSegment string) {
	tenant := tenantID.String()
	removed := 0

	// console:cache:<logical>:<tenant>:<project>
	superseded := func(k string) bool {
		parts := strings.Split(k, ":")
		if len(parts) != 5 {
			return false
		}
		return parts[3] != tenant || parts[4] != projectSegment
	}

	c.entries.Range(func(key, _ any) bool {
		k := key.(string)
		if !superseded(k) {
			return true
		}
		c.entries.Delete(key)
		if c.store != nil {
			if err := c.store.Delete(ctx, k); err != nil {
				c.logger.Warn("Failed to delete entry from ephemeral tier",
					zap.String("key", k),
					zap.Error(err))
			}
		}
		removed++
		return true
	})
	c.gens.Range(func(key, value any) bool {
		if superseded(key.(string)) {
			value.(*atomic.Int64).Add(1)
		}
		return true
	})

	if removed > 0 {
		c.logger.Debug("Invalidated entries from superseded contexts",
			zap.String("tenant_id", tenant),
			zap.String("project", projectSegment),
			zap.Int("removed", removed))
	}
}
