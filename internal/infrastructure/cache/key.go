// Package cache implements the keyed TTL read cache the dashboard bindings
// sit on: entries are indexed by (logicalName, tenantID, projectID), stale
// entries are served while a single deduplicated refresh runs, and loader
// failures fall back to the previous entry when one exists.
package cache

import (
	"strings"

	"github.com/google/uuid"
)

// KeyPrefix namespaces every cache key, in memory and in the ephemeral tier
const KeyPrefix = "console:cache"

// Key is the composite cache identity. Two keys with different tenant or
// project segments are never equivalent, even for the same logical name;
// switching scope therefore switches the whole reachable key space.
type Key struct {
	LogicalName string
	TenantID    uuid.UUID
	ProjectID   string // project UUID, "all", or "none"
}

// NewKey builds a key from its three segments
func NewKey(logicalName string, tenantID uuid.UUID, projectID string) Key {
	if projectID == "" {
		projectID = "none"
	}
	return Key{LogicalName: logicalName, TenantID: tenantID, ProjectID: projectID}
}

// String renders the composite key: console:cache:<logical>:<tenant>:<project>
func (k Key) String() string {
	return strings.Join([]string{KeyPrefix, k.LogicalName, k.TenantID.String(), k.ProjectID}, ":")
}

// PrefixForLogical returns the invalidation prefix covering every tenant and
// project of one logical name
func PrefixForLogical(logicalName string) string {
	return KeyPrefix + ":" + logicalName + ":"
}
