// Package cache provides the read-through cache used by the catalog.
//
// Values are stored as JSON. Redis is used when REDIS_URL is configured,
// otherwise an in-process Memory cache. A cache failure is never fatal to a
// request: callers log it and fall back to the database.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache stores JSON-encoded values under string keys.
type Cache interface {
	// Get decodes the value stored under key into dest. The boolean is false
	// on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// Keys used by the catalog.
const (
	CategoryCountsKey = "catalog:categories"
)

// ModKey is the key of a mod detail entry.
func ModKey(id int64) string {
	return fmt.Sprintf("catalog:mod:%d", id)
}
