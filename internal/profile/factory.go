package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/variantlabs/decider/internal/db"
)

// Options carries the backend-specific settings NewStore may need.
type Options struct {
	RedisAddr string
	RedisTTL  time.Duration
	DBDSN     string
}

// NewStore creates a profile store for the given backend type.
// Supported types: "memory", "redis", "postgres".
func NewStore(ctx context.Context, storeType string, opts Options) (Store, error) {
	switch storeType {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, opts.RedisAddr, opts.RedisTTL)
	case "postgres":
		pool, err := db.NewPool(ctx, opts.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("create postgres pool: %w", err)
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported profile store type: %s", storeType)
	}
}
