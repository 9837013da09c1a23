package ranking

import (
	"context"
	"time"

	pkgredis "github.com/bizrank/bizrank/pkg/redis"
)

// Store is the slice of the backing-store surface the ranking engine
// consumes: hash field maps for venue records, ordered sets for the ranking
// indices, lists for the bounded observation log, and TTL control for the
// trending window. *pkgredis.Client satisfies it; tests use an in-memory
// fake.
//
// The store guarantees atomicity per key only. Updates spanning several
// indices are applied one key at a time; see Engine.ApplyScore.
type Store interface {
	HSet(ctx context.Context, key string, fields map[string]any) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	ZAdd(ctx context.Context, key string, member string, score float64) error
	ZIncrBy(ctx context.Context, key string, incr float64, member string) (float64, error)
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]pkgredis.ZMember, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRevRank(ctx context.Context, key string, member string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)

	LPush(ctx context.Context, key string, values ...any) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}
