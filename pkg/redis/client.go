// Package redis provides a thin wrapper around go-redis/v9 exposing the
// backing-store primitives the ranking engine and memoization cache consume:
// string get/set-with-TTL, atomic counters, hash field maps, ordered sets,
// bounded lists, TTL inspection, and SCAN-based pattern enumeration and
// deletion.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bizrank/bizrank/pkg/config"
	"github.com/redis/go-redis/v9"
)

// ZMember is one (member, score) pair in an ordered set.
type ZMember struct {
	Member string
	Score  float64
}

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// ---------- Strings and counters ----------

// Get returns the string value for the given key. Missing keys return an
// error for which IsNilError reports true.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// SetWithTTL stores a value that expires after ttl. A ttl of zero stores
// the value without expiry.
func (c *Client) SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Incr atomically increments an integer key by one and returns the new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

// IncrBy atomically increments an integer key by n and returns the new value.
func (c *Client) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return c.rdb.IncrBy(ctx, key, n).Result()
}

// Del deletes the given keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return c.rdb.Del(ctx, keys...).Result()
}

// ---------- Hashes ----------

// HSet writes the given field map into the hash at key.
func (c *Client) HSet(ctx context.Context, key string, fields map[string]any) error {
	return c.rdb.HSet(ctx, key, fields).Err()
}

// HGetAll returns all fields of the hash at key. A missing key yields an
// empty map and no error, mirroring Redis semantics.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// ---------- Ordered sets ----------

// ZAdd adds or updates a member's score in the ordered set at key.
func (c *Client) ZAdd(ctx context.Context, key string, member string, score float64) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Member: member, Score: score}).Err()
}

// ZIncrBy atomically increments a member's score and returns the new score.
func (c *Client) ZIncrBy(ctx context.Context, key string, incr float64, member string) (float64, error) {
	return c.rdb.ZIncrBy(ctx, key, incr, member).Result()
}

// ZRevRangeWithScores returns members between start and stop (inclusive,
// 0-based) in descending score order.
func (c *Client) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error) {
	zs, err := c.rdb.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	members := make([]ZMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		members = append(members, ZMember{Member: member, Score: z.Score})
	}
	return members, nil
}

// ZRangeByScore returns the members whose score lies in [min, max], in
// ascending score order, ties in ascending lexicographic member order.
func (c *Client) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
}

// ZRevRank returns the 0-based descending rank of a member. An absent
// member returns an error for which IsNilError reports true.
func (c *Client) ZRevRank(ctx context.Context, key string, member string) (int64, error) {
	return c.rdb.ZRevRank(ctx, key, member).Result()
}

// ZCard returns the cardinality of the ordered set at key.
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	return c.rdb.ZCard(ctx, key).Result()
}

// ---------- Lists ----------

// LPush prepends values to the list at key.
func (c *Client) LPush(ctx context.Context, key string, values ...any) error {
	return c.rdb.LPush(ctx, key, values...).Err()
}

// LTrim trims the list at key to the given inclusive range.
func (c *Client) LTrim(ctx context.Context, key string, start, stop int64) error {
	return c.rdb.LTrim(ctx, key, start, stop).Err()
}

// LRange returns list elements between start and stop (inclusive).
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb.LRange(ctx, key, start, stop).Result()
}

// ---------- Expiry ----------

// TTL returns the remaining lifetime of a key. Redis conventions apply:
// -1 means the key has no expiry, -2 means the key does not exist.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}

// Expire sets the lifetime of an existing key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// ---------- Key enumeration ----------

// ScanKeys returns all keys matching the glob pattern using SCAN, never
// KEYS, so large keyspaces do not block the store.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return keys, fmt.Errorf("scanning pattern %s: %w", pattern, err)
	}
	return keys, nil
}

// IsNilError reports whether err is a Redis nil (key-not-found) error.
func IsNilError(err error) bool {
	return err == redis.Nil
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
