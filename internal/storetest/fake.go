// Package storetest provides an in-memory fake of the backing-store
// adapter. It mirrors the adapter's contract closely enough for unit tests:
// missing string keys and absent ordered-set members report redis.Nil, TTL
// follows the -1/-2 reply convention, and a controllable clock drives
// expiry.
package storetest

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	pkgredis "github.com/bizrank/bizrank/pkg/redis"
	"github.com/redis/go-redis/v9"
)

// Fake is an in-memory store. The zero value is not usable; call New.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	strings map[string]string
	hashes  map[string]map[string]string
	zsets   map[string]map[string]float64
	lists   map[string][]string
	expiry  map[string]time.Time

	// Fail maps a key to an error every operation on that key returns.
	// Tests use it to simulate partial store failures.
	Fail map[string]error

	// FailOnce maps a key to an error returned by the next operation on
	// that key only; the entry is consumed on first use. Tests use it to
	// simulate transient store failures.
	FailOnce map[string]error
}

// New creates an empty fake store with the clock at a fixed instant.
func New() *Fake {
	return &Fake{
		now:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		strings:  make(map[string]string),
		hashes:   make(map[string]map[string]string),
		zsets:    make(map[string]map[string]float64),
		lists:    make(map[string][]string),
		expiry:   make(map[string]time.Time),
		Fail:     make(map[string]error),
		FailOnce: make(map[string]error),
	}
}

// Advance moves the fake clock forward, expiring keys whose TTL elapses.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *Fake) failure(key string) error {
	if err, ok := f.FailOnce[key]; ok {
		delete(f.FailOnce, key)
		return err
	}
	if err, ok := f.Fail[key]; ok {
		return err
	}
	return nil
}

// purgeExpired removes a key in any keyspace once its expiry has passed.
// Callers must hold mu.
func (f *Fake) purgeExpired(key string) {
	if exp, ok := f.expiry[key]; ok && !f.now.Before(exp) {
		delete(f.strings, key)
		delete(f.hashes, key)
		delete(f.zsets, key)
		delete(f.lists, key)
		delete(f.expiry, key)
	}
}

func (f *Fake) exists(key string) bool {
	if _, ok := f.strings[key]; ok {
		return true
	}
	if _, ok := f.hashes[key]; ok {
		return true
	}
	if _, ok := f.zsets[key]; ok {
		return true
	}
	if _, ok := f.lists[key]; ok {
		return true
	}
	return false
}

// ---------- Strings and counters ----------

func (f *Fake) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return "", err
	}
	f.purgeExpired(key)
	value, ok := f.strings[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (f *Fake) SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return err
	}
	f.strings[key] = value
	if ttl > 0 {
		f.expiry[key] = f.now.Add(ttl)
	} else {
		delete(f.expiry, key)
	}
	return nil
}

func (f *Fake) Incr(ctx context.Context, key string) (int64, error) {
	return f.IncrBy(ctx, key, 1)
}

func (f *Fake) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return 0, err
	}
	f.purgeExpired(key)
	current := int64(0)
	if value, ok := f.strings[key]; ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not an integer", key)
		}
		current = parsed
	}
	current += n
	f.strings[key] = strconv.FormatInt(current, 10)
	return current, nil
}

func (f *Fake) Del(ctx context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if err := f.failure(key); err != nil {
			return removed, err
		}
		f.purgeExpired(key)
		if f.exists(key) {
			removed++
		}
		delete(f.strings, key)
		delete(f.hashes, key)
		delete(f.zsets, key)
		delete(f.lists, key)
		delete(f.expiry, key)
	}
	return removed, nil
}

// ---------- Hashes ----------

func (f *Fake) HSet(ctx context.Context, key string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return err
	}
	f.purgeExpired(key)
	hash, ok := f.hashes[key]
	if !ok {
		hash = make(map[string]string)
		f.hashes[key] = hash
	}
	for field, value := range fields {
		hash[field] = fmt.Sprint(value)
	}
	return nil
}

func (f *Fake) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return nil, err
	}
	f.purgeExpired(key)
	result := make(map[string]string, len(f.hashes[key]))
	for field, value := range f.hashes[key] {
		result[field] = value
	}
	return result, nil
}

// ---------- Ordered sets ----------

func (f *Fake) ZAdd(ctx context.Context, key string, member string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return err
	}
	f.purgeExpired(key)
	zset, ok := f.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		f.zsets[key] = zset
	}
	zset[member] = score
	return nil
}

func (f *Fake) ZIncrBy(ctx context.Context, key string, incr float64, member string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return 0, err
	}
	f.purgeExpired(key)
	zset, ok := f.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		f.zsets[key] = zset
	}
	zset[member] += incr
	return zset[member], nil
}

// sortedMembers returns the zset in descending score order, score ties in
// descending member order, matching ZREVRANGE semantics. Callers must hold
// mu.
func (f *Fake) sortedMembers(key string) []pkgredis.ZMember {
	zset := f.zsets[key]
	members := make([]pkgredis.ZMember, 0, len(zset))
	for member, score := range zset {
		members = append(members, pkgredis.ZMember{Member: member, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		return members[i].Member > members[j].Member
	})
	return members
}

func (f *Fake) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]pkgredis.ZMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return nil, err
	}
	f.purgeExpired(key)
	members := f.sortedMembers(key)
	n := int64(len(members))
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = n + start
	}
	if start < 0 {
		start = 0
	}
	if start >= n || stop < start {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	return members[start : stop+1], nil
}

func (f *Fake) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return nil, err
	}
	f.purgeExpired(key)
	var members []string
	for member, score := range f.zsets[key] {
		if score >= min && score <= max {
			members = append(members, member)
		}
	}
	// Ascending score, ties in ascending lexicographic member order.
	zset := f.zsets[key]
	sort.Slice(members, func(i, j int) bool {
		if zset[members[i]] != zset[members[j]] {
			return zset[members[i]] < zset[members[j]]
		}
		return members[i] < members[j]
	})
	return members, nil
}

func (f *Fake) ZRevRank(ctx context.Context, key string, member string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return 0, err
	}
	f.purgeExpired(key)
	for i, m := range f.sortedMembers(key) {
		if m.Member == member {
			return int64(i), nil
		}
	}
	return 0, redis.Nil
}

func (f *Fake) ZCard(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return 0, err
	}
	f.purgeExpired(key)
	return int64(len(f.zsets[key])), nil
}

// ---------- Lists ----------

func (f *Fake) LPush(ctx context.Context, key string, values ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return err
	}
	f.purgeExpired(key)
	for _, value := range values {
		f.lists[key] = append([]string{fmt.Sprint(value)}, f.lists[key]...)
	}
	return nil
}

func (f *Fake) LTrim(ctx context.Context, key string, start, stop int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return err
	}
	f.purgeExpired(key)
	list := f.lists[key]
	n := int64(len(list))
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = n + start
	}
	if start < 0 {
		start = 0
	}
	if start >= n || stop < start {
		delete(f.lists, key)
		return nil
	}
	if stop >= n {
		stop = n - 1
	}
	f.lists[key] = list[start : stop+1]
	return nil
}

func (f *Fake) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return nil, err
	}
	f.purgeExpired(key)
	list := f.lists[key]
	n := int64(len(list))
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = n + start
	}
	if start < 0 {
		start = 0
	}
	if start >= n || stop < start {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	result := make([]string, stop-start+1)
	copy(result, list[start:stop+1])
	return result, nil
}

// ---------- Expiry ----------

func (f *Fake) TTL(ctx context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return 0, err
	}
	f.purgeExpired(key)
	if !f.exists(key) {
		return time.Duration(-2), nil
	}
	exp, ok := f.expiry[key]
	if !ok {
		return time.Duration(-1), nil
	}
	return exp.Sub(f.now), nil
}

func (f *Fake) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failure(key); err != nil {
		return err
	}
	f.purgeExpired(key)
	if !f.exists(key) {
		return nil
	}
	f.expiry[key] = f.now.Add(ttl)
	return nil
}

// ---------- Key enumeration ----------

func (f *Fake) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, keyspace := range []func() []string{f.stringKeys, f.hashKeys, f.zsetKeys, f.listKeys} {
		for _, key := range keyspace() {
			f.purgeExpired(key)
			if !f.exists(key) {
				continue
			}
			if ok, _ := path.Match(pattern, key); ok {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *Fake) stringKeys() []string {
	keys := make([]string, 0, len(f.strings))
	for key := range f.strings {
		keys = append(keys, key)
	}
	return keys
}

func (f *Fake) hashKeys() []string {
	keys := make([]string, 0, len(f.hashes))
	for key := range f.hashes {
		keys = append(keys, key)
	}
	return keys
}

func (f *Fake) zsetKeys() []string {
	keys := make([]string, 0, len(f.zsets))
	for key := range f.zsets {
		keys = append(keys, key)
	}
	return keys
}

func (f *Fake) listKeys() []string {
	keys := make([]string, 0, len(f.lists))
	for key := range f.lists {
		keys = append(keys, key)
	}
	return keys
}
