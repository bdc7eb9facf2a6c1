package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces hrnews entries in a shared Redis.
const KeyPrefix = "hrnews:cache:"

// RedisStore shares entries between server replicas. Redis errors are
// logged and behave like misses.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisStore connects to addr. Entries expire from Redis after
// retention; freshness is still decided by the engine's TTL.
func NewRedisStore(addr string, retention time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("warn: redis ping failed: %v", err)
	}
	return &RedisStore{rdb: rdb, retention: retention}
}

// Close releases the Redis connection pool.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) Get(ctx context.Context, key string) (*Entry, bool) {
	bs, err := r.rdb.Get(ctx, KeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("warn: redis get %s: %v", key, err)
		}
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(bs, &e); err != nil {
		log.Printf("warn: redis entry %s unreadable: %v", key, err)
		return nil, false
	}
	return &e, true
}

func (r *RedisStore) Put(ctx context.Context, key string, e *Entry) {
	bs, err := json.Marshal(e)
	if err != nil {
		log.Printf("warn: encode cache entry %s: %v", key, err)
		return
	}
	if err := r.rdb.Set(ctx, KeyPrefix+key, bs, r.retention).Err(); err != nil {
		log.Printf("warn: redis set %s: %v", key, err)
	}
}

func (r *RedisStore) Clear(ctx context.Context) {
	keys := r.scan(ctx)
	if len(keys) == 0 {
		return
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Printf("warn: redis clear: %v", err)
	}
}

func (r *RedisStore) Stats(ctx context.Context) Stats {
	var s Stats
	for _, k := range r.scan(ctx) {
		bs, err := r.rdb.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(bs, &e); err != nil {
			continue
		}
		accumulate(&s, strings.TrimPrefix(k, KeyPrefix), &e, int64(len(bs)))
	}
	sort.Strings(s.Keys)
	return s
}

func (r *RedisStore) scan(ctx context.Context) []string {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("warn: redis scan: %v", err)
	}
	return keys
}
