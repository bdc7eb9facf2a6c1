// Package cache stores merged aggregation results keyed by request context.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/TobiSchelling/hrnews/internal/article"
)

// Source outcome labels.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// SourceStatus is the per-source diagnostic attached to every pass.
type SourceStatus struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Count  int    `json:"count"`
	Error  string `json:"error,omitempty"`
}

// Entry is one cached aggregation result. Articles are classified,
// region-filtered and sorted newest first.
type Entry struct {
	Key       string            `json:"key"`
	Articles  []article.Article `json:"articles"`
	CreatedAt time.Time         `json:"created_at"`
	Sources   []SourceStatus    `json:"sources"`
}

// Stats summarizes the contents of a store.
type Stats struct {
	Keys             []string   `json:"keys"`
	Entries          int        `json:"entries"`
	Articles         int        `json:"articles"`
	ApproximateBytes int64      `json:"approximate_bytes"`
	LastUpdate       *time.Time `json:"last_update,omitempty"`
}

// Store holds entries. Implementations replace entries whole.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Put(ctx context.Context, key string, e *Entry)
	Clear(ctx context.Context)
	Stats(ctx context.Context) Stats
}

// Key builds the cache key for a region preference and an optional
// explicit source selection. A nil selection means the registry defaults.
func Key(region string, enabled map[string]bool) string {
	r := strings.TrimSpace(region)
	if r == "" || strings.EqualFold(r, "all regions") || strings.EqualFold(r, "all") {
		r = "all"
	}
	if enabled == nil {
		return r + "|all"
	}
	keys := make([]string, 0, len(enabled))
	for k, on := range enabled {
		if on {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return r + "|" + strings.Join(keys, ",")
}

// IsValid reports whether e is younger than ttl at now.
func IsValid(e *Entry, ttl time.Duration, now time.Time) bool {
	if e == nil {
		return false
	}
	return now.Sub(e.CreatedAt) < ttl
}

// approxSize estimates the encoded size of an entry.
func approxSize(e *Entry) int64 {
	b, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

func accumulate(s *Stats, key string, e *Entry, size int64) {
	s.Keys = append(s.Keys, key)
	s.Entries++
	s.Articles += len(e.Articles)
	s.ApproximateBytes += size
	if s.LastUpdate == nil || e.CreatedAt.After(*s.LastUpdate) {
		t := e.CreatedAt
		s.LastUpdate = &t
	}
}
