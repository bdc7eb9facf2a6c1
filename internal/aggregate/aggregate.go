// Package aggregate is the facade over one aggregation engine: it selects
// sources, runs a fetch pass, classifies, filters and sorts the merged
// result, caches it per request context and paginates responses.
package aggregate

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/TobiSchelling/hrnews/internal/article"
	"github.com/TobiSchelling/hrnews/internal/cache"
	"github.com/TobiSchelling/hrnews/internal/classify"
	"github.com/TobiSchelling/hrnews/internal/collect"
	"github.com/TobiSchelling/hrnews/internal/database"
	"github.com/TobiSchelling/hrnews/internal/paginate"
	"github.com/TobiSchelling/hrnews/internal/region"
	"github.com/TobiSchelling/hrnews/internal/registry"
)

// Request is the caller's input for one aggregation.
type Request struct {
	Enabled         bool
	Limit           *int
	Offset          int
	PreferredRegion string
	// EnabledSources overrides the registry's enabled flags per key.
	// Nil means the registry defaults.
	EnabledSources map[string]bool
	ForceRefresh   bool
}

// Response is one page of a merged result.
type Response struct {
	Articles  []article.Article    `json:"articles"`
	Total     int                  `json:"total"`
	Showing   int                  `json:"showing"`
	HasMore   bool                 `json:"hasMore"`
	Offset    int                  `json:"offset"`
	Timestamp time.Time            `json:"timestamp"`
	Sources   []cache.SourceStatus `json:"sources"`
}

// Enricher fills in article fields after fetching and before
// classification.
type Enricher interface {
	Enrich(ctx context.Context, articles []article.Article) []article.Article
}

// Recorder persists a summary of every pass.
type Recorder interface {
	RecordPass(p database.Pass) error
}

// Engine owns the registry, the sources built for it and the cache.
type Engine struct {
	reg         *registry.Registry
	sources     map[string]collect.Source
	classifier  *classify.Classifier
	store       cache.Store
	ttl         time.Duration
	passTimeout time.Duration
	serveStale  bool
	now         func() time.Time
	enricher    Enricher
	recorder    Recorder

	passes singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithTTL sets how long a cache entry stays fresh.
func WithTTL(d time.Duration) Option {
	return func(e *Engine) { e.ttl = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStore replaces the in-memory cache.
func WithStore(s cache.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithServeStale makes stale entries answer immediately while one
// background pass per key refreshes them.
func WithServeStale(on bool) Option {
	return func(e *Engine) { e.serveStale = on }
}

// WithEnricher adds an enrichment step to every pass.
func WithEnricher(en Enricher) Option {
	return func(e *Engine) { e.enricher = en }
}

// WithRecorder records every pass.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithPassTimeout bounds a whole pass.
func WithPassTimeout(d time.Duration) Option {
	return func(e *Engine) { e.passTimeout = d }
}

// New creates an engine. sources maps registry keys to their adapters.
func New(reg *registry.Registry, sources map[string]collect.Source, opts ...Option) *Engine {
	e := &Engine{
		reg:         reg,
		sources:     sources,
		classifier:  classify.New(reg.DefaultCategories()),
		store:       cache.NewMemoryStore(),
		ttl:         time.Hour,
		passTimeout: 60 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's source registry.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// TTL returns the freshness window of cache entries.
func (e *Engine) TTL() time.Duration {
	return e.ttl
}

// Fetch answers a request from the cache or a new pass. It never fails:
// source problems show up in Response.Sources.
func (e *Engine) Fetch(ctx context.Context, req Request) Response {
	if !req.Enabled {
		return Response{Articles: []article.Article{}, Offset: max(req.Offset, 0), Timestamp: e.now()}
	}

	key := e.cacheKey(req)
	if !req.ForceRefresh {
		if entry, ok := e.store.Get(ctx, key); ok {
			if cache.IsValid(entry, e.ttl, e.now()) {
				log.Printf("Cache hit for %s", key)
				return respond(entry, req)
			}
			if e.serveStale {
				log.Printf("Serving stale entry for %s while refreshing", key)
				e.passes.DoChan(key, func() (any, error) {
					return e.pass(ctx, key, req), nil
				})
				return respond(entry, req)
			}
		}
	}

	// Forced requests never join a pass already in flight.
	ch := make(chan *cache.Entry, 1)
	if req.ForceRefresh {
		go func() { ch <- e.pass(ctx, key, req) }()
	} else {
		flight := e.passes.DoChan(key, func() (any, error) {
			return e.pass(ctx, key, req), nil
		})
		go func() { ch <- (<-flight).Val.(*cache.Entry) }()
	}
	select {
	case entry := <-ch:
		return respond(entry, req)
	case <-ctx.Done():
		// The pass keeps running and fills the cache for the next caller.
		return Response{Articles: []article.Article{}, Offset: max(req.Offset, 0), Timestamp: e.now()}
	}
}

// cacheKey keys explicit selections by the effective set of enabled
// sources, so {a: false} and {} do not collide.
func (e *Engine) cacheKey(req Request) string {
	if req.EnabledSources == nil {
		return cache.Key(req.PreferredRegion, nil)
	}
	effective := make(map[string]bool)
	for _, d := range e.reg.ListEnabled(req.EnabledSources) {
		effective[d.Key] = true
	}
	return cache.Key(req.PreferredRegion, effective)
}

// Refresh always runs a new pass for req, started after the call, and
// stores the result.
func (e *Engine) Refresh(ctx context.Context, req Request) Response {
	req.Enabled = true
	req.ForceRefresh = true
	return e.Fetch(ctx, req)
}

// ClearCache drops every cache entry.
func (e *Engine) ClearCache(ctx context.Context) {
	e.store.Clear(ctx)
	log.Println("Cache cleared")
}

// CacheStats describes the cache contents.
func (e *Engine) CacheStats(ctx context.Context) cache.Stats {
	return e.store.Stats(ctx)
}

// pass runs one full aggregation for key and writes the entry back. It
// runs detached from the caller's cancellation so that an abandoned
// request still warms the cache.
func (e *Engine) pass(parent context.Context, key string, req Request) *cache.Entry {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.passTimeout)
	defer cancel()

	started := e.now()
	descs := e.reg.ListEnabled(req.EnabledSources)

	var srcs []collect.Source
	var missing []cache.SourceStatus
	for _, d := range descs {
		s, ok := e.sources[d.Key]
		if !ok {
			missing = append(missing, cache.SourceStatus{
				Key: d.Key, Name: d.Name, Status: cache.StatusFailed, Error: "no adapter configured",
			})
			continue
		}
		srcs = append(srcs, s)
	}

	results := collect.FetchAll(ctx, srcs)

	var merged []article.Article
	statuses := make([]cache.SourceStatus, 0, len(results)+len(missing))
	ok := 0
	for _, r := range results {
		st := cache.SourceStatus{Key: r.Key, Name: r.Name, Status: cache.StatusOK, Count: len(r.Articles)}
		if !r.OK() {
			st.Status = cache.StatusFailed
			st.Count = 0
			st.Error = r.Err.Error()
		} else {
			ok++
			merged = append(merged, r.Articles...)
		}
		statuses = append(statuses, st)
	}
	statuses = append(statuses, missing...)

	if e.enricher != nil && len(merged) > 0 {
		merged = e.enricher.Enrich(ctx, merged)
	}

	classified := e.classifier.ClassifyAll(merged)
	filtered := region.Filter(classified, req.PreferredRegion)
	final := append([]article.Article(nil), filtered...)
	article.SortByDateDesc(final)

	entry := &cache.Entry{
		Key:       key,
		Articles:  final,
		CreatedAt: e.now(),
		Sources:   statuses,
	}
	e.store.Put(ctx, key, entry)

	log.Printf("Pass for %s: %d articles from %d/%d sources", key, len(final), ok, len(statuses))
	e.record(key, req, started, entry)
	return entry
}

func (e *Engine) record(key string, req Request, started time.Time, entry *cache.Entry) {
	if e.recorder == nil {
		return
	}
	p := database.Pass{
		ID:           uuid.NewString(),
		CacheKey:     key,
		Region:       req.PreferredRegion,
		StartedAt:    started,
		FinishedAt:   entry.CreatedAt,
		ArticleCount: len(entry.Articles),
		Forced:       req.ForceRefresh,
	}
	for _, s := range entry.Sources {
		p.Sources = append(p.Sources, database.PassSource{
			SourceKey: s.Key, Name: s.Name, Status: s.Status, Count: s.Count, Error: s.Error,
		})
	}
	if err := e.recorder.RecordPass(p); err != nil {
		log.Printf("Failed to record pass: %v", err)
	}
}

func respond(entry *cache.Entry, req Request) Response {
	page := paginate.Paginate(entry.Articles, req.Limit, req.Offset)
	return Response{
		Articles:  page.Articles,
		Total:     page.Total,
		Showing:   page.Showing,
		HasMore:   page.HasMore,
		Offset:    page.Offset,
		Timestamp: entry.CreatedAt,
		Sources:   append([]cache.SourceStatus(nil), entry.Sources...),
	}
}
