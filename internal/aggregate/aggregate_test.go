package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/hrnews/internal/article"
	"github.com/TobiSchelling/hrnews/internal/cache"
	"github.com/TobiSchelling/hrnews/internal/collect"
	"github.com/TobiSchelling/hrnews/internal/database"
	"github.com/TobiSchelling/hrnews/internal/registry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubSource struct {
	key      string
	articles []article.Article
	err      error
	calls    int32
	gate     chan struct{}
}

func (s *stubSource) Key() string  { return s.key }
func (s *stubSource) Name() string { return "Source " + s.key }
func (s *stubSource) Fetch(ctx context.Context) ([]article.Article, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return append([]article.Article(nil), s.articles...), nil
}

func (s *stubSource) Calls() int { return int(atomic.LoadInt32(&s.calls)) }

func art(key, title, date string) article.Article {
	return article.Article{Title: title, Date: date, FeedSource: key, Source: "Source " + key}
}

type fixture struct {
	engine  *Engine
	clock   *fakeClock
	sources map[string]*stubSource
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	a := &stubSource{key: "a", articles: []article.Article{
		art("a", "Fentanyl found in pressed pills", "2024-05-08"),
		art("a", "Community meeting", "2024-05-01"),
	}}
	b := &stubSource{key: "b", err: errors.New("HTTP 503 Service Unavailable")}
	c := &stubSource{key: "c", articles: []article.Article{
		art("c", "New research on ketamine", "2024-05-09"),
	}}
	reg, err := registry.New([]registry.Descriptor{
		{Key: "a", Kind: registry.KindFeed, Name: "Source a", Endpoint: "http://a", Category: "Safety Alerts", Enabled: true},
		{Key: "b", Kind: registry.KindFeed, Name: "Source b", Endpoint: "http://b", Category: "Community News", Enabled: true},
		{Key: "c", Kind: registry.KindFeed, Name: "Source c", Endpoint: "http://c", Category: "Research", Enabled: true},
	})
	require.NoError(t, err)

	clock := newClock()
	all := append([]Option{WithClock(clock.Now), WithTTL(time.Hour)}, opts...)
	e := New(reg, map[string]collect.Source{"a": a, "b": b, "c": c}, all...)
	return &fixture{engine: e, clock: clock, sources: map[string]*stubSource{"a": a, "b": b, "c": c}}
}

func intPtr(n int) *int { return &n }

func TestDisabledRequestIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	warm := f.engine.Fetch(ctx, Request{Enabled: true})
	require.NotEmpty(t, warm.Articles)

	resp := f.engine.Fetch(ctx, Request{Enabled: false})
	assert.Empty(t, resp.Articles)
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Articles, "disabled responses still carry an empty list")
}

func TestSecondFetchWithinTTLHitsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.engine.Fetch(ctx, Request{Enabled: true})
	f.clock.Advance(30 * time.Minute)
	second := f.engine.Fetch(ctx, Request{Enabled: true})

	assert.True(t, first.Timestamp.Equal(second.Timestamp))
	assert.Equal(t, 1, f.sources["a"].Calls())
}

func TestForceRefreshAlwaysFetches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.engine.Fetch(ctx, Request{Enabled: true})
	f.clock.Advance(time.Minute)
	second := f.engine.Fetch(ctx, Request{Enabled: true, ForceRefresh: true})

	assert.Equal(t, 2, f.sources["a"].Calls())
	assert.True(t, second.Timestamp.After(first.Timestamp))

	f.clock.Advance(time.Minute)
	third := f.engine.Fetch(ctx, Request{Enabled: true})
	assert.True(t, third.Timestamp.Equal(second.Timestamp), "forced result is written back under the same key")
}

func TestStaleEntryTriggersNewPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.engine.Fetch(ctx, Request{Enabled: true})
	f.clock.Advance(time.Hour)
	second := f.engine.Fetch(ctx, Request{Enabled: true})

	assert.Equal(t, 2, f.sources["a"].Calls())
	assert.True(t, second.Timestamp.After(first.Timestamp))
}

func TestServeStaleRevalidatesInBackground(t *testing.T) {
	f := newFixture(t, WithServeStale(true))
	ctx := context.Background()

	first := f.engine.Fetch(ctx, Request{Enabled: true})
	f.clock.Advance(2 * time.Hour)
	second := f.engine.Fetch(ctx, Request{Enabled: true})
	assert.True(t, second.Timestamp.Equal(first.Timestamp), "stale entry is served as-is")

	require.Eventually(t, func() bool {
		e, ok := f.engine.store.Get(ctx, cache.Key("", nil))
		return ok && e.CreatedAt.After(first.Timestamp)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, f.sources["a"].Calls())
}

func TestFailingSourceIsIsolated(t *testing.T) {
	f := newFixture(t)
	resp := f.engine.Fetch(context.Background(), Request{Enabled: true})

	assert.Equal(t, 3, resp.Total, "union of a and c")
	for _, a := range resp.Articles {
		assert.NotEqual(t, "b", a.FeedSource)
	}

	require.Len(t, resp.Sources, 3)
	byKey := map[string]cache.SourceStatus{}
	for _, s := range resp.Sources {
		byKey[s.Key] = s
	}
	assert.Equal(t, cache.StatusFailed, byKey["b"].Status)
	assert.Equal(t, 0, byKey["b"].Count)
	assert.Contains(t, byKey["b"].Error, "503")
	assert.Equal(t, cache.StatusOK, byKey["a"].Status)
	assert.Equal(t, 2, byKey["a"].Count)
	assert.Equal(t, cache.StatusOK, byKey["c"].Status)
}

func TestDisabledSourceIsNeverFetched(t *testing.T) {
	f := newFixture(t)
	resp := f.engine.Fetch(context.Background(), Request{
		Enabled:        true,
		EnabledSources: map[string]bool{"a": false},
	})

	assert.Equal(t, 0, f.sources["a"].Calls())
	for _, s := range resp.Sources {
		assert.NotEqual(t, "a", s.Key)
	}
	assert.Len(t, resp.Sources, 2)
}

func TestSourceSelectionsDoNotShareEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	all := f.engine.Fetch(ctx, Request{Enabled: true, EnabledSources: map[string]bool{}})
	noA := f.engine.Fetch(ctx, Request{Enabled: true, EnabledSources: map[string]bool{"a": false}})
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 1, noA.Total)
}

func TestEveryArticleIsClassifiedAndSorted(t *testing.T) {
	f := newFixture(t)
	resp := f.engine.Fetch(context.Background(), Request{Enabled: true})

	require.NotEmpty(t, resp.Articles)
	for i, a := range resp.Articles {
		assert.True(t, a.Priority.Valid(), "article %q has no priority", a.Title)
		assert.NotEmpty(t, a.Category, "article %q has no category", a.Title)
		if i > 0 {
			assert.GreaterOrEqual(t, resp.Articles[i-1].Date, a.Date)
		}
	}
	assert.Equal(t, "New research on ketamine", resp.Articles[0].Title)
	assert.Equal(t, article.PriorityCritical, resp.Articles[1].Priority)
	assert.Equal(t, article.CategorySafetyAlerts, resp.Articles[1].Category)
}

func TestCarfentanilFromLowPrioritySourceIsCritical(t *testing.T) {
	src := &stubSource{key: "blog", articles: []article.Article{
		art("blog", "Carfentanil detected in regional supply", "2024-05-09"),
	}}
	reg, err := registry.New([]registry.Descriptor{
		{Key: "blog", Kind: registry.KindFeed, Endpoint: "http://blog", Category: "Community News", Enabled: true},
	})
	require.NoError(t, err)
	e := New(reg, map[string]collect.Source{"blog": src})

	resp := e.Fetch(context.Background(), Request{Enabled: true})
	require.Len(t, resp.Articles, 1)
	assert.Equal(t, article.PriorityCritical, resp.Articles[0].Priority)
}

func TestLocalStoreEndToEnd(t *testing.T) {
	stored := make([]article.Article, 12)
	for i := range stored {
		stored[i] = article.Article{
			Title:    fmt.Sprintf("Update %d", i),
			Date:     fmt.Sprintf("2024-04-%02d", (i*7)%28+1),
			Summary:  "Manual entry",
			Category: "Community News",
		}
	}
	d := registry.Descriptor{Key: "local", Kind: registry.KindLocal, Name: "Manual Updates", Category: "All", Enabled: true}
	reg, err := registry.New([]registry.Descriptor{d})
	require.NoError(t, err)
	src, err := collect.NewSource(d, collect.Options{Local: func() ([]article.Article, error) { return stored, nil }})
	require.NoError(t, err)
	e := New(reg, map[string]collect.Source{"local": src})

	resp := e.Fetch(context.Background(), Request{Enabled: true, Limit: intPtr(5), Offset: 0})
	assert.Equal(t, 5, resp.Showing)
	assert.Equal(t, 12, resp.Total)
	assert.True(t, resp.HasMore)
	assert.Equal(t, 0, resp.Offset)
	require.Len(t, resp.Articles, 5)
	for i := 1; i < len(resp.Articles); i++ {
		assert.GreaterOrEqual(t, resp.Articles[i-1].Date, resp.Articles[i].Date)
	}

	last := e.Fetch(context.Background(), Request{Enabled: true, Limit: intPtr(5), Offset: 10})
	assert.Equal(t, 2, last.Showing)
	assert.False(t, last.HasMore)
}

func TestRegionPreferenceFiltersAndKeysCache(t *testing.T) {
	src := &stubSource{key: "local", articles: []article.Article{
		{Title: "untagged", Date: "2024-05-01"},
		{Title: "bc", Date: "2024-05-02", Regions: []string{"Canada - BC"}},
		{Title: "spain", Date: "2024-05-03", Regions: []string{"Spain"}},
	}}
	reg, err := registry.New([]registry.Descriptor{{Key: "local", Kind: registry.KindLocal, Enabled: true}})
	require.NoError(t, err)
	e := New(reg, map[string]collect.Source{"local": src})
	ctx := context.Background()

	bc := e.Fetch(ctx, Request{Enabled: true, PreferredRegion: "Canada - BC"})
	assert.Equal(t, 2, bc.Total)

	all := e.Fetch(ctx, Request{Enabled: true, PreferredRegion: "All Regions"})
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 2, src.Calls(), "each region has its own cache entry")

	stats := e.CacheStats(ctx)
	assert.ElementsMatch(t, []string{"Canada - BC|all", "all|all"}, stats.Keys)
}

func TestMissingCredentialReportsFailedSource(t *testing.T) {
	d := registry.Descriptor{
		Key: "newsapi", Kind: registry.KindSearch, Name: "NewsAPI",
		Endpoint: "http://127.0.0.1:1/everything", CredentialRef: "HRNEWS_UNSET_KEY",
		Queries: []string{"fentanyl"}, Enabled: true,
	}
	reg, err := registry.New([]registry.Descriptor{d})
	require.NoError(t, err)
	src, err := collect.NewSource(d, collect.Options{
		Credential: func(string) (string, error) { return "", errors.New("not set") },
	})
	require.NoError(t, err)
	e := New(reg, map[string]collect.Source{"newsapi": src})

	resp := e.Fetch(context.Background(), Request{Enabled: true})
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, cache.StatusFailed, resp.Sources[0].Status)
	assert.Equal(t, "missing credential", resp.Sources[0].Error)
	assert.Empty(t, resp.Articles)
}

func TestSourceWithoutAdapterIsReported(t *testing.T) {
	reg, err := registry.New([]registry.Descriptor{{Key: "ghost", Kind: registry.KindLocal, Enabled: true}})
	require.NoError(t, err)
	e := New(reg, map[string]collect.Source{})

	resp := e.Fetch(context.Background(), Request{Enabled: true})
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, cache.StatusFailed, resp.Sources[0].Status)
}

type memRecorder struct {
	mu     sync.Mutex
	passes []database.Pass
}

func (r *memRecorder) RecordPass(p database.Pass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, p)
	return nil
}

func TestPassesAreRecorded(t *testing.T) {
	rec := &memRecorder{}
	f := newFixture(t, WithRecorder(rec))
	ctx := context.Background()

	f.engine.Fetch(ctx, Request{Enabled: true})
	f.engine.Fetch(ctx, Request{Enabled: true})
	f.engine.Refresh(ctx, Request{PreferredRegion: "Spain"})

	require.Len(t, rec.passes, 2, "cache hits are not passes")
	assert.Equal(t, "all|all", rec.passes[0].CacheKey)
	assert.False(t, rec.passes[0].Forced)
	assert.Equal(t, 3, rec.passes[0].ArticleCount)
	assert.Len(t, rec.passes[0].Sources, 3)
	assert.NotEmpty(t, rec.passes[0].ID)
	assert.True(t, rec.passes[1].Forced)
	assert.Equal(t, "Spain", rec.passes[1].Region)
	assert.NotEqual(t, rec.passes[0].ID, rec.passes[1].ID)
}

type upperEnricher struct{}

func (upperEnricher) Enrich(_ context.Context, in []article.Article) []article.Article {
	out := append([]article.Article(nil), in...)
	for i := range out {
		if out[i].Summary == "" {
			out[i].Summary = "enriched"
		}
	}
	return out
}

func TestEnricherRunsBeforeClassification(t *testing.T) {
	f := newFixture(t, WithEnricher(upperEnricher{}))
	resp := f.engine.Fetch(context.Background(), Request{Enabled: true})
	for _, a := range resp.Articles {
		assert.Equal(t, "enriched", a.Summary)
	}
}

func TestCallerCancellationDoesNotAbortPass(t *testing.T) {
	slow := &stubSource{key: "slow", gate: make(chan struct{}), articles: []article.Article{art("slow", "late", "2024-05-01")}}
	reg, err := registry.New([]registry.Descriptor{{Key: "slow", Kind: registry.KindLocal, Enabled: true}})
	require.NoError(t, err)
	e := New(reg, map[string]collect.Source{"slow": slow})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Response)
	go func() { done <- e.Fetch(ctx, Request{Enabled: true}) }()

	require.Eventually(t, func() bool { return slow.Calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	resp := <-done
	assert.Empty(t, resp.Articles)

	close(slow.gate)
	require.Eventually(t, func() bool {
		_, ok := e.store.Get(context.Background(), "all|all")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	warm := e.Fetch(context.Background(), Request{Enabled: true})
	assert.Equal(t, 1, warm.Total)
	assert.Equal(t, 1, slow.Calls())
}

func TestClearCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.Fetch(ctx, Request{Enabled: true})
	require.Equal(t, 1, f.engine.CacheStats(ctx).Entries)

	f.engine.ClearCache(ctx)
	assert.Equal(t, 0, f.engine.CacheStats(ctx).Entries)

	f.engine.Fetch(ctx, Request{Enabled: true})
	assert.Equal(t, 2, f.sources["a"].Calls())
}

func TestConcurrentForcedRequestsEachRunAPass(t *testing.T) {
	slow := &stubSource{key: "slow", gate: make(chan struct{}), articles: []article.Article{art("slow", "late", "2024-05-01")}}
	reg, err := registry.New([]registry.Descriptor{{Key: "slow", Kind: registry.KindLocal, Enabled: true}})
	require.NoError(t, err)
	e := New(reg, map[string]collect.Source{"slow": slow})

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Fetch(context.Background(), Request{Enabled: true, ForceRefresh: true})
		}()
	}

	require.Eventually(t, func() bool { return slow.Calls() == 2 }, 2*time.Second, 5*time.Millisecond,
		"a forced request must not join a pass already in flight")
	close(slow.gate)
	wg.Wait()
}

func TestResponseSourcesDoNotAliasCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.engine.Fetch(ctx, Request{Enabled: true})
	require.NotEmpty(t, first.Sources)
	first.Sources[0].Status = "tampered"

	second := f.engine.Fetch(ctx, Request{Enabled: true})
	assert.NotEqual(t, "tampered", second.Sources[0].Status)
}
