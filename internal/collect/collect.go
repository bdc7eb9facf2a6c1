// Package collect fetches and parses articles from every source kind and
// runs one pass of concurrent fetches with per-source failure isolation.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/TobiSchelling/hrnews/internal/article"
	"github.com/TobiSchelling/hrnews/internal/registry"
)

// ErrMissingCredential is returned by a search source whose credential
// could not be resolved. No network call is made.
var ErrMissingCredential = errors.New("missing credential")

// Source produces articles for one descriptor.
type Source interface {
	Key() string
	Name() string
	Fetch(ctx context.Context) ([]article.Article, error)
}

// Result is the outcome of one source within a pass: articles on success,
// a failure reason otherwise.
type Result struct {
	Key      string
	Name     string
	Articles []article.Article
	Err      error
}

// OK reports whether the source succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Options carries the shared dependencies used to build sources.
type Options struct {
	Client       *http.Client
	UserAgent    string
	MaxItems     int
	SummaryChars int
	MaxBodyBytes int64

	SearchWindowDays int
	SearchPageSize   int
	SearchLanguage   string

	// Credential resolves a descriptor's credential reference.
	Credential func(ref string) (string, error)
	// Local loads the pre-authored article list for local sources.
	Local func() ([]article.Article, error)

	Now func() time.Time
}

func (o *Options) fill() {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 20 * time.Second}
	}
	if o.UserAgent == "" {
		o.UserAgent = "hrnews/1.0 (harm reduction news aggregator)"
	}
	if o.MaxItems <= 0 {
		o.MaxItems = 20
	}
	if o.SummaryChars <= 0 {
		o.SummaryChars = 300
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 5 << 20
	}
	if o.SearchWindowDays <= 0 {
		o.SearchWindowDays = 7
	}
	if o.SearchPageSize <= 0 {
		o.SearchPageSize = 20
	}
	if o.SearchLanguage == "" {
		o.SearchLanguage = "en"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// NewSource picks the implementation for d's kind.
func NewSource(d registry.Descriptor, opts Options) (Source, error) {
	opts.fill()
	switch d.Kind {
	case registry.KindFeed, registry.KindVendor:
		return newFeedSource(d, opts, parserFor(d, opts)), nil
	case registry.KindSearch:
		return newSearchSource(d, opts), nil
	case registry.KindLocal:
		if opts.Local == nil {
			return nil, fmt.Errorf("source %q: no local store configured", d.Key)
		}
		return &LocalSource{desc: d, load: opts.Local}, nil
	}
	return nil, fmt.Errorf("source %q: unknown kind %q", d.Key, d.Kind)
}

// NewSources builds one source per descriptor, keyed by source key.
func NewSources(descs []registry.Descriptor, opts Options) (map[string]Source, error) {
	out := make(map[string]Source, len(descs))
	for _, d := range descs {
		s, err := NewSource(d, opts)
		if err != nil {
			return nil, err
		}
		out[d.Key] = s
	}
	return out, nil
}

// FetchAll runs every source concurrently and waits for all of them.
// Results are returned in input order. A failing or panicking source
// yields a failed result and never affects the others.
func FetchAll(ctx context.Context, sources []Source) []Result {
	results := make([]Result, len(sources))
	var wg sync.WaitGroup
	for i, s := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = fetchOne(ctx, s)
		}()
	}
	wg.Wait()
	return results
}

func fetchOne(ctx context.Context, s Source) (r Result) {
	r = Result{Key: s.Key(), Name: s.Name()}
	defer func() {
		if p := recover(); p != nil {
			r.Articles = nil
			r.Err = fmt.Errorf("source panicked: %v", p)
			log.Printf("Source %s panicked: %v", r.Key, p)
		}
	}()

	start := time.Now()
	articles, err := s.Fetch(ctx)
	if err != nil {
		log.Printf("Failed to fetch %s: %v", r.Key, err)
		r.Err = err
		return r
	}
	r.Articles = articles
	log.Printf("Fetched %d articles from %s in %s", len(articles), r.Name, time.Since(start).Round(time.Millisecond))
	return r
}
