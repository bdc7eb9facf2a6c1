package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/hrnews/internal/article"
)

const articlePage = `<!DOCTYPE html>
<html><head><title>Alert</title></head>
<body>
<nav>Home | About</nav>
<article>
<h1>Xylazine found in local supply</h1>
<p>Drug checking volunteers found xylazine in several samples sold as heroin this week.
Xylazine is a veterinary sedative that does not respond to naloxone.</p>
<p>People who use drugs are urged to avoid using alone, carry naloxone and test their supply
before use. Wound care supplies are available at the drop-in centre.</p>
</article>
</body></html>`

func TestEnrichFillsEmptySummaries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articlePage)
	}))
	defer srv.Close()

	f := NewContentFetcher(5*time.Second, "", 10, 120)
	in := []article.Article{
		{Title: "empty", SourceURL: srv.URL + "/a"},
		{Title: "has summary", Summary: "keep me", SourceURL: srv.URL + "/b"},
		{Title: "no url"},
	}
	out := f.Enrich(context.Background(), in)

	if !strings.Contains(strings.ToLower(out[0].Summary), "xylazine") {
		t.Errorf("expected summary from page text, got %q", out[0].Summary)
	}
	if len([]rune(out[0].Summary)) > 120 {
		t.Errorf("summary not truncated: %d runes", len([]rune(out[0].Summary)))
	}
	if out[1].Summary != "keep me" {
		t.Errorf("existing summary overwritten: %q", out[1].Summary)
	}
	if out[2].Summary != "" {
		t.Errorf("article without url should be left alone")
	}
	if in[0].Summary != "" {
		t.Error("input slice must not be modified")
	}
}

func TestEnrichSkipsFailedDomain(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewContentFetcher(5*time.Second, "", 10, 300)
	f.Enrich(context.Background(), []article.Article{
		{SourceURL: srv.URL + "/1"},
		{SourceURL: srv.URL + "/2"},
		{SourceURL: srv.URL + "/3"},
	})
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 request before the domain was skipped, got %d", got)
	}
}

func TestEnrichRespectsPerPassLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, articlePage)
	}))
	defer srv.Close()

	f := NewContentFetcher(5*time.Second, "", 2, 300)
	in := make([]article.Article, 5)
	for i := range in {
		in[i].SourceURL = fmt.Sprintf("%s/%d", srv.URL, i)
	}
	f.Enrich(context.Background(), in)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}
}
