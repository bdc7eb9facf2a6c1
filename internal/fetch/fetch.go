// Package fetch fills in missing article summaries by downloading the
// linked page and extracting its readable text.
package fetch

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/hrnews/internal/article"
	"github.com/TobiSchelling/hrnews/internal/sanitize"
)

const minContentChars = 100

// Result holds the counts of one enrichment run.
type Result struct {
	Fetched       int
	AlreadyHadSum int
	Failed        int
	Skipped       int
}

// ContentFetcher extracts page text via HTTP + readability.
type ContentFetcher struct {
	client       *http.Client
	userAgent    string
	maxPerPass   int
	summaryChars int
	maxBodyBytes int64
}

// NewContentFetcher creates a content fetcher. At most maxPerPass
// articles are fetched per call.
func NewContentFetcher(timeout time.Duration, userAgent string, maxPerPass, summaryChars int) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if userAgent == "" {
		userAgent = "hrnews/1.0 (harm reduction news aggregator)"
	}
	if summaryChars <= 0 {
		summaryChars = 300
	}
	return &ContentFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent:    userAgent,
		maxPerPass:   maxPerPass,
		summaryChars: summaryChars,
		maxBodyBytes: 5 << 20,
	}
}

// Enrich returns a copy of articles where empty summaries have been
// filled from the linked page. After an HTTP error from a domain the rest
// of that domain's articles are skipped for this call.
func (f *ContentFetcher) Enrich(ctx context.Context, articles []article.Article) []article.Article {
	out := append([]article.Article(nil), articles...)
	result := &Result{}
	failedDomains := make(map[string]struct{})
	attempts := 0

	for i := range out {
		a := &out[i]
		if a.Summary != "" {
			result.AlreadyHadSum++
			continue
		}
		if a.SourceURL == "" || (f.maxPerPass > 0 && attempts >= f.maxPerPass) {
			result.Skipped++
			continue
		}

		domain := ""
		if u, err := url.Parse(a.SourceURL); err == nil {
			domain = strings.ToLower(u.Host)
		}
		if _, failed := failedDomains[domain]; failed {
			result.Failed++
			continue
		}

		attempts++
		content, httpErr := f.fetchArticleContent(ctx, a.SourceURL)
		if httpErr != nil {
			result.Failed++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			log.Printf("HTTP error for %s, skipping remaining from %s", a.SourceURL, domain)
			continue
		}
		if content == "" {
			result.Failed++
			log.Printf("No extractable content from: %s", a.SourceURL)
			continue
		}
		a.Summary = sanitize.Truncate(content, f.summaryChars)
		result.Fetched++
	}

	if attempts > 0 {
		log.Printf("Summary enrichment: %d fetched, %d failed, %d skipped", result.Fetched, result.Failed, result.Skipped)
	}
	return out
}

// fetchArticleContent returns the readable text of a page. Only HTTP
// status errors are reported; connection and extraction problems yield
// an empty string.
func (f *ContentFetcher) fetchArticleContent(ctx context.Context, articleURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	parsedURL, _ := url.Parse(articleURL)
	doc, err := readability.FromReader(io.LimitReader(resp.Body, f.maxBodyBytes), parsedURL)
	if err != nil {
		return "", nil
	}

	text := strings.Join(strings.Fields(doc.TextContent), " ")
	if len(text) > minContentChars {
		return text, nil
	}
	return "", nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
