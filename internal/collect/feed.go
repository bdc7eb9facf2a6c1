package collect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/hrnews/internal/article"
	"github.com/TobiSchelling/hrnews/internal/classify"
	"github.com/TobiSchelling/hrnews/internal/registry"
	"github.com/TobiSchelling/hrnews/internal/sanitize"
)

const (
	labMaxItems   = 10
	labMaxDetails = 5
	labMinDetail  = 10
)

// Parser turns a raw payload into articles. Garbage input yields an
// error, never a panic.
type Parser interface {
	Parse(payload []byte, d registry.Descriptor) ([]article.Article, error)
}

// FeedParser handles RSS, Atom and JSON feeds.
type FeedParser struct {
	MaxItems     int
	SummaryChars int
	Now          func() time.Time
}

// Parse implements Parser.
func (p *FeedParser) Parse(payload []byte, d registry.Descriptor) ([]article.Article, error) {
	feed, err := parseFeed(payload)
	if err != nil {
		return nil, err
	}
	now := p.now()
	var out []article.Article
	for _, item := range feed.Items {
		if p.MaxItems > 0 && len(out) >= p.MaxItems {
			break
		}
		a, ok := baseArticle(item, d, now)
		if !ok {
			continue
		}
		a.Summary = sanitize.Truncate(a.Summary, p.SummaryChars)
		if len(item.Categories) > 0 && strings.TrimSpace(item.Categories[0]) != "" {
			a.Category = strings.TrimSpace(item.Categories[0])
		}
		out = append(out, a)
	}
	return out, nil
}

func (p *FeedParser) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// LabResultParser handles vendor lab-result feeds. Priority is set from
// the sample description and detail lines are split out of it.
type LabResultParser struct {
	SummaryChars int
	Now          func() time.Time
}

// Parse implements Parser.
func (p *LabResultParser) Parse(payload []byte, d registry.Descriptor) ([]article.Article, error) {
	feed, err := parseFeed(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	var out []article.Article
	for i, item := range feed.Items {
		if i >= labMaxItems {
			break
		}
		a, ok := baseArticle(item, d, now)
		if !ok {
			continue
		}
		a.Category = article.CategoryLabResults
		a.Priority = classify.LabPriority(a.Title, a.Summary)
		a.Details = sanitize.Sentences(a.Summary, labMinDetail, labMaxDetails)
		a.Summary = sanitize.Truncate(a.Summary, p.SummaryChars)
		out = append(out, a)
	}
	return out, nil
}

func parseFeed(payload []byte) (*gofeed.Feed, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// baseArticle extracts the fields shared by every feed-shaped source.
// Items without a title are skipped.
func baseArticle(item *gofeed.Item, d registry.Descriptor, now time.Time) (article.Article, bool) {
	if item == nil {
		return article.Article{}, false
	}
	title := sanitize.StripHTML(item.Title)
	if title == "" {
		return article.Article{}, false
	}

	date := item.PublishedParsed
	if date == nil {
		date = item.UpdatedParsed
	}
	var day string
	if date != nil {
		day = article.FormatDate(date, now)
	} else {
		day = article.NormalizeDate(item.Published, now)
	}

	body := item.Description
	if body == "" {
		body = item.Content
	}

	a := article.Article{
		Date:       day,
		Category:   d.Category,
		Title:      title,
		Summary:    sanitize.StripHTML(body),
		Source:     d.Name,
		SourceURL:  strings.TrimSpace(item.Link),
		FeedSource: d.Key,
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		a.Author = strings.TrimSpace(item.Authors[0].Name)
	}
	return a, true
}

func parserFor(d registry.Descriptor, opts Options) Parser {
	if d.Kind == registry.KindVendor || d.Parser == "lab" {
		return &LabResultParser{SummaryChars: opts.SummaryChars, Now: opts.Now}
	}
	return &FeedParser{MaxItems: opts.MaxItems, SummaryChars: opts.SummaryChars, Now: opts.Now}
}

// FeedSource downloads a feed endpoint and hands the body to a parser.
type FeedSource struct {
	desc   registry.Descriptor
	parser Parser
	opts   Options
}

func newFeedSource(d registry.Descriptor, opts Options, p Parser) *FeedSource {
	return &FeedSource{desc: d, parser: p, opts: opts}
}

func (s *FeedSource) Key() string  { return s.desc.Key }
func (s *FeedSource) Name() string { return s.desc.Name }

// Fetch implements Source.
func (s *FeedSource) Fetch(ctx context.Context) ([]article.Article, error) {
	body, err := get(ctx, s.opts, s.desc.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	return s.parser.Parse(body, s.desc)
}

type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.code, http.StatusText(e.code))
}

// get performs a GET and returns the body, limited to opts.MaxBodyBytes.
// Any non-2xx response is an error.
func get(ctx context.Context, opts Options, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", opts.UserAgent)

	resp, err := opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &httpStatusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
