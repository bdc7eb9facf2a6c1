package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/hrnews/internal/article"
	"github.com/TobiSchelling/hrnews/internal/classify"
	"github.com/TobiSchelling/hrnews/internal/registry"
	"github.com/TobiSchelling/hrnews/internal/sanitize"
)

// SearchSource queries a NewsAPI-style "everything" endpoint once per
// configured term.
type SearchSource struct {
	desc registry.Descriptor
	opts Options
}

func newSearchSource(d registry.Descriptor, opts Options) *SearchSource {
	return &SearchSource{desc: d, opts: opts}
}

func (s *SearchSource) Key() string  { return s.desc.Key }
func (s *SearchSource) Name() string { return s.desc.Name }

type searchResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		PublishedAt string `json:"publishedAt"`
		Description string `json:"description"`
		Content     string `json:"content"`
		Author      string `json:"author"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// Fetch implements Source. A failing term is logged and skipped; the
// source fails only when every term fails.
func (s *SearchSource) Fetch(ctx context.Context) ([]article.Article, error) {
	key, err := s.credential()
	if err != nil {
		return nil, err
	}
	if len(s.desc.Queries) == 0 {
		return nil, fmt.Errorf("no search queries configured")
	}

	seen := make(map[string]struct{})
	var all []article.Article
	var errs []error
	for _, q := range s.desc.Queries {
		found, err := s.search(ctx, key, q)
		if err != nil {
			log.Printf("Search %s: skipping query %q: %v", s.desc.Key, q, err)
			errs = append(errs, fmt.Errorf("query %q: %w", q, err))
			continue
		}
		for _, a := range found {
			if _, dup := seen[a.SourceURL]; dup {
				continue
			}
			seen[a.SourceURL] = struct{}{}
			all = append(all, a)
		}
	}
	if len(errs) == len(s.desc.Queries) {
		return nil, errors.Join(errs...)
	}
	return all, nil
}

func (s *SearchSource) credential() (string, error) {
	if s.desc.CredentialRef == "" || s.opts.Credential == nil {
		return "", ErrMissingCredential
	}
	key, err := s.opts.Credential(s.desc.CredentialRef)
	if err != nil || key == "" {
		return "", ErrMissingCredential
	}
	return key, nil
}

func (s *SearchSource) search(ctx context.Context, apiKey, query string) ([]article.Article, error) {
	now := s.opts.Now()
	params := url.Values{
		"q":        {query},
		"from":     {now.AddDate(0, 0, -s.opts.SearchWindowDays).Format(article.DateLayout)},
		"to":       {now.Format(article.DateLayout)},
		"language": {s.opts.SearchLanguage},
		"pageSize": {strconv.Itoa(min(s.opts.SearchPageSize, 100))},
		"sortBy":   {"publishedAt"},
	}
	endpoint := s.desc.Endpoint
	if strings.Contains(endpoint, "?") {
		endpoint += "&" + params.Encode()
	} else {
		endpoint += "?" + params.Encode()
	}

	body, err := get(ctx, s.opts, endpoint, http.Header{"X-Api-Key": {apiKey}})
	if err != nil {
		return nil, err
	}
	p := SearchParser{SummaryChars: s.opts.SummaryChars, Now: s.opts.Now}
	return p.Parse(body, s.desc)
}

// SearchParser decodes one search API response page.
type SearchParser struct {
	SummaryChars int
	Now          func() time.Time
}

// Parse implements Parser. Removed items and items without a title or
// URL are dropped.
func (p *SearchParser) Parse(payload []byte, d registry.Descriptor) ([]article.Article, error) {
	var resp searchResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if resp.Status != "" && resp.Status != "ok" {
		return nil, fmt.Errorf("search status %s: %s", resp.Status, resp.Message)
	}
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	var out []article.Article
	for _, item := range resp.Articles {
		title := sanitize.StripHTML(item.Title)
		if title == "" || item.URL == "" || title == "[Removed]" || item.URL == "https://removed.com" {
			continue
		}
		text := item.Description
		if text == "" {
			text = item.Content
		}
		summary := sanitize.StripHTML(text)
		source := d.Name
		if item.Source.Name != "" {
			source = item.Source.Name
		}
		out = append(out, article.Article{
			Date:       article.NormalizeDate(item.PublishedAt, now),
			Category:   d.Category,
			Priority:   classify.PriorityFor(title + " " + summary),
			Title:      title,
			Summary:    sanitize.Truncate(summary, p.SummaryChars),
			Source:     source,
			SourceURL:  item.URL,
			FeedSource: d.Key,
			Author:     strings.TrimSpace(item.Author),
		})
	}
	return out, nil
}
