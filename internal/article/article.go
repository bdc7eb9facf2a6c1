// Package article defines the canonical article shape shared by every
// source adapter, the classifier, the cache and the HTTP API.
package article

import (
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DateLayout is the wire format of Article.Date.
const DateLayout = "2006-01-02"

// Priority is a coarse urgency tier.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
)

// Rank orders priorities for display; unset sorts last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	}
	return 3
}

// Valid reports whether p is one of the three tiers.
func (p Priority) Valid() bool {
	return p == PriorityCritical || p == PriorityHigh || p == PriorityNormal
}

// Controlled category vocabulary.
const (
	CategorySafetyAlerts       = "Safety Alerts"
	CategoryContaminationAlert = "Contamination Alert"
	CategoryLabResults         = "Lab Results"
	CategoryResearch           = "Research"
	CategoryPolicyUpdate       = "Policy Update"
	CategoryCommunityNews      = "Community News"
)

// Categories returns the controlled vocabulary in display order.
func Categories() []string {
	return []string{
		CategorySafetyAlerts,
		CategoryContaminationAlert,
		CategoryLabResults,
		CategoryResearch,
		CategoryPolicyUpdate,
		CategoryCommunityNews,
	}
}

// Article is a normalized news item.
type Article struct {
	Date       string   `json:"date"`
	Category   string   `json:"category"`
	Priority   Priority `json:"priority"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Source     string   `json:"source"`
	SourceURL  string   `json:"source_url,omitempty"`
	FeedSource string   `json:"feed_source"`
	Regions    []string `json:"regions,omitempty"`
	Details    []string `json:"details,omitempty"`
	Author     string   `json:"author,omitempty"`
}

// Today returns now's calendar date in UTC as YYYY-MM-DD.
func Today(now time.Time) string {
	return now.UTC().Format(DateLayout)
}

// NormalizeDate converts a source date string into YYYY-MM-DD.
// Empty or unparseable input yields today's date.
func NormalizeDate(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Today(now)
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t.Format(DateLayout)
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return Today(now)
	}
	return t.UTC().Format(DateLayout)
}

// FormatDate formats a parsed timestamp, falling back to today for nil.
func FormatDate(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return Today(now)
	}
	return t.UTC().Format(DateLayout)
}

// SortByDateDesc orders articles newest first, keeping the relative order
// of articles published on the same day.
func SortByDateDesc(articles []Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Date > articles[j].Date
	})
}
