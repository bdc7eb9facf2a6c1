// Package classify assigns priority tiers and normalized categories to
// articles using keyword heuristics.
package classify

import (
	"strings"

	"github.com/TobiSchelling/hrnews/internal/article"
)

// Keyword tiers, checked in order. The first tier with a match wins.
var (
	criticalKeywords = []string{
		"carfentanil", "fentanyl", "nitazene", "isotonitazene", "protonitazene",
		"metonitazene", "fatal", "fatality", "fatalities", "deaths", "died",
		"killed", "outbreak", "mass overdose", "overdose cluster", "overdose spike",
	}
	highKeywords = []string{
		"warning", "alert", "advisory", "contamination", "contaminated",
		"adulterated", "adulterant", "recall", "recalled", "xylazine",
		"medetomidine", "unexpected", "not detected", "misrepresented",
		"counterfeit", "dangerous batch",
	}
)

// Vendor lab-result keywords are narrower than the general tiers.
var (
	labDangerKeywords    = []string{"fentanyl", "carfentanil", "nitazene"}
	labAmbiguityKeywords = []string{"unexpected", "not detected"}
)

// categorySynonyms maps substrings of raw source categories onto the
// controlled vocabulary. Order matters: the first match wins.
var categorySynonyms = []struct {
	match    string
	category string
}{
	{"drug recall", article.CategorySafetyAlerts},
	{"recall", article.CategorySafetyAlerts},
	{"safety", article.CategorySafetyAlerts},
	{"contamina", article.CategoryContaminationAlert},
	{"alert", article.CategoryContaminationAlert},
	{"lab", article.CategoryLabResults},
	{"research", article.CategoryResearch},
	{"science", article.CategoryResearch},
	{"policy", article.CategoryPolicyUpdate},
	{"legislation", article.CategoryPolicyUpdate},
	{"news", article.CategoryCommunityNews},
	{"community", article.CategoryCommunityNews},
}

// PriorityFor scans text against the general keyword tiers.
func PriorityFor(text string) article.Priority {
	lower := strings.ToLower(text)
	if containsAny(lower, criticalKeywords) {
		return article.PriorityCritical
	}
	if containsAny(lower, highKeywords) {
		return article.PriorityHigh
	}
	return article.PriorityNormal
}

// LabPriority applies the vendor lab-result heuristic to a title and
// description.
func LabPriority(title, description string) article.Priority {
	t := strings.ToLower(title)
	d := strings.ToLower(description)
	if containsAny(t, labDangerKeywords) || containsAny(d, labDangerKeywords) {
		return article.PriorityCritical
	}
	if containsAny(t, labAmbiguityKeywords) || containsAny(d, labAmbiguityKeywords) {
		return article.PriorityHigh
	}
	return article.PriorityNormal
}

// NormalizeCategory maps a raw category onto the controlled vocabulary.
// Unmatched input falls back to fallback, then to Community News.
func NormalizeCategory(raw, fallback string) string {
	if c, ok := lookup(raw); ok {
		return c
	}
	if c, ok := lookup(fallback); ok {
		return c
	}
	if fallback != "" && !strings.EqualFold(fallback, "all") {
		return fallback
	}
	return article.CategoryCommunityNews
}

func lookup(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	for _, c := range article.Categories() {
		if strings.EqualFold(raw, c) {
			return c, true
		}
	}
	lower := strings.ToLower(raw)
	for _, s := range categorySynonyms {
		if strings.Contains(lower, s.match) {
			return s.category, true
		}
	}
	return "", false
}

// Classifier fills in priority and category for articles from a known set
// of sources.
type Classifier struct {
	defaults map[string]string
}

// New creates a classifier using per-source default categories keyed by
// source key.
func New(defaults map[string]string) *Classifier {
	m := make(map[string]string, len(defaults))
	for k, v := range defaults {
		m[k] = v
	}
	return &Classifier{defaults: m}
}

// Classify returns a copy of a with priority and category set. A valid
// priority already set by the adapter is kept.
func (c *Classifier) Classify(a article.Article) article.Article {
	if !a.Priority.Valid() {
		a.Priority = PriorityFor(a.Title + " " + a.Summary)
	}
	a.Category = NormalizeCategory(a.Category, c.defaults[a.FeedSource])
	return a
}

// ClassifyAll classifies every article, returning a new slice.
func (c *Classifier) ClassifyAll(articles []article.Article) []article.Article {
	out := make([]article.Article, len(articles))
	for i, a := range articles {
		out[i] = c.Classify(a)
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
