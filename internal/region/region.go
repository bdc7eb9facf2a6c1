// Package region narrows articles to those relevant to a preferred region.
//
// Matching is deliberately coarse: showing an article from a neighbouring
// area is better than hiding a regional safety alert.
package region

import (
	"strings"

	"github.com/TobiSchelling/hrnews/internal/article"
)

// All is the sentinel preference that disables filtering.
const All = "All Regions"

// countryAliases maps lowercase spellings to a canonical country code.
var countryAliases = map[string]string{
	"usa":             "us",
	"us":              "us",
	"u.s.":            "us",
	"u.s.a.":          "us",
	"united states":   "us",
	"america":         "us",
	"canada":          "ca",
	"uk":              "uk",
	"u.k.":            "uk",
	"united kingdom":  "uk",
	"great britain":   "uk",
	"britain":         "uk",
	"spain":           "es",
	"france":          "fr",
	"netherlands":     "nl",
	"the netherlands": "nl",
	"portugal":        "pt",
	"germany":         "de",
	"ireland":         "ie",
	"australia":       "au",
	"new zealand":     "nz",
}

var europe = map[string]bool{
	"uk": true, "es": true, "fr": true, "nl": true, "pt": true, "de": true, "ie": true,
}

// Tags that are relevant everywhere.
var globalTags = map[string]bool{
	"global": true, "worldwide": true, "international": true, "all regions": true,
}

var nationwide = map[string]bool{
	"nationwide": true, "national": true, "all": true,
}

// IsAll reports whether preferred disables filtering.
func IsAll(preferred string) bool {
	p := strings.TrimSpace(preferred)
	return p == "" || strings.EqualFold(p, All) || strings.EqualFold(p, "all")
}

// Filter keeps articles relevant to preferred. Articles without region
// tags are always kept.
func Filter(articles []article.Article, preferred string) []article.Article {
	if IsAll(preferred) {
		return articles
	}
	out := make([]article.Article, 0, len(articles))
	for _, a := range articles {
		if Matches(a.Regions, preferred) {
			out = append(out, a)
		}
	}
	return out
}

// Matches reports whether an article tagged with regions is relevant to
// preferred.
func Matches(regions []string, preferred string) bool {
	if len(regions) == 0 || IsAll(preferred) {
		return true
	}
	pref := strings.ToLower(strings.TrimSpace(preferred))
	prefCountry, _ := split(pref)
	for _, r := range regions {
		tag := strings.ToLower(strings.TrimSpace(r))
		if tag == "" {
			continue
		}
		if tag == pref || strings.Contains(pref, tag) || strings.Contains(tag, pref) {
			return true
		}
		if globalTags[tag] {
			return true
		}
		if (tag == "europe" || tag == "eu") && europe[prefCountry] {
			return true
		}
		country, countryLevel := split(tag)
		if countryLevel && country != "" && country == prefCountry {
			return true
		}
	}
	return false
}

// split returns the canonical country of a region label and whether the
// label names the whole country ("Canada", "USA - Nationwide").
func split(label string) (country string, countryLevel bool) {
	head, tail, found := strings.Cut(label, " - ")
	head = strings.TrimSpace(head)
	country = countryAliases[head]
	if !found {
		return country, true
	}
	return country, nationwide[strings.TrimSpace(tail)]
}
