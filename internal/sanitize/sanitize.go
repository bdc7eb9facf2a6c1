// Package sanitize turns markup-bearing feed text into plain text.
package sanitize

import (
	"strings"

	"golang.org/x/net/html"
)

// skipped elements whose text content is never shown to readers.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true, "svg": true,
}

// StripHTML removes tags, decodes entities and collapses whitespace.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return collapse(s)
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skipDepth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed markup: keep what we have either way.
			return collapse(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if skipTags[string(name)] {
				skipDepth++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if skipTags[string(name)] && skipDepth > 0 {
				skipDepth--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// Truncate shortens s to at most n runes, ending with "..." when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return strings.TrimSpace(string(runes[:n-3])) + "..."
}

// Sentences splits plain text on '.' and '!' and keeps trimmed parts longer
// than minLen runes, returning at most max of them.
func Sentences(s string, minLen, max int) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '!' })
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len([]rune(p)) <= minLen {
			continue
		}
		out = append(out, p)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
