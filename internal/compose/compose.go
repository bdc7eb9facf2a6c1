// Package compose renders aggregation results as a Markdown briefing.
package compose

import (
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/hrnews/internal/aggregate"
	"github.com/TobiSchelling/hrnews/internal/article"
	"github.com/TobiSchelling/hrnews/internal/cache"
)

const maxTLDR = 5

// Briefing is a composed digest.
type Briefing struct {
	Title        string
	GeneratedAt  time.Time
	TLDR         string
	BodyMarkdown string
	ArticleCount int
}

// Markdown returns the whole briefing as one document.
func (b *Briefing) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", b.Title)
	fmt.Fprintf(&sb, "_Updated %s_\n\n", b.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"))
	sb.WriteString("## TL;DR\n\n")
	sb.WriteString(b.TLDR)
	sb.WriteString("\n\n---\n\n")
	sb.WriteString(b.BodyMarkdown)
	sb.WriteString("\n")
	return sb.String()
}

var tierTitles = []struct {
	priority article.Priority
	title    string
}{
	{article.PriorityCritical, "Critical Alerts"},
	{article.PriorityHigh, "Warnings"},
	{article.PriorityNormal, "News"},
}

// Compose builds a briefing from one response page. region labels the
// title when set.
func Compose(resp aggregate.Response, region string) *Briefing {
	title := "Harm Reduction Briefing"
	if region != "" && !strings.EqualFold(region, "all regions") {
		title += " (" + region + ")"
	}
	return &Briefing{
		Title:        title,
		GeneratedAt:  resp.Timestamp,
		TLDR:         tldr(resp),
		BodyMarkdown: body(resp),
		ArticleCount: len(resp.Articles),
	}
}

func tldr(resp aggregate.Response) string {
	var bullets []string
	for _, a := range resp.Articles {
		if a.Priority != article.PriorityCritical && a.Priority != article.PriorityHigh {
			continue
		}
		bullets = append(bullets, fmt.Sprintf("- **%s**: %s", a.Priority, a.Title))
		if len(bullets) == maxTLDR {
			break
		}
	}
	if len(bullets) == 0 {
		bullets = append(bullets, "- No critical alerts or warnings in this period.")
	}
	ok := 0
	for _, s := range resp.Sources {
		if s.Status == cache.StatusOK {
			ok++
		}
	}
	bullets = append(bullets, fmt.Sprintf("- %d of %d sources responded, %d articles total.", ok, len(resp.Sources), resp.Total))
	return strings.Join(bullets, "\n")
}

func body(resp aggregate.Response) string {
	var sections []string
	for _, tier := range tierTitles {
		var items []string
		for _, a := range resp.Articles {
			if a.Priority == tier.priority {
				items = append(items, articleMarkdown(a))
			}
		}
		if len(items) == 0 {
			continue
		}
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", tier.title, strings.Join(items, "\n\n")))
	}
	if len(sections) == 0 {
		sections = append(sections, "No articles available.")
	}

	if len(resp.Sources) > 0 {
		var lines []string
		for _, s := range resp.Sources {
			line := fmt.Sprintf("- %s: %s (%d)", s.Name, s.Status, s.Count)
			if s.Error != "" {
				line += ", " + s.Error
			}
			lines = append(lines, line)
		}
		sections = append(sections, "## Sources\n\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(sections, "\n\n---\n\n")
}

func articleMarkdown(a article.Article) string {
	var sb strings.Builder
	if a.SourceURL != "" {
		fmt.Fprintf(&sb, "### [%s](%s)\n\n", a.Title, a.SourceURL)
	} else {
		fmt.Fprintf(&sb, "### %s\n\n", a.Title)
	}
	meta := []string{a.Date, a.Category, a.Source}
	if len(a.Regions) > 0 {
		meta = append(meta, strings.Join(a.Regions, ", "))
	}
	fmt.Fprintf(&sb, "_%s_", strings.Join(nonEmpty(meta), " · "))
	if a.Summary != "" {
		sb.WriteString("\n\n" + a.Summary)
	}
	for i, d := range a.Details {
		if i == 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("\n- " + d)
	}
	return sb.String()
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
