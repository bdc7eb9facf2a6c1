// Package paginate slices article lists into pages.
package paginate

import "github.com/TobiSchelling/hrnews/internal/article"

// Page is one window over a result list.
type Page struct {
	Articles []article.Article `json:"articles"`
	Total    int               `json:"total"`
	Showing  int               `json:"showing"`
	HasMore  bool              `json:"hasMore"`
	Offset   int               `json:"offset"`
}

// Paginate returns the window [offset, offset+limit) of list. A nil limit
// returns the whole list and ignores offset. Negative values are treated
// as zero. An offset past the end yields an empty page.
func Paginate(list []article.Article, limit *int, offset int) Page {
	total := len(list)
	if limit == nil || offset < 0 {
		offset = 0
	}
	start := min(offset, total)
	end := total
	if limit != nil {
		if n := max(*limit, 0); n < end-start {
			end = start + n
		}
	}
	window := make([]article.Article, end-start)
	copy(window, list[start:end])
	return Page{
		Articles: window,
		Total:    total,
		Showing:  len(window),
		HasMore:  end < total,
		Offset:   offset,
	}
}
