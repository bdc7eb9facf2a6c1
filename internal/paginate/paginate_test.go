package paginate

import (
	"fmt"
	"math"
	"testing"

	"github.com/TobiSchelling/hrnews/internal/article"
)

func makeList(n int) []article.Article {
	out := make([]article.Article, n)
	for i := range out {
		out[i] = article.Article{Title: fmt.Sprintf("a%d", i)}
	}
	return out
}

func intPtr(n int) *int { return &n }

func TestPaginate(t *testing.T) {
	tests := []struct {
		name        string
		n           int
		limit       *int
		offset      int
		wantShowing int
		wantMore    bool
		wantFirst   string
	}{
		{"no limit", 12, nil, 0, 12, false, "a0"},
		{"no limit ignores offset", 12, nil, 5, 12, false, "a0"},
		{"max limit", 12, intPtr(math.MaxInt), 1, 11, false, "a1"},
		{"max limit past end", 12, intPtr(math.MaxInt), 30, 0, false, ""},
		{"first page", 12, intPtr(5), 0, 5, true, "a0"},
		{"middle page", 12, intPtr(5), 5, 5, true, "a5"},
		{"last page", 12, intPtr(5), 10, 2, false, "a10"},
		{"offset past end", 12, intPtr(5), 20, 0, false, ""},
		{"zero limit", 12, intPtr(0), 0, 0, true, ""},
		{"negative limit", 3, intPtr(-1), 0, 0, true, ""},
		{"negative offset", 3, intPtr(2), -4, 2, true, "a0"},
		{"empty list", 0, intPtr(5), 0, 0, false, ""},
		{"exact fit", 5, intPtr(5), 0, 5, false, "a0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Paginate(makeList(tt.n), tt.limit, tt.offset)
			if p.Total != tt.n {
				t.Errorf("total = %d, want %d", p.Total, tt.n)
			}
			if p.Showing != tt.wantShowing || len(p.Articles) != tt.wantShowing {
				t.Errorf("showing = %d (len %d), want %d", p.Showing, len(p.Articles), tt.wantShowing)
			}
			if p.HasMore != tt.wantMore {
				t.Errorf("hasMore = %v, want %v", p.HasMore, tt.wantMore)
			}
			if tt.wantFirst != "" && p.Articles[0].Title != tt.wantFirst {
				t.Errorf("first = %q, want %q", p.Articles[0].Title, tt.wantFirst)
			}
			if p.HasMore != (p.Offset+p.Showing < p.Total) {
				t.Errorf("hasMore inconsistent with offset+showing<total: %+v", p)
			}
		})
	}
}

func TestPaginateDoesNotAliasInput(t *testing.T) {
	list := makeList(3)
	p := Paginate(list, intPtr(2), 0)
	p.Articles[0].Title = "changed"
	if list[0].Title != "a0" {
		t.Error("page should not alias the input slice")
	}
}
