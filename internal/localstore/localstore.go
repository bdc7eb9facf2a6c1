// Package localstore reads the pre-authored article list served by the
// local source.
package localstore

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/TobiSchelling/hrnews/internal/article"
)

//go:embed default.json
var defaultJSON []byte

// Store loads articles from Path, or from the embedded list when Path is
// empty. The file is re-read on every call so edits show up on the next
// pass.
type Store struct {
	Path string
}

// New returns a store reading path.
func New(path string) *Store {
	return &Store{Path: path}
}

// Articles returns the stored list.
func (s *Store) Articles() ([]article.Article, error) {
	data := defaultJSON
	if s.Path != "" {
		b, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, fmt.Errorf("reading local articles: %w", err)
		}
		data = b
	}
	return Decode(data)
}

// Decode accepts either a bare JSON array of articles or an object with an
// "articles" field.
func Decode(data []byte) ([]article.Article, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []article.Article
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decoding local articles: %w", err)
		}
		return list, nil
	}
	var doc struct {
		Articles []article.Article `json:"articles"`
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decoding local articles: %w", err)
	}
	return doc.Articles, nil
}
