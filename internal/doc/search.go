package doc

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/search"
)

// ErrEmptyQuery is returned by Search for an empty query.
var ErrEmptyQuery = errors.New("search query cannot be empty")

// Match is a root-level key whose value matched a search.
type Match struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Searcher is implemented by documents that support full-text search.
type Searcher interface {
	Search(query string, fields []string) ([]Match, error)
}

var _ Searcher = (*Doc)(nil)

// Search returns the root-level string values containing query, ignoring
// case and diacritics. Only the keys in fields are searched; an empty fields
// list searches every key. Matches are ordered by key.
func (d *Doc) Search(query string, fields []string) ([]Match, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}

	keys := fields
	if len(keys) == 0 {
		all, err := d.Keys()
		if err != nil {
			return nil, err
		}
		keys = all
	}

	m := search.New(language.Und, search.IgnoreCase, search.IgnoreDiacritics)
	pattern := m.CompileString(query)

	var matches []Match
	for _, key := range keys {
		v, ok, err := d.Get(key)
		if err != nil {
			return nil, fmt.Errorf("failed to search %s: %w", key, err)
		}
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if start, _ := pattern.IndexString(s); start >= 0 {
			matches = append(matches, Match{Key: key, Value: s})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Key < matches[j].Key
	})
	return matches, nil
}
