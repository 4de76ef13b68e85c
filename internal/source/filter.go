package source

import (
	"strings"

	"github.com/galois26/procurement-ingester/internal/config"
)

// keywordFilter matches when any keyword is a case-insensitive substring of
// the configured fields joined together. With no keywords everything
// matches; an empty haystack never does.
type keywordFilter struct {
	words  []string
	fields config.Keys
}

func newKeywordFilter(words, fields config.Keys) keywordFilter {
	return keywordFilter{words: words.Lower(), fields: fields}
}

func (f keywordFilter) active() bool { return len(f.words) > 0 }

func (f keywordFilter) match(r Row) bool {
	if !f.active() {
		return true
	}
	hay := strings.ToLower(strings.Join(r.Values(f.fields), " "))
	if strings.TrimSpace(hay) == "" {
		return false
	}
	for _, w := range f.words {
		if strings.Contains(hay, w) {
			return true
		}
	}
	return false
}

// whitelist keeps rows whose field equals one of the allowed values,
// ignoring case. An empty whitelist keeps everything.
type whitelist struct {
	field   string
	allowed map[string]bool
}

func newWhitelist(field string, values config.Keys) whitelist {
	w := whitelist{field: field}
	for _, v := range values.Lower() {
		if w.allowed == nil {
			w.allowed = make(map[string]bool)
		}
		w.allowed[v] = true
	}
	return w
}

func (w whitelist) match(r Row) bool {
	if len(w.allowed) == 0 {
		return true
	}
	return w.allowed[strings.ToLower(strings.TrimSpace(r[w.field]))]
}
