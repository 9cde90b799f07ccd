package primo

import (
	"net/url"
	"strings"

	"github.com/y0f/primotiming/internal/storage"
)

// Param is one query parameter of a search request. When FromTarget is set
// the value is read from the target field named Key.
type Param struct {
	Key        string
	Value      string
	FromTarget bool
}

// SearchQuery is the value of the q parameter for a keyword search.
func SearchQuery(keyword string) string {
	return "any,contains," + keyword
}

// SearchURL builds the search API URL for one target. Params keep their
// order; a target-filled param whose field the target does not carry is
// left out. q always comes last.
func SearchURL(scheme, domain string, t *storage.Target, params []Param, keyword string) string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(t.DomainPrefix)
	b.WriteByte('.')
	b.WriteString(domain)
	b.WriteByte('?')

	for _, p := range params {
		v := p.Value
		if p.FromTarget {
			fv, ok := t.Field(p.Key)
			if !ok {
				continue
			}
			v = fv
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
		b.WriteByte('&')
	}
	b.WriteString("q=")
	b.WriteString(url.QueryEscape(SearchQuery(keyword)))
	return b.String()
}
