package discovery

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Predicate decides whether a raw href is followed.
type Predicate func(href string) bool

// Extractor derives an identifier from a URL. ok is false when the URL carries none.
type Extractor func(rawURL string) (id string, ok bool)

// Contains keeps hrefs containing every one of parts.
func Contains(parts ...string) Predicate {
	return func(href string) bool {
		for _, p := range parts {
			if !strings.Contains(href, p) {
				return false
			}
		}
		return true
	}
}

// HasQueryKey keeps hrefs whose query string sets key.
func HasQueryKey(key string) Predicate {
	return func(href string) bool {
		u, err := url.Parse(href)
		if err != nil {
			return false
		}
		return u.Query().Has(key)
	}
}

// And keeps hrefs satisfying all predicates.
func And(preds ...Predicate) Predicate {
	return func(href string) bool {
		for _, p := range preds {
			if !p(href) {
				return false
			}
		}
		return true
	}
}

// QueryParam extracts the value of a query parameter.
func QueryParam(key string) Extractor {
	return func(rawURL string) (string, bool) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", false
		}
		v := u.Query().Get(key)
		return v, v != ""
	}
}

// Pattern extracts the first match of re.
func Pattern(re *regexp.Regexp) Extractor {
	return func(rawURL string) (string, bool) {
		m := re.FindString(rawURL)
		return m, m != ""
	}
}

// Identifiers applies extract to every URL in set and returns the distinct ids in lexical order.
// URLs without an id are dropped.
func Identifiers(set Set, extract Extractor) []string {
	seen := make(map[string]struct{}, len(set))
	for u := range set {
		if id, ok := extract(u); ok {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
