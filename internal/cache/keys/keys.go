// Package keys builds every cache key the service reads or writes.
package keys

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	CountryCodes  = "CountryCodes"
	CountryCities = "CountryCities"
	Token         = "pollution:token"
	// AllPages matches every cached page.
	AllPages = pagePrefix + "*"

	pagePrefix      = "normalised:"
	pollutionPrefix = "pollution:list:"
	summaryPrefix   = "wikiCache:"
)

// Page keys a computed page by request shape.
func Page(country string, page, limit int) string {
	return fmt.Sprintf("%s%s:%d:%d", pagePrefix, country, page, limit)
}

// PagePrefix is the common prefix of every cached page of a country.
func PagePrefix(country string) string {
	return pagePrefix + country + ":"
}

// PagePattern matches every cached page of a country.
func PagePattern(country string) string {
	return pagePrefix + escapeGlob(country) + ":*"
}

func PollutionList(country string) string {
	return pollutionPrefix + country
}

// Summary keys an encyclopedia summary by the escaped canonical name.
func Summary(name string) string {
	return summaryPrefix + url.PathEscape(name)
}

// Fingerprint is a short stable hash of b.
func Fingerprint(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// escapes redis glob metacharacters
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
