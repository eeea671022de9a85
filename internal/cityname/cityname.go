// Package cityname turns free-form city names into canonical display names,
// encyclopedia titles and bounded descriptions.
package cityname

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const Ellipsis = "..."

var lower = cases.Lower(language.Und)

// Lower folds a name for set membership checks.
func Lower(s string) string {
	return lower.String(s)
}

func isEdgePunct(r rune) bool {
	switch r {
	case ',', '.', ';', ':', '/', '\\', '-':
		return true
	}
	return unicode.IsSpace(r)
}

// Normalize returns the canonical display form of raw, or "" when nothing
// usable is left. Each whitespace or hyphen delimited segment is title-cased
// and the separators are kept.
func Normalize(raw string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, raw)
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimFunc(s, isEdgePunct)
	s = strings.TrimRight(s, ".")
	if s == "" {
		return ""
	}
	return titleSegments(s, nil)
}

func isSeparator(r rune) bool {
	return r == ' ' || r == '-' || unicode.IsSpace(r)
}

// titleSegments upper-cases the first rune of every segment and lower-cases
// the rest. Segments found in keepLower stay lower-case unless first.
func titleSegments(s string, keepLower map[string]struct{}) string {
	var b strings.Builder
	b.Grow(len(s))
	first := true
	seg := make([]rune, 0, 16)
	flush := func() {
		if len(seg) == 0 {
			return
		}
		word := strings.ToLower(string(seg))
		if _, ok := keepLower[word]; ok && !first {
			b.WriteString(word)
		} else {
			r, size := utf8.DecodeRuneInString(word)
			b.WriteRune(unicode.ToUpper(r))
			b.WriteString(word[size:])
		}
		first = false
		seg = seg[:0]
	}
	for _, r := range s {
		if isSeparator(r) {
			flush()
			b.WriteRune(r)
			continue
		}
		seg = append(seg, r)
	}
	flush()
	return b.String()
}

var connectors = map[string]struct{}{
	"de": {}, "del": {}, "la": {}, "el": {}, "las": {}, "los": {},
	"sur": {}, "sous": {}, "du": {}, "le": {}, "les": {}, "et": {},
	"a": {}, "of": {}, "in": {},
}

// WikiTitle converts a canonical name to the encyclopedia's title
// convention and escapes it for use as a URL path segment.
func WikiTitle(name string) string {
	if dec, err := url.PathUnescape(name); err == nil {
		name = dec
	}
	return url.PathEscape(titleSegments(strings.ToLower(name), connectors))
}

// TrimWords bounds text to max characters on word boundaries. Truncated
// output ends with Ellipsis and still fits in max.
func TrimWords(text string, max int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	joined := strings.Join(words, " ")
	if utf8.RuneCountInString(joined) <= max {
		return joined
	}
	budget := max - utf8.RuneCountInString(Ellipsis)
	if budget <= 0 {
		return string([]rune(Ellipsis)[:max])
	}

	var b strings.Builder
	n := 0
	for _, w := range words {
		wl := utf8.RuneCountInString(w)
		add := wl
		if n > 0 {
			add++
		}
		if n+add > budget {
			break
		}
		if n > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		n += add
	}
	if n == 0 {
		// first word alone is longer than the budget
		b.WriteString(string([]rune(words[0])[:budget]))
	}
	b.WriteString(Ellipsis)
	return b.String()
}
