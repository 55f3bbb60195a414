// Package mention computes @-mention autocomplete candidates from the live
// roster. Pure functions with no internal state; the caller re-invokes on
// every input change.
package mention

import (
	"strings"
	"unicode/utf8"
)

// MaxQueryLen caps the query length in runes; anything longer is treated as
// free text after an '@' rather than a mention in progress.
const MaxQueryLen = 20

// Suggest returns up to limit roster usernames whose lowercase form starts
// with the lowercase query. Matches keep roster order; an over-long query
// yields no matches.
func Suggest(query string, roster []string, limit int) []string {
	if utf8.RuneCountInString(query) > MaxQueryLen || limit <= 0 {
		return nil
	}
	q := strings.ToLower(query)
	out := make([]string, 0, limit)
	for _, u := range roster {
		if strings.HasPrefix(strings.ToLower(u), q) {
			out = append(out, u)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// QueryAfterAt extracts the mention query from the input: the substring after
// the last '@'. ok is false when the input contains no '@'.
func QueryAfterAt(input string) (query string, ok bool) {
	idx := strings.LastIndex(input, "@")
	if idx < 0 {
		return "", false
	}
	return input[idx+1:], true
}
