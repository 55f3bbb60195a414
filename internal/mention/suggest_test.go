package mention

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuggestPrefixCaseInsensitive(t *testing.T) {
	roster := []string{"Alex", "alice", "Bob"}
	assert.Equal(t, []string{"Alex", "alice"}, Suggest("al", roster, 6))
	assert.Equal(t, []string{"Bob"}, Suggest("b", roster, 6))
	assert.Equal(t, []string{"Alex", "alice", "Bob"}, Suggest("", roster, 6))
}

func TestSuggestLimit(t *testing.T) {
	roster := []string{"ann", "anna", "annabel", "annie"}
	assert.Equal(t, []string{"ann", "anna"}, Suggest("an", roster, 2))
	assert.Empty(t, Suggest("an", roster, 0))
}

func TestSuggestOverLongQuery(t *testing.T) {
	roster := []string{"xyz-too-long-query-string-over-limit"}
	assert.Empty(t, Suggest("xyz-too-long-query-string-over-limit", roster, 6))
}

func TestSuggestCountsRunesNotBytes(t *testing.T) {
	// 10 Cyrillic runes are 20 bytes; the query is still within the cap.
	roster := []string{"александра"}
	assert.Equal(t, []string{"александра"}, Suggest("АЛЕКСАНДРА", roster, 6))
	// 21 runes is over the cap regardless of encoding.
	assert.Empty(t, Suggest(strings.Repeat("я", 21), roster, 6))
}

func TestSuggestKeepsRosterOrder(t *testing.T) {
	roster := []string{"zoe-a", "Zoe", "zab"}
	assert.Equal(t, []string{"zoe-a", "Zoe"}, Suggest("zo", roster, 6))
}

func TestQueryAfterAt(t *testing.T) {
	q, ok := QueryAfterAt("hey @al")
	assert.True(t, ok)
	assert.Equal(t, "al", q)

	q, ok = QueryAfterAt("@a see @bo")
	assert.True(t, ok)
	assert.Equal(t, "bo", q)

	_, ok = QueryAfterAt("no mention here")
	assert.False(t, ok)
}
