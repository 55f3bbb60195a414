package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	bodies := []string{
		"hello",
		"",
		"multi\nline\nbody",
		"> reply:fake\nnested-looking body",
		"unicode ответ 😀",
	}
	for _, body := range bodies {
		id, got := Decode(Encode("abc-123", body))
		assert.Equal(t, "abc-123", id)
		assert.Equal(t, body, got)
	}
}

func TestDecodeWithoutMarker(t *testing.T) {
	inputs := []string{
		"plain message",
		"",
		"reply:abc\nno quote prefix",
		"> quoted but not a reply\nrest",
	}
	for _, in := range inputs {
		id, body := Decode(in)
		assert.Empty(t, id)
		assert.Equal(t, in, body)
	}
}

func TestDecodeMalformedMarker(t *testing.T) {
	// Prefix present but no newline terminator: content is left untouched.
	id, body := Decode("> reply:abc-123 without newline")
	assert.Empty(t, id)
	assert.Equal(t, "> reply:abc-123 without newline", body)

	// Empty id is not a marker.
	id, body = Decode("> reply:\nhello")
	assert.Empty(t, id)
	assert.Equal(t, "> reply:\nhello", body)
}
