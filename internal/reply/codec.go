// Package reply encodes and decodes the reply marker embedded at the start of
// a message body. The marker is a single line of the form "> reply:<id>\n"
// followed by the visible text; storing it inline keeps replies renderable
// without a schema change.
package reply

import "strings"

const (
	markerPrefix = "> reply:"
	markerSep    = "\n"
)

// Encode prepends the reply marker for targetID to body. The id must not
// contain a newline; the body is carried verbatim.
func Encode(targetID, body string) string {
	return markerPrefix + targetID + markerSep + body
}

// Decode splits content into the reply target id (empty if no marker) and the
// visible body. Defined for any input: content without a leading marker is
// returned unchanged.
func Decode(content string) (targetID, body string) {
	if !strings.HasPrefix(content, markerPrefix) {
		return "", content
	}
	rest := content[len(markerPrefix):]
	idx := strings.Index(rest, markerSep)
	if idx < 0 {
		// Marker prefix but no terminating newline: not a valid marker.
		return "", content
	}
	id := rest[:idx]
	if id == "" {
		return "", content
	}
	return id, rest[idx+len(markerSep):]
}
