// Package text canonicalizes input text before it is hashed into a cache key.
package text

import (
	"strings"
)

const (
	carriageReturnLineFeed = "\r\n"
	carriageReturn         = "\r"
	lineFeed               = "\n"
	space                  = " "
)

var lineEndingReplacer = strings.NewReplacer(
	carriageReturnLineFeed, lineFeed,
	carriageReturn, lineFeed,
)

// Normalize returns the canonical form of raw: line endings unified to LF, text
// lowercased with Unicode simple case mapping, every whitespace run collapsed to one
// space, and the ends trimmed. The result does not depend on process locale, and
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	unified := lineEndingReplacer.Replace(raw)
	lowered := strings.ToLower(unified)

	return strings.Join(strings.Fields(lowered), space)
}
