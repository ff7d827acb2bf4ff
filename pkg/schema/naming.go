package schema

import (
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
)

// Underscore converts a Go identifier to a snake_case column or table name.
// Upper-case runs are treated as one word, so ParentID becomes parent_id.
func Underscore(name string) string {
	return inflect.Underscore(titleRuns(name))
}

// titleRuns lowers the tail of every upper-case run: "HTTPServerID" -> "HttpServerId".
func titleRuns(s string) string {
	runes := []rune(s)
	out := make([]rune, len(runes))
	for i, r := range runes {
		out[i] = r
		if i == 0 || !unicode.IsUpper(r) || !unicode.IsUpper(runes[i-1]) {
			continue
		}
		// The last capital of a run followed by a lower-case letter starts a new word.
		if i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			continue
		}
		out[i] = unicode.ToLower(r)
	}
	return string(out)
}

func joinName(parts ...string) string {
	return strings.Join(parts, "_")
}
