package action

import (
	"strings"

	"github.com/pkittenis/cronify/internal/matcher"
	"github.com/pkittenis/cronify/internal/watcher"
)

// FilenameToken is replaced by the full path of the triggering file.
const FilenameToken = "$filename"

// UsesDatestamp reports whether any argument is the datestamp token.
func UsesDatestamp(args []string) bool {
	for _, arg := range args {
		if strings.TrimSpace(arg) == matcher.DatestampToken {
			return true
		}
	}
	return false
}

// ExpandArgs substitutes placeholders in args. A placeholder must be the
// whole argument, ignoring surrounding whitespace; every other argument is
// passed through unchanged. The second result reports whether the datestamp
// was substituted. args is not modified.
func ExpandArgs(args []string, ev watcher.Event, date matcher.Datestamp) ([]string, bool) {
	out := make([]string, len(args))
	used := false
	for i, arg := range args {
		switch strings.TrimSpace(arg) {
		case FilenameToken:
			out[i] = ev.Path
		case matcher.DatestampToken:
			out[i] = date.String()
			used = true
		default:
			out[i] = arg
		}
	}
	return out, used
}
