package matcher

import (
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Ignore holds gitignore-style patterns for paths that never trigger
// actions. A nil *Ignore ignores nothing.
type Ignore struct {
	gi *gitignore.GitIgnore
}

// CompileIgnore compiles ignore lines. Blank lines and comments are dropped.
// It returns nil when no patterns remain.
func CompileIgnore(lines []string) *Ignore {
	var patterns []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		// Skip empty lines and comments
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	if len(patterns) == 0 {
		return nil
	}
	return &Ignore{gi: gitignore.CompileIgnoreLines(patterns...)}
}

// Ignored reports whether relPath, relative to the watched directory,
// matches the ignore patterns.
func (i *Ignore) Ignored(relPath string) bool {
	if i == nil {
		return false
	}
	return i.gi.MatchesPath(filepath.ToSlash(relPath))
}

// IgnoredDir is Ignored for a directory, so that patterns with a trailing
// slash also exclude the directory itself.
func (i *Ignore) IgnoredDir(relPath string) bool {
	return i.Ignored(relPath) || i.Ignored(relPath+"/")
}
