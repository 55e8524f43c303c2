// Package matcher compiles filemasks into matchers with LRU caching for
// compiled patterns, and resolves the datestamp a file belongs to.
package matcher

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// Default cache size for compiled filemasks
	defaultCacheSize = 128
	// DatestampToken is the reserved filemask and argument token
	DatestampToken = "YYYYMMDD"
	// digitClass stands in for one digit of the datestamp
	digitClass = "[0-9]"
)

// Matcher is a compiled filemask.
type Matcher struct {
	pattern   string
	datestamp bool
}

// Match reports whether name, a base filename, matches the whole mask.
func (m *Matcher) Match(name string) bool {
	ok, err := doublestar.Match(m.pattern, name)
	return err == nil && ok
}

// HasDatestamp reports whether the mask contained the datestamp token.
func (m *Matcher) HasDatestamp() bool {
	return m.datestamp
}

// String returns the compiled pattern.
func (m *Matcher) String() string {
	return m.pattern
}

// Compiler compiles filemasks, caching the results
type Compiler struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Matcher]
}

// NewCompiler creates a new compiler with specified cache size
func NewCompiler(cacheSize int) (*Compiler, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	cache, err := lru.New[string, *Matcher](cacheSize)
	if err != nil {
		return nil, err
	}

	return &Compiler{
		cache: cache,
	}, nil
}

// Compile returns the matcher for mask. Each occurrence of the datestamp
// token becomes exactly eight digits; everything else keeps glob semantics.
func (c *Compiler) Compile(mask string) (*Matcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.cache.Get(mask); ok {
		return m, nil
	}

	m, err := compile(mask)
	if err != nil {
		return nil, err
	}

	c.cache.Add(mask, m)
	return m, nil
}

// Len returns the number of cached matchers
func (c *Compiler) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Purge removes all cached matchers
func (c *Compiler) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

var literalEscaper = strings.NewReplacer(`\`, `\\`, `{`, `\{`, `}`, `\}`)

func compile(mask string) (*Matcher, error) {
	if strings.TrimSpace(mask) == "" {
		return nil, fmt.Errorf("empty filemask")
	}
	if strings.ContainsRune(mask, '/') {
		return nil, fmt.Errorf("filemask %q: must match a file name, not a path", mask)
	}

	// Braces and backslashes are literal in a filemask
	pattern := literalEscaper.Replace(mask)
	hasToken := strings.Contains(mask, DatestampToken)
	if hasToken {
		pattern = strings.ReplaceAll(pattern, DatestampToken, strings.Repeat(digitClass, 8))
	}

	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("filemask %q: invalid pattern", mask)
	}

	return &Matcher{pattern: pattern, datestamp: hasToken}, nil
}
