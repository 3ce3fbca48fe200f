package member

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Convenience selectors understood by Resolve in addition to globs.
const (
	SelectorAll      = "all"
	SelectorLocators = "all locators"
	SelectorServers  = "all servers"
)

// NoMatchError is returned when a selector matches zero members. Silently
// applying configuration to nothing is a caller bug, never tolerated.
type NoMatchError struct {
	Selector string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no members matching %q found", e.Selector)
}

// Registry owns the full member record set and answers selector lookups.
// It is a pure lookup structure; records are created once at construction.
type Registry struct {
	locators []*Record
	servers  []*Record
}

// NewRegistry creates locatorCount + serverCount records sharing the given
// cluster suffix.
func NewRegistry(locatorCount, serverCount int, suffix string) *Registry {
	r := &Registry{}
	for i := 0; i < locatorCount; i++ {
		r.locators = append(r.locators, NewRecord(RoleLocator, i, suffix))
	}
	for i := 0; i < serverCount; i++ {
		r.servers = append(r.servers, NewRecord(RoleServer, i, suffix))
	}
	return r
}

// Locators returns the locator records in index order.
func (r *Registry) Locators() []*Record { return r.locators }

// Servers returns the server records in index order.
func (r *Registry) Servers() []*Record { return r.servers }

// All returns every record, locators first, each group in index order.
func (r *Registry) All() []*Record {
	out := make([]*Record, 0, len(r.locators)+len(r.servers))
	out = append(out, r.locators...)
	return append(out, r.servers...)
}

// Resolve returns the members whose names match the selector, locators first,
// each group in ascending index order. The selector is an anchored,
// case-sensitive glob where '*' matches any substring and '?' matches exactly
// one character; everything else is literal. Resolving a selector that
// matches nothing returns a NoMatchError.
func (r *Registry) Resolve(selector string) ([]*Record, error) {
	pattern := selector
	switch selector {
	case SelectorAll:
		pattern = "*"
	case SelectorLocators:
		pattern = string(RoleLocator) + "-*"
	case SelectorServers:
		pattern = string(RoleServer) + "-*"
	}

	g, err := compileSelector(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	var matched []*Record
	for _, rec := range r.All() {
		if g.Match(rec.Name()) {
			matched = append(matched, rec)
		}
	}

	if len(matched) == 0 {
		return nil, &NoMatchError{Selector: selector}
	}

	return matched, nil
}

// compileSelector builds an anchored matcher for the restricted syntax.
// Glob metacharacters other than '*' and '?' are escaped so they match
// literally.
func compileSelector(pattern string) (glob.Glob, error) {
	var quoted strings.Builder
	for _, r := range pattern {
		switch r {
		case '\\', '[', ']', '{', '}', ',', '!':
			quoted.WriteRune('\\')
		}
		quoted.WriteRune(r)
	}

	return glob.Compile(quoted.String())
}
