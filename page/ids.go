package page

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/justapithecus/sitemapper/types"
)

// ErrInvalidPattern is returned for id patterns without a capture group.
var ErrInvalidPattern = errors.New("page: invalid id pattern")

// IDPattern recovers item ids from entry locations.
// The id is the group named "id" when present, otherwise the first group.
type IDPattern struct {
	re    *regexp.Regexp
	group int
}

// CompileIDPattern compiles expr and checks that it captures an id.
func CompileIDPattern(expr string) (*IDPattern, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	if re.NumSubexp() == 0 {
		return nil, fmt.Errorf("%w: %q has no capture group", ErrInvalidPattern, expr)
	}
	group := 1
	if i := re.SubexpIndex("id"); i > 0 {
		group = i
	}
	return &IDPattern{re: re, group: group}, nil
}

// String returns the source expression.
func (p *IDPattern) String() string { return p.re.String() }

// Extract returns the id in loc. ok is false when the pattern does not match
// or captures an empty id.
func (p *IDPattern) Extract(loc string) (id string, ok bool) {
	m := p.re.FindStringSubmatch(loc)
	if m == nil || m[p.group] == "" {
		return "", false
	}
	return m[p.group], true
}

// IDs extracts the id of every item, in order. The index of the first item
// without an id is returned with ok false.
func (p *IDPattern) IDs(items []types.SitemapItem) (ids []string, bad int, ok bool) {
	ids = make([]string, len(items))
	for i, it := range items {
		id, found := p.Extract(it.Loc)
		if !found {
			return nil, i, false
		}
		ids[i] = id
	}
	return ids, -1, true
}
