// Tickcache lets operators drop cache entries by key pattern; the following module implements glob matching over
// the printed form of cache keys.
//
// Keys are matched as slash separated paths, element by element: `*` and `?` never cross a `/`, and a trailing
// `...` element matches any number of remaining elements, e.g. `/etc/...` matches `/etc/app.yaml` and
// `/etc/conf.d/db.yaml`.

package scan

import (
	"fmt"
	"iter"
	"strings"

	"v.io/v23/glob"
)

// recursiveElement matches zero or more trailing path elements.
const recursiveElement = "..."

// elementMatcher matches a single path element.
type elementMatcher func(element string) bool

// compileElement parses a single pattern element, which contains no `/`.
func compileElement(element string) (elementMatcher, error) {
	if element == "" { // Leading, trailing or doubled slashes only match the same empty element.
		return func(keyElement string) bool { return keyElement == "" }, nil
	}
	parsedElement, err := glob.Parse(element)
	if err != nil {
		return nil, err
	}
	return parsedElement.Head().Match, nil
}

// CompileGlob parses `pattern` and returns a matcher for single keys.
func CompileGlob(pattern string) (func(key string) bool, error) {
	elements := strings.Split(pattern, "/")
	recursive := elements[len(elements)-1] == recursiveElement
	if recursive {
		elements = elements[:len(elements)-1]
	}
	matchers := make([]elementMatcher, len(elements))
	for i, element := range elements {
		if element == recursiveElement {
			return nil, fmt.Errorf("invalid glob pattern %q: %s is only allowed as the last element", pattern,
				recursiveElement)
		}
		matcher, err := compileElement(element)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		matchers[i] = matcher
	}

	return func(key string) bool {
		keyElements := strings.Split(key, "/")
		if len(keyElements) < len(matchers) || (!recursive && len(keyElements) != len(matchers)) {
			return false
		}
		for i, match := range matchers {
			if !match(keyElements[i]) {
				return false
			}
		}
		return true
	}, nil
}

// MatchGlob filters `values` down to the ones whose name matches the glob `pattern`.
// An invalid pattern matches nothing.
func MatchGlob[T any](pattern string, values iter.Seq[T], name func(T) string) iter.Seq[T] {
	match, err := CompileGlob(pattern)
	if err != nil { // If pattern is invalid, return empty sequence.
		return func(yield func(T) bool) {}
	}
	return func(yield func(T) bool) {
		for value := range values {
			if match(name(value)) {
				if !yield(value) {
					return
				}
			}
		}
	}
}
