package scan

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchGlob(t *testing.T) {
	keys := []string{"doc1", "doc2", "anotherdoc"}

	for _, testCase := range []struct {
		name     string
		glob     string
		expected []string
	}{
		{
			name:     "match_all",
			glob:     "*",
			expected: []string{"doc1", "doc2", "anotherdoc"},
		},
		{
			name:     "match_with_question_mark",
			glob:     "doc?",
			expected: []string{"doc1", "doc2"},
		},
		{
			name:     "match_with_star_at_the_end",
			glob:     "doc*",
			expected: []string{"doc1", "doc2"},
		},
		{
			name:     "match_with_star_at_the_beginning",
			glob:     "*doc",
			expected: []string{"anotherdoc"},
		},
		{
			name:     "match_with_multiple_stars",
			glob:     "*doc*",
			expected: []string{"doc1", "doc2", "anotherdoc"},
		},
		{
			name:     "no_match",
			glob:     "nomatch",
			expected: nil,
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			seq := MatchGlob(testCase.glob, slices.Values(keys), func(key string) string { return key })
			assert.Equal(t, testCase.expected, slices.Collect(seq))
		})
	}
}

func TestMatchGlob_PrintedKeys(t *testing.T) {
	keys := []int{1, 12, 123, 2}
	seq := MatchGlob("1*", slices.Values(keys), func(key int) string { return fmt.Sprint(key) })
	assert.Equal(t, []int{1, 12, 123}, slices.Collect(seq))
}

func TestCompileGlob(t *testing.T) {
	match, err := CompileGlob("user-*")
	assert.NoError(t, err)
	assert.True(t, match("user-42"))
	assert.False(t, match("group-42"))
}

func TestCompileGlob_PathKeys(t *testing.T) {
	keys := []string{"docs/a.xml", "docs/b.json", "/site/index.xml", "/site/blog/post.xml", "readme"}

	for _, testCase := range []struct {
		name     string
		glob     string
		expected []string
	}{
		{name: "element_wildcard", glob: "docs/*", expected: []string{"docs/a.xml", "docs/b.json"}},
		{name: "suffix_in_element", glob: "docs/*.xml", expected: []string{"docs/a.xml"}},
		{name: "rooted", glob: "/site/*", expected: []string{"/site/index.xml"}},
		{name: "star_does_not_cross_slash", glob: "*", expected: []string{"readme"}},
		{name: "recursive", glob: "/site/...", expected: []string{"/site/index.xml", "/site/blog/post.xml"}},
		{name: "recursive_matches_everything", glob: "...", expected: keys},
		{name: "wildcard_directory", glob: "*/*.xml", expected: []string{"docs/a.xml"}},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			seq := MatchGlob(testCase.glob, slices.Values(keys), func(key string) string { return key })
			assert.Equal(t, testCase.expected, slices.Collect(seq))
		})
	}
}

func TestCompileGlob_RecursiveNotLast(t *testing.T) {
	_, err := CompileGlob("docs/.../a.xml")
	assert.ErrorContains(t, err, "only allowed as the last element")
}
