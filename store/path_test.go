package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/", []string{}},
		{"", []string{}},
		{"/foo", []string{"foo"}},
		{"/foo//bar/", []string{"foo", "bar"}},
		{"foo/bar", []string{"foo", "bar"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitPath(tt.path))
		})
	}
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "/", CleanPath(""))
	assert.Equal(t, "/a/b", CleanPath("a//b/"))
	assert.Equal(t, "/a/b/c", JoinPath("/a", "b/", "/c"))
	assert.Equal(t, "c", BaseName("/a/b/c"))
	assert.Equal(t, "/", BaseName("/"))
	assert.Equal(t, "/a/b", DirName("/a/b/c"))
	assert.Equal(t, "/", DirName("/a"))
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a\x00b"} {
		assert.ErrorIs(t, validName(name), ErrInvalidPath, "%q", name)
	}
	assert.NoError(t, validName("band_1_rev"))
}
