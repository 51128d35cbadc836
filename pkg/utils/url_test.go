package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base, ref, want string
	}{
		{"https://museum.example/collection/", "object/12", "https://museum.example/collection/object/12"},
		{"https://museum.example/collection/", "/search?q=oil", "https://museum.example/search?q=oil"},
		{"https://museum.example/collection/", "https://cdn.example/a.jpg", "https://cdn.example/a.jpg"},
		{"https://museum.example/collection/", "  ../about ", "https://museum.example/about"},
		{"https://museum.example/", "", "https://museum.example/"},
	}
	for _, tc := range tests {
		got, err := ResolveURL(tc.base, tc.ref)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "ref %q", tc.ref)
	}
}

func TestResolveURLRejectsBadBase(t *testing.T) {
	t.Parallel()

	_, err := ResolveURL("://bad", "x")
	assert.Error(t, err)
}

func TestLastPathSegment(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://museum.example/download/SK-A-1505":       "SK-A-1505",
		"https://museum.example/download/SK-A-1505?x=1#y": "SK-A-1505",
		"https://museum.example/download/":                "",
		"https://museum.example":                          "",
	}
	for in, want := range tests {
		got, err := LastPathSegment(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestHashURLIsStable(t *testing.T) {
	t.Parallel()

	a := HashURL("https://museum.example/object/1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashURL("https://museum.example/object/1"))
	assert.NotEqual(t, a, HashURL("https://museum.example/object/2"))
}

func TestIsAbsoluteHTTP(t *testing.T) {
	t.Parallel()

	assert.True(t, IsAbsoluteHTTP("https://museum.example/collection"))
	assert.False(t, IsAbsoluteHTTP("/collection"))
	assert.False(t, IsAbsoluteHTTP("ftp://museum.example/"))
}
