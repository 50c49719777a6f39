package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("abc", ""))
	assert.Equal(t, 1, levenshtein("timeout", "timeeout"))
	assert.Equal(t, 1, levenshtein("kitten", "mitten"))
}

func TestClosestMatch(t *testing.T) {
	t.Parallel()

	known := []string{"cookie.timeout", "server.listen"}

	assert.Equal(t, "cookie.timeout", closestMatch("cookie.timeeout", known))
	assert.Equal(t, "", closestMatch("nothing.like.it.at.all", known))
}

func TestIsDigits(t *testing.T) {
	t.Parallel()

	assert.True(t, isDigits("0"))
	assert.True(t, isDigits("42"))
	assert.False(t, isDigits(""))
	assert.False(t, isDigits("4a"))
}
