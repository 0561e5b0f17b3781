package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFixed(t *testing.T) {
	c := NewChunker(4, 1)

	segments := c.splitFixed("abcdefghij")

	require.Len(t, segments, 3)
	assert.Equal(t, "abcd", segments[0].Text)
	assert.Equal(t, "defg", segments[1].Text)
	assert.Equal(t, "ghij", segments[2].Text)
	assert.Equal(t, 6, segments[2].Start)
}

func TestCheckCoverage(t *testing.T) {
	assert.NoError(t, checkCoverage([]span{{0, 4}, {3, 8}}, 8))
	assert.Error(t, checkCoverage(nil, 8))
	assert.Error(t, checkCoverage([]span{{0, 4}, {5, 8}}, 8), "gap")
	assert.Error(t, checkCoverage([]span{{0, 4}, {3, 7}}, 8), "short")
	assert.Error(t, checkCoverage([]span{{0, 6}, {2, 5}, {5, 8}}, 8), "backwards")
}

func TestMergeCarriesOverlap(t *testing.T) {
	c := NewChunker(10, 4)
	pieces := []span{{0, 3}, {3, 6}, {6, 9}, {9, 12}, {12, 15}}

	merged := c.merge(pieces)

	assert.Equal(t, []span{{0, 9}, {6, 15}}, merged)
}
