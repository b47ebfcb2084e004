package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoots(t *testing.T) {
	roots, err := parseRoots(" 1, 4,,7 ")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 4, 7}, roots)

	roots, err = parseRoots("")
	require.NoError(t, err)
	assert.Empty(t, roots)

	for _, bad := range []string{"0", "x", "-1", "4294967296"} {
		_, err := parseRoots(bad)
		assert.Error(t, err, bad)
	}
}
