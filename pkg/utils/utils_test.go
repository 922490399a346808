package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(32)
	require.NoError(t, err)
	b, err := GenerateToken(32)
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")
}

func TestParsePage(t *testing.T) {
	cases := []struct {
		page, limit string
		want        Page
		offset      int
	}{
		{"", "", Page{1, 20}, 0},
		{"3", "10", Page{3, 10}, 20},
		{"0", "1000", Page{1, 100}, 0},
		{"x", "-5", Page{1, 20}, 0},
	}
	for _, tc := range cases {
		got := ParsePage(tc.page, tc.limit)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.offset, got.Offset())
	}
}

func TestNewPaginated_EmptyItems(t *testing.T) {
	p := NewPaginated[string](nil, 0, NewPage(1, 20))
	assert.NotNil(t, p.Items)
}
