package cost

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"hello world", 3},
		{"日本語テキスト", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.text), "text %q", tt.text)
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	prev := 0
	for n := 0; n <= 64; n++ {
		got := EstimateTokens(strings.Repeat("x", n))
		assert.GreaterOrEqual(t, got, prev, "length %d", n)
		prev = got
	}
}
