package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"kufur", "", 5},
		{"", "ab", 2},
		{"kufur", "kufur", 0},
		{"kufir", "kufur", 1},
		{"kitab", "kitap", 1},
		{"vicdna", "vicdan", 2},
		{"medeniyet", "medeniyetin", 2},
		{"çay", "cay", 1},
		{"kedi", "keditap", 3},
	}

	for _, tc := range tests {
		t.Run(tc.a+"_"+tc.b, func(t *testing.T) {
			assert.Equal(t, tc.expected, EditDistance(tc.a, tc.b))
			assert.Equal(t, tc.expected, EditDistance(tc.b, tc.a))
		})
	}
}
