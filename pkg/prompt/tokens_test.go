package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	t.Run("should estimate ceil of chars over four", func(t *testing.T) {
		assert.Equal(t, 0, EstimateTokens(""))
		assert.Equal(t, 1, EstimateTokens("a"))
		assert.Equal(t, 1, EstimateTokens("abcd"))
		assert.Equal(t, 2, EstimateTokens("abcde"))
		assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
	})

	t.Run("should never estimate lower for more characters", func(t *testing.T) {
		prev := 0
		s := ""
		for i := 0; i < 50; i++ {
			s += "ab"
			est := EstimateTokens(s)
			assert.GreaterOrEqual(t, est, prev)
			prev = est
		}
	})
}

func TestTruncateToTokens(t *testing.T) {
	t.Run("should leave short strings untouched", func(t *testing.T) {
		assert.Equal(t, "hello", TruncateToTokens("hello", 100))
	})

	t.Run("should append the marker when truncating", func(t *testing.T) {
		long := strings.Repeat("x", 4000)
		got := TruncateToTokens(long, 500)

		assert.True(t, strings.HasSuffix(got, TruncationMarker))
		assert.LessOrEqual(t, EstimateTokens(got), 500)
	})

	t.Run("should be idempotent", func(t *testing.T) {
		long := strings.Repeat("word ", 2000)
		once := TruncateToTokens(long, 500)
		twice := TruncateToTokens(once, 500)

		assert.Equal(t, once, twice)
	})

	t.Run("should handle tiny budgets", func(t *testing.T) {
		got := TruncateToTokens(strings.Repeat("x", 100), 2)
		assert.LessOrEqual(t, EstimateTokens(got), 2)
		assert.Equal(t, got, TruncateToTokens(got, 2))
	})

	t.Run("should not split multibyte runes", func(t *testing.T) {
		long := strings.Repeat("héllo wörld ", 500)
		got := TruncateToTokens(long, 100)

		trimmed := strings.TrimSuffix(got, TruncationMarker)
		assert.True(t, strings.HasSuffix(got, TruncationMarker))
		for _, r := range trimmed {
			assert.NotEqual(t, '�', r)
		}
	})

	t.Run("should return empty for non-positive budget", func(t *testing.T) {
		assert.Equal(t, "", TruncateToTokens("anything", 0))
	})
}
