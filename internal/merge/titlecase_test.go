package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitleCasePreservesAcronyms(t *testing.T) {
	assert.Equal(t, "API Rate Limits", titleCase("API_rate-limits"))
}

func TestLongestCommonTokenSequence(t *testing.T) {
	got := longestCommonTokenSequence([]string{"Server Configuration Guide", "Server Configuration Reference"})
	assert.Equal(t, "Server Configuration", got)
}

func TestLongestCommonTokenSequenceNoOverlap(t *testing.T) {
	assert.Equal(t, "", longestCommonTokenSequence([]string{"Alpha", "Beta"}))
}
