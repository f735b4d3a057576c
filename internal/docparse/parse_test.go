package docparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridocs/consolidator/internal/model"
)

func TestParseMarkdownSplitsOnHeadings(t *testing.T) {
	raw := "# Title\n\nIntro text.\n\n## Config\n\nThe server uses port 3000.\n"
	sections := Parse(raw, model.FormatMarkdown)
	require.Len(t, sections, 2)
	assert.Equal(t, "Title", sections[0].Header)
	assert.Equal(t, 1, sections[0].HeadingLevel)
	assert.Equal(t, "Config", sections[1].Header)
	assert.Equal(t, 2, sections[1].HeadingLevel)
	assert.Contains(t, sections[1].Body, "port 3000")
}

func TestParsePlainTextIsOneSection(t *testing.T) {
	sections := Parse("just some text", model.FormatText)
	require.Len(t, sections, 1)
	assert.Equal(t, "just some text", sections[0].Body)
}

func TestParsePreservesSectionOrder(t *testing.T) {
	raw := "## A\nfirst\n## B\nsecond\n## C\nthird\n"
	sections := Parse(raw, model.FormatMarkdown)
	require.Len(t, sections, 3)
	for i, s := range sections {
		assert.Equal(t, i, s.SectionOrder)
	}
}
