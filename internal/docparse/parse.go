// Package docparse turns raw document bytes into the ordered sections the
// core pipeline operates on. It is a pure function of its input: same
// bytes and format always produce the same sections.
package docparse

import (
	"strings"

	"github.com/veridocs/consolidator/internal/model"
)

// ParsedSection is one section extracted from raw content, with the same
// shape as model.Section minus identifiers the caller mints.
type ParsedSection struct {
	Header       string
	Body         string
	HeadingLevel int
	SectionOrder int
	SpanStart    int
	SpanEnd      int
}

// Parse splits raw content into sections. Markdown content is split on
// ATX headings (`#` through `######`); anything before the first heading
// becomes section 0 with heading level 0 and an empty header. Plain text
// and unrecognized formats are returned as a single section spanning the
// whole input.
func Parse(raw string, format model.DocumentFormat) []ParsedSection {
	if format != model.FormatMarkdown {
		return []ParsedSection{{Body: raw, SpanStart: 0, SpanEnd: len(raw)}}
	}
	return parseMarkdown(raw)
}

func parseMarkdown(raw string) []ParsedSection {
	lines := strings.Split(raw, "\n")

	type rawSection struct {
		header       string
		level        int
		lineStart    int
		lineEnd      int
	}
	var boundaries []rawSection
	cur := rawSection{lineStart: 0}

	for i, line := range lines {
		level, header, ok := matchHeading(line)
		if !ok {
			continue
		}
		cur.lineEnd = i
		boundaries = append(boundaries, cur)
		cur = rawSection{header: header, level: level, lineStart: i}
	}
	cur.lineEnd = len(lines)
	boundaries = append(boundaries, cur)

	lineOffsets := make([]int, len(lines)+1)
	offset := 0
	for i, l := range lines {
		lineOffsets[i] = offset
		offset += len(l) + 1 // +1 for the stripped newline
	}
	lineOffsets[len(lines)] = offset

	var out []ParsedSection
	order := 0
	for _, b := range boundaries {
		body := strings.TrimSpace(strings.Join(lines[b.lineStart:b.lineEnd], "\n"))
		if body == "" && b.header == "" {
			continue
		}
		out = append(out, ParsedSection{
			Header:       b.header,
			Body:         body,
			HeadingLevel: b.level,
			SectionOrder: order,
			SpanStart:    lineOffsets[b.lineStart],
			SpanEnd:      lineOffsets[b.lineEnd],
		})
		order++
	}
	if len(out) == 0 {
		return []ParsedSection{{Body: raw, SpanStart: 0, SpanEnd: len(raw)}}
	}
	return out
}

// matchHeading reports whether line is an ATX heading and, if so, its
// level (1-6) and header text.
func matchHeading(line string) (level int, header string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return 0, "", false
	}
	if n >= len(trimmed) || trimmed[n] != ' ' {
		return 0, "", false
	}
	return n, strings.TrimSpace(trimmed[n+1:]), true
}
