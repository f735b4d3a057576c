// Package claims turns section text into atomic (subject, predicate,
// object) assertions via a structured-output LLM call, then validates and
// deduplicates the result.
package claims

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/veridocs/consolidator/internal/llm"
	"github.com/veridocs/consolidator/internal/model"
)

const defaultBatchConcurrency = 4
const fallbackConfidence = 0.5

// Extractor lifts atomic claims from section text using a structured
// JSON-mode LLM call.
type Extractor struct {
	svc llm.Service
}

func NewExtractor(svc llm.Service) *Extractor {
	return &Extractor{svc: svc}
}

type rawClaim struct {
	OriginalText string  `json:"original_text"`
	Subject      string  `json:"subject"`
	Predicate    string  `json:"predicate"`
	Object       string  `json:"object"`
	Qualifier    *string `json:"qualifier,omitempty"`
	Confidence   float64 `json:"confidence"`
	StartChar    int     `json:"start_char"`
	EndChar      int     `json:"end_char"`
}

type extractionResponse struct {
	Claims []rawClaim `json:"claims"`
}

const extractSystemPrompt = `You extract atomic factual claims from a document section. Return only JSON of the shape {"claims":[{"original_text","subject","predicate","object","qualifier"?,"confidence","start_char","end_char"}]}. Each claim must be a single (subject, predicate, object) fact; split compound statements into separate claims. confidence is in [0,1]. start_char/end_char are a character span into the given text.`

// Extract runs one LLM call over a section's content and returns its
// atomic claims, each carrying a fresh id and the section's id and
// document id. Empty or whitespace-only content yields an empty result
// without calling the LLM.
func (e *Extractor) Extract(ctx context.Context, sectionContent string, sectionID, documentID uuid.UUID) ([]model.AtomicClaim, error) {
	if strings.TrimSpace(sectionContent) == "" {
		return nil, nil
	}

	var resp extractionResponse
	err := llm.GenerateJSON(ctx, e.svc, llm.Request{
		System:      extractSystemPrompt,
		Prompt:      sectionContent,
		Temperature: 0,
	}, &resp)
	if err != nil {
		if err == llm.ErrNoProvider {
			return fallbackSplit(sectionContent, sectionID, documentID), nil
		}
		return nil, model.NewLLMError("extract_claims", err)
	}

	claims := make([]model.AtomicClaim, 0, len(resp.Claims))
	for _, rc := range resp.Claims {
		claims = append(claims, model.AtomicClaim{
			ID:           uuid.New(),
			SectionID:    sectionID,
			DocumentID:   documentID,
			OriginalText: rc.OriginalText,
			Subject:      rc.Subject,
			Predicate:    rc.Predicate,
			Object:       rc.Object,
			Qualifier:    rc.Qualifier,
			Confidence:   rc.Confidence,
			SpanStart:    rc.StartChar,
			SpanEnd:      rc.EndChar,
			Source:       model.ClaimSourceLLM,
		})
	}
	return claims, nil
}

// fallbackSplit produces one claim per sentence or numbered-list item when
// no LLM is configured, so ingest_document stays usable without one. Each
// claim has subject "this section", predicate "states", the sentence as
// object, confidence 0.5, and source fallback — it is never produced when a
// real LLM provider answers the extraction call.
func fallbackSplit(sectionContent string, sectionID, documentID uuid.UUID) []model.AtomicClaim {
	var claims []model.AtomicClaim
	offset := 0
	for _, sentence := range splitSentences(sectionContent) {
		start := offset
		end := start + len(sentence)
		offset = end

		text := strings.TrimSpace(sentence)
		if text == "" {
			continue
		}
		claims = append(claims, model.AtomicClaim{
			ID:           uuid.New(),
			SectionID:    sectionID,
			DocumentID:   documentID,
			OriginalText: text,
			Subject:      "this section",
			Predicate:    "states",
			Object:       text,
			Confidence:   fallbackConfidence,
			SpanStart:    start,
			SpanEnd:      end,
			Source:       model.ClaimSourceFallback,
		})
	}
	return claims
}

// splitSentences breaks content into sentence-or-list-item chunks: each
// line of a numbered or bulleted list is its own chunk, and any other text
// is split on '.', '!', '?' terminators. Chunks include their trailing
// terminator so SpanStart/SpanEnd track the source text.
func splitSentences(content string) []string {
	var chunks []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isHeading(trimmed) {
			// Blank out the line at its full width so later offsets still
			// line up with the source.
			chunks = append(chunks, strings.Repeat(" ", len(line))+"\n")
			continue
		}
		if isListItem(trimmed) {
			chunks = append(chunks, line+"\n")
			continue
		}

		start := 0
		for i, r := range line {
			if r == '.' || r == '!' || r == '?' {
				chunks = append(chunks, line[start:i+1])
				start = i + 1
			}
		}
		if start < len(line) {
			chunks = append(chunks, line[start:]+"\n")
		} else {
			chunks = append(chunks, "\n")
		}
	}
	return chunks
}

// isHeading reports whether a trimmed line is a markdown ATX heading
// ("#" through "######" followed by a space), mirroring docparse's own
// heading detection so heading text never becomes a fallback claim.
func isHeading(trimmed string) bool {
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	return n > 0 && n <= 6 && n < len(trimmed) && trimmed[n] == ' '
}

// isListItem reports whether a trimmed line opens a numbered ("1.", "2)")
// or bulleted ("-", "*") list entry.
func isListItem(trimmed string) bool {
	if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
		return true
	}
	i := 0
	for i < len(trimmed) && unicode.IsDigit(rune(trimmed[i])) {
		i++
	}
	return i > 0 && i < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == ')')
}

// SectionInput pairs a section's content with the ids Extract needs to
// stamp onto each resulting claim.
type SectionInput struct {
	SectionID  uuid.UUID
	DocumentID uuid.UUID
	Content    string
}

// ExtractBatch runs Extract over every section with bounded parallelism,
// returning results keyed by section id. A concurrency of 0 or less uses
// the default of 4. The first extraction failure cancels the remaining
// work and is returned; no partial results are returned on failure.
func (e *Extractor) ExtractBatch(ctx context.Context, sections []SectionInput, concurrency int) (map[uuid.UUID][]model.AtomicClaim, error) {
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}

	results := make(map[uuid.UUID][]model.AtomicClaim, len(sections))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, s := range sections {
		s := s
		g.Go(func() error {
			claims, err := e.Extract(ctx, s.Content, s.SectionID, s.DocumentID)
			if err != nil {
				return fmt.Errorf("claims: extract section %s: %w", s.SectionID, err)
			}
			mu.Lock()
			results[s.SectionID] = claims
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
