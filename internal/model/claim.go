package model

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ClaimSource names the pathway that produced a claim.
type ClaimSource string

const (
	ClaimSourceLLM      ClaimSource = "llm"
	ClaimSourceFallback ClaimSource = "fallback"
)

// AtomicClaim is a minimal factual assertion lifted from exactly one
// section: a (subject, predicate, object [, qualifier]) tuple anchored to
// an exact character span within the section it came from.
type AtomicClaim struct {
	ID           uuid.UUID        `json:"id"`
	SectionID    uuid.UUID        `json:"section_id"`
	DocumentID   uuid.UUID        `json:"document_id"` // derivable from section, denormalized for query convenience
	OriginalText string           `json:"original_text"`
	Subject      string           `json:"subject"`
	Predicate    string           `json:"predicate"`
	Object       string           `json:"object"`
	Qualifier    *string          `json:"qualifier,omitempty"`
	Confidence   float64          `json:"confidence"` // [0,1]
	SpanStart    int              `json:"span_start"`
	SpanEnd      int              `json:"span_end"`
	Deprecated   bool             `json:"deprecated"`
	Source       ClaimSource      `json:"source"`
	Embedding    *pgvector.Vector `json:"-"`
}

// ValidationIssue names a diagnostic concern about a claim. Validation is
// diagnostic, not filtering: issues are reported alongside the claim, never
// used to drop it.
type ValidationIssue struct {
	Claim  AtomicClaim `json:"claim"`
	Issues []string    `json:"issues"`
}

// vaguePredicates are predicates too generic to be useful on their own.
var vaguePredicates = map[string]bool{
	"is": true, "has": true, "does": true, "can": true,
}

// EvaluateClaim reports the diagnostic issues for a single claim, matching
// the rules in the claim extractor's validation contract. It never mutates
// or drops the claim.
func EvaluateClaim(c AtomicClaim) []string {
	var issues []string
	if c.Subject == "" {
		issues = append(issues, "empty subject")
	}
	if c.Predicate == "" {
		issues = append(issues, "empty predicate")
	}
	if c.Object == "" {
		issues = append(issues, "empty object")
	}
	if c.Confidence < 0.3 {
		issues = append(issues, "very low confidence")
	}
	if containsCompoundJoiner(c.Predicate) {
		issues = append(issues, "possibly compound, may need splitting")
	}
	if vaguePredicates[normalizeToken(c.Predicate)] {
		issues = append(issues, "vague predicate")
	}
	return issues
}

func containsCompoundJoiner(s string) bool {
	lower := normalizeToken(s)
	return containsSubstr(lower, " and ") || containsSubstr(lower, ",")
}

func containsSubstr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// normalizeToken case-folds and trims a string for comparison purposes
// (grouping, dedup, type heuristics). It is the single normalization rule
// shared by the claim, entity, and conflict models.
func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeToken exports normalizeToken for use by packages outside model
// that need the same comparison rule (claims extractor, conflict detector).
func NormalizeToken(s string) string { return normalizeToken(s) }
