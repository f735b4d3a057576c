package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/veridocs/consolidator/internal/model"
)

// InsertClaims bulk-inserts claims via COPY, the same pattern used for
// every high-volume write in this system: one round trip regardless of
// batch size.
func InsertClaims(ctx context.Context, q Querier, claims []model.AtomicClaim) error {
	if len(claims) == 0 {
		return nil
	}
	rows := make([][]any, len(claims))
	for i, c := range claims {
		source := c.Source
		if source == "" {
			source = model.ClaimSourceLLM
		}
		rows[i] = []any{c.ID, c.SectionID, c.DocumentID, c.OriginalText, c.Subject, c.Predicate, c.Object, c.Qualifier, c.Confidence, c.SpanStart, c.SpanEnd, c.Deprecated, string(source), c.Embedding}
	}

	_, err := q.CopyFrom(ctx,
		pgx.Identifier{"claims"},
		[]string{"id", "section_id", "document_id", "original_text", "subject", "predicate", "object", "qualifier", "confidence", "span_start", "span_end", "deprecated", "source", "embedding"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("storage: copy claims: %w", err)
	}
	return nil
}

const claimSelectBase = `
	SELECT id, section_id, document_id, original_text, subject, predicate, object, qualifier, confidence, span_start, span_end, deprecated, source, embedding
	FROM claims`

func scanClaimRows(rows pgx.Rows) ([]model.AtomicClaim, error) {
	var out []model.AtomicClaim
	for rows.Next() {
		var c model.AtomicClaim
		var embedding *pgvector.Vector
		var source string
		if err := rows.Scan(&c.ID, &c.SectionID, &c.DocumentID, &c.OriginalText, &c.Subject, &c.Predicate, &c.Object, &c.Qualifier, &c.Confidence, &c.SpanStart, &c.SpanEnd, &c.Deprecated, &source, &embedding); err != nil {
			return nil, fmt.Errorf("storage: scan claim: %w", err)
		}
		c.Source = model.ClaimSource(source)
		c.Embedding = embedding
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetClaimsBySection loads claims owned by one section.
func GetClaimsBySection(ctx context.Context, q Querier, sectionID uuid.UUID) ([]model.AtomicClaim, error) {
	rows, err := q.Query(ctx, claimSelectBase+" WHERE section_id = $1", sectionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list claims by section: %w", err)
	}
	defer rows.Close()
	return scanClaimRows(rows)
}

// ListClaimsByDocuments loads every claim belonging to the given documents,
// sorted by (document order as given, section id, span start, id) per the
// merge engine's determinism requirement: implementations MUST sort claims
// this way before grouping, independent of database arrival order.
func ListClaimsByDocuments(ctx context.Context, q Querier, documentIDs []uuid.UUID) ([]model.AtomicClaim, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, claimSelectBase+`
		WHERE document_id = ANY($1)
		ORDER BY document_id, section_id, span_start, id`, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: list claims by documents: %w", err)
	}
	defer rows.Close()
	claims, err := scanClaimRows(rows)
	if err != nil {
		return nil, err
	}
	return SortClaimsByDocumentOrder(claims, documentIDs), nil
}

// SortClaimsByDocumentOrder re-sorts claims so ties follow the caller's
// document order rather than whatever ordering the database applied. This
// is what makes merge output deterministic and independent of arrival
// order.
func SortClaimsByDocumentOrder(claims []model.AtomicClaim, documentOrder []uuid.UUID) []model.AtomicClaim {
	rank := make(map[uuid.UUID]int, len(documentOrder))
	for i, id := range documentOrder {
		rank[id] = i
	}
	out := make([]model.AtomicClaim, len(claims))
	copy(out, claims)

	less := func(i, j int) bool {
		a, b := out[i], out[j]
		if rank[a.DocumentID] != rank[b.DocumentID] {
			return rank[a.DocumentID] < rank[b.DocumentID]
		}
		if a.SectionID != b.SectionID {
			return compareUUID(a.SectionID, b.SectionID) < 0
		}
		if a.SpanStart != b.SpanStart {
			return a.SpanStart < b.SpanStart
		}
		return compareUUID(a.ID, b.ID) < 0
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// UpdateClaimDeprecated flips a claim's deprecated flag, used when a later
// consolidation supersedes the fact it asserts.
func UpdateClaimDeprecated(ctx context.Context, q Querier, id uuid.UUID, deprecated bool) error {
	_, err := q.Exec(ctx, "UPDATE claims SET deprecated = $2 WHERE id = $1", id, deprecated)
	if err != nil {
		return fmt.Errorf("storage: update claim deprecated: %w", err)
	}
	return nil
}

// HasClaimsForSection reports whether a section already has extracted
// claims, used to skip redundant extraction on backfill runs.
func HasClaimsForSection(ctx context.Context, q Querier, sectionID uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM claims WHERE section_id = $1)", sectionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check claims exist: %w", err)
	}
	return exists, nil
}
