package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/veridocs/consolidator/internal/model"
)

// InsertSections persists a document's sections in order, preserving the
// invariant that section order in input equals section order persisted.
func InsertSections(ctx context.Context, q Querier, sections []model.Section) error {
	for _, s := range sections {
		_, err := q.Exec(ctx, `
			INSERT INTO sections (id, document_id, header, body, heading_level, section_order, span_start, span_end, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, s.ID, s.DocumentID, s.Header, s.Body, s.HeadingLevel, s.SectionOrder, s.SpanStart, s.SpanEnd, s.Embedding)
		if err != nil {
			return fmt.Errorf("storage: insert section %s: %w", s.ID, err)
		}
	}
	return nil
}

// GetSectionsByDocument loads a document's sections in persisted order.
func GetSectionsByDocument(ctx context.Context, q Querier, documentID uuid.UUID) ([]model.Section, error) {
	rows, err := q.Query(ctx, `
		SELECT id, document_id, header, body, heading_level, section_order, span_start, span_end, embedding
		FROM sections WHERE document_id = $1 ORDER BY section_order`, documentID)
	if err != nil {
		return nil, fmt.Errorf("storage: list sections: %w", err)
	}
	defer rows.Close()

	var out []model.Section
	for rows.Next() {
		var s model.Section
		var embedding *pgvector.Vector
		if err := rows.Scan(&s.ID, &s.DocumentID, &s.Header, &s.Body, &s.HeadingLevel, &s.SectionOrder, &s.SpanStart, &s.SpanEnd, &embedding); err != nil {
			return nil, fmt.Errorf("storage: scan section: %w", err)
		}
		s.Embedding = embedding
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSectionsByDocuments loads sections for several documents at once,
// used by the consolidate orchestrator to build the claim union's input.
func ListSectionsByDocuments(ctx context.Context, q Querier, documentIDs []uuid.UUID) ([]model.Section, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, `
		SELECT id, document_id, header, body, heading_level, section_order, span_start, span_end, embedding
		FROM sections WHERE document_id = ANY($1) ORDER BY document_id, section_order`, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: list sections by documents: %w", err)
	}
	defer rows.Close()

	var out []model.Section
	for rows.Next() {
		var s model.Section
		var embedding *pgvector.Vector
		if err := rows.Scan(&s.ID, &s.DocumentID, &s.Header, &s.Body, &s.HeadingLevel, &s.SectionOrder, &s.SpanStart, &s.SpanEnd, &embedding); err != nil {
			return nil, fmt.Errorf("storage: scan section: %w", err)
		}
		s.Embedding = embedding
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateSectionEmbedding backfills a section's embedding.
func UpdateSectionEmbedding(ctx context.Context, q Querier, id uuid.UUID, vec pgvector.Vector) error {
	_, err := q.Exec(ctx, "UPDATE sections SET embedding = $2 WHERE id = $1", id, vec)
	if err != nil {
		return fmt.Errorf("storage: update section embedding: %w", err)
	}
	return nil
}
