package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/veridocs/consolidator/internal/model"
)

// InsertSupersession records an explicit old->new document supersession
// asserted at ingestion time. Supersession is never inferred.
func InsertSupersession(ctx context.Context, q Querier, s model.Supersession) error {
	_, err := q.Exec(ctx, `
		INSERT INTO supersessions (id, old_document_id, new_document_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.OldDocumentID, s.NewDocumentID, s.Reason, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert supersession: %w", err)
	}
	return nil
}

// SupersedingDocument returns the document id that directly supersedes
// docID, if any.
func SupersedingDocument(ctx context.Context, q Querier, docID uuid.UUID) (*uuid.UUID, error) {
	var newID uuid.UUID
	err := q.QueryRow(ctx, "SELECT new_document_id FROM supersessions WHERE old_document_id = $1", docID).Scan(&newID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: superseding document: %w", err)
	}
	return &newID, nil
}

// SupersessionsForDocuments loads every supersession edge touching any of
// the given documents, used by the merge engine to exclude superseded
// claims from the union before conflict detection.
func SupersessionsForDocuments(ctx context.Context, q Querier, documentIDs []uuid.UUID) ([]model.Supersession, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, `
		SELECT id, old_document_id, new_document_id, reason, created_at
		FROM supersessions
		WHERE old_document_id = ANY($1) OR new_document_id = ANY($1)`, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: supersessions for documents: %w", err)
	}
	defer rows.Close()

	var out []model.Supersession
	for rows.Next() {
		var s model.Supersession
		if err := rows.Scan(&s.ID, &s.OldDocumentID, &s.NewDocumentID, &s.Reason, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan supersession: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
