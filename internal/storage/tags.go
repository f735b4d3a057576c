package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AddTags attaches tags to a document, idempotently: re-applying the same
// tag is a no-op rather than an error.
func AddTags(ctx context.Context, q Querier, documentID uuid.UUID, tags []string) error {
	for _, t := range tags {
		_, err := q.Exec(ctx, `
			INSERT INTO tags (document_id, tag) VALUES ($1, $2)
			ON CONFLICT (document_id, tag) DO NOTHING
		`, documentID, t)
		if err != nil {
			return fmt.Errorf("storage: add tag %q: %w", t, err)
		}
	}
	return nil
}

// TagsForDocument loads a document's tags.
func TagsForDocument(ctx context.Context, q Querier, documentID uuid.UUID) ([]string, error) {
	rows, err := q.Query(ctx, "SELECT tag FROM tags WHERE document_id = $1 ORDER BY tag", documentID)
	if err != nil {
		return nil, fmt.Errorf("storage: tags for document: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("storage: scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DocumentsByTag returns the ids of documents carrying tag, used to expand
// a tag-based scope[] selector at consolidation time.
func DocumentsByTag(ctx context.Context, q Querier, tag string) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, "SELECT document_id FROM tags WHERE tag = $1", tag)
	if err != nil {
		return nil, fmt.Errorf("storage: documents by tag: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan document id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
