package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/veridocs/consolidator/internal/model"
)

// InsertDocument persists a new document row. Sections are inserted
// separately via InsertSections within the same transaction by the
// ingest orchestrator.
func InsertDocument(ctx context.Context, q Querier, doc *model.Document) error {
	var frontmatter []byte
	if doc.Frontmatter != nil {
		var err error
		frontmatter, err = json.Marshal(doc.Frontmatter)
		if err != nil {
			return fmt.Errorf("storage: marshal frontmatter: %w", err)
		}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO documents (id, source_id, content_hash, format, document_type, title, authority_level, raw_content, frontmatter, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, doc.ID, doc.SourceID, doc.ContentHash, doc.Format, doc.DocumentType, doc.Title, doc.AuthorityLevel, doc.RawContent, frontmatter, doc.CreatedAt, doc.Embedding)
	if err != nil {
		return fmt.Errorf("storage: insert document: %w", err)
	}
	return nil
}

// GetDocumentByContentHash looks up a document by its content hash, used by
// the ingest orchestrator's re-ingestion dedup check.
func GetDocumentByContentHash(ctx context.Context, q Querier, hash string) (*model.Document, error) {
	row := q.QueryRow(ctx, documentSelectBase+" WHERE content_hash = $1", hash)
	return scanDocumentRow(row)
}

// GetDocument loads a document by id.
func GetDocument(ctx context.Context, q Querier, id uuid.UUID) (*model.Document, error) {
	row := q.QueryRow(ctx, documentSelectBase+" WHERE id = $1", id)
	return scanDocumentRow(row)
}

// ListDocumentsByIDs loads documents in no particular order; callers that
// need input order (merge engine) re-sort using the returned IDs.
func ListDocumentsByIDs(ctx context.Context, q Querier, ids []uuid.UUID) ([]model.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, documentSelectBase+" WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("storage: list documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocumentFields(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// ListAllDocuments loads every document, used by the consolidate
// orchestrator to expand a scope[] glob selector.
func ListAllDocuments(ctx context.Context, q Querier) ([]model.Document, error) {
	rows, err := q.Query(ctx, documentSelectBase)
	if err != nil {
		return nil, fmt.Errorf("storage: list all documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocumentFields(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document. ON DELETE CASCADE on sections and
// claims enforces the ownership invariant: deleting a document deletes its
// sections and claims transitively, while the entity graph is untouched.
func DeleteDocument(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("storage: delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const documentSelectBase = `
	SELECT id, source_id, content_hash, format, document_type, title, authority_level, raw_content, frontmatter, created_at, embedding
	FROM documents`

func scanDocumentRow(row pgx.Row) (*model.Document, error) {
	d, err := scanDocumentFields(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocumentFields(row rowScanner) (*model.Document, error) {
	var d model.Document
	var frontmatter []byte
	var embedding *pgvector.Vector
	if err := row.Scan(&d.ID, &d.SourceID, &d.ContentHash, &d.Format, &d.DocumentType, &d.Title, &d.AuthorityLevel, &d.RawContent, &frontmatter, &d.CreatedAt, &embedding); err != nil {
		return nil, fmt.Errorf("storage: scan document: %w", err)
	}
	d.Embedding = embedding
	if len(frontmatter) > 0 {
		if err := json.Unmarshal(frontmatter, &d.Frontmatter); err != nil {
			return nil, fmt.Errorf("storage: unmarshal frontmatter: %w", err)
		}
	}
	return &d, nil
}

// UpdateDocumentEmbedding backfills a document-level embedding after ingest.
func UpdateDocumentEmbedding(ctx context.Context, q Querier, id uuid.UUID, vec pgvector.Vector) error {
	_, err := q.Exec(ctx, "UPDATE documents SET embedding = $2 WHERE id = $1", id, vec)
	if err != nil {
		return fmt.Errorf("storage: update document embedding: %w", err)
	}
	return nil
}
