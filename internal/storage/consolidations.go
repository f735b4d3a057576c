package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/veridocs/consolidator/internal/model"
)

// InsertConsolidation records a completed or dry-run merge attempt.
func InsertConsolidation(ctx context.Context, q Querier, c model.Consolidation) error {
	_, err := q.Exec(ctx, `
		INSERT INTO consolidations (id, source_document_ids, result_document_id, strategy,
			conflicts_auto_resolved, conflicts_flagged, created_at, cluster_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.SourceDocumentIDs, c.ResultDocumentID, c.Strategy, c.ConflictsAutoResolved, c.ConflictsFlagged, c.CreatedAt, c.ClusterKey)
	if err != nil {
		return fmt.Errorf("storage: insert consolidation: %w", err)
	}
	return nil
}

// GetConsolidation loads one consolidation by id.
func GetConsolidation(ctx context.Context, q Querier, id uuid.UUID) (*model.Consolidation, error) {
	row := q.QueryRow(ctx, `
		SELECT id, source_document_ids, result_document_id, strategy, conflicts_auto_resolved, conflicts_flagged, created_at, cluster_key
		FROM consolidations WHERE id = $1`, id)
	var c model.Consolidation
	if err := row.Scan(&c.ID, &c.SourceDocumentIDs, &c.ResultDocumentID, &c.Strategy, &c.ConflictsAutoResolved, &c.ConflictsFlagged, &c.CreatedAt, &c.ClusterKey); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get consolidation: %w", err)
	}
	return &c, nil
}

// LatestConsolidationForCluster finds the most recent consolidation run
// against the given cluster key, used to decide whether a background
// re-consolidation trigger has fresh work to do.
func LatestConsolidationForCluster(ctx context.Context, q Querier, clusterKey string) (*model.Consolidation, error) {
	row := q.QueryRow(ctx, `
		SELECT id, source_document_ids, result_document_id, strategy, conflicts_auto_resolved, conflicts_flagged, created_at, cluster_key
		FROM consolidations WHERE cluster_key = $1 ORDER BY created_at DESC LIMIT 1`, clusterKey)
	var c model.Consolidation
	if err := row.Scan(&c.ID, &c.SourceDocumentIDs, &c.ResultDocumentID, &c.Strategy, &c.ConflictsAutoResolved, &c.ConflictsFlagged, &c.CreatedAt, &c.ClusterKey); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: latest consolidation for cluster: %w", err)
	}
	return &c, nil
}
