package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AddToClusters records a document's membership in the given cluster keys,
// populated at ingest time from a document's tags. Idempotent: re-ingesting
// the same document with the same tags leaves membership unchanged.
func AddToClusters(ctx context.Context, q Querier, documentID uuid.UUID, clusterKeys []string) error {
	for _, key := range clusterKeys {
		_, err := q.Exec(ctx, `
			INSERT INTO document_clusters (cluster_key, document_id)
			VALUES ($1, $2)
			ON CONFLICT (cluster_key, document_id) DO NOTHING`, key, documentID)
		if err != nil {
			return fmt.Errorf("storage: add to cluster %q: %w", key, err)
		}
	}
	return nil
}

// DocumentsForCluster returns every document tagged into the given cluster
// key, the fallback cohort source for a cluster that has never been
// consolidated before (no Consolidation row exists for its key yet).
func DocumentsForCluster(ctx context.Context, q Querier, clusterKey string) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `
		SELECT document_id FROM document_clusters WHERE cluster_key = $1`, clusterKey)
	if err != nil {
		return nil, fmt.Errorf("storage: documents for cluster: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan cluster document: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
