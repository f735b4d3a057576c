package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/veridocs/consolidator/internal/model"
)

// InsertProvenance bulk-inserts the (document, section, claim) triples a
// merged bullet was produced from.
func InsertProvenance(ctx context.Context, q Querier, records []model.ProvenanceRecord) error {
	for _, r := range records {
		_, err := q.Exec(ctx, `
			INSERT INTO provenance (id, consolidation_id, document_id, section_id, claim_id)
			VALUES ($1, $2, $3, $4, $5)
		`, r.ID, r.ConsolidationID, r.DocumentID, r.SectionID, r.ClaimID)
		if err != nil {
			return fmt.Errorf("storage: insert provenance: %w", err)
		}
	}
	return nil
}

// ProvenanceForConsolidation loads every provenance record a consolidation
// produced, used to answer "which source claims fed this merged bullet".
func ProvenanceForConsolidation(ctx context.Context, q Querier, consolidationID uuid.UUID) ([]model.ProvenanceRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT id, consolidation_id, document_id, section_id, claim_id
		FROM provenance WHERE consolidation_id = $1`, consolidationID)
	if err != nil {
		return nil, fmt.Errorf("storage: provenance for consolidation: %w", err)
	}
	defer rows.Close()

	var out []model.ProvenanceRecord
	for rows.Next() {
		var r model.ProvenanceRecord
		if err := rows.Scan(&r.ID, &r.ConsolidationID, &r.DocumentID, &r.SectionID, &r.ClaimID); err != nil {
			return nil, fmt.Errorf("storage: scan provenance: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
