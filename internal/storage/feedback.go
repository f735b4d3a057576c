package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/veridocs/consolidator/internal/model"
)

// InsertFeedback records a free-text annotation against a conflict or
// consolidation. Feedback is audit trail only; it never feeds back into
// resolution behavior.
func InsertFeedback(ctx context.Context, q Querier, f model.Feedback) error {
	_, err := q.Exec(ctx, `
		INSERT INTO feedback (id, conflict_id, consolidation_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, f.ID, f.ConflictID, f.ConsolidationID, f.Note, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert feedback: %w", err)
	}
	return nil
}

// FeedbackForConflict loads feedback notes left against a conflict.
func FeedbackForConflict(ctx context.Context, q Querier, conflictID uuid.UUID) ([]model.Feedback, error) {
	rows, err := q.Query(ctx, `
		SELECT id, conflict_id, consolidation_id, note, created_at
		FROM feedback WHERE conflict_id = $1 ORDER BY created_at`, conflictID)
	if err != nil {
		return nil, fmt.Errorf("storage: feedback for conflict: %w", err)
	}
	defer rows.Close()

	var out []model.Feedback
	for rows.Next() {
		var f model.Feedback
		if err := rows.Scan(&f.ID, &f.ConflictID, &f.ConsolidationID, &f.Note, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan feedback: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
