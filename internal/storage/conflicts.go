package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/veridocs/consolidator/internal/model"
)

const conflictSelectBase = `
	SELECT id, claim_a_id, claim_a_document_id, claim_a_text,
	       claim_b_id, claim_b_document_id, claim_b_text,
	       conflict_type, strength, channel, resolution_hints, created_at,
	       status, resolution_choice, resolution_winning_claim_id, resolution_merged_text,
	       resolution_confidence, resolution_reasoning
	FROM conflicts`

func scanConflictRows(rows pgx.Rows) ([]model.Conflict, error) {
	var out []model.Conflict
	for rows.Next() {
		c, err := scanConflictFields(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanConflictFields(row rowScanner) (*model.Conflict, error) {
	var c model.Conflict
	var hints []string
	var choice *model.ResolutionChoice
	var winningClaim *uuid.UUID
	var mergedText *string
	var confidence *float64
	var reasoning *string

	if err := row.Scan(
		&c.ID, &c.ClaimAID, &c.ClaimADocumentID, &c.ClaimAText,
		&c.ClaimBID, &c.ClaimBDocumentID, &c.ClaimBText,
		&c.Type, &c.Strength, &c.Channel, &hints, &c.CreatedAt,
		&c.Status, &choice, &winningClaim, &mergedText, &confidence, &reasoning,
	); err != nil {
		return nil, fmt.Errorf("storage: scan conflict: %w", err)
	}
	c.ResolutionHints = hints
	if choice != nil {
		r := model.Resolution{Choice: *choice, WinningClaim: winningClaim, MergedText: mergedText}
		if confidence != nil {
			r.Confidence = *confidence
		}
		if reasoning != nil {
			r.Reasoning = *reasoning
		}
		c.Resolution = &r
	}
	return &c, nil
}

// InsertConflict upserts a conflict keyed by its canonical claim pair, so
// running detection twice over the same claim set never duplicates rows:
// when two channels produce the same pair, the later write (Stage D's
// channel-priority pick) overwrites the earlier one.
func InsertConflict(ctx context.Context, q Querier, c model.Conflict) error {
	aID, bID := model.CanonicalPair(c.ClaimAID, c.ClaimBID)
	aDoc, bDoc := c.ClaimADocumentID, c.ClaimBDocumentID
	aText, bText := c.ClaimAText, c.ClaimBText
	if aID != c.ClaimAID {
		aDoc, bDoc = bDoc, aDoc
		aText, bText = bText, aText
	}

	_, err := q.Exec(ctx, `
		INSERT INTO conflicts (id, claim_a_id, claim_a_document_id, claim_a_text, claim_b_id, claim_b_document_id, claim_b_text,
			conflict_type, strength, channel, resolution_hints, created_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'pending')
		ON CONFLICT (claim_a_id, claim_b_id) DO UPDATE SET
			conflict_type = EXCLUDED.conflict_type,
			strength = EXCLUDED.strength,
			channel = EXCLUDED.channel,
			resolution_hints = EXCLUDED.resolution_hints
	`, c.ID, aID, aDoc, aText, bID, bDoc, bText, c.Type, c.Strength, c.Channel, c.ResolutionHints, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert conflict: %w", err)
	}
	return nil
}

// ResolveConflict records a resolution and transitions the conflict to
// resolved. A conflict transitions pending->resolved exactly once; callers
// that need to re-run a consolidation over the same cohort create a new
// Conflict row scoped to that consolidation rather than mutating this one.
func ResolveConflict(ctx context.Context, q Querier, id uuid.UUID, res model.Resolution) error {
	tag, err := q.Exec(ctx, `
		UPDATE conflicts SET status = 'resolved',
			resolution_choice = $2, resolution_winning_claim_id = $3,
			resolution_merged_text = $4, resolution_confidence = $5, resolution_reasoning = $6
		WHERE id = $1 AND status = 'pending'
	`, id, res.Choice, res.WinningClaim, res.MergedText, res.Confidence, res.Reasoning)
	if err != nil {
		return fmt.Errorf("storage: resolve conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConflict loads one conflict by id.
func GetConflict(ctx context.Context, q Querier, id uuid.UUID) (*model.Conflict, error) {
	row := q.QueryRow(ctx, conflictSelectBase+" WHERE id = $1", id)
	c, err := scanConflictFields(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// GetConflictsForDocument returns conflicts where either claim's document
// id equals docID — the filter utility named in the detector's contract.
func GetConflictsForDocument(ctx context.Context, q Querier, docID uuid.UUID) ([]model.Conflict, error) {
	rows, err := q.Query(ctx, conflictSelectBase+" WHERE claim_a_document_id = $1 OR claim_b_document_id = $1", docID)
	if err != nil {
		return nil, fmt.Errorf("storage: get conflicts for document: %w", err)
	}
	defer rows.Close()
	return scanConflictRows(rows)
}

// ListConflictsSince returns conflicts created after the given time, used
// by the post-consolidation notification loop.
func ListConflictsSince(ctx context.Context, q Querier, since time.Time, limit int) ([]model.Conflict, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := q.Query(ctx, conflictSelectBase+" WHERE created_at > $1 ORDER BY created_at ASC LIMIT $2", since, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list conflicts since: %w", err)
	}
	defer rows.Close()
	return scanConflictRows(rows)
}
