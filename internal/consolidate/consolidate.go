// Package consolidate drives document consolidation: selector expansion,
// conflict detection, merge synthesis, and persistence of the result.
package consolidate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/veridocs/consolidator/internal/conflicts"
	"github.com/veridocs/consolidator/internal/llm"
	"github.com/veridocs/consolidator/internal/merge"
	"github.com/veridocs/consolidator/internal/model"
	"github.com/veridocs/consolidator/internal/storage"
)

// Selector names exactly one way to pick the document cohort to consolidate.
type Selector struct {
	DocumentIDs []uuid.UUID
	Scope       []string // glob patterns over document source ids
	ClusterID   string
}

// Input is everything the orchestrator needs to run one consolidation.
type Input struct {
	Selector Selector
	Strategy model.MergeStrategy
	DryRun   bool
}

// Result is the response shape for one consolidation run.
type Result struct {
	ConsolidationID   uuid.UUID
	SourceDocuments   []uuid.UUID
	OutputDocument    *model.MergedDocument
	ConflictsResolved []model.ResolvedConflictSummary
	ConflictsFlagged  []model.FlaggedConflictSummary
	Provenance        []model.ProvenanceRecord
	ProcessingTimeMs  int64
	Status            string // "completed" or "dry_run"
}

// Orchestrator wires selector expansion, conflict detection, and merge
// synthesis together behind one call.
type Orchestrator struct {
	db     *storage.DB
	svc    llm.Service
	logger *slog.Logger
}

func New(db *storage.DB, svc llm.Service, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{db: db, svc: svc, logger: logger}
}

// Consolidate expands the selector, detects conflicts across the claim
// union, merges per strategy, and persists the result unless DryRun.
func (o *Orchestrator) Consolidate(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	pool := o.db.Pool()

	documentIDs, err := o.expandSelector(ctx, in.Selector)
	if err != nil {
		return nil, err
	}
	if len(documentIDs) < 2 {
		return nil, model.NewValidationError("selector", "At least 2 documents required")
	}

	documents, err := storage.ListDocumentsByIDs(ctx, pool, documentIDs)
	if err != nil {
		return nil, model.NewDatabaseError("list_documents", err)
	}
	documents = orderDocuments(documents, documentIDs)

	claims, err := storage.ListClaimsByDocuments(ctx, pool, documentIDs)
	if err != nil {
		return nil, model.NewDatabaseError("list_claims", err)
	}

	sections, err := storage.ListSectionsByDocuments(ctx, pool, documentIDs)
	if err != nil {
		return nil, model.NewDatabaseError("list_sections", err)
	}

	detected, err := conflicts.Detect(ctx, o.svc, claims)
	if err != nil {
		return nil, err
	}

	mergeResult, err := merge.Merge(ctx, o.svc, documents, claims, detected, in.Strategy)
	if err != nil {
		return nil, err
	}
	merge.SetRedundancy(&mergeResult.Document, len(sections))

	consolidationID := uuid.New()
	result := &Result{
		ConsolidationID:   consolidationID,
		SourceDocuments:   documentIDs,
		OutputDocument:    &mergeResult.Document,
		ConflictsResolved: mergeResult.Document.ConflictsResolved,
		ConflictsFlagged:  mergeResult.Document.ConflictsFlagged,
		Provenance:        mergeResult.Provenance,
	}

	if in.DryRun {
		result.Status = "dry_run"
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		return result, nil
	}

	err = o.db.WithTx(ctx, func(tx pgx.Tx) error {
		outputDoc := model.Document{
			ID:             mergeResult.Document.ID,
			SourceID:       fmt.Sprintf("consolidation:%s", consolidationID),
			ContentHash:    contentHashOf(mergeResult.Document.Content),
			Format:         formatOf(in.Strategy.OutputFormat),
			DocumentType:   model.DocTypeReport,
			Title:          &mergeResult.Document.Title,
			AuthorityLevel: highestAuthority(documents),
			RawContent:     mergeResult.Document.Content,
			CreatedAt:      time.Now(),
		}
		if err := storage.InsertDocument(ctx, tx, &outputDoc); err != nil {
			return model.NewDatabaseError("insert_output_document", err)
		}

		for _, c := range detected {
			if err := storage.InsertConflict(ctx, tx, c); err != nil {
				return model.NewDatabaseError("insert_conflict", err)
			}
			if c.Resolution != nil {
				if err := storage.ResolveConflict(ctx, tx, c.ID, *c.Resolution); err != nil {
					return model.NewDatabaseError("resolve_conflict", err)
				}
			}
		}

		for i := range mergeResult.Provenance {
			mergeResult.Provenance[i].ConsolidationID = consolidationID
		}
		if len(mergeResult.Provenance) > 0 {
			if err := storage.InsertProvenance(ctx, tx, mergeResult.Provenance); err != nil {
				return model.NewDatabaseError("insert_provenance", err)
			}
		}

		consolidation := model.Consolidation{
			ID:                    consolidationID,
			SourceDocumentIDs:     documentIDs,
			ResultDocumentID:      &outputDoc.ID,
			Strategy:              string(in.Strategy.Mode),
			ConflictsAutoResolved: len(mergeResult.Document.ConflictsResolved),
			ConflictsFlagged:      len(mergeResult.Document.ConflictsFlagged),
			CreatedAt:             time.Now(),
		}
		if in.Selector.ClusterID != "" {
			consolidation.ClusterKey = &in.Selector.ClusterID
		}
		if err := storage.InsertConsolidation(ctx, tx, consolidation); err != nil {
			return model.NewDatabaseError("insert_consolidation", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// Notify after commit, never inside WithTx, so a rollback never fires a
	// notification for work that didn't happen.
	if err := o.db.Notify(ctx, storage.ChannelConsolidations, consolidationID.String()); err != nil {
		o.logger.Warn("consolidate: notify consolidations channel failed", "error", err)
	}
	for _, c := range result.ConflictsFlagged {
		if err := o.db.Notify(ctx, storage.ChannelConflicts, c.ConflictID.String()); err != nil {
			o.logger.Warn("consolidate: notify conflicts channel failed", "error", err)
		}
	}

	result.Status = "completed"
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	o.logger.Info("consolidate: completed",
		"consolidation_id", consolidationID,
		"documents", len(documentIDs),
		"conflicts_resolved", len(result.ConflictsResolved),
		"conflicts_flagged", len(result.ConflictsFlagged),
	)
	return result, nil
}

// expandSelector resolves exactly one of document_ids/scope/cluster_id into
// a concrete list of document ids.
func (o *Orchestrator) expandSelector(ctx context.Context, sel Selector) ([]uuid.UUID, error) {
	set := 0
	if len(sel.DocumentIDs) > 0 {
		set++
	}
	if len(sel.Scope) > 0 {
		set++
	}
	if sel.ClusterID != "" {
		set++
	}
	if set != 1 {
		return nil, model.NewValidationError("selector", "exactly one of document_ids, scope, or cluster_id is required")
	}

	if len(sel.DocumentIDs) > 0 {
		return sel.DocumentIDs, nil
	}

	if sel.ClusterID != "" {
		latest, err := storage.LatestConsolidationForCluster(ctx, o.db.Pool(), sel.ClusterID)
		if err == nil {
			return latest.SourceDocumentIDs, nil
		}
		if err != storage.ErrNotFound {
			return nil, model.NewDatabaseError("latest_consolidation_for_cluster", err)
		}
		// No prior consolidation for this cluster key: fall back to the
		// tag-based clustering recorded at ingest time.
		docs, err := storage.DocumentsForCluster(ctx, o.db.Pool(), sel.ClusterID)
		if err != nil {
			return nil, model.NewDatabaseError("documents_for_cluster", err)
		}
		return docs, nil
	}

	all, err := storage.ListAllDocuments(ctx, o.db.Pool())
	if err != nil {
		return nil, model.NewDatabaseError("list_all_documents", err)
	}
	var matched []uuid.UUID
	for _, d := range all {
		for _, pattern := range sel.Scope {
			if ok, _ := path.Match(pattern, d.SourceID); ok {
				matched = append(matched, d.ID)
				break
			}
		}
	}
	return matched, nil
}

func orderDocuments(documents []model.Document, order []uuid.UUID) []model.Document {
	rank := make(map[uuid.UUID]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	out := make([]model.Document, len(documents))
	copy(out, documents)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank[out[j].ID] < rank[out[j-1].ID]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func highestAuthority(documents []model.Document) int {
	highest := 0
	for _, d := range documents {
		if d.AuthorityLevel > highest {
			highest = d.AuthorityLevel
		}
	}
	if highest == 0 {
		return 5
	}
	return highest
}

func contentHashOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func formatOf(f model.OutputFormat) model.DocumentFormat {
	switch f {
	case model.OutputJSON:
		return model.FormatJSON
	case model.OutputYAML:
		return model.FormatYAML
	default:
		return model.FormatMarkdown
	}
}
