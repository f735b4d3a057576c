// Package merge synthesizes a single document from several sources,
// resolving conflicts per a caller-selected strategy and rendering the
// result in markdown, JSON, or YAML.
package merge

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/veridocs/consolidator/internal/llm"
	"github.com/veridocs/consolidator/internal/model"
	"github.com/veridocs/consolidator/internal/storage"
)

// Result is everything the merge engine produces: the rendered document
// plus the full set of provenance records to persist, which may include
// both sides of a merged-conflict bullet.
type Result struct {
	Document   model.MergedDocument
	Provenance []model.ProvenanceRecord
}

// Merge synthesizes documents+claims into one MergedDocument under
// strategy, resolving conflicts first. documents and claims need not be
// pre-sorted; Merge re-sorts claims by (document order, section id, span
// start, id) so output is deterministic regardless of input order. Within
// one document, claims are ordered by section id, not by the sections'
// position in the document.
func Merge(ctx context.Context, svc llm.Service, documents []model.Document, claims []model.AtomicClaim, conflicts []model.Conflict, strategy model.MergeStrategy) (*Result, error) {
	docOrder := make([]uuid.UUID, len(documents))
	docByID := make(map[uuid.UUID]model.Document, len(documents))
	for i, d := range documents {
		docOrder[i] = d.ID
		docByID[d.ID] = d
	}
	sorted := storage.SortClaimsByDocumentOrder(claims, docOrder)

	claimByID := make(map[uuid.UUID]model.AtomicClaim, len(sorted))
	for _, c := range sorted {
		claimByID[c.ID] = c
	}

	excluded := make(map[uuid.UUID]bool)
	mergedText := make(map[uuid.UUID]string)    // claimA id -> synthesized text, placed at claimA's slot
	mergedPartner := make(map[uuid.UUID]uuid.UUID) // claimA id -> claimB id, so its provenance is recorded too
	var resolvedSummaries []model.ResolvedConflictSummary
	var flaggedSummaries []model.FlaggedConflictSummary

	for _, c := range conflicts {
		a, aok := claimByID[c.ClaimAID]
		b, bok := claimByID[c.ClaimBID]
		if !aok || !bok {
			continue // one side isn't in this cohort's claim set
		}
		docA, docB := docByID[a.DocumentID], docByID[b.DocumentID]

		o := resolveConflict(ctx, svc, c, docA, docB, strategy)
		if o.resolution == nil {
			flaggedSummaries = append(flaggedSummaries, model.FlaggedConflictSummary{ConflictID: c.ID, Reason: o.flagReason})
			continue
		}

		resolvedSummaries = append(resolvedSummaries, model.ResolvedConflictSummary{
			ConflictID:   c.ID,
			Resolution:   o.resolution.Choice,
			WinningClaim: o.resolution.WinningClaim,
			Confidence:   o.resolution.Confidence,
		})

		switch o.resolution.Choice {
		case model.ChoseA:
			excluded[c.ClaimBID] = true
		case model.ChoseB:
			excluded[c.ClaimAID] = true
		case model.Merged:
			excluded[c.ClaimBID] = true
			mergedText[c.ClaimAID] = *o.resolution.MergedText
			mergedPartner[c.ClaimAID] = c.ClaimBID
		}
	}

	var remaining []model.AtomicClaim
	for _, c := range sorted {
		if c.Deprecated || excluded[c.ID] {
			continue
		}
		remaining = append(remaining, c)
	}

	sections, provenance := synthesizeSections(remaining, docByID, mergedText, mergedPartner, claimByID)

	stats := model.MergeStatistics{
		DocumentsMerged:       len(documents),
		SectionsMerged:        len(sections),
		ConflictsAutoResolved: len(resolvedSummaries),
		ConflictsFlagged:      len(flaggedSummaries),
	}

	title := longestCommonTokenSequence(titlesOf(documents))
	if title == "" {
		title = "Consolidated Document"
	}

	doc := model.MergedDocument{
		ID:                uuid.New(),
		Title:             title,
		Format:            strategy.OutputFormat,
		Sections:          sections,
		ConflictsResolved: resolvedSummaries,
		ConflictsFlagged:  flaggedSummaries,
		Statistics:        stats,
	}
	rendered, err := render(doc, strategy.IncludeProvenance)
	if err != nil {
		return nil, fmt.Errorf("merge: render: %w", err)
	}
	doc.Content = rendered

	return &Result{Document: doc, Provenance: provenance}, nil
}

func titlesOf(documents []model.Document) []string {
	out := make([]string, 0, len(documents))
	for _, d := range documents {
		if d.Title != nil {
			out = append(out, *d.Title)
		}
	}
	return out
}

// SetRedundancy fills in redundancy_eliminated_percent given the total
// section count across the consolidation's input documents, a figure the
// merge engine itself doesn't have (it only sees the flattened claim set).
func SetRedundancy(doc *model.MergedDocument, inputSectionCount int) {
	if inputSectionCount <= 0 {
		return
	}
	ratio := 1 - float64(doc.Statistics.SectionsMerged)/float64(inputSectionCount)
	if ratio < 0 {
		ratio = 0
	}
	doc.Statistics.RedundancyEliminatedPercent = ratio * 100
}
