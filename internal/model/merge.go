package model

import "github.com/google/uuid"

// MergeMode selects the conflict resolution policy used by the merge engine.
type MergeMode string

const (
	ModeSmart         MergeMode = "smart"
	ModeNewestWins    MergeMode = "newest_wins"
	ModeAuthorityWins MergeMode = "authority_wins"
	ModeFlagAll       MergeMode = "flag_all"
)

// DefaultConflictThreshold is the merge engine's package-level zero-value
// default, used only by direct (non-tool) callers that construct a
// MergeStrategy without specifying a threshold. Tool-boundary callers
// always provide conflict_threshold explicitly (default 0.7 there), which
// takes precedence — see the consolidate_documents tool contract.
const DefaultConflictThreshold = 0.8

// MergeStrategy configures how the merge engine resolves conflicts and
// renders output.
type MergeStrategy struct {
	Mode              MergeMode `json:"mode"`
	AuthorityOrder    []string  `json:"authority_order,omitempty"` // glob patterns over source paths, used only in authority_wins
	ConflictThreshold float64   `json:"conflict_threshold"`        // [0,1]
	OutputFormat      OutputFormat `json:"output_format"`
	IncludeProvenance bool      `json:"include_provenance"`
}

// OutputFormat selects the rendering of a MergedDocument's content.
type OutputFormat string

const (
	OutputMarkdown OutputFormat = "markdown"
	OutputJSON     OutputFormat = "json"
	OutputYAML     OutputFormat = "yaml"
)

// MergedBullet is one rendered fact within a merged section, with the
// provenance triple that justifies it.
type MergedBullet struct {
	Text       string     `json:"text"`
	Provenance Provenance `json:"provenance"`
}

// Provenance is the triple {document_id, section_id, claim_id} recorded per
// merged bullet.
type Provenance struct {
	DocumentID uuid.UUID `json:"source_document_id"`
	SectionID  uuid.UUID `json:"source_section_id"`
	ClaimID    uuid.UUID `json:"claim_id"`
}

// MergedSection is one topic-grouped section of a merged document.
type MergedSection struct {
	Header  string         `json:"header"`
	Bullets []MergedBullet `json:"bullets"`
}

// ResolvedConflictSummary describes one conflict the merge engine resolved,
// for the response's conflicts_resolved[] list.
type ResolvedConflictSummary struct {
	ConflictID uuid.UUID        `json:"conflict_id"`
	Resolution ResolutionChoice `json:"resolution"`
	WinningClaim *uuid.UUID     `json:"winning_claim_id,omitempty"`
	Confidence float64          `json:"confidence"`
}

// FlaggedConflictSummary describes one conflict left for a human, for the
// response's conflicts_flagged[] list.
type FlaggedConflictSummary struct {
	ConflictID uuid.UUID `json:"conflict_id"`
	Reason     string    `json:"reason"`
}

// MergeStatistics reports the counts and ratios the merge engine computes
// over one run.
type MergeStatistics struct {
	DocumentsMerged             int     `json:"documents_merged"`
	SectionsMerged              int     `json:"sections_merged"`
	RedundancyEliminatedPercent float64 `json:"redundancy_eliminated_percent"`
	ConflictsAutoResolved       int     `json:"conflicts_auto_resolved"`
	ConflictsFlagged            int     `json:"conflicts_flagged"`
}

// MergedDocument is the output of the merge engine: a synthesized document
// plus the accounting needed to audit how it was produced.
type MergedDocument struct {
	ID                uuid.UUID                 `json:"id"`
	Title             string                    `json:"title"`
	Format            OutputFormat              `json:"format"`
	Content           string                    `json:"content"`
	Sections          []MergedSection           `json:"sections"`
	ConflictsResolved []ResolvedConflictSummary `json:"conflicts_resolved"`
	ConflictsFlagged  []FlaggedConflictSummary  `json:"conflicts_flagged"`
	Statistics        MergeStatistics           `json:"statistics"`
}
