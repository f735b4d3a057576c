package model

import (
	"time"

	"github.com/google/uuid"
)

// ConflictType classifies the nature of a detected disagreement.
type ConflictType string

const (
	ConflictValue    ConflictType = "value_conflict"
	ConflictTemporal ConflictType = "temporal_conflict"
	ConflictScope    ConflictType = "scope_conflict"
	ConflictNone     ConflictType = "not_a_conflict"
)

// ConflictChannel names the detection pathway that produced a candidate.
type ConflictChannel string

const (
	ChannelValueExtraction ConflictChannel = "value_extraction"
	ChannelSemantic        ConflictChannel = "semantic"
	ChannelLLM             ConflictChannel = "llm"
)

// ConflictStatus is the resolution lifecycle state of a Conflict.
// A conflict transitions pending -> resolved exactly once.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// ResolutionChoice names how a resolved conflict was decided.
type ResolutionChoice string

const (
	ChoseA ResolutionChoice = "chose_a"
	ChoseB ResolutionChoice = "chose_b"
	Merged ResolutionChoice = "merged"
)

// Resolution is the payload recorded when a conflict moves to resolved:
// either a winning claim or a synthesized merged text.
type Resolution struct {
	Choice       ResolutionChoice `json:"choice"`
	WinningClaim *uuid.UUID       `json:"winning_claim_id,omitempty"`
	MergedText   *string          `json:"merged_text,omitempty"`
	Confidence   float64          `json:"confidence"`
	Reasoning    string           `json:"reasoning,omitempty"`
}

// Conflict is a detected disagreement between two claims. The unordered
// pair {ClaimAID, ClaimBID} is unique within its generating consolidation.
type Conflict struct {
	ID               uuid.UUID       `json:"id"`
	ClaimAID         uuid.UUID       `json:"claim_a_id"`
	ClaimADocumentID uuid.UUID       `json:"claim_a_document_id"`
	ClaimAText       string          `json:"claim_a_text"`
	ClaimBID         uuid.UUID       `json:"claim_b_id"`
	ClaimBDocumentID uuid.UUID       `json:"claim_b_document_id"`
	ClaimBText       string          `json:"claim_b_text"`
	Type             ConflictType    `json:"conflict_type"`
	Strength         float64         `json:"strength"` // [0,1]
	Channel          ConflictChannel `json:"channel"`
	ResolutionHints  []string        `json:"resolution_hints,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	Status           ConflictStatus  `json:"status"`
	Resolution       *Resolution     `json:"resolution,omitempty"`
}

// CanonicalPair returns the two claim ids ordered so that the same
// unordered pair always produces the same (first, second) regardless of
// which claim was encountered as "A". Used to dedup conflicts across
// detection channels and to keep a stable DB uniqueness key.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if compareUUID(a, b) <= 0 {
		return a, b
	}
	return b, a
}

func compareUUID(a, b uuid.UUID) int {
	ab, bb := a[:], b[:]
	for i := range ab {
		if ab[i] != bb[i] {
			if ab[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Consolidation is a completed or attempted merge.
type Consolidation struct {
	ID                    uuid.UUID   `json:"id"`
	SourceDocumentIDs     []uuid.UUID `json:"source_document_ids"`
	ResultDocumentID      *uuid.UUID  `json:"result_document_id,omitempty"` // absent on dry-run
	Strategy              string      `json:"strategy"`
	ConflictsAutoResolved int         `json:"conflicts_auto_resolved"`
	ConflictsFlagged      int         `json:"conflicts_flagged"`
	CreatedAt             time.Time   `json:"created_at"`
	ClusterKey            *string     `json:"cluster_key,omitempty"`
}
