package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// DocumentFormat is the raw-content encoding of a document.
type DocumentFormat string

const (
	FormatMarkdown DocumentFormat = "markdown"
	FormatText     DocumentFormat = "text"
	FormatJSON     DocumentFormat = "json"
	FormatYAML     DocumentFormat = "yaml"
)

// DocumentType classifies the editorial purpose of a document.
type DocumentType string

const (
	DocTypeSpec      DocumentType = "spec"
	DocTypeGuide     DocumentType = "guide"
	DocTypeHandoff   DocumentType = "handoff"
	DocTypePrompt    DocumentType = "prompt"
	DocTypeReport    DocumentType = "report"
	DocTypeReference DocumentType = "reference"
	DocTypeDecision  DocumentType = "decision"
	DocTypeArchive   DocumentType = "archive"
)

// ValidDocumentType reports whether t is one of the closed set of document types.
func ValidDocumentType(t DocumentType) bool {
	switch t {
	case DocTypeSpec, DocTypeGuide, DocTypeHandoff, DocTypePrompt, DocTypeReport, DocTypeReference, DocTypeDecision, DocTypeArchive:
		return true
	}
	return false
}

// Document is a uniquely identified ingested artifact. A document owns an
// ordered sequence of sections.
type Document struct {
	ID             uuid.UUID      `json:"id"`
	SourceID       string         `json:"source_id"` // path or URL the content came from
	ContentHash    string         `json:"content_hash"`
	Format         DocumentFormat `json:"format"`
	DocumentType   DocumentType   `json:"document_type"`
	Title          *string        `json:"title,omitempty"`
	AuthorityLevel int            `json:"authority_level"` // 1-10, higher = more authoritative
	RawContent     string         `json:"raw_content"`
	Frontmatter    map[string]any `json:"frontmatter,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Embedding      *pgvector.Vector `json:"-"`
}

// Section is a contiguous, immutable region of a document. Re-ingestion
// creates new sections under a new document id rather than mutating these.
type Section struct {
	ID           uuid.UUID        `json:"id"`
	DocumentID   uuid.UUID        `json:"document_id"`
	Header       string           `json:"header"`
	Body         string           `json:"body"`
	HeadingLevel int              `json:"heading_level"` // 1-6
	SectionOrder int              `json:"section_order"` // 0-based within document
	SpanStart    int              `json:"span_start"`    // source line range [start, end)
	SpanEnd      int              `json:"span_end"`
	Embedding    *pgvector.Vector `json:"-"`
}

// Tag is an idempotent (document_id, tag) pair.
type Tag struct {
	DocumentID uuid.UUID `json:"document_id"`
	Tag        string    `json:"tag"`
}

// Supersession is a directed edge old_document_id -> new_document_id,
// recorded only when explicitly asserted at ingestion.
type Supersession struct {
	ID              uuid.UUID `json:"id"`
	OldDocumentID   uuid.UUID `json:"old_document_id"`
	NewDocumentID   uuid.UUID `json:"new_document_id"`
	Reason          *string   `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Feedback is a free-text annotation on a Conflict or Consolidation. It is
// stored for audit purposes only and never used to adjust future resolution
// behavior.
type Feedback struct {
	ID             uuid.UUID  `json:"id"`
	ConflictID     *uuid.UUID `json:"conflict_id,omitempty"`
	ConsolidationID *uuid.UUID `json:"consolidation_id,omitempty"`
	Note           string     `json:"note"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ProvenanceRecord is the triple {document_id, section_id, claim_id}
// attached to a merged bullet, plus the consolidation it was produced by.
type ProvenanceRecord struct {
	ID              uuid.UUID `json:"id"`
	ConsolidationID uuid.UUID `json:"consolidation_id"`
	DocumentID      uuid.UUID `json:"document_id"`
	SectionID       uuid.UUID `json:"section_id"`
	ClaimID         uuid.UUID `json:"claim_id"`
}
