// Package ingest drives document ingestion: parsing, persistence,
// embedding generation, claim extraction, and entity graph construction,
// all inside a single write transaction.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/veridocs/consolidator/internal/claims"
	"github.com/veridocs/consolidator/internal/docparse"
	"github.com/veridocs/consolidator/internal/entities"
	"github.com/veridocs/consolidator/internal/model"
	"github.com/veridocs/consolidator/internal/search"
	"github.com/veridocs/consolidator/internal/service/embedding"
	"github.com/veridocs/consolidator/internal/storage"
)

// Input is everything the orchestrator needs to ingest one document.
// Exactly one of content/FilePath/URL should have been resolved to
// Content by the caller before this point — the orchestrator only ever
// sees raw content, never does I/O of its own to fetch it.
type Input struct {
	Content            string
	SourceID           string
	Format             model.DocumentFormat
	DocumentType       model.DocumentType
	Tags               []string
	AuthorityLevel     int
	Supersedes         []uuid.UUID
	ExtractClaims      bool
	GenerateEmbeddings bool
	BuildEntityGraph   bool
}

// Result reports the outcome of one ingest call.
type Result struct {
	DocumentID          uuid.UUID
	SectionsExtracted   int
	EmbeddingsGenerated int
	ClaimsExtracted     int
	Status              string // "ingested" or "duplicate"
}

const extractConcurrency = 4

// Orchestrator wires together parsing, persistence, embeddings, claim
// extraction, and entity resolution behind one transactional call.
type Orchestrator struct {
	db        *storage.DB
	embedder  embedding.Provider
	extractor *claims.Extractor
	resolver  *entities.Resolver
	index     *search.QdrantIndex // optional; nil skips vector index sync
	logger    *slog.Logger
}

func New(db *storage.DB, embedder embedding.Provider, extractor *claims.Extractor, resolver *entities.Resolver, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{db: db, embedder: embedder, extractor: extractor, resolver: resolver, logger: logger}
}

// WithIndex enables mirroring claim embeddings into a vector index once
// the ingest transaction has committed them to Postgres. Nothing in this
// repository queries the index; conflict detection reads claims from
// Postgres.
func (o *Orchestrator) WithIndex(index *search.QdrantIndex) *Orchestrator {
	o.index = index
	return o
}

// Ingest runs the seven ordered steps inside a single write transaction.
// Any failure rolls back every write made so far.
func (o *Orchestrator) Ingest(ctx context.Context, in Input) (*Result, error) {
	hash := contentHash(in.Content)
	result := &Result{Status: "ingested"}
	var indexClaims []model.AtomicClaim

	err := o.db.WithTx(ctx, func(tx pgx.Tx) error {
		// Step 1: content-hash dedup.
		existing, err := storage.GetDocumentByContentHash(ctx, tx, hash)
		if err != nil && err != storage.ErrNotFound {
			return model.NewDatabaseError("get_document_by_content_hash", err)
		}
		if existing != nil {
			result.DocumentID = existing.ID
			result.Status = "duplicate"
			o.logger.Info("ingest: duplicate content hash, skipping", "document_id", existing.ID, "source_id", in.SourceID)
			return nil
		}

		// Step 2: persist document + sections.
		parsed := docparse.Parse(in.Content, in.Format)
		doc := model.Document{
			ID:             uuid.New(),
			SourceID:       in.SourceID,
			ContentHash:    hash,
			Format:         in.Format,
			DocumentType:   in.DocumentType,
			AuthorityLevel: in.AuthorityLevel,
			RawContent:     in.Content,
			CreatedAt:      time.Now(),
		}
		if len(parsed) > 0 && parsed[0].Header != "" {
			doc.Title = &parsed[0].Header
		}
		if err := storage.InsertDocument(ctx, tx, &doc); err != nil {
			return model.NewDatabaseError("insert_document", err)
		}

		sections := make([]model.Section, len(parsed))
		for i, p := range parsed {
			sections[i] = model.Section{
				ID:           uuid.New(),
				DocumentID:   doc.ID,
				Header:       p.Header,
				Body:         p.Body,
				HeadingLevel: p.HeadingLevel,
				SectionOrder: p.SectionOrder,
				SpanStart:    p.SpanStart,
				SpanEnd:      p.SpanEnd,
			}
		}
		if err := storage.InsertSections(ctx, tx, sections); err != nil {
			return model.NewDatabaseError("insert_sections", err)
		}
		result.DocumentID = doc.ID
		result.SectionsExtracted = len(sections)

		// Step 3: tags. Tags double as cluster keys: each one also records
		// this document's membership in that cluster, so a cluster with no
		// prior consolidation can still be expanded from its tagged
		// documents.
		if len(in.Tags) > 0 {
			if err := storage.AddTags(ctx, tx, doc.ID, in.Tags); err != nil {
				return model.NewDatabaseError("add_tags", err)
			}
			if err := storage.AddToClusters(ctx, tx, doc.ID, in.Tags); err != nil {
				return model.NewDatabaseError("add_to_clusters", err)
			}
		}

		// Step 4: supersession edges.
		for _, oldID := range in.Supersedes {
			s := model.Supersession{ID: uuid.New(), OldDocumentID: oldID, NewDocumentID: doc.ID, CreatedAt: time.Now()}
			if err := storage.InsertSupersession(ctx, tx, s); err != nil {
				return model.NewDatabaseError("insert_supersession", err)
			}
		}

		// Steps 5 and 6 are independent and may run concurrently.
		var sectionClaims map[uuid.UUID][]model.AtomicClaim
		g, gctx := errgroup.WithContext(ctx)

		if in.GenerateEmbeddings {
			g.Go(func() error {
				n, err := o.generateEmbeddings(gctx, tx, doc, sections)
				result.EmbeddingsGenerated = n
				return err
			})
		}

		if in.ExtractClaims {
			g.Go(func() error {
				inputs := make([]claims.SectionInput, len(sections))
				for i, s := range sections {
					inputs[i] = claims.SectionInput{SectionID: s.ID, DocumentID: doc.ID, Content: s.Body}
				}
				extracted, err := o.extractor.ExtractBatch(gctx, inputs, extractConcurrency)
				if err != nil {
					return err
				}
				sectionClaims = extracted
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		var allClaims []model.AtomicClaim
		for _, cs := range sectionClaims {
			allClaims = append(allClaims, cs...)
		}
		if len(allClaims) > 0 {
			if in.GenerateEmbeddings {
				n, err := o.embedClaims(ctx, allClaims)
				if err != nil {
					return err
				}
				result.EmbeddingsGenerated += n
			}
			if err := storage.InsertClaims(ctx, tx, allClaims); err != nil {
				return model.NewDatabaseError("insert_claims", err)
			}
			result.ClaimsExtracted = len(allClaims)
			indexClaims = allClaims
		}

		// Step 7: entity graph, gated on claims having actually been extracted.
		if in.BuildEntityGraph && len(allClaims) > 0 {
			if err := o.buildEntityGraph(ctx, tx, allClaims); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	if o.index != nil && len(indexClaims) > 0 {
		if err := o.syncClaimsToIndex(ctx, indexClaims); err != nil {
			o.logger.Warn("ingest: vector index sync failed, claims remain searchable via Postgres only", "error", err)
		}
	}
	if result.Status == "ingested" {
		o.logger.Info("ingest: document ingested",
			"document_id", result.DocumentID,
			"sections", result.SectionsExtracted,
			"embeddings", result.EmbeddingsGenerated,
			"claims", result.ClaimsExtracted,
		)
	}
	return result, nil
}

// generateEmbeddings embeds the document's raw content and each section
// body, persisting as it goes. A missing embedding provider is not an
// error: the document is simply left without vectors.
func (o *Orchestrator) generateEmbeddings(ctx context.Context, tx pgx.Tx, doc model.Document, sections []model.Section) (int, error) {
	count := 0

	if vec, err := o.embedder.Embed(ctx, doc.RawContent); err == nil {
		if err := storage.UpdateDocumentEmbedding(ctx, tx, doc.ID, vec); err != nil {
			return count, model.NewDatabaseError("update_document_embedding", err)
		}
		count++
	} else if err != embedding.ErrNoProvider {
		return count, model.NewEmbeddingError(err)
	}

	for _, s := range sections {
		if s.Body == "" {
			continue
		}
		vec, err := o.embedder.Embed(ctx, s.Body)
		if err != nil {
			if err == embedding.ErrNoProvider {
				break // provider absent for the whole call, stop trying
			}
			return count, model.NewEmbeddingError(err)
		}
		if err := storage.UpdateSectionEmbedding(ctx, tx, s.ID, vec); err != nil {
			return count, model.NewDatabaseError("update_section_embedding", err)
		}
		count++
	}
	return count, nil
}

// embedClaims embeds each claim's surface text in place, backing the
// semantic channel's cosine-similarity comparison. A missing provider
// leaves the remaining claims without vectors rather than failing ingest.
func (o *Orchestrator) embedClaims(ctx context.Context, allClaims []model.AtomicClaim) (int, error) {
	count := 0
	for i := range allClaims {
		vec, err := o.embedder.Embed(ctx, allClaims[i].OriginalText)
		if err != nil {
			if err == embedding.ErrNoProvider {
				break
			}
			return count, model.NewEmbeddingError(err)
		}
		allClaims[i].Embedding = &vec
		count++
	}
	return count, nil
}

// syncClaimsToIndex mirrors newly embedded claims into the vector index.
// Claims without an embedding (provider absent) are skipped.
func (o *Orchestrator) syncClaimsToIndex(ctx context.Context, allClaims []model.AtomicClaim) error {
	points := make([]search.Point, 0, len(allClaims))
	for _, c := range allClaims {
		if c.Embedding == nil {
			continue
		}
		points = append(points, search.Point{
			ID:         c.ID,
			Kind:       search.KindClaim,
			DocumentID: c.DocumentID,
			SectionID:  c.SectionID,
			Embedding:  c.Embedding.Slice(),
		})
	}
	return o.index.Upsert(ctx, points)
}

// buildEntityGraph collects distinct subject/object mention texts across
// allClaims, resolves them to entities, and records the MENTIONS edge for
// every claim that referenced a resolved mention.
func (o *Orchestrator) buildEntityGraph(ctx context.Context, tx pgx.Tx, allClaims []model.AtomicClaim) error {
	seen := make(map[string]bool)
	var mentions []model.Mention
	for _, c := range allClaims {
		for _, text := range []string{c.Subject, c.Object} {
			if text == "" || seen[text] {
				continue
			}
			seen[text] = true
			mentions = append(mentions, model.Mention{Text: text})
		}
	}

	resolved, err := o.resolver.Resolve(ctx, tx, mentions)
	if err != nil {
		return model.NewDatabaseError("resolve_entities", err)
	}

	for _, c := range allClaims {
		for _, text := range []string{c.Subject, c.Object} {
			entity, ok := resolved[text]
			if !ok {
				continue
			}
			if err := entities.LinkClaimToEntity(ctx, tx, c.ID, entity.ID, c.DocumentID); err != nil {
				return model.NewDatabaseError("link_claim_to_entity", err)
			}
		}
	}
	return nil
}

// contentHash digests content after normalizing CRLF line endings to LF and
// trimming trailing whitespace down to one final LF.
func contentHash(content string) string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	normalized = strings.TrimRight(normalized, " \t\r\n") + "\n"
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
