package ingest_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridocs/consolidator/internal/claims"
	"github.com/veridocs/consolidator/internal/entities"
	"github.com/veridocs/consolidator/internal/ingest"
	"github.com/veridocs/consolidator/internal/llm"
	"github.com/veridocs/consolidator/internal/model"
	"github.com/veridocs/consolidator/internal/service/embedding"
	"github.com/veridocs/consolidator/internal/storage"
	"github.com/veridocs/consolidator/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		os.Exit(1)
	}
	testDB = db

	os.Exit(m.Run())
}

func newOrchestrator() *ingest.Orchestrator {
	noopEmbed := embedding.NewNoopProvider(1536)
	extractor := claims.NewExtractor(llm.NewNoopService())
	resolver := entities.NewResolver(noopEmbed)
	return ingest.New(testDB, noopEmbed, extractor, resolver, testutil.TestLogger())
}

func TestIngestPersistsDocumentAndSections(t *testing.T) {
	orch := newOrchestrator()
	in := ingest.Input{
		Content:            "# Intro\n\nSome introductory text.\n\n## Details\n\nMore detail here.\n",
		SourceID:           "docs/intro.md",
		Format:             model.FormatMarkdown,
		DocumentType:       model.DocTypeGuide,
		AuthorityLevel:     5,
		Tags:               []string{"onboarding", "guide"},
		GenerateEmbeddings: true,
	}

	result, err := orch.Ingest(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "ingested", result.Status)
	assert.Equal(t, 2, result.SectionsExtracted)
	assert.Equal(t, 0, result.EmbeddingsGenerated) // noop provider

	sections, err := storage.GetSectionsByDocument(context.Background(), testDB.Pool(), result.DocumentID)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "Intro", sections[0].Header)
	assert.Equal(t, "Details", sections[1].Header)

	tags, err := storage.TagsForDocument(context.Background(), testDB.Pool(), result.DocumentID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"onboarding", "guide"}, tags)
}

func TestIngestDetectsDuplicateContent(t *testing.T) {
	orch := newOrchestrator()
	in := ingest.Input{
		Content:      "# Repeat\n\nSame content both times.\n",
		SourceID:     "docs/repeat.md",
		Format:       model.FormatMarkdown,
		DocumentType: model.DocTypeGuide,
	}

	first, err := orch.Ingest(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "ingested", first.Status)

	in.SourceID = "docs/repeat-again.md"
	second, err := orch.Ingest(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "duplicate", second.Status)
	assert.Equal(t, first.DocumentID, second.DocumentID)
}

func TestIngestRecordsSupersession(t *testing.T) {
	orch := newOrchestrator()
	old, err := orch.Ingest(context.Background(), ingest.Input{
		Content:      "# Old Policy\n\nDeprecated guidance.\n",
		SourceID:     "docs/old-policy.md",
		Format:       model.FormatMarkdown,
		DocumentType: model.DocTypeArchive,
	})
	require.NoError(t, err)

	newer, err := orch.Ingest(context.Background(), ingest.Input{
		Content:      "# New Policy\n\nUpdated guidance.\n",
		SourceID:     "docs/new-policy.md",
		Format:       model.FormatMarkdown,
		DocumentType: model.DocTypeGuide,
		Supersedes:   []uuid.UUID{old.DocumentID},
	})
	require.NoError(t, err)

	supersessions, err := storage.SupersessionsForDocuments(context.Background(), testDB.Pool(), []uuid.UUID{newer.DocumentID})
	require.NoError(t, err)
	require.Len(t, supersessions, 1)
	assert.Equal(t, old.DocumentID, supersessions[0].OldDocumentID)
}

// stubExtractionLLM always returns the same single-claim extraction
// response, regardless of section content.
type stubExtractionLLM struct{}

func (stubExtractionLLM) Generate(_ context.Context, _ llm.Request) (string, error) {
	payload, _ := json.Marshal(map[string]any{
		"claims": []map[string]any{
			{
				"original_text": "The API times out after 30 seconds.",
				"subject":       "the API",
				"predicate":     "times out after",
				"object":        "30 seconds",
				"confidence":    0.9,
				"start_char":    0,
				"end_char":      36,
			},
		},
	})
	return string(payload), nil
}

// mockEmbedder returns a deterministic non-zero vector so callers can tell
// an embedded claim apart from an unembedded one.
type mockEmbedder struct{ dims int }

func (m mockEmbedder) Dimensions() int { return m.dims }

func (m mockEmbedder) Embed(_ context.Context, _ string) (pgvector.Vector, error) {
	v := make([]float32, m.dims)
	for i := range v {
		v[i] = 0.1
	}
	return pgvector.NewVector(v), nil
}

func (m mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	out := make([]pgvector.Vector, len(texts))
	for i := range texts {
		out[i], _ = m.Embed(context.Background(), texts[i])
	}
	return out, nil
}

func TestIngestEmbedsExtractedClaims(t *testing.T) {
	embedder := mockEmbedder{dims: 8}
	extractor := claims.NewExtractor(stubExtractionLLM{})
	resolver := entities.NewResolver(embedder)
	orch := ingest.New(testDB, embedder, extractor, resolver, testutil.TestLogger())

	result, err := orch.Ingest(context.Background(), ingest.Input{
		Content:            "# Incident\n\nThe API times out after 30 seconds.\n",
		SourceID:           "docs/incident.md",
		Format:             model.FormatMarkdown,
		DocumentType:       model.DocTypeReport,
		ExtractClaims:      true,
		GenerateEmbeddings: true,
		BuildEntityGraph:   false,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ClaimsExtracted)
	// 1 document embedding + 1 section embedding + 1 claim embedding.
	assert.Equal(t, 3, result.EmbeddingsGenerated)

	sections, err := storage.GetSectionsByDocument(context.Background(), testDB.Pool(), result.DocumentID)
	require.NoError(t, err)
	require.Len(t, sections, 1)

	claimsForSection, err := storage.GetClaimsBySection(context.Background(), testDB.Pool(), sections[0].ID)
	require.NoError(t, err)
	require.Len(t, claimsForSection, 1)
	require.NotNil(t, claimsForSection[0].Embedding, "claim embedding must be populated for Stage B semantic conflict detection to run")
}

// TestIngestExtractsClaimsWithoutConfiguredLLM exercises the realistic
// default deployment (CONSOLIDATOR_LLM_PROVIDER=auto -> NoopService) with
// ExtractClaims requested: ingest must still succeed, falling back to the
// deterministic sentence splitter instead of failing the whole transaction.
func TestIngestExtractsClaimsWithoutConfiguredLLM(t *testing.T) {
	orch := newOrchestrator()

	result, err := orch.Ingest(context.Background(), ingest.Input{
		Content:            "# Policy\n\nRequests time out after 30 seconds. Retries are capped at three attempts.\n",
		SourceID:           "docs/policy-noop.md",
		Format:             model.FormatMarkdown,
		DocumentType:       model.DocTypeReport,
		ExtractClaims:      true,
		GenerateEmbeddings: false,
		BuildEntityGraph:   false,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ClaimsExtracted)

	sections, err := storage.GetSectionsByDocument(context.Background(), testDB.Pool(), result.DocumentID)
	require.NoError(t, err)
	require.Len(t, sections, 1)

	claimsForSection, err := storage.GetClaimsBySection(context.Background(), testDB.Pool(), sections[0].ID)
	require.NoError(t, err)
	require.Len(t, claimsForSection, 2)
	for _, c := range claimsForSection {
		assert.Equal(t, model.ClaimSourceFallback, c.Source)
		assert.Equal(t, "states", c.Predicate)
		assert.Equal(t, "this section", c.Subject)
		assert.InDelta(t, 0.5, c.Confidence, 0.0001)
	}
}
