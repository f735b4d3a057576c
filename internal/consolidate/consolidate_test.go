package consolidate_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridocs/consolidator/internal/consolidate"
	"github.com/veridocs/consolidator/internal/llm"
	"github.com/veridocs/consolidator/internal/model"
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

// seedConflictingDocuments inserts two documents, one section each, and one
// claim each that disagree on the same subject/predicate, returning the
// document ids in creation order (older first).
func seedConflictingDocuments(t *testing.T) (olderID, newerID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	pool := testDB.Pool()

	older := model.Document{
		ID: uuid.New(), SourceID: "docs/older.md", ContentHash: uuid.NewString(),
		Format: model.FormatMarkdown, DocumentType: model.DocTypeReference,
		AuthorityLevel: 5, RawContent: "# Timeout\n\nTimeout is 30s.\n",
		CreatedAt: time.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, storage.InsertDocument(ctx, pool, &older))
	olderSection := model.Section{ID: uuid.New(), DocumentID: older.ID, Header: "Timeout", Body: "Timeout is 30s.", HeadingLevel: 1, SectionOrder: 0, SpanStart: 0, SpanEnd: 20}
	require.NoError(t, storage.InsertSections(ctx, pool, []model.Section{olderSection}))

	newer := model.Document{
		ID: uuid.New(), SourceID: "docs/newer.md", ContentHash: uuid.NewString(),
		Format: model.FormatMarkdown, DocumentType: model.DocTypeReference,
		AuthorityLevel: 5, RawContent: "# Timeout\n\nTimeout is 60s.\n",
		CreatedAt: time.Now(),
	}
	require.NoError(t, storage.InsertDocument(ctx, pool, &newer))
	newerSection := model.Section{ID: uuid.New(), DocumentID: newer.ID, Header: "Timeout", Body: "Timeout is 60s.", HeadingLevel: 1, SectionOrder: 0, SpanStart: 0, SpanEnd: 20}
	require.NoError(t, storage.InsertSections(ctx, pool, []model.Section{newerSection}))

	claimsToInsert := []model.AtomicClaim{
		{ID: uuid.New(), SectionID: olderSection.ID, DocumentID: older.ID, OriginalText: "Timeout is 30s.", Subject: "timeout", Predicate: "is", Object: "30s", Confidence: 0.9},
		{ID: uuid.New(), SectionID: newerSection.ID, DocumentID: newer.ID, OriginalText: "Timeout is 60s.", Subject: "timeout", Predicate: "is", Object: "60s", Confidence: 0.9},
	}
	require.NoError(t, storage.InsertClaims(ctx, pool, claimsToInsert))

	return older.ID, newer.ID
}

func TestConsolidateResolvesConflictWithNewestWins(t *testing.T) {
	olderID, newerID := seedConflictingDocuments(t)
	orch := consolidate.New(testDB, llm.NewNoopService(), testutil.TestLogger())

	result, err := orch.Consolidate(context.Background(), consolidate.Input{
		Selector: consolidate.Selector{DocumentIDs: []uuid.UUID{olderID, newerID}},
		Strategy: model.MergeStrategy{Mode: model.ModeNewestWins, OutputFormat: model.OutputMarkdown, IncludeProvenance: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	require.Len(t, result.ConflictsResolved, 1)
	assert.Equal(t, model.ChoseB, result.ConflictsResolved[0].Resolution) // newer document's claim wins
	assert.Empty(t, result.ConflictsFlagged)
	assert.Contains(t, result.OutputDocument.Content, "60s")
}

func TestConsolidateRejectsSingleDocument(t *testing.T) {
	olderID, _ := seedConflictingDocuments(t)
	orch := consolidate.New(testDB, llm.NewNoopService(), testutil.TestLogger())

	_, err := orch.Consolidate(context.Background(), consolidate.Input{
		Selector: consolidate.Selector{DocumentIDs: []uuid.UUID{olderID}},
		Strategy: model.MergeStrategy{Mode: model.ModeFlagAll, OutputFormat: model.OutputMarkdown},
	})
	require.Error(t, err)
	var ve *model.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestConsolidateDryRunDoesNotPersist(t *testing.T) {
	olderID, newerID := seedConflictingDocuments(t)
	orch := consolidate.New(testDB, llm.NewNoopService(), testutil.TestLogger())

	result, err := orch.Consolidate(context.Background(), consolidate.Input{
		Selector: consolidate.Selector{DocumentIDs: []uuid.UUID{olderID, newerID}},
		Strategy: model.MergeStrategy{Mode: model.ModeNewestWins, OutputFormat: model.OutputMarkdown},
		DryRun:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "dry_run", result.Status)

	_, err = storage.GetConsolidation(context.Background(), testDB.Pool(), result.ConsolidationID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
