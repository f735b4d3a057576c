package mcp

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridocs/consolidator/internal/claims"
	"github.com/veridocs/consolidator/internal/consolidate"
	"github.com/veridocs/consolidator/internal/entities"
	"github.com/veridocs/consolidator/internal/ingest"
	"github.com/veridocs/consolidator/internal/llm"
	"github.com/veridocs/consolidator/internal/service/embedding"
	"github.com/veridocs/consolidator/internal/storage"
	"github.com/veridocs/consolidator/internal/testutil"
)

var testDB *storage.DB
var testServer *Server

func TestMain(m *testing.M) {
	ctx := context.Background()
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		os.Exit(1)
	}
	testDB = db

	noopEmbed := embedding.NewNoopProvider(1536)
	extractor := claims.NewExtractor(llm.NewNoopService())
	resolver := entities.NewResolver(noopEmbed)
	ingestOrch := ingest.New(testDB, noopEmbed, extractor, resolver, testutil.TestLogger())
	consolidateOrch := consolidate.New(testDB, llm.NewNoopService(), testutil.TestLogger())
	testServer = New(testDB, ingestOrch, consolidateOrch, testutil.TestLogger(), "test")

	os.Exit(m.Run())
}

func callToolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in tool result")
	return ""
}

func TestHandleIngest(t *testing.T) {
	result, err := testServer.handleIngest(context.Background(), callToolRequest("ingest_document", map[string]any{
		"content":       "# Overview\n\nThis guide covers onboarding.\n",
		"source_id":     "docs/onboarding.md",
		"document_type": "guide",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "ingest should succeed: %s", parseToolText(t, result))

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, "ingested", resp["status"])
	assert.NotEmpty(t, resp["document_id"])
}

func TestHandleIngest_RejectsAmbiguousSource(t *testing.T) {
	result, err := testServer.handleIngest(context.Background(), callToolRequest("ingest_document", map[string]any{
		"content":       "text",
		"file_path":     "/tmp/whatever.md",
		"document_type": "guide",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "exactly one of")
}

func TestHandleIngest_RejectsMissingSource(t *testing.T) {
	result, err := testServer.handleIngest(context.Background(), callToolRequest("ingest_document", map[string]any{
		"document_type": "guide",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleIngest_RejectsInvalidDocumentType(t *testing.T) {
	result, err := testServer.handleIngest(context.Background(), callToolRequest("ingest_document", map[string]any{
		"content":       "text",
		"document_type": "not-a-type",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "invalid document_type")
}

func TestHandleIngest_DuplicateContentReturnsSameDocument(t *testing.T) {
	args := map[string]any{
		"content":       "# Repeat\n\nIdentical both times.\n",
		"source_id":     "docs/repeat-tool.md",
		"document_type": "guide",
	}
	first, err := testServer.handleIngest(context.Background(), callToolRequest("ingest_document", args))
	require.NoError(t, err)
	require.False(t, first.IsError)

	var firstResp map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, first)), &firstResp))

	args["source_id"] = "docs/repeat-tool-again.md"
	second, err := testServer.handleIngest(context.Background(), callToolRequest("ingest_document", args))
	require.NoError(t, err)
	require.False(t, second.IsError)

	var secondResp map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, second)), &secondResp))
	assert.Equal(t, "duplicate", secondResp["status"])
	assert.Equal(t, firstResp["document_id"], secondResp["document_id"])
}

func TestHandleConsolidate_RejectsMissingSelector(t *testing.T) {
	result, err := testServer.handleConsolidate(context.Background(), callToolRequest("consolidate_documents", map[string]any{}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleConsolidate_ByDocumentIDs(t *testing.T) {
	ingestA, err := testServer.handleIngest(context.Background(), callToolRequest("ingest_document", map[string]any{
		"content":       "# Policy\n\nThe retention period is 30 days.\n",
		"source_id":     "docs/policy-a.md",
		"document_type": "spec",
	}))
	require.NoError(t, err)
	require.False(t, ingestA.IsError)
	var respA map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, ingestA)), &respA))

	ingestB, err := testServer.handleIngest(context.Background(), callToolRequest("ingest_document", map[string]any{
		"content":       "# Policy\n\nThe retention period is 60 days.\n",
		"source_id":     "docs/policy-b.md",
		"document_type": "spec",
	}))
	require.NoError(t, err)
	require.False(t, ingestB.IsError)
	var respB map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, ingestB)), &respB))

	result, err := testServer.handleConsolidate(context.Background(), callToolRequest("consolidate_documents", map[string]any{
		"document_ids": []any{respA["document_id"], respB["document_id"]},
		"strategy":     "newest_wins",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "consolidate should succeed: %s", parseToolText(t, result))
}
