package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/veridocs/consolidator/internal/consolidate"
	"github.com/veridocs/consolidator/internal/ingest"
	"github.com/veridocs/consolidator/internal/model"
)

// maxFetchedContentBytes bounds URL ingestion, mirroring the response-size
// cap used on the provider HTTP clients (see internal/llm). file_path reads
// are not capped.
const maxFetchedContentBytes = 10 * 1024 * 1024

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("ingest_document",
			mcplib.WithDescription(`Ingest one document: parse it into sections, persist it, and optionally
extract claims, generate embeddings, and link mentioned entities.

Supply exactly one of content, file_path, or url. Re-ingesting identical
content is a no-op that returns the original document_id with status
"duplicate" — content is normalized and hashed before comparison.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("content",
				mcplib.Description("Raw document content. Mutually exclusive with file_path and url."),
			),
			mcplib.WithString("file_path",
				mcplib.Description("Path to a local file to read as content. Mutually exclusive with content and url."),
			),
			mcplib.WithString("url",
				mcplib.Description("URL to fetch as content via HTTP GET, 30s timeout, 10MB response cap. Mutually exclusive with content and file_path."),
			),
			mcplib.WithString("source_id",
				mcplib.Description("Stable identifier for this document's origin (a path or URL), used for authority_wins pattern matching and scope selectors. Defaults to file_path or url when omitted."),
			),
			mcplib.WithString("format",
				mcplib.Description("Content encoding. Only markdown is split into multiple sections by heading."),
				mcplib.Enum("markdown", "text", "json", "yaml"),
			),
			mcplib.WithString("document_type",
				mcplib.Description("One of: spec, guide, handoff, prompt, report, reference, decision, archive."),
				mcplib.Required(),
				mcplib.Enum("spec", "guide", "handoff", "prompt", "report", "reference", "decision", "archive"),
			),
			mcplib.WithArray("tags",
				mcplib.Description("Tags to attach to the document."),
				mcplib.Items(map[string]any{"type": "string"}),
			),
			mcplib.WithNumber("authority_level",
				mcplib.Description("Authority ranking, 1-10. When two claims for the same predicate tie on confidence in the merged output, the higher-authority document's claim is kept. Default 5."),
				mcplib.Min(1),
				mcplib.Max(10),
				mcplib.DefaultNumber(5),
			),
			mcplib.WithArray("supersedes",
				mcplib.Description("Document ids this ingest obsoletes. Records a supersession edge for each."),
				mcplib.Items(map[string]any{"type": "string"}),
			),
			mcplib.WithBoolean("extract_claims",
				mcplib.Description("Run claim extraction over each section. Default true."),
			),
			mcplib.WithBoolean("generate_embeddings",
				mcplib.Description("Embed the document and each section body. Default true."),
			),
			mcplib.WithBoolean("build_entity_graph",
				mcplib.Description("Resolve claim subjects/objects to entities and link them. Has no effect unless extract_claims also runs. Default true."),
			),
		),
		s.handleIngest,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("consolidate_documents",
			mcplib.WithDescription(`Merge two or more ingested documents into one synthesized document,
detecting and resolving factual conflicts between their claims.

Supply exactly one of document_ids, scope, or cluster_id to select the
cohort. strategy governs conflict resolution: "smart" asks an LLM to
adjudicate, "newest_wins" and "authority_wins" are deterministic, and
"flag_all" never auto-resolves. Set dry_run to preview the merged output
without persisting it.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithArray("document_ids",
				mcplib.Description("Exact document ids to consolidate. Mutually exclusive with scope and cluster_id."),
				mcplib.Items(map[string]any{"type": "string"}),
			),
			mcplib.WithArray("scope",
				mcplib.Description("Glob patterns over document source_id, e.g. \"docs/api/*\". Mutually exclusive with document_ids and cluster_id."),
				mcplib.Items(map[string]any{"type": "string"}),
			),
			mcplib.WithString("cluster_id",
				mcplib.Description("Re-run the most recent consolidation recorded under this cluster key, over the same source documents. Mutually exclusive with document_ids and scope."),
			),
			mcplib.WithString("strategy",
				mcplib.Description("Conflict resolution mode. Default smart."),
				mcplib.Enum("smart", "newest_wins", "authority_wins", "flag_all"),
			),
			mcplib.WithArray("authority_order",
				mcplib.Description("Glob patterns over source_id in descending authority order. Required for authority_wins; ignored otherwise."),
				mcplib.Items(map[string]any{"type": "string"}),
			),
			mcplib.WithNumber("conflict_threshold",
				mcplib.Description("Minimum confidence (smart mode) below which a conflict is flagged instead of auto-resolved. Default 0.7."),
				mcplib.Min(0),
				mcplib.Max(1),
				mcplib.DefaultNumber(0.7),
			),
			mcplib.WithNumber("auto_resolve_below",
				mcplib.Description("Advisory threshold below which low-severity conflicts are expected to auto-resolve. Default 0.3."),
				mcplib.Min(0),
				mcplib.Max(1),
				mcplib.DefaultNumber(0.3),
			),
			mcplib.WithNumber("require_human_above",
				mcplib.Description("Advisory threshold above which high-severity conflicts are expected to be flagged regardless of strategy. Default 0.9."),
				mcplib.Min(0),
				mcplib.Max(1),
				mcplib.DefaultNumber(0.9),
			),
			mcplib.WithString("output_format",
				mcplib.Description("Rendering of the merged document. Default markdown."),
				mcplib.Enum("markdown", "json", "yaml"),
			),
			mcplib.WithBoolean("include_provenance",
				mcplib.Description("Include the {document_id, section_id, claim_id} provenance triple for each merged bullet. Default true."),
			),
			mcplib.WithBoolean("dry_run",
				mcplib.Description("Compute the merged document and conflict resolutions without persisting anything. Default false."),
			),
		),
		s.handleConsolidate,
	)
}

func (s *Server) handleIngest(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	content := request.GetString("content", "")
	filePath := request.GetString("file_path", "")
	url := request.GetString("url", "")

	set := 0
	for _, v := range []string{content, filePath, url} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return errorResult("exactly one of content, file_path, or url is required"), nil
	}

	sourceID := request.GetString("source_id", "")
	var resolveErr error
	switch {
	case content != "":
		if sourceID == "" {
			sourceID = "inline"
		}
	case filePath != "":
		content, resolveErr = readLocalFile(filePath)
		if sourceID == "" {
			sourceID = filePath
		}
	case url != "":
		content, resolveErr = fetchURL(ctx, url)
		if sourceID == "" {
			sourceID = url
		}
	}
	if resolveErr != nil {
		return errorResult(resolveErr.Error()), nil
	}

	documentType := model.DocumentType(request.GetString("document_type", ""))
	if !model.ValidDocumentType(documentType) {
		return errorResult(fmt.Sprintf("invalid document_type %q", documentType)), nil
	}

	format := model.DocumentFormat(request.GetString("format", "markdown"))

	var supersedes []uuid.UUID
	for _, raw := range stringSliceArg(request, "supersedes") {
		id, err := uuid.Parse(raw)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid supersedes id %q: %v", raw, err)), nil
		}
		supersedes = append(supersedes, id)
	}

	result, err := s.ingestOrch.Ingest(ctx, ingest.Input{
		Content:            content,
		SourceID:           sourceID,
		Format:             format,
		DocumentType:       documentType,
		Tags:               stringSliceArg(request, "tags"),
		AuthorityLevel:     request.GetInt("authority_level", 5),
		Supersedes:         supersedes,
		ExtractClaims:      boolArg(request, "extract_claims", true),
		GenerateEmbeddings: boolArg(request, "generate_embeddings", true),
		BuildEntityGraph:   boolArg(request, "build_entity_graph", true),
	})
	if err != nil {
		return toolFailureResult(err), nil
	}

	return jsonResult(map[string]any{
		"document_id":          result.DocumentID,
		"sections_extracted":   result.SectionsExtracted,
		"embeddings_generated": result.EmbeddingsGenerated,
		"claims_extracted":     result.ClaimsExtracted,
		"status":               result.Status,
	})
}

func (s *Server) handleConsolidate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var documentIDs []uuid.UUID
	for _, raw := range stringSliceArg(request, "document_ids") {
		id, err := uuid.Parse(raw)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid document_ids entry %q: %v", raw, err)), nil
		}
		documentIDs = append(documentIDs, id)
	}

	strategyMode := model.MergeMode(request.GetString("strategy", "smart"))
	switch strategyMode {
	case model.ModeSmart, model.ModeNewestWins, model.ModeAuthorityWins, model.ModeFlagAll:
	default:
		return errorResult(fmt.Sprintf("invalid strategy %q", strategyMode)), nil
	}

	outputFormat := model.OutputFormat(request.GetString("output_format", "markdown"))
	switch outputFormat {
	case model.OutputMarkdown, model.OutputJSON, model.OutputYAML:
	default:
		return errorResult(fmt.Sprintf("invalid output_format %q", outputFormat)), nil
	}

	includeProvenance := boolArg(request, "include_provenance", true)

	result, err := s.consolidate.Consolidate(ctx, consolidate.Input{
		Selector: consolidate.Selector{
			DocumentIDs: documentIDs,
			Scope:       stringSliceArg(request, "scope"),
			ClusterID:   request.GetString("cluster_id", ""),
		},
		Strategy: model.MergeStrategy{
			Mode:              strategyMode,
			AuthorityOrder:    stringSliceArg(request, "authority_order"),
			ConflictThreshold: request.GetFloat("conflict_threshold", 0.7),
			OutputFormat:      outputFormat,
			IncludeProvenance: includeProvenance,
		},
		DryRun: boolArg(request, "dry_run", false),
	})
	if err != nil {
		return toolFailureResult(err), nil
	}

	payload := map[string]any{
		"consolidation_id":   result.ConsolidationID,
		"source_documents":   result.SourceDocuments,
		"conflicts_resolved": result.ConflictsResolved,
		"conflicts_flagged":  result.ConflictsFlagged,
		"statistics":         result.OutputDocument.Statistics,
		"processing_time_ms": result.ProcessingTimeMs,
		"status":             result.Status,
		"output_document": map[string]any{
			"id":      result.OutputDocument.ID,
			"format":  result.OutputDocument.Format,
			"content": result.OutputDocument.Content,
		},
	}
	if includeProvenance {
		payload["provenance_map"] = result.Provenance
	}
	return jsonResult(payload)
}

func toolFailureResult(err error) *mcplib.CallToolResult {
	failure := model.ToFailure(err)
	data, _ := json.Marshal(failure)
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
		IsError: true,
	}
}

func jsonResult(payload map[string]any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal response: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

// boolArg reads a boolean tool argument out of the request's raw argument
// map. mcp-go has no typed boolean accessor, so this mirrors the manual
// extraction the provider/source-boost parsing elsewhere in this codebase
// does for types GetString/GetInt/GetFloat don't cover.
func boolArg(request mcplib.CallToolRequest, key string, fallback bool) bool {
	args := request.GetArguments()
	if args == nil {
		return fallback
	}
	v, ok := args[key]
	if !ok || v == nil {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

// stringSliceArg reads a string-array tool argument out of the request's raw
// argument map.
func stringSliceArg(request mcplib.CallToolRequest, key string) []string {
	args := request.GetArguments()
	if args == nil {
		return nil
	}
	v, ok := args[key]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out
}

func readLocalFile(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-supplied tool argument, same trust boundary as the process invoking this server
	if err != nil {
		return "", fmt.Errorf("read file_path %q: %w", path, err)
	}
	return string(data), nil
}

func fetchURL(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request for url %q: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url %q: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchedContentBytes))
	if err != nil {
		return "", fmt.Errorf("read url %q body: %w", url, err)
	}
	return string(body), nil
}
