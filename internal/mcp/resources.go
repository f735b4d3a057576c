package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/google/uuid"

	"github.com/veridocs/consolidator/internal/storage"
)

const recentDocumentsLimit = 20

func (s *Server) registerResources() {
	// consolidator://documents/recent — most recently ingested documents.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"consolidator://documents/recent",
			"Recent Documents",
			mcplib.WithResourceDescription("The most recently ingested documents, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDocumentsRecent,
	)

	// consolidator://conflicts/recent — conflicts detected in the last day.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"consolidator://conflicts/recent",
			"Recent Conflicts",
			mcplib.WithResourceDescription("Conflicts detected across consolidations in the last 24 hours"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleConflictsRecent,
	)

	// consolidator://document/{id}/sections — one document's parsed sections and claims.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"consolidator://document/{id}/sections",
			"Document Sections",
			mcplib.WithTemplateDescription("A document's parsed sections, each with the claims extracted from it"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleDocumentSections,
	)
}

func (s *Server) handleDocumentsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	docs, err := storage.ListAllDocuments(ctx, s.db.Pool())
	if err != nil {
		return nil, fmt.Errorf("mcp: recent documents: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	if len(docs) > recentDocumentsLimit {
		docs = docs[:recentDocumentsLimit]
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal recent documents: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "consolidator://documents/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleConflictsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	since := time.Now().Add(-24 * time.Hour)
	conflicts, err := storage.ListConflictsSince(ctx, s.db.Pool(), since, recentDocumentsLimit)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent conflicts: %w", err)
	}

	data, err := json.MarshalIndent(conflicts, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal recent conflicts: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "consolidator://conflicts/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleDocumentSections(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	docID, err := parseDocumentSectionsURI(uri)
	if err != nil {
		return nil, err
	}

	doc, err := storage.GetDocument(ctx, s.db.Pool(), docID)
	if err != nil {
		return nil, fmt.Errorf("mcp: document sections: %w", err)
	}

	sections, err := storage.GetSectionsByDocument(ctx, s.db.Pool(), docID)
	if err != nil {
		return nil, fmt.Errorf("mcp: document sections: %w", err)
	}

	type sectionWithClaims struct {
		Section any   `json:"section"`
		Claims  any   `json:"claims"`
	}
	out := make([]sectionWithClaims, len(sections))
	for i, sec := range sections {
		claims, err := storage.GetClaimsBySection(ctx, s.db.Pool(), sec.ID)
		if err != nil {
			return nil, fmt.Errorf("mcp: document sections: claims for section %s: %w", sec.ID, err)
		}
		out[i] = sectionWithClaims{Section: sec, Claims: claims}
	}

	data, err := json.MarshalIndent(map[string]any{
		"document": doc,
		"sections": out,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal document sections: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseDocumentSectionsURI extracts the document id from
// "consolidator://document/{id}/sections".
func parseDocumentSectionsURI(uri string) (uuid.UUID, error) {
	const prefix = "consolidator://document/"
	const suffix = "/sections"

	if !strings.HasPrefix(uri, prefix) || !strings.HasSuffix(uri, suffix) {
		return uuid.Nil, fmt.Errorf("mcp: invalid document sections URI: %s", uri)
	}

	id, err := uuid.Parse(uri[len(prefix) : len(uri)-len(suffix)])
	if err != nil {
		return uuid.Nil, fmt.Errorf("mcp: invalid document id in URI %s: %w", uri, err)
	}
	return id, nil
}
