// Package mcp implements the Model Context Protocol surface for datascout.
//
// The MCP server exposes the same capabilities as the HTTP API through
// MCP tools and resources, so MCP-compatible AI agents can search catalogs,
// acquire datasets, and train models without speaking the REST protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/datascout-ai/datascout/internal/job"
	"github.com/datascout-ai/datascout/internal/model"
	"github.com/datascout-ai/datascout/internal/search"
)

// SearchHistory lists previously executed searches. Nil when the service
// runs without a database.
type SearchHistory interface {
	ListRecentSearches(ctx context.Context, limit int) ([]model.SearchRecord, error)
}

// Server wraps the MCP server around datascout's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	searcher  *search.Service
	runner    *job.Runner
	store     job.Store
	history   SearchHistory
	logger    *slog.Logger
}

// New creates and configures an MCP server with all tools and resources.
func New(searcher *search.Service, runner *job.Runner, store job.Store, history SearchHistory, logger *slog.Logger, version string) *Server {
	s := &Server{
		searcher: searcher,
		runner:   runner,
		store:    store,
		history:  history,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"datascout",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// datascout://searches/recent — searches executed recently.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"datascout://searches/recent",
			"Recent Searches",
			mcplib.WithResourceDescription("Recently executed dataset searches with their corrected queries and result counts"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentSearches,
	)

	// datascout://jobs/{id}/events — full progress stream for one job.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"datascout://jobs/{id}/events",
			"Job Events",
			mcplib.WithTemplateDescription("Complete progress event stream for a specific job"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleJobEvents,
	)
}

func (s *Server) handleRecentSearches(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	var records []model.SearchRecord
	if s.history != nil {
		var err error
		records, err = s.history.ListRecentSearches(ctx, 20)
		if err != nil {
			return nil, fmt.Errorf("mcp: recent searches: %w", err)
		}
	}
	if records == nil {
		records = []model.SearchRecord{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal searches: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "datascout://searches/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleJobEvents(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id, err := jobIDFromURI(uri)
	if err != nil {
		return nil, err
	}

	events, err := s.store.ListEvents(ctx, id, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: job events: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{
		"job_id": id,
		"events": events,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal events: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// jobIDFromURI extracts the job UUID from datascout://jobs/{id}/events.
func jobIDFromURI(uri string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(uri, "datascout://jobs/")
	if !ok {
		return uuid.Nil, fmt.Errorf("mcp: invalid job events URI: %s", uri)
	}
	raw, _, _ := strings.Cut(rest, "/")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mcp: invalid job id in URI %s: %w", uri, err)
	}
	return id, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
