package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const summaryURI = "contractreview://tasks/summary"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			summaryURI,
			"Task Summary",
			mcplib.WithResourceDescription("Number of retained review tasks per state"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSummaryResource,
	)
}

func (s *Server) handleSummaryResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	counts := s.tasks.Counts()
	byState := make(map[string]int, len(counts))
	total := 0
	for st, n := range counts {
		byState[string(st)] = n
		total += n
	}
	data, err := json.Marshal(map[string]any{"total": total, "states": byState})
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
