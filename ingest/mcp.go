package ingest

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/datatrack/kit"
)

// RegisterMCP registers the ingestion tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerRunConnector(srv)
	s.registerDueConnectors(srv)
	s.registerRunScheduled(srv)
}

func (s *Service) registerRunConnector(srv *mcp.Server) {
	type req struct {
		ConnectorID string `json:"connector_id"`
		Force       bool   `json:"force"`
		DryRun      bool   `json:"dry_run"`
	}
	tool := &mcp.Tool{
		Name:        "ingest_run_connector",
		Description: "Run one connector now. force skips preflight checks; dry_run validates without fetching.",
		InputSchema: kit.InputSchema(map[string]any{
			"connector_id": map[string]any{"type": "string", "description": "Connector ID"},
			"force":        map[string]any{"type": "boolean", "description": "Skip preflight checks"},
			"dry_run":      map[string]any{"type": "boolean", "description": "Validate only, write nothing"},
		}, "connector_id"),
	}
	endpoint := kit.Logging(s.logger, "ingest_run_connector")(func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return s.RunConnector(ctx, p.ConnectorID, RunOptions{Force: p.Force, DryRun: p.DryRun, TriggeredBy: TriggerMCP})
	})
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}

func (s *Service) registerDueConnectors(srv *mcp.Server) {
	type req struct{}
	tool := &mcp.Tool{
		Name:        "ingest_due_connectors",
		Description: "List connectors due for a scheduled run. Read-only.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		due, err := s.GetDueConnectors(ctx)
		if err != nil {
			return nil, err
		}
		if due == nil {
			due = []*Connector{}
		}
		return map[string]any{"connectors": due, "count": len(due)}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}

func (s *Service) registerRunScheduled(srv *mcp.Server) {
	type req struct{}
	tool := &mcp.Tool{
		Name:        "ingest_run_scheduled",
		Description: "Run every due connector once and return the batch summary",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	endpoint := kit.Logging(s.logger, "ingest_run_scheduled")(func(ctx context.Context, _ any) (any, error) {
		return s.RunScheduledIngestion(ctx)
	})
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}
