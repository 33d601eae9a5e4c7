package gaps

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/datatrack/kit"
)

// RegisterMCP registers the gap ticket tools on an MCP server.
func (s *Store) RegisterMCP(srv *mcp.Server) {
	s.registerList(srv)
	s.registerClose(srv)
}

func (s *Store) registerList(srv *mcp.Server) {
	type req struct {
		Status string `json:"status"`
		Origin string `json:"origin"`
		Limit  int    `json:"limit"`
	}
	tool := &mcp.Tool{
		Name:        "gaps_list",
		Description: "List gap tickets, newest first",
		InputSchema: kit.InputSchema(map[string]any{
			"status": map[string]any{"type": "string", "description": "open or closed"},
			"origin": map[string]any{"type": "string", "description": "drift, ingestion or manual"},
			"limit":  map[string]any{"type": "integer", "description": "Maximum tickets (default 50)"},
		}),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.Limit <= 0 {
			p.Limit = 50
		}
		tickets, err := s.List(ctx, ListFilter{Status: Status(p.Status), Origin: Origin(p.Origin), Limit: p.Limit})
		if err != nil {
			return nil, err
		}
		if tickets == nil {
			tickets = []*Ticket{}
		}
		return map[string]any{"tickets": tickets, "count": len(tickets)}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}

func (s *Store) registerClose(srv *mcp.Server) {
	type req struct {
		ID string `json:"id"`
	}
	tool := &mcp.Tool{
		Name:        "gaps_close",
		Description: "Close a gap ticket once the missing data is restored",
		InputSchema: kit.InputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Ticket ID"},
		}, "id"),
	}
	endpoint := kit.Logging(s.logger, "gaps_close")(func(ctx context.Context, r any) (any, error) {
		return s.Close(ctx, r.(*req).ID)
	})
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}
