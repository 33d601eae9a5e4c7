package eval

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/datatrack/kit"
)

// RegisterMCP registers the eval tools on an MCP server.
func (h *Harness) RegisterMCP(srv *mcp.Server) {
	h.registerRunSuite(srv)
	h.registerCitationGate(srv)
	h.registerRetrievalEval(srv)
}

func (h *Harness) registerRunSuite(srv *mcp.Server) {
	type req struct {
		TriggeredBy string `json:"triggered_by"`
	}
	tool := &mcp.Tool{
		Name:        "eval_run_suite",
		Description: "Run the full retrieval eval suite and citation gate, persist the run and upload its report",
		InputSchema: kit.InputSchema(map[string]any{
			"triggered_by": map[string]any{"type": "string", "description": "Who or what started the run"},
		}),
	}
	endpoint := kit.Logging(h.logger, "eval_run_suite")(func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.TriggeredBy == "" {
			p.TriggeredBy = "mcp"
		}
		res, err := h.RunFullEvalSuite(ctx, p.TriggeredBy)
		if err != nil {
			return nil, err
		}
		return map[string]any{"run": res.Run, "gate": res.Gate, "regression": res.Regression}, nil
	})
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}

func (h *Harness) registerCitationGate(srv *mcp.Server) {
	type req struct{}
	tool := &mcp.Tool{
		Name:        "eval_citation_gate",
		Description: "Check mean citation coverage across content sections against the release gate",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return h.RunCitationCoverageGate(ctx)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}

func (h *Harness) registerRetrievalEval(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "eval_run_retrieval",
		Description: "Score the golden questions of one role or sector. Nothing is persisted.",
		InputSchema: kit.InputSchema(map[string]any{
			"kind": map[string]any{"type": "string", "description": "role or sector"},
			"code": map[string]any{"type": "string", "description": "e.g. economist, energy"},
		}, "kind", "code"),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		return h.RunRetrievalEval(ctx, *r.(*Scope))
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[Scope]())
}
