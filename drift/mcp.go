package drift

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/datatrack/kit"
)

// RegisterMCP registers the drift tools on an MCP server.
func (m *Monitor) RegisterMCP(srv *mcp.Server) {
	m.registerRecordMetric(srv)
	m.registerRunCheck(srv)
}

func (m *Monitor) registerRecordMetric(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "drift_record_metric",
		Description: "Record one drift metric. It is evaluated against its baseline; a critical breach opens a gap ticket.",
		InputSchema: kit.InputSchema(map[string]any{
			"domain":     map[string]any{"type": "string", "description": "retrieval, evidence, translation, dashboard or model"},
			"metric":     map[string]any{"type": "string", "description": "Metric name, e.g. recall_at_k"},
			"value":      map[string]any{"type": "number", "description": "Observed value"},
			"sampleSize": map[string]any{"type": "integer", "description": "Observations behind the value"},
			"notes":      map[string]any{"type": "string"},
		}, "domain", "metric", "value"),
	}
	endpoint := kit.Logging(m.logger, "drift_record_metric")(func(ctx context.Context, r any) (any, error) {
		return m.RecordDriftMetric(ctx, *r.(*Sample))
	})
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[Sample]())
}

func (m *Monitor) registerRunCheck(srv *mcp.Server) {
	type req struct{}
	tool := &mcp.Tool{
		Name:        "drift_run_check",
		Description: "Sample every drift domain now and return breach counts",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	endpoint := kit.Logging(m.logger, "drift_run_check")(func(ctx context.Context, _ any) (any, error) {
		return m.RunFullDriftCheck(ctx)
	})
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}
