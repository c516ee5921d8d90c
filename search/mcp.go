package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/medifind/kit"
)

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// RegisterMCP exposes the medifind_search tool on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "medifind_search",
		Description: "Compare medicine prices across online pharmacies. Returns offers sorted by total price (unit price plus delivery fee), with per-pharmacy status.",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Medicine name, e.g. \"Dolo 650\"",
			},
			"quantity": map[string]any{
				"type":        "integer",
				"description": "Optional pack quantity hint",
				"minimum":     0,
			},
		}, []string{"query"}),
	}

	endpoint := kit.Chain(kit.Logging(s.logger, "medifind_search"))(
		func(ctx context.Context, req any) (any, error) {
			return s.Search(ctx, req.(Request))
		},
	)

	kit.RegisterMCPTool(srv, tool, endpoint, func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var req Request
		if err := json.Unmarshal(r.Params.Arguments, &req); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		if req.Query == "" {
			return nil, errors.New("query is required")
		}
		id := s.newID()
		return &kit.MCPDecodeResult{
			Request: req,
			EnrichCtx: func(ctx context.Context) context.Context {
				return kit.WithRequestID(ctx, id)
			},
		}, nil
	})
	s.logger.Debug("search: mcp tool registered", "tool", tool.Name)
}
