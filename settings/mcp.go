package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the rule-store tools on an MCP server so an
// agent can inspect and prune stored hide rules at runtime.
func RegisterMCP(srv *mcp.Server, store Store) {
	registerListRulesTool(srv, store)
	registerGetRulesTool(srv, store)
	registerRemoveDomainTool(srv, store)
	registerClearRulesTool(srv, store)
}

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

// registerTool wires a typed endpoint into the MCP call shape. Tool
// errors become result errors, never protocol errors.
func registerTool(srv *mcp.Server, tool *mcp.Tool, decode func(json.RawMessage) (any, error), endpoint func(context.Context, any) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, err := decode(req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}
		out, err := endpoint(ctx, in)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- domveil_list_rules ---

func registerListRulesTool(srv *mcp.Server, store Store) {
	tool := &mcp.Tool{
		Name:        "domveil_list_rules",
		Description: "List all stored hide rules grouped by domain.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool,
		func(json.RawMessage) (any, error) { return nil, nil },
		func(ctx context.Context, _ any) (any, error) {
			return store.ListAll(ctx)
		})
}

// --- domveil_get_rules ---

type getRulesRequest struct {
	Domain string `json:"domain"`
}

func registerGetRulesTool(srv *mcp.Server, store Store) {
	tool := &mcp.Tool{
		Name:        "domveil_get_rules",
		Description: "Get the hide rules for one domain. Unknown domains return the default (empty, enabled) rule set.",
		InputSchema: inputSchema(map[string]any{
			"domain": map[string]any{"type": "string", "description": "Hostname the rules are stored under (e.g. example.com)"},
		}, []string{"domain"}),
	}
	registerTool(srv, tool,
		func(raw json.RawMessage) (any, error) {
			var rr getRulesRequest
			if err := json.Unmarshal(raw, &rr); err != nil {
				return nil, err
			}
			if err := ValidateDomain(rr.Domain); err != nil {
				return nil, err
			}
			return &rr, nil
		},
		func(ctx context.Context, in any) (any, error) {
			rr := in.(*getRulesRequest)
			return store.Get(ctx, rr.Domain), nil
		})
}

// --- domveil_remove_domain ---

type removeDomainRequest struct {
	Domain string `json:"domain"`
}

func registerRemoveDomainTool(srv *mcp.Server, store Store) {
	tool := &mcp.Tool{
		Name:        "domveil_remove_domain",
		Description: "Delete every stored hide rule for one domain.",
		InputSchema: inputSchema(map[string]any{
			"domain": map[string]any{"type": "string", "description": "Hostname whose rules should be deleted"},
		}, []string{"domain"}),
	}
	registerTool(srv, tool,
		func(raw json.RawMessage) (any, error) {
			var rr removeDomainRequest
			if err := json.Unmarshal(raw, &rr); err != nil {
				return nil, err
			}
			return &rr, nil
		},
		func(ctx context.Context, in any) (any, error) {
			rr := in.(*removeDomainRequest)
			if err := store.Remove(ctx, rr.Domain); err != nil {
				return nil, err
			}
			return map[string]string{"status": "removed", "domain": rr.Domain}, nil
		})
}

// --- domveil_clear_rules ---

func registerClearRulesTool(srv *mcp.Server, store Store) {
	tool := &mcp.Tool{
		Name:        "domveil_clear_rules",
		Description: "Delete the stored hide rules for every domain.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool,
		func(json.RawMessage) (any, error) { return nil, nil },
		func(ctx context.Context, _ any) (any, error) {
			if err := store.ClearAll(ctx); err != nil {
				return nil, err
			}
			return map[string]string{"status": "cleared"}, nil
		})
}
