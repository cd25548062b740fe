// Package aitools converts tools discovered across managed MCP servers into
// callable function objects for a model-invocation layer. Each callable
// carries a JSON-Schema parameter object normalized so every consumer sees an
// object schema with a properties map and an explicit additionalProperties
// flag, and is tagged with the id of the server that owns it.
package aitools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-hub/mcphub-go/internal/upstream"
)

// Tool is one callable exposed to the invocation layer. Execute routes the
// call back through the owning manager, so connection and tool failures
// surface exactly as they would on a direct ExecuteTool call.
type Tool struct {
	Name        string
	Description string
	ServerID    string
	Parameters  map[string]any
	Execute     func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)
}

// Toolset lists tools from the requested servers, connecting as needed, and
// merges them into one mapping keyed by tool name. When no ids are given it
// covers every registered server that is connected or connectable; servers
// sitting behind an explicit disconnect are skipped rather than failing the
// whole call. Explicitly requested ids always error. Cross-server name
// collisions resolve last-write-wins in sorted server-id order, so the
// outcome is deterministic.
func Toolset(ctx context.Context, mgr *upstream.Manager, serverIDs ...string) (map[string]*Tool, error) {
	explicit := len(serverIDs) > 0
	ids := append([]string(nil), serverIDs...)
	if !explicit {
		ids = mgr.ListServers()
	}
	sort.Strings(ids)

	tools := make(map[string]*Tool)
	for _, id := range ids {
		res, err := mgr.ListTools(ctx, id, nil)
		if err != nil {
			var notConnected *upstream.NotConnectedError
			if !explicit && errors.As(err, &notConnected) {
				continue
			}
			return nil, fmt.Errorf("aitools: listing tools for %q: %w", id, err)
		}
		for _, discovered := range res.Tools {
			tool, err := adapt(mgr, id, discovered)
			if err != nil {
				return nil, fmt.Errorf("aitools: adapting tool %q from %q: %w", discovered.Name, id, err)
			}
			tools[tool.Name] = tool
		}
	}
	return tools, nil
}

func adapt(mgr *upstream.Manager, serverID string, tool *mcp.Tool) (*Tool, error) {
	params, err := NormalizeSchema(tool.InputSchema)
	if err != nil {
		return nil, err
	}
	name := tool.Name
	return &Tool{
		Name:        name,
		Description: tool.Description,
		ServerID:    serverID,
		Parameters:  params,
		Execute: func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			return mgr.ExecuteTool(ctx, serverID, name, args)
		},
	}, nil
}

// NormalizeSchema reshapes a tool input schema into the object form the
// invocation layer requires: type "object", a properties map (possibly
// empty), and an explicit additionalProperties flag. Works on the JSON level
// so any marshalable schema representation is accepted; nil yields the empty
// object schema.
func NormalizeSchema(schema any) (map[string]any, error) {
	normalized := map[string]any{}
	if schema != nil {
		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("marshaling schema: %w", err)
		}
		if err := json.Unmarshal(raw, &normalized); err != nil {
			return nil, fmt.Errorf("decoding schema: %w", err)
		}
	}
	normalized["type"] = "object"
	if _, ok := normalized["properties"].(map[string]any); !ok {
		normalized["properties"] = map[string]any{}
	}
	if _, ok := normalized["additionalProperties"]; !ok {
		normalized["additionalProperties"] = false
	}
	return normalized, nil
}
