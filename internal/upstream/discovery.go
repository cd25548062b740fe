package upstream

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ListTools retrieves the server's tools, connecting first if needed. Servers
// that report the method as unavailable yield an empty list rather than an
// error; in that case the tool metadata cache is also reset. On success the
// cache is replaced with each tool's side-channel metadata keyed by name.
func (m *Manager) ListTools(ctx context.Context, id string, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	session, err := m.ensureSession(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.opTimeout(ctx, id)
	defer cancel()
	res, err := session.ListTools(ctx, params)
	if err != nil {
		if isMethodUnavailableError(err) {
			m.replaceToolsMeta(id, nil)
			return &mcp.ListToolsResult{Tools: []*mcp.Tool{}}, nil
		}
		return nil, err
	}
	meta := make(map[string]map[string]any, len(res.Tools))
	for _, tool := range res.Tools {
		if tool.Meta != nil {
			meta[tool.Name] = tool.Meta
		}
	}
	m.replaceToolsMeta(id, meta)
	return res, nil
}

func (m *Manager) replaceToolsMeta(id string, meta map[string]map[string]any) {
	if meta == nil {
		meta = make(map[string]map[string]any)
	}
	m.mu.Lock()
	if state, ok := m.states[id]; ok {
		state.toolsMeta = meta
	}
	m.mu.Unlock()
}

// ToolsMetadata returns the metadata snapshot captured by the last successful
// ListTools call for the server. Empty after disconnect.
func (m *Manager) ToolsMetadata(id string) map[string]map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make(map[string]map[string]any)
	if state, ok := m.states[id]; ok {
		for name, data := range state.toolsMeta {
			snapshot[name] = data
		}
	}
	return snapshot
}

// ListResources lists the server's resources, treating method-unavailable
// responses as an empty list.
func (m *Manager) ListResources(ctx context.Context, id string, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	session, err := m.ensureSession(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.opTimeout(ctx, id)
	defer cancel()
	res, err := session.ListResources(ctx, params)
	if err != nil && isMethodUnavailableError(err) {
		return &mcp.ListResourcesResult{Resources: []*mcp.Resource{}}, nil
	}
	return res, err
}

// ListResourceTemplates lists resource templates, treating method-unavailable
// responses as an empty list.
func (m *Manager) ListResourceTemplates(ctx context.Context, id string, params *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error) {
	session, err := m.ensureSession(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.opTimeout(ctx, id)
	defer cancel()
	res, err := session.ListResourceTemplates(ctx, params)
	if err != nil && isMethodUnavailableError(err) {
		return &mcp.ListResourceTemplatesResult{ResourceTemplates: []*mcp.ResourceTemplate{}}, nil
	}
	return res, err
}

// ListPrompts lists the server's prompts, treating method-unavailable
// responses as an empty list.
func (m *Manager) ListPrompts(ctx context.Context, id string, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	session, err := m.ensureSession(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.opTimeout(ctx, id)
	defer cancel()
	res, err := session.ListPrompts(ctx, params)
	if err != nil && isMethodUnavailableError(err) {
		return &mcp.ListPromptsResult{Prompts: []*mcp.Prompt{}}, nil
	}
	return res, err
}

// ReadResource proxies resources/read.
func (m *Manager) ReadResource(ctx context.Context, id string, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	session, err := m.ensureSession(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.opTimeout(ctx, id)
	defer cancel()
	return session.ReadResource(ctx, params)
}

// SubscribeResource subscribes to updates for a resource.
func (m *Manager) SubscribeResource(ctx context.Context, id string, params *mcp.SubscribeParams) error {
	session, err := m.ensureSession(ctx, id)
	if err != nil {
		return err
	}
	ctx, cancel := m.opTimeout(ctx, id)
	defer cancel()
	return session.Subscribe(ctx, params)
}

// UnsubscribeResource cancels a resource subscription.
func (m *Manager) UnsubscribeResource(ctx context.Context, id string, params *mcp.UnsubscribeParams) error {
	session, err := m.ensureSession(ctx, id)
	if err != nil {
		return err
	}
	ctx, cancel := m.opTimeout(ctx, id)
	defer cancel()
	return session.Unsubscribe(ctx, params)
}

// GetPrompt proxies prompts/get.
func (m *Manager) GetPrompt(ctx context.Context, id string, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	session, err := m.ensureSession(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.opTimeout(ctx, id)
	defer cancel()
	return session.GetPrompt(ctx, params)
}

// ExecuteTool invokes a tool on the server. A result flagged as a
// protocol-level failure is surfaced as a ToolExecutionError carrying the
// server-provided text, never as a successful empty result.
func (m *Manager) ExecuteTool(ctx context.Context, id, toolName string, args any) (*mcp.CallToolResult, error) {
	return m.ExecuteToolWithParams(ctx, id, &mcp.CallToolParams{Name: toolName, Arguments: args})
}

// ExecuteToolWithParams is ExecuteTool with caller-built params, preserving
// fields such as progress tokens.
func (m *Manager) ExecuteToolWithParams(ctx context.Context, id string, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	if params == nil || params.Name == "" {
		return nil, &ToolExecutionError{ServerID: id, Text: "tool name is required"}
	}
	session, err := m.ensureSession(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.opTimeout(ctx, id)
	defer cancel()
	res, err := session.CallTool(ctx, params)
	if err != nil {
		return nil, err
	}
	if res != nil && res.IsError {
		return nil, &ToolExecutionError{
			ServerID: id,
			ToolName: params.Name,
			Text:     contentText(res.Content),
		}
	}
	return res, nil
}

// contentText flattens text content blocks into one diagnostic string.
func contentText(content []mcp.Content) string {
	var parts []string
	for _, block := range content {
		if text, ok := block.(*mcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
