package aitools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcp-hub/mcphub-go/internal/config"
	"github.com/mcp-hub/mcphub-go/internal/upstream"
)

func startServer(t *testing.T, tools map[string]string) string {
	t.Helper()
	server := mcp.NewServer(
		&mcp.Implementation{Name: "aitools-upstream", Version: "0.1.0"},
		&mcp.ServerOptions{HasTools: true},
	)
	for name, reply := range tools {
		reply := reply
		server.AddTool(&mcp.Tool{
			Name:        name,
			Description: "test tool " + name,
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string"},
				},
			},
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: reply}}}, nil
		})
	}
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	hs := httptest.NewServer(handler)
	t.Cleanup(hs.Close)
	return hs.URL
}

func newManager(t *testing.T, configs map[string]config.ServerConfig) *upstream.Manager {
	t.Helper()
	m, err := upstream.NewManager(configs, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { m.DisconnectAll(context.Background()) })
	return m
}

func cfg(url string) *config.HTTPServerConfig {
	return &config.HTTPServerConfig{
		BaseServerConfig: config.BaseServerConfig{Timeout: 15 * time.Second},
		Endpoint:         url,
	}
}

func TestToolsetCollectsAndTags(t *testing.T) {
	urlA := startServer(t, map[string]string{"search": "from-a", "fetch": "fetched"})
	m := newManager(t, map[string]config.ServerConfig{"a": cfg(urlA)})

	ctx := context.Background()
	tools, err := Toolset(ctx, m)
	require.NoError(t, err)
	require.Len(t, tools, 2)

	search := tools["search"]
	require.NotNil(t, search)
	assert.Equal(t, "a", search.ServerID)
	assert.Equal(t, "object", search.Parameters["type"])
	props, ok := search.Parameters["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, search.Parameters, "additionalProperties")
}

func TestToolsetExecuteRoutesThroughManager(t *testing.T) {
	url := startServer(t, map[string]string{"search": "hit"})
	m := newManager(t, map[string]config.ServerConfig{"a": cfg(url)})

	ctx := context.Background()
	tools, err := Toolset(ctx, m)
	require.NoError(t, err)

	res, err := tools["search"].Execute(ctx, map[string]any{"query": "x"})
	require.NoError(t, err)
	require.NotNil(t, res)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "hit", text.Text)
}

func TestToolsetCollisionLastServerWins(t *testing.T) {
	urlA := startServer(t, map[string]string{"search": "from-a"})
	urlB := startServer(t, map[string]string{"search": "from-b"})
	m := newManager(t, map[string]config.ServerConfig{
		"a": cfg(urlA),
		"b": cfg(urlB),
	})

	ctx := context.Background()
	tools, err := Toolset(ctx, m, "a", "b")
	require.NoError(t, err)
	require.Len(t, tools, 1)

	// Iteration is sorted by server id, so the later id owns the name.
	assert.Equal(t, "b", tools["search"].ServerID)

	res, err := tools["search"].Execute(ctx, nil)
	require.NoError(t, err)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "from-b", text.Text)
}

func TestToolsetSkipsExplicitlyDisconnectedServers(t *testing.T) {
	urlA := startServer(t, map[string]string{"alpha_tool": "from-a"})
	urlB := startServer(t, map[string]string{"beta_tool": "from-b"})
	m := newManager(t, map[string]config.ServerConfig{
		"alpha": cfg(urlA),
		"beta":  cfg(urlB),
	})

	ctx := context.Background()
	_, err := m.Connect(ctx, "beta", nil)
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(ctx, "beta"))

	tools, err := Toolset(ctx, m)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "alpha", tools["alpha_tool"].ServerID)

	// Explicitly naming the disconnected server still errors.
	_, err = Toolset(ctx, m, "beta")
	var notConnected *upstream.NotConnectedError
	assert.ErrorAs(t, err, &notConnected)
}

func TestToolsetUnknownServer(t *testing.T) {
	m := newManager(t, nil)
	_, err := Toolset(context.Background(), m, "ghost")
	require.Error(t, err)
	var unknown *upstream.UnknownServerError
	assert.ErrorAs(t, err, &unknown)
}

func TestNormalizeSchema(t *testing.T) {
	t.Run("nil schema yields empty object", func(t *testing.T) {
		got, err := NormalizeSchema(nil)
		require.NoError(t, err)
		assert.Equal(t, "object", got["type"])
		assert.Equal(t, map[string]any{}, got["properties"])
		assert.Equal(t, false, got["additionalProperties"])
	})

	t.Run("existing fields preserved", func(t *testing.T) {
		schema := &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": {Type: "string"},
			},
			Required: []string{"name"},
		}
		got, err := NormalizeSchema(schema)
		require.NoError(t, err)
		assert.Equal(t, "object", got["type"])
		props := got["properties"].(map[string]any)
		assert.Contains(t, props, "name")
		assert.Equal(t, []any{"name"}, got["required"])
	})

	t.Run("non-object type coerced", func(t *testing.T) {
		got, err := NormalizeSchema(map[string]any{"type": "string"})
		require.NoError(t, err)
		assert.Equal(t, "object", got["type"])
		assert.NotNil(t, got["properties"])
	})

	t.Run("explicit additionalProperties kept", func(t *testing.T) {
		got, err := NormalizeSchema(map[string]any{"additionalProperties": true})
		require.NoError(t, err)
		assert.Equal(t, true, got["additionalProperties"])
	})
}
