package transport

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcp-hub/mcphub-go/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func boolPtr(b bool) *bool { return &b }

func TestType(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ServerConfig
		want string
	}{
		{
			name: "command means stdio",
			cfg:  &config.StdioServerConfig{Command: "npx"},
			want: TypeStdio,
		},
		{
			name: "url means streamable",
			cfg:  &config.HTTPServerConfig{Endpoint: "https://example.com/mcp"},
			want: TypeStreamableHTTP,
		},
		{
			name: "sse suffix means sse",
			cfg:  &config.HTTPServerConfig{Endpoint: "https://example.com/sse"},
			want: TypeSSE,
		},
		{
			name: "explicit prefer overrides suffix heuristic",
			cfg: &config.HTTPServerConfig{
				Endpoint:  "https://example.com/sse",
				PreferSSE: boolPtr(false),
			},
			want: TypeStreamableHTTP,
		},
		{
			name: "explicit prefer selects sse",
			cfg: &config.HTTPServerConfig{
				Endpoint:  "https://example.com/mcp",
				PreferSSE: boolPtr(true),
			},
			want: TypeSSE,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Type(tt.cfg))
		})
	}
}

func TestNewStdioTransport(t *testing.T) {
	cfg := &config.StdioServerConfig{
		Command: "echo",
		Args:    []string{"hello"},
		Env:     map[string]string{"FOO": "bar"},
	}
	tr, err := NewStdioTransport(cfg)
	require.NoError(t, err)
	require.NotNil(t, tr)

	_, err = NewStdioTransport(&config.StdioServerConfig{})
	assert.Error(t, err)
}

func TestSessionTracker(t *testing.T) {
	tracker := NewSessionTracker("seed")
	assert.Equal(t, "seed", tracker.Value())

	tracker.Set("negotiated")
	assert.Equal(t, "negotiated", tracker.Value())

	tracker.Reset("")
	assert.Equal(t, "", tracker.Value())
}

func TestHeaderDecorator(t *testing.T) {
	var captured http.Header
	base := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		captured = req.Header.Clone()
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})}

	tracker := NewSessionTracker("sess-123")
	headers := http.Header{}
	headers.Set("X-Tenant", "acme")

	provider := func(ctx context.Context) (string, error) {
		return "Bearer tok", nil
	}

	client := DecorateHTTPClient(base, headers, tracker, provider)
	req, err := http.NewRequest(http.MethodPost, "https://example.com/mcp", nil)
	require.NoError(t, err)
	resp, err := client.Transport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "acme", captured.Get("X-Tenant"))
	assert.Equal(t, "sess-123", captured.Get(SessionIDHeaderName))
	assert.Equal(t, "Bearer tok", captured.Get("Authorization"))
}

func TestHeaderDecoratorKeepsExistingAuthorization(t *testing.T) {
	var captured http.Header
	base := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		captured = req.Header.Clone()
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})}

	providerCalled := false
	provider := func(ctx context.Context) (string, error) {
		providerCalled = true
		return "Bearer stale", nil
	}

	client := DecorateHTTPClient(base, nil, nil, provider)
	req, err := http.NewRequest(http.MethodGet, "https://example.com/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer fresh")
	resp, err := client.Transport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.False(t, providerCalled)
	assert.Equal(t, "Bearer fresh", captured.Get("Authorization"))
}

func TestNewSSETransportMergesEventSourceHeaders(t *testing.T) {
	shared := http.Header{}
	shared.Set("X-Shared", "1")
	sse := http.Header{}
	sse.Set("X-Stream-Only", "2")

	cfg := &config.HTTPServerConfig{
		Endpoint:        "https://example.com/sse",
		RequestInit:     &config.HTTPRequestInit{Headers: shared},
		EventSourceInit: &config.SSERequestInit{Headers: sse},
	}

	var captured http.Header
	cfg.HTTPClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		captured = req.Header.Clone()
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})}

	tr := NewSSETransport(cfg, nil)
	req, err := http.NewRequest(http.MethodGet, cfg.Endpoint, nil)
	require.NoError(t, err)
	resp, err := tr.HTTPClient.Transport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "1", captured.Get("X-Shared"))
	assert.Equal(t, "2", captured.Get("X-Stream-Only"))
}
