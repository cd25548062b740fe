// Package transport builds the MCP transports used by the upstream manager:
// stdio child processes, streamable HTTP, and SSE. It also provides the
// header-decorating HTTP client shared by the two HTTP transports, the
// session-id tracker, the JSON-RPC trace interceptor, and the
// streamable-to-SSE negotiator.
package transport

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-hub/mcphub-go/internal/config"
)

// Transport type names as reported in server status.
const (
	TypeStdio          = "stdio"
	TypeStreamableHTTP = "streamable-http"
	TypeSSE            = "sse"
)

// SessionIDHeaderName is the header carrying the negotiated streamable
// session id.
const SessionIDHeaderName = "Mcp-Session-Id"

// Type reports the transport a configuration selects: a command means stdio,
// a URL means streamable HTTP unless SSE is preferred.
func Type(cfg config.ServerConfig) string {
	switch c := cfg.(type) {
	case *config.StdioServerConfig:
		return TypeStdio
	case *config.HTTPServerConfig:
		if PreferSSE(c) {
			return TypeSSE
		}
		return TypeStreamableHTTP
	default:
		return "unknown"
	}
}

// PreferSSE reports whether the configuration selects the SSE transport
// outright: an explicit flag wins, otherwise endpoints ending in "/sse".
func PreferSSE(cfg *config.HTTPServerConfig) bool {
	if cfg.PreferSSE != nil {
		return *cfg.PreferSSE
	}
	return strings.HasSuffix(strings.TrimSpace(cfg.Endpoint), "/sse")
}

// NewStdioTransport builds a command transport for a child-process server.
// The configured environment is appended to the parent's.
func NewStdioTransport(cfg *config.StdioServerConfig) (mcp.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("transport: stdio command missing")
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

// NewStreamableTransport builds the streamable HTTP transport over a client
// decorated with the configured headers, tracked session id, and auth.
func NewStreamableTransport(cfg *config.HTTPServerConfig, tracker *SessionTracker) *mcp.StreamableClientTransport {
	headers := requestHeaders(cfg.RequestInit)
	return &mcp.StreamableClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: DecorateHTTPClient(cfg.HTTPClient, headers, tracker, cfg.AuthProvider),
		MaxRetries: maxRetries(cfg),
	}
}

// NewSSETransport builds the SSE transport. SSE-specific headers are layered
// over the shared request headers.
func NewSSETransport(cfg *config.HTTPServerConfig, tracker *SessionTracker) *mcp.SSEClientTransport {
	headers := mergeHeaders(requestHeaders(cfg.RequestInit), sseHeaders(cfg.EventSourceInit))
	return &mcp.SSEClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: DecorateHTTPClient(cfg.HTTPClient, headers, tracker, cfg.AuthProvider),
	}
}

// DecorateHTTPClient returns a shallow clone of base whose round tripper
// injects the given headers, the tracked session id, and an Authorization
// header from the provider when none is present.
func DecorateHTTPClient(base *http.Client, headers http.Header, tracker *SessionTracker, provider config.HTTPAuthProvider) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	clone.Transport = &headerDecorator{
		next:         next,
		headers:      cloneHeader(headers),
		tracker:      tracker,
		authProvider: provider,
	}
	return &clone
}

func maxRetries(cfg *config.HTTPServerConfig) int {
	if cfg.ReconnectionOptions != nil && cfg.ReconnectionOptions.MaxRetries != 0 {
		return cfg.ReconnectionOptions.MaxRetries
	}
	return cfg.MaxRetries
}

func requestHeaders(init *config.HTTPRequestInit) http.Header {
	if init == nil {
		return nil
	}
	return cloneHeader(init.Headers)
}

func sseHeaders(init *config.SSERequestInit) http.Header {
	if init == nil {
		return nil
	}
	return cloneHeader(init.Headers)
}

func mergeHeaders(headers ...http.Header) http.Header {
	result := http.Header{}
	for _, hdr := range headers {
		for k, values := range hdr {
			result[k] = append([]string(nil), values...)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func cloneHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	clone := make(http.Header, len(h))
	for k, values := range h {
		clone[k] = append([]string(nil), values...)
	}
	return clone
}

// SessionTracker holds the most recently negotiated streamable session id so
// reconnects and follow-up requests resume the same server-side session.
type SessionTracker struct {
	mu    sync.RWMutex
	value string
}

// NewSessionTracker seeds the tracker, typically from a persisted session id.
func NewSessionTracker(initial string) *SessionTracker {
	return &SessionTracker{value: initial}
}

// Set records the session id observed on a live connection.
func (s *SessionTracker) Set(value string) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

// Reset replaces the tracked value before a fresh connection attempt.
func (s *SessionTracker) Reset(value string) { s.Set(value) }

// Value returns the current session id, empty when none was negotiated.
func (s *SessionTracker) Value() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

type headerDecorator struct {
	next         http.RoundTripper
	headers      http.Header
	tracker      *SessionTracker
	authProvider config.HTTPAuthProvider
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if d.tracker != nil {
		if sessionID := d.tracker.Value(); sessionID != "" {
			req.Header.Set(SessionIDHeaderName, sessionID)
		}
	}
	if d.authProvider != nil && req.Header.Get("Authorization") == "" {
		token, err := d.authProvider(req.Context())
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", token)
		}
	}
	return d.next.RoundTrip(req)
}
