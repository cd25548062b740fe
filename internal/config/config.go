// Package config defines the configuration surface of the MCP hub: per-server
// connection settings for the stdio, SSE, and streamable HTTP transports,
// manager-wide defaults, and the logging configuration. All validation happens
// here, synchronously, before any I/O is attempted.
package config

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RPCDirection labels an observed JSON-RPC message as outbound or inbound.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent carries one JSON-RPC message observed on a managed connection.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger receives one event per JSON-RPC message when tracing is enabled.
// Loggers must not block; panics are swallowed by the transport layer.
type RPCLogger func(RPCLogEvent)

// HTTPAuthProvider supplies the Authorization header value (for example
// "Bearer <token>") for outbound HTTP requests. It is consulted only when the
// request does not already carry an Authorization header.
type HTTPAuthProvider func(context.Context) (string, error)

// HTTPRequestInit holds extra request options applied to every streamable
// HTTP request.
type HTTPRequestInit struct {
	Headers http.Header
}

// SSERequestInit holds extra request options applied to the SSE event stream
// request.
type SSERequestInit struct {
	Headers http.Header
}

// StreamableReconnectionOptions tunes the reconnect strategy of the
// streamable HTTP transport.
type StreamableReconnectionOptions struct {
	MaxRetries int
}

// BaseServerConfig captures the settings shared by every transport type.
type BaseServerConfig struct {
	// ClientOptions are merged over the manager-wide defaults; fields set
	// here win.
	ClientOptions mcp.ClientOptions

	// Timeout bounds the connection handshake and every RPC issued on the
	// resulting session. Zero means the manager default applies.
	Timeout time.Duration

	// Version reported to the server during initialization.
	Version string

	// OnError is invoked when the session terminates with an error.
	OnError func(error)

	// LogJSONRPC enables the default JSON-RPC trace sink for this server.
	LogJSONRPC bool

	// RPCLogger overrides the trace sink for this server; it takes
	// precedence over LogJSONRPC and any manager-wide sink.
	RPCLogger RPCLogger
}

// StdioServerConfig describes an MCP server launched as a child process and
// spoken to over newline-delimited JSON-RPC on stdin/stdout.
type StdioServerConfig struct {
	BaseServerConfig

	Command string
	Args    []string
	Env     map[string]string
}

// Base returns the transport-independent part of the configuration.
func (c *StdioServerConfig) Base() *BaseServerConfig { return &c.BaseServerConfig }

// Validate reports configuration errors before any process is spawned.
func (c *StdioServerConfig) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("config: stdio server requires a command")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: negative timeout %v", c.Timeout)
	}
	return nil
}

// HTTPServerConfig describes an MCP server reachable over the streamable
// HTTP transport with SSE as a fallback.
type HTTPServerConfig struct {
	BaseServerConfig

	// Endpoint is the absolute URL of the server's MCP endpoint.
	Endpoint string

	// HTTPClient, when set, is used as the base client for both HTTP
	// transports. Headers and session tracking are layered on top of it.
	HTTPClient *http.Client

	// MaxRetries for the streamable transport when ReconnectionOptions is
	// unset.
	MaxRetries int

	RequestInit         *HTTPRequestInit
	EventSourceInit     *SSERequestInit
	AuthProvider        HTTPAuthProvider
	ReconnectionOptions *StreamableReconnectionOptions

	// SessionID seeds the Mcp-Session-Id header so a previously negotiated
	// streamable session can be resumed.
	SessionID string

	// PreferSSE skips the streamable transport entirely. When nil, SSE is
	// preferred only for endpoints ending in "/sse".
	PreferSSE *bool
}

// Base returns the transport-independent part of the configuration.
func (c *HTTPServerConfig) Base() *BaseServerConfig { return &c.BaseServerConfig }

// Validate reports configuration errors before any connection is dialed.
func (c *HTTPServerConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("config: http server requires an endpoint")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("config: invalid endpoint %q: %w", c.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: endpoint %q must use http or https", c.Endpoint)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: negative timeout %v", c.Timeout)
	}
	return nil
}

// ServerConfig is the tagged union of per-server configurations. The concrete
// type selects the transport: StdioServerConfig for child processes,
// HTTPServerConfig for streamable HTTP / SSE.
type ServerConfig interface {
	Base() *BaseServerConfig
	Validate() error
}

// ManagerOptions configures a Manager instance. The zero value is usable.
type ManagerOptions struct {
	// DefaultClientName is advertised during initialization; the server ID
	// is used when empty.
	DefaultClientName string

	// DefaultClientVersion is reported to servers that do not set a
	// per-server Version.
	DefaultClientVersion string

	// DefaultTimeout applies whenever a server configuration omits one.
	DefaultTimeout time.Duration

	// DefaultClientOptions are the base MCP client options for every
	// server; per-server options override field by field.
	DefaultClientOptions mcp.ClientOptions

	// DefaultLogJSONRPC enables the default JSON-RPC trace sink for all
	// servers unless overridden per server.
	DefaultLogJSONRPC bool

	// RPCLogger is the manager-wide trace sink; per-server sinks take
	// precedence.
	RPCLogger RPCLogger

	// AutoConnect dials every registered server in the background right
	// after construction.
	AutoConnect bool
}

// Normalized fills defaults into a possibly-nil options value.
func (o *ManagerOptions) Normalized() ManagerOptions {
	var opts ManagerOptions
	if o != nil {
		opts = *o
	}
	if opts.DefaultClientVersion == "" {
		opts.DefaultClientVersion = "1.0.0"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return opts
}

// MergeClientOptions overlays src onto dst field by field; fields set in src
// win. Merge semantics are explicit so per-server overrides stay predictable.
func MergeClientOptions(dst, src *mcp.ClientOptions) {
	if src == nil {
		return
	}
	if src.CreateMessageHandler != nil {
		dst.CreateMessageHandler = src.CreateMessageHandler
	}
	if src.ElicitationHandler != nil {
		dst.ElicitationHandler = src.ElicitationHandler
	}
	if src.ToolListChangedHandler != nil {
		dst.ToolListChangedHandler = src.ToolListChangedHandler
	}
	if src.PromptListChangedHandler != nil {
		dst.PromptListChangedHandler = src.PromptListChangedHandler
	}
	if src.ResourceListChangedHandler != nil {
		dst.ResourceListChangedHandler = src.ResourceListChangedHandler
	}
	if src.ResourceUpdatedHandler != nil {
		dst.ResourceUpdatedHandler = src.ResourceUpdatedHandler
	}
	if src.LoggingMessageHandler != nil {
		dst.LoggingMessageHandler = src.LoggingMessageHandler
	}
	if src.ProgressNotificationHandler != nil {
		dst.ProgressNotificationHandler = src.ProgressNotificationHandler
	}
	if src.KeepAlive != 0 {
		dst.KeepAlive = src.KeepAlive
	}
}

// LogConfig controls logger construction for the CLI and for embedders that
// want file logging.
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable_file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable_console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir" mapstructure:"log_dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max_size"` // megabytes
	MaxBackups    int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAge        int    `json:"max_age" mapstructure:"max_age"` // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json_format"`
}
