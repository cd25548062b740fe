package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mcp-hub/mcphub-go/internal/config"
)

// WithRPCLogging wraps a transport so every JSON-RPC message read from or
// written to the resulting connection is reported to the sink. The sink must
// not block; panics inside it are swallowed so tracing can never take a
// connection down.
func WithRPCLogging(t mcp.Transport, sink config.RPCLogger, serverID string) mcp.Transport {
	if sink == nil {
		return t
	}
	return &loggingTransport{serverID: serverID, delegate: t, sink: sink}
}

// ZapRPCLogger is the default trace sink: one debug record per message with
// direction, server id, and raw payload.
func ZapRPCLogger(logger *zap.Logger) config.RPCLogger {
	traced := logger.Named("jsonrpc")
	return func(event config.RPCLogEvent) {
		traced.Debug("jsonrpc message",
			zap.String("server_id", event.ServerID),
			zap.String("direction", string(event.Direction)),
			zap.ByteString("payload", event.Message),
		)
	}
}

type loggingTransport struct {
	serverID string
	delegate mcp.Transport
	sink     config.RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverID: t.serverID, delegate: conn, sink: t.sink}, nil
}

type loggingConnection struct {
	serverID string
	delegate mcp.Connection
	sink     config.RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(config.RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(config.RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction config.RPCDirection, msg jsonrpc.Message) {
	defer func() {
		_ = recover()
	}()
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.sink(config.RPCLogEvent{Direction: direction, Message: encoded, ServerID: c.serverID})
}
