package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-hub/mcphub-go/internal/config"
)

// streamableProbeBudget caps the streamable attempt so a server that only
// speaks SSE does not consume the whole connect timeout before the fallback
// runs.
const streamableProbeBudget = 3 * time.Second

// DialFunc performs one connection handshake over the given transport. It
// must release any partial resources when it returns an error.
type DialFunc func(ctx context.Context, t mcp.Transport) error

// Negotiate selects and establishes the HTTP transport for a server. When the
// configuration prefers SSE, only SSE is attempted. Otherwise the streamable
// transport is tried first under a capped handshake budget, falling back to
// SSE with the full timeout. If both fail, the returned error carries both
// causes. The returned string is the transport type that connected.
func Negotiate(ctx context.Context, cfg *config.HTTPServerConfig, tracker *SessionTracker, timeout time.Duration, dial DialFunc) (string, error) {
	if PreferSSE(cfg) {
		sseCtx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		if err := dial(sseCtx, NewSSETransport(cfg, tracker)); err != nil {
			return "", err
		}
		return TypeSSE, nil
	}

	probe := timeout
	if probe <= 0 || probe > streamableProbeBudget {
		probe = streamableProbeBudget
	}
	streamCtx, cancel := context.WithTimeout(ctx, probe)
	streamErr := dial(streamCtx, NewStreamableTransport(cfg, tracker))
	cancel()
	if streamErr == nil {
		return TypeStreamableHTTP, nil
	}

	sseCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	if err := dial(sseCtx, NewSSETransport(cfg, tracker)); err != nil {
		return "", fmt.Errorf("streamable error: %v; sse error: %w", streamErr, err)
	}
	return TypeSSE, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
