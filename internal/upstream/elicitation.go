package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// ElicitationHandler answers a server-initiated elicitation request directly.
type ElicitationHandler func(context.Context, *mcp.ElicitRequest) (*mcp.ElicitResult, error)

// ElicitationEvent describes one elicitation request to a callback or an
// out-of-band responder.
type ElicitationEvent struct {
	ServerID  string
	RequestID string
	Message   string
	Schema    any
	Request   *mcp.ElicitRequest
	CreatedAt time.Time
}

// ElicitationCallback is consulted when no per-server handler exists.
// Returning a non-nil result answers the server immediately; returning a nil
// result with a nil error defers until RespondToElicitation resolves the
// event's RequestID.
type ElicitationCallback func(context.Context, *ElicitationEvent) (*mcp.ElicitResult, error)

// pendingElicitation is the single-shot future shared between the connection
// goroutine awaiting an answer and the out-of-band responder.
type pendingElicitation struct {
	event  ElicitationEvent
	result chan *mcp.ElicitResult
}

func newPendingElicitation(event ElicitationEvent) *pendingElicitation {
	return &pendingElicitation{event: event, result: make(chan *mcp.ElicitResult, 1)}
}

func (p *pendingElicitation) resolve(res *mcp.ElicitResult) {
	select {
	case p.result <- res:
	default:
	}
}

func (p *pendingElicitation) await(ctx context.Context) (*mcp.ElicitResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-p.result:
		return res, nil
	}
}

// SetElicitationHandler installs a per-server handler. It takes effect for
// live connections immediately; the hook consults the registry per request.
func (m *Manager) SetElicitationHandler(id string, handler ElicitationHandler) {
	m.mu.Lock()
	m.serverElicitations[id] = handler
	m.mu.Unlock()
}

// ClearElicitationHandler removes the per-server handler.
func (m *Manager) ClearElicitationHandler(id string) {
	m.SetElicitationHandler(id, nil)
}

// SetElicitationCallback installs the process-wide callback used when no
// per-server handler is registered. Applies to live connections without a
// reconnect.
func (m *Manager) SetElicitationCallback(callback ElicitationCallback) {
	m.mu.Lock()
	m.elicitCallback = callback
	m.mu.Unlock()
}

// ClearElicitationCallback removes the process-wide callback.
func (m *Manager) ClearElicitationCallback() {
	m.SetElicitationCallback(nil)
}

// PendingElicitations returns a snapshot of unresolved elicitation events
// keyed by request id.
func (m *Manager) PendingElicitations() map[string]ElicitationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make(map[string]ElicitationEvent, len(m.pendingElicits))
	for id, pending := range m.pendingElicits {
		snapshot[id] = pending.event
	}
	return snapshot
}

// RespondToElicitation resolves a parked elicitation exactly once. It returns
// false when the request id is unknown or already resolved.
func (m *Manager) RespondToElicitation(requestID string, result *mcp.ElicitResult) bool {
	pending := m.takePendingElicitation(requestID)
	if pending == nil {
		return false
	}
	pending.resolve(result)
	return true
}

func (m *Manager) takePendingElicitation(requestID string) *pendingElicitation {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending, ok := m.pendingElicits[requestID]
	if ok {
		delete(m.pendingElicits, requestID)
	}
	return pending
}

// handleElicitation is the hook wired into every client's options. Precedence:
// per-server handler, then the global callback, then a handler supplied via
// client options, and finally the pending surface: the request is parked and
// the triggering server operation fails with an ElicitationRequiredError
// carrying the request id, message, and schema.
func (m *Manager) handleElicitation(ctx context.Context, id string, req *mcp.ElicitRequest, fallback ElicitationHandler) (*mcp.ElicitResult, error) {
	m.mu.RLock()
	handler := m.serverElicitations[id]
	callback := m.elicitCallback
	m.mu.RUnlock()

	if handler != nil {
		return handler(ctx, req)
	}
	if callback != nil {
		return m.invokeElicitationCallback(ctx, id, req, callback)
	}
	if fallback != nil {
		return fallback(ctx, req)
	}

	event := newElicitationEvent(id, req)
	pending := newPendingElicitation(event)
	m.mu.Lock()
	m.pendingElicits[event.RequestID] = pending
	m.mu.Unlock()
	m.logger.Info("elicitation parked",
		zap.String("server_id", id),
		zap.String("request_id", event.RequestID))
	return nil, &ElicitationRequiredError{
		ServerID:  id,
		RequestID: event.RequestID,
		Message:   event.Message,
		Schema:    event.Schema,
	}
}

// invokeElicitationCallback parks the event first so the callback (or anyone
// it hands the request id to) can resolve it via RespondToElicitation, then
// waits for either path to produce a result.
func (m *Manager) invokeElicitationCallback(ctx context.Context, id string, req *mcp.ElicitRequest, callback ElicitationCallback) (*mcp.ElicitResult, error) {
	event := newElicitationEvent(id, req)
	pending := newPendingElicitation(event)
	m.mu.Lock()
	m.pendingElicits[event.RequestID] = pending
	m.mu.Unlock()

	result, err := callback(ctx, &event)
	if err != nil {
		m.takePendingElicitation(event.RequestID)
		return nil, err
	}
	if result != nil {
		pending.resolve(result)
	}
	res, waitErr := pending.await(ctx)
	m.takePendingElicitation(event.RequestID)
	if waitErr != nil {
		return nil, waitErr
	}
	if res == nil {
		return nil, fmt.Errorf("upstream: elicitation %s cancelled", event.RequestID)
	}
	return res, nil
}

func newElicitationEvent(id string, req *mcp.ElicitRequest) ElicitationEvent {
	event := ElicitationEvent{
		ServerID:  id,
		RequestID: fmt.Sprintf("elicit_%s", uuid.NewString()),
		Request:   req,
		CreatedAt: time.Now(),
	}
	if req != nil && req.Params != nil {
		event.Message = req.Params.Message
		event.Schema = req.Params.RequestedSchema
	}
	return event
}
