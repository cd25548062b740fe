package upstream

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Well-known notification methods for AddNotificationHandler.
const (
	NotificationToolListChanged     = "notifications/tools/list_changed"
	NotificationPromptListChanged   = "notifications/prompts/list_changed"
	NotificationResourceListChanged = "notifications/resources/list_changed"
	NotificationResourceUpdated     = "notifications/resources/updated"
	NotificationLoggingMessage      = "notifications/message"
	NotificationProgress            = "notifications/progress"
)

// NotificationPayload carries an inbound notification with its raw request so
// handlers can decode method-specific params themselves.
type NotificationPayload struct {
	ServerID string
	Method   string
	Request  mcp.Request
}

// NotificationHandler observes notifications registered by method name.
type NotificationHandler func(context.Context, NotificationPayload)

// notificationRegistry holds the typed listener sets for one server.
// Registrations survive reconnects: dispatch reads the registry at delivery
// time, and the dispatching hooks are composed into the client options on
// every connect.
type notificationRegistry struct {
	toolList        []func(context.Context, *mcp.ToolListChangedRequest)
	promptList      []func(context.Context, *mcp.PromptListChangedRequest)
	resourceList    []func(context.Context, *mcp.ResourceListChangedRequest)
	resourceUpdated []func(context.Context, *mcp.ResourceUpdatedNotificationRequest)
}

// OnToolListChanged registers a listener for tools/list_changed notifications
// from the given server. Safe to call before the server ever connects.
func (m *Manager) OnToolListChanged(id string, handler func(context.Context, *mcp.ToolListChangedRequest)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	reg := m.registryLocked(id)
	reg.toolList = append(reg.toolList, handler)
	m.mu.Unlock()
}

// OnPromptListChanged registers a listener for prompts/list_changed.
func (m *Manager) OnPromptListChanged(id string, handler func(context.Context, *mcp.PromptListChangedRequest)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	reg := m.registryLocked(id)
	reg.promptList = append(reg.promptList, handler)
	m.mu.Unlock()
}

// OnResourceListChanged registers a listener for resources/list_changed.
func (m *Manager) OnResourceListChanged(id string, handler func(context.Context, *mcp.ResourceListChangedRequest)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	reg := m.registryLocked(id)
	reg.resourceList = append(reg.resourceList, handler)
	m.mu.Unlock()
}

// OnResourceUpdated registers a listener for resources/updated.
func (m *Manager) OnResourceUpdated(id string, handler func(context.Context, *mcp.ResourceUpdatedNotificationRequest)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	reg := m.registryLocked(id)
	reg.resourceUpdated = append(reg.resourceUpdated, handler)
	m.mu.Unlock()
}

// AddNotificationHandler registers a handler for an arbitrary notification
// method, delivered via the receiving middleware that observes every inbound
// request on the server's connection.
func (m *Manager) AddNotificationHandler(id, method string, handler NotificationHandler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	if _, ok := m.rawNotifications[id]; !ok {
		m.rawNotifications[id] = make(map[string][]NotificationHandler)
	}
	m.rawNotifications[id][method] = append(m.rawNotifications[id][method], handler)
	m.mu.Unlock()
}

func (m *Manager) registryLocked(id string) *notificationRegistry {
	reg := m.notifications[id]
	if reg == nil {
		reg = &notificationRegistry{}
		m.notifications[id] = reg
	}
	return reg
}

// notificationMiddleware feeds every inbound method through the raw
// notification registry before the SDK's own handling.
func (m *Manager) notificationMiddleware(id string) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != "" {
				m.dispatchRaw(ctx, id, method, req)
			}
			return next(ctx, method, req)
		}
	}
}

func (m *Manager) dispatchRaw(ctx context.Context, id, method string, req mcp.Request) {
	m.mu.RLock()
	handlers := append([]NotificationHandler(nil), m.rawNotifications[id][method]...)
	m.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	payload := NotificationPayload{ServerID: id, Method: method, Request: req}
	for _, h := range handlers {
		m.deliver(id, method, func() { h(ctx, payload) })
	}
}

func (m *Manager) dispatchToolListChanged(ctx context.Context, id string, req *mcp.ToolListChangedRequest) {
	if req == nil {
		return
	}
	m.mu.RLock()
	var handlers []func(context.Context, *mcp.ToolListChangedRequest)
	if reg := m.notifications[id]; reg != nil {
		handlers = append(handlers, reg.toolList...)
	}
	m.mu.RUnlock()
	for _, h := range handlers {
		h := h
		m.deliver(id, NotificationToolListChanged, func() { h(ctx, req) })
	}
}

func (m *Manager) dispatchPromptListChanged(ctx context.Context, id string, req *mcp.PromptListChangedRequest) {
	if req == nil {
		return
	}
	m.mu.RLock()
	var handlers []func(context.Context, *mcp.PromptListChangedRequest)
	if reg := m.notifications[id]; reg != nil {
		handlers = append(handlers, reg.promptList...)
	}
	m.mu.RUnlock()
	for _, h := range handlers {
		h := h
		m.deliver(id, NotificationPromptListChanged, func() { h(ctx, req) })
	}
}

func (m *Manager) dispatchResourceListChanged(ctx context.Context, id string, req *mcp.ResourceListChangedRequest) {
	if req == nil {
		return
	}
	m.mu.RLock()
	var handlers []func(context.Context, *mcp.ResourceListChangedRequest)
	if reg := m.notifications[id]; reg != nil {
		handlers = append(handlers, reg.resourceList...)
	}
	m.mu.RUnlock()
	for _, h := range handlers {
		h := h
		m.deliver(id, NotificationResourceListChanged, func() { h(ctx, req) })
	}
}

func (m *Manager) dispatchResourceUpdated(ctx context.Context, id string, req *mcp.ResourceUpdatedNotificationRequest) {
	if req == nil {
		return
	}
	m.mu.RLock()
	var handlers []func(context.Context, *mcp.ResourceUpdatedNotificationRequest)
	if reg := m.notifications[id]; reg != nil {
		handlers = append(handlers, reg.resourceUpdated...)
	}
	m.mu.RUnlock()
	for _, h := range handlers {
		h := h
		m.deliver(id, NotificationResourceUpdated, func() { h(ctx, req) })
	}
}

// deliver runs one listener with panic isolation so a misbehaving listener
// cannot block its siblings or poison later notifications.
func (m *Manager) deliver(id, method string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("notification listener panicked",
				zap.String("server_id", id),
				zap.String("method", method),
				zap.Any("panic", r))
		}
	}()
	fn()
}
