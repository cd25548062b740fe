// Package upstream manages client connections to multiple MCP servers. It
// owns one state record per logical server id, drives each through transport
// selection and the protocol handshake, deduplicates concurrent connect
// attempts, and layers discovery, notification fan-out, and elicitation
// bridging over the live sessions.
package upstream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mcp-hub/mcphub-go/internal/config"
	"github.com/mcp-hub/mcphub-go/internal/transport"
)

// Status is the derived lifecycle state of a managed server. It is never
// stored: connected iff a live session exists, connecting iff a connect is in
// flight, disconnected otherwise.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// ServerSummary is a point-in-time snapshot of one managed server.
type ServerSummary struct {
	ID        string
	Status    Status
	Transport string
	Config    config.ServerConfig
}

// Manager orchestrates client sessions to many MCP servers. Each server's
// state machine is independent; operations on different ids never serialize
// on each other beyond the shared registry lock.
type Manager struct {
	mu sync.RWMutex

	options config.ManagerOptions
	logger  *zap.Logger

	states map[string]*serverState

	notifications    map[string]*notificationRegistry
	rawNotifications map[string]map[string][]NotificationHandler

	serverElicitations map[string]ElicitationHandler
	elicitCallback     ElicitationCallback
	pendingElicits     map[string]*pendingElicitation
}

// serverState is the single mutable record per server id. Invariant: session
// and connecting are never both set; connectCh is the future shared by every
// caller awaiting the in-flight connect.
type serverState struct {
	config config.ServerConfig

	timeout time.Duration

	client    *mcp.Client
	session   *mcp.ClientSession
	tracker   *transport.SessionTracker
	transport string

	// cancel ends the context the connection is bound to. The SDK keeps a
	// session's background streams alive only while that context lives, so
	// it must outlive the handshake deadline and fire on teardown.
	cancel context.CancelFunc

	connecting bool
	connectCh  chan struct{}

	// suspended marks an explicit Disconnect; ensureSession refuses to
	// redial until the caller reconnects deliberately.
	suspended bool

	toolsMeta map[string]map[string]any
}

// NewManager builds a manager, pre-registering the given server configs.
// Configurations are validated up front; invalid ones are rejected before any
// I/O. With AutoConnect set, every registered server is dialed in the
// background. logger may be nil.
func NewManager(configs map[string]config.ServerConfig, opts *config.ManagerOptions, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		options:            opts.Normalized(),
		logger:             logger.Named("upstream"),
		states:             make(map[string]*serverState),
		notifications:      make(map[string]*notificationRegistry),
		rawNotifications:   make(map[string]map[string][]NotificationHandler),
		serverElicitations: make(map[string]ElicitationHandler),
		pendingElicits:     make(map[string]*pendingElicitation),
	}
	for id, cfg := range configs {
		if err := m.AddServer(id, cfg); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddServer registers a server configuration without waiting for a
// connection. With AutoConnect enabled the dial happens in the background.
func (m *Manager) AddServer(id string, cfg config.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	state, ok := m.states[id]
	if !ok {
		state = newServerState()
		m.states[id] = state
	}
	state.config = cfg
	state.suspended = false
	m.mu.Unlock()

	if m.options.AutoConnect {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.options.DefaultTimeout)
			defer cancel()
			if _, err := m.ensureSession(ctx, id); err != nil {
				m.logger.Warn("background connect failed",
					zap.String("server_id", id),
					zap.Error(err))
			}
		}()
	}
	return nil
}

func newServerState() *serverState {
	return &serverState{
		tracker:   transport.NewSessionTracker(""),
		toolsMeta: make(map[string]map[string]any),
	}
}

// Connect establishes a session for the server. A nil cfg reuses the
// registered configuration. Returns ErrAlreadyConnected when a live session
// exists; concurrent calls during an in-flight connect all adopt the single
// resulting session. On failure the state rolls back to disconnected so a
// later Connect is a fresh attempt.
func (m *Manager) Connect(ctx context.Context, id string, cfg config.ServerConfig) (*mcp.ClientSession, error) {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	state, ok := m.states[id]
	if !ok {
		if cfg == nil {
			m.mu.Unlock()
			return nil, &UnknownServerError{ServerID: id}
		}
		state = newServerState()
		m.states[id] = state
	}
	if state.session != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	if cfg != nil {
		state.config = cfg
	}
	state.suspended = false
	m.mu.Unlock()

	return m.awaitOrDial(ctx, id)
}

// awaitOrDial resolves to a live session for the server: reusing one, waiting
// on the in-flight connect, or dialing. Exactly one dial runs per id at a
// time; awaiting callers adopt its result via the shared channel.
func (m *Manager) awaitOrDial(ctx context.Context, id string) (*mcp.ClientSession, error) {
	for {
		m.mu.Lock()
		state, ok := m.states[id]
		if !ok {
			m.mu.Unlock()
			return nil, &UnknownServerError{ServerID: id}
		}
		if state.session != nil {
			session := state.session
			m.mu.Unlock()
			return session, nil
		}
		if state.connecting {
			ch := state.connectCh
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ch:
				continue
			}
		}
		state.connecting = true
		state.connectCh = make(chan struct{})
		cfg := state.config
		timeout := cfg.Base().Timeout
		if timeout <= 0 {
			timeout = m.options.DefaultTimeout
		}
		state.timeout = timeout
		tracker := state.tracker
		m.mu.Unlock()

		conn, err := m.dial(ctx, id, cfg, timeout, tracker)

		m.mu.Lock()
		state.connecting = false
		close(state.connectCh)
		state.connectCh = nil
		if err != nil {
			m.mu.Unlock()
			m.logger.Warn("connect failed",
				zap.String("server_id", id),
				zap.Error(err))
			return nil, err
		}
		current, registered := m.states[id]
		if !registered || current != state || state.suspended {
			// The id was disconnected or removed while the dial was in
			// flight; the fresh session must not resurrect it.
			m.mu.Unlock()
			go func() {
				_ = conn.session.Close()
				conn.cancel()
			}()
			if !registered {
				return nil, &UnknownServerError{ServerID: id}
			}
			return nil, &NotConnectedError{ServerID: id}
		}
		state.session = conn.session
		state.client = conn.client
		state.cancel = conn.cancel
		state.transport = conn.transport
		m.mu.Unlock()
		go m.monitorSession(id, conn.session, conn.cancel, cfg.Base())
		m.logger.Info("server connected",
			zap.String("server_id", id),
			zap.String("transport", conn.transport))
		return conn.session, nil
	}
}

// dialResult bundles what a successful dial produced. Nothing is published to
// the state record until awaitOrDial re-checks it under the lock.
type dialResult struct {
	session   *mcp.ClientSession
	client    *mcp.Client
	cancel    context.CancelFunc
	transport string
}

// dial performs one connection attempt: transport construction (with
// negotiation for HTTP configs), client assembly, and the protocol handshake.
func (m *Manager) dial(ctx context.Context, id string, cfg config.ServerConfig, timeout time.Duration, tracker *transport.SessionTracker) (*dialResult, error) {
	base := cfg.Base()
	impl := &mcp.Implementation{
		Name:    m.clientName(id),
		Version: m.clientVersion(base),
	}
	clientOpts := m.composeClientOptions(id, base)
	sink := m.resolveRPCLogger(id, base)

	var result dialResult
	attempt := func(ctx context.Context, t mcp.Transport) error {
		c := mcp.NewClient(impl, &clientOpts)
		c.AddReceivingMiddleware(m.notificationMiddleware(id))
		session, cancel, err := m.handshake(ctx, c, transport.WithRPCLogging(t, sink, id))
		if err != nil {
			return err
		}
		result.session = session
		result.client = c
		result.cancel = cancel
		return nil
	}

	switch cfg := cfg.(type) {
	case *config.StdioServerConfig:
		t, err := transport.NewStdioTransport(cfg)
		if err != nil {
			return nil, err
		}
		dialCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := attempt(dialCtx, t); err != nil {
			return nil, err
		}
		result.transport = transport.TypeStdio
	case *config.HTTPServerConfig:
		tracker.Reset(cfg.SessionID)
		used, err := transport.Negotiate(ctx, cfg, tracker, timeout, attempt)
		if err != nil {
			return nil, err
		}
		result.transport = used
		tracker.Set(result.session.ID())
	default:
		return nil, &UnknownServerError{ServerID: id}
	}
	return &result, nil
}

// handshake runs the protocol handshake bounded by ctx while binding the
// connection itself to an independent context. The SDK ties a session's
// background streams (the streamable GET, the SSE event stream) to the
// context passed to Connect, so the handshake deadline must not cancel it
// once the session is established. The returned CancelFunc ends the
// connection and fires on disconnect or when the session's monitor exits.
func (m *Manager) handshake(ctx context.Context, client *mcp.Client, t mcp.Transport) (*mcp.ClientSession, context.CancelFunc, error) {
	connCtx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		session *mcp.ClientSession
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		session, err := client.Connect(connCtx, t, nil)
		done <- outcome{session: session, err: err}
	}()
	select {
	case <-ctx.Done():
		cancel()
		if out := <-done; out.err == nil && out.session != nil {
			_ = out.session.Close()
		}
		return nil, nil, ctx.Err()
	case out := <-done:
		if out.err != nil {
			cancel()
			return nil, nil, out.err
		}
		return out.session, cancel, nil
	}
}

// monitorSession resets the state record when the session ends so stale
// connected status is never observed after a server-initiated close, and
// releases the connection context.
func (m *Manager) monitorSession(id string, session *mcp.ClientSession, cancel context.CancelFunc, base *config.BaseServerConfig) {
	err := session.Wait()
	cancel()
	if err != nil && base.OnError != nil {
		base.OnError(err)
	}
	m.mu.Lock()
	if state, ok := m.states[id]; ok && state.session == session {
		state.session = nil
		state.client = nil
		state.cancel = nil
		state.toolsMeta = make(map[string]map[string]any)
	}
	m.mu.Unlock()
	m.logger.Debug("session ended",
		zap.String("server_id", id),
		zap.Error(err))
}

// ensureSession is the front door for every RPC operation: unknown ids error,
// in-flight connects are awaited, transiently disconnected servers are
// redialed from the stored config, explicitly disconnected servers report
// NotConnectedError until reconnected.
func (m *Manager) ensureSession(ctx context.Context, id string) (*mcp.ClientSession, error) {
	m.mu.RLock()
	state, ok := m.states[id]
	if !ok {
		m.mu.RUnlock()
		return nil, &UnknownServerError{ServerID: id}
	}
	suspended := state.suspended && state.session == nil && !state.connecting
	m.mu.RUnlock()
	if suspended {
		return nil, &NotConnectedError{ServerID: id}
	}
	return m.awaitOrDial(ctx, id)
}

// Disconnect closes the server's session. The local state (session, client,
// tool metadata) is cleared unconditionally so a close failure cannot leak
// stale status, and the close itself is best-effort: failures are logged, not
// returned. The configuration is kept; the server reports NotConnectedError
// until the next Connect, even when a connect was in flight when Disconnect
// was called.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	m.mu.Lock()
	state, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		return &UnknownServerError{ServerID: id}
	}
	session := state.session
	cancel := state.cancel
	state.session = nil
	state.client = nil
	state.cancel = nil
	state.suspended = true
	state.toolsMeta = make(map[string]map[string]any)
	m.mu.Unlock()

	if session == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	var closeErr error
	go func() {
		closeErr = session.Close()
		close(done)
		if cancel != nil {
			cancel()
		}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	if closeErr != nil {
		m.logger.Warn("session close failed",
			zap.String("server_id", id),
			zap.Error(closeErr))
	}
	m.logger.Info("server disconnected", zap.String("server_id", id))
	return nil
}

// RemoveServer disconnects the server and forgets its configuration,
// notification and elicitation registrations, and pending elicitations.
func (m *Manager) RemoveServer(ctx context.Context, id string) error {
	err := m.Disconnect(ctx, id)
	if _, unknown := err.(*UnknownServerError); unknown {
		return err
	}
	m.mu.Lock()
	delete(m.states, id)
	delete(m.notifications, id)
	delete(m.rawNotifications, id)
	delete(m.serverElicitations, id)
	var orphaned []*pendingElicitation
	for reqID, pending := range m.pendingElicits {
		if pending.event.ServerID == id {
			delete(m.pendingElicits, reqID)
			orphaned = append(orphaned, pending)
		}
	}
	m.mu.Unlock()
	for _, pending := range orphaned {
		pending.resolve(nil)
	}
	return err
}

// Status derives the lifecycle state for a server id.
func (m *Manager) Status(id string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[id]
	if !ok {
		return StatusDisconnected, &UnknownServerError{ServerID: id}
	}
	switch {
	case state.session != nil:
		return StatusConnected, nil
	case state.connecting:
		return StatusConnecting, nil
	default:
		return StatusDisconnected, nil
	}
}

// ListServers returns the registered server ids in sorted order.
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedIDs(m.states)
}

// HasServer reports whether a server id is registered.
func (m *Manager) HasServer(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.states[id]
	return ok
}

// Summaries returns status snapshots for every managed server, sorted by id.
func (m *Manager) Summaries() []ServerSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]ServerSummary, 0, len(m.states))
	for _, id := range sortedIDs(m.states) {
		state := m.states[id]
		summary := ServerSummary{ID: id, Config: state.config}
		switch {
		case state.session != nil:
			summary.Status = StatusConnected
			summary.Transport = state.transport
		case state.connecting:
			summary.Status = StatusConnecting
		default:
			summary.Status = StatusDisconnected
		}
		if summary.Transport == "" {
			summary.Transport = transport.Type(state.config)
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// ConnectAll dials every registered server concurrently and returns the ids
// that failed, keyed to their errors. Failures in one server never affect the
// others.
func (m *Manager) ConnectAll(ctx context.Context) map[string]error {
	ids := m.ListServers()
	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := make(map[string]error)
	for _, id := range ids {
		wg.Add(1)
		go func(serverID string) {
			defer wg.Done()
			if _, err := m.ensureSession(ctx, serverID); err != nil {
				mu.Lock()
				failures[serverID] = err
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return failures
}

// DisconnectAll closes every live session, continuing past individual
// failures.
func (m *Manager) DisconnectAll(ctx context.Context) {
	for _, id := range m.ListServers() {
		if err := m.Disconnect(ctx, id); err != nil {
			m.logger.Warn("disconnect failed",
				zap.String("server_id", id),
				zap.Error(err))
		}
	}
}

// Ping issues a protocol-level ping, connecting first if needed.
func (m *Manager) Ping(ctx context.Context, id string) error {
	session, err := m.ensureSession(ctx, id)
	if err != nil {
		return err
	}
	ctx, cancel := m.opTimeout(ctx, id)
	defer cancel()
	return session.Ping(ctx, nil)
}

// GetSessionID returns the negotiated session id. Only HTTP transports carry
// one; stdio servers and servers without a live session error.
func (m *Manager) GetSessionID(id string) (string, error) {
	m.mu.RLock()
	state, ok := m.states[id]
	if !ok {
		m.mu.RUnlock()
		return "", &UnknownServerError{ServerID: id}
	}
	cfg := state.config
	session := state.session
	tracker := state.tracker
	m.mu.RUnlock()

	if _, isHTTP := cfg.(*config.HTTPServerConfig); !isHTTP {
		return "", &NotConnectedError{ServerID: id}
	}
	if session == nil {
		return "", &NotConnectedError{ServerID: id}
	}
	if sid := session.ID(); sid != "" {
		return sid, nil
	}
	if sid := tracker.Value(); sid != "" {
		return sid, nil
	}
	return "", &NotConnectedError{ServerID: id}
}

// opTimeout derives the per-call context from the server's configured
// timeout. An abandoned call cancels only itself; the session stays intact.
func (m *Manager) opTimeout(ctx context.Context, id string) (context.Context, context.CancelFunc) {
	m.mu.RLock()
	timeout := m.options.DefaultTimeout
	if state, ok := m.states[id]; ok && state.timeout > 0 {
		timeout = state.timeout
	}
	m.mu.RUnlock()
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (m *Manager) clientName(id string) string {
	if m.options.DefaultClientName != "" {
		return m.options.DefaultClientName
	}
	return id
}

func (m *Manager) clientVersion(base *config.BaseServerConfig) string {
	if base.Version != "" {
		return base.Version
	}
	return m.options.DefaultClientVersion
}

func (m *Manager) resolveRPCLogger(id string, base *config.BaseServerConfig) config.RPCLogger {
	if base.RPCLogger != nil {
		return base.RPCLogger
	}
	if !base.LogJSONRPC && !m.options.DefaultLogJSONRPC {
		return nil
	}
	if m.options.RPCLogger != nil {
		return m.options.RPCLogger
	}
	return transport.ZapRPCLogger(m.logger)
}

// composeClientOptions merges the manager defaults with the per-server
// overrides, then wraps the notification and elicitation hooks so the
// registries are consulted at delivery time. Registrations made after connect
// therefore take effect on live connections without a reconnect.
func (m *Manager) composeClientOptions(id string, base *config.BaseServerConfig) mcp.ClientOptions {
	opts := m.options.DefaultClientOptions
	config.MergeClientOptions(&opts, &base.ClientOptions)

	userTool := opts.ToolListChangedHandler
	userPrompt := opts.PromptListChangedHandler
	userResourceList := opts.ResourceListChangedHandler
	userResourceUpdated := opts.ResourceUpdatedHandler
	userElicit := opts.ElicitationHandler

	opts.ToolListChangedHandler = func(ctx context.Context, req *mcp.ToolListChangedRequest) {
		if userTool != nil {
			userTool(ctx, req)
		}
		m.dispatchToolListChanged(ctx, id, req)
	}
	opts.PromptListChangedHandler = func(ctx context.Context, req *mcp.PromptListChangedRequest) {
		if userPrompt != nil {
			userPrompt(ctx, req)
		}
		m.dispatchPromptListChanged(ctx, id, req)
	}
	opts.ResourceListChangedHandler = func(ctx context.Context, req *mcp.ResourceListChangedRequest) {
		if userResourceList != nil {
			userResourceList(ctx, req)
		}
		m.dispatchResourceListChanged(ctx, id, req)
	}
	opts.ResourceUpdatedHandler = func(ctx context.Context, req *mcp.ResourceUpdatedNotificationRequest) {
		if userResourceUpdated != nil {
			userResourceUpdated(ctx, req)
		}
		m.dispatchResourceUpdated(ctx, id, req)
	}
	opts.ElicitationHandler = func(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
		return m.handleElicitation(ctx, id, req, userElicit)
	}
	return opts
}

func sortedIDs(states map[string]*serverState) []string {
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
