// Package cdp owns one remote-debug connection per page and a correlated
// request/response channel multiplexed over those connections.
package cdp

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/runtime"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

// DefaultCommandTimeout bounds every command; a page that does not answer
// within it is treated as dead for that command.
const DefaultCommandTimeout = 2 * time.Second

const (
	methodConsoleAPICalled  = "Runtime.consoleAPICalled"
	methodExceptionThrown   = "Runtime.exceptionThrown"
	methodContextsCleared   = "Runtime.executionContextsCleared"
	methodLogEntryAdded     = "Log.entryAdded"
	methodRuntimeEnable     = runtime.CommandEnable
	methodLogEnable         = cdplog.CommandEnable
	dialTimeout             = 5 * time.Second
	diagnosticEnableTimeout = 5 * time.Second
)

// Notification is an inbound frame that carries no id
type Notification struct {
	PageID string
	Method string
	Params json.RawMessage
}

// connection is the per-page record. It is never reused after teardown.
type connection struct {
	ws       *websocket.Conn
	page     models.Page
	injected bool
	writeMu  sync.Mutex
}

// Manager handles all page connections
type Manager struct {
	dialer  *websocket.Dialer
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	conns   map[string]*connection
	pending map[int64]*pendingCommand

	// Shared by every page so ids never collide across connections
	nextID atomic.Int64

	listenersMu sync.RWMutex
	listeners   []func(Notification)
}

// NewManager creates a new connection manager
func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		},
		timeout: timeout,
		logger:  logger,
		conns:   make(map[string]*connection),
		pending: make(map[int64]*pendingCommand),
	}
}

// OnNotification registers a listener for id-less frames
func (m *Manager) OnNotification(fn func(Notification)) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// Attach opens a connection to the page's debug socket. It never returns an
// error: failures are logged and reported as false.
func (m *Manager) Attach(ctx context.Context, page models.Page) bool {
	if m.Has(page.ID) {
		return true
	}
	if !page.Attachable() {
		m.logger.Warn("page has no debug socket address", zap.String("page", page.ID))
		return false
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, _, err := m.dialer.DialContext(dialCtx, page.WebSocketDebuggerURL, nil)
	if err != nil {
		m.logger.Warn("failed to connect to page",
			zap.String("page", page.ID),
			zap.String("url", page.URL),
			zap.Error(err))
		return false
	}

	conn := &connection{
		ws:   ws,
		page: page,
	}

	m.mu.Lock()
	if _, ok := m.conns[page.ID]; ok {
		// Lost a race with a concurrent attach
		m.mu.Unlock()
		ws.Close()
		return true
	}
	m.conns[page.ID] = conn
	m.mu.Unlock()

	go m.readLoop(page.ID, conn)

	m.logger.Info("attached to page", zap.String("page", page.ID), zap.String("title", page.Title))

	// Passive diagnostic feeds; failures only cost us console visibility
	go m.enableDiagnostics(page.ID)

	return true
}

func (m *Manager) enableDiagnostics(pageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), diagnosticEnableTimeout)
	defer cancel()

	for _, method := range []string{methodRuntimeEnable, methodLogEnable} {
		if _, err := m.Send(ctx, pageID, method, nil); err != nil {
			m.logger.Debug("failed to enable diagnostic feed",
				zap.String("page", pageID),
				zap.String("method", method),
				zap.Error(err))
		}
	}
}

// Detach closes one page's connection and forgets it
func (m *Manager) Detach(pageID string) {
	m.mu.Lock()
	conn, ok := m.conns[pageID]
	delete(m.conns, pageID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := conn.ws.Close(); err != nil {
		m.logger.Debug("close failed", zap.String("page", pageID), zap.Error(err))
	}
}

// DetachAll closes every socket best-effort and clears the map immediately.
// In-flight commands are left to their own deadlines.
func (m *Manager) DetachAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*connection)
	m.mu.Unlock()

	for id, conn := range conns {
		if err := conn.ws.Close(); err != nil {
			m.logger.Debug("close failed", zap.String("page", id), zap.Error(err))
		}
	}
}

// Has reports whether the page has an open connection
func (m *Manager) Has(pageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[pageID]
	return ok
}

// PageIDs lists connected page ids in sorted order
func (m *Manager) PageIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Page returns the descriptor the page was attached with
func (m *Manager) Page(pageID string) (models.Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[pageID]
	if !ok {
		return models.Page{}, false
	}
	return conn.page, true
}

// Injected reports the page's injection flag
func (m *Manager) Injected(pageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[pageID]
	return ok && conn.injected
}

// SetInjected updates the page's injection flag. Unknown pages are ignored.
func (m *Manager) SetInjected(pageID string, injected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[pageID]; ok {
		conn.injected = injected
	}
}

func (m *Manager) readLoop(pageID string, conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Info("page connection lost", zap.String("page", pageID), zap.Error(err))
			} else {
				m.logger.Debug("page connection closed", zap.String("page", pageID), zap.Error(err))
			}
			m.remove(pageID, conn)
			return
		}
		m.handleFrame(pageID, data)
	}
}

// remove drops the record only if it is still the page's current connection
func (m *Manager) remove(pageID string, conn *connection) {
	m.mu.Lock()
	if current, ok := m.conns[pageID]; ok && current == conn {
		delete(m.conns, pageID)
	}
	m.mu.Unlock()
	conn.ws.Close()
}

type inboundFrame struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *ProtocolError  `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (m *Manager) handleFrame(pageID string, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.logger.Debug("ignoring malformed frame", zap.String("page", pageID), zap.Error(err))
		return
	}

	if frame.ID != 0 {
		if cmd := m.takePending(frame.ID); cmd != nil {
			if frame.Error != nil {
				cmd.settle(nil, frame.Error)
			} else {
				cmd.settle(frame.Result, nil)
			}
			return
		}
	}

	switch frame.Method {
	case methodConsoleAPICalled:
		var ev runtime.EventConsoleAPICalled
		if err := json.Unmarshal(frame.Params, &ev); err == nil {
			m.logger.Debug("page console",
				zap.String("page", pageID),
				zap.String("level", string(ev.Type)),
				zap.String("text", consoleText(ev.Args)))
		}
	case methodExceptionThrown:
		var ev runtime.EventExceptionThrown
		if err := json.Unmarshal(frame.Params, &ev); err == nil && ev.ExceptionDetails != nil {
			m.logger.Debug("page exception",
				zap.String("page", pageID),
				zap.String("error", ev.ExceptionDetails.Error()))
		}
	case methodLogEntryAdded:
		var ev cdplog.EventEntryAdded
		if err := json.Unmarshal(frame.Params, &ev); err == nil && ev.Entry != nil {
			m.logger.Debug("page log",
				zap.String("page", pageID),
				zap.String("level", string(ev.Entry.Level)),
				zap.String("text", ev.Entry.Text))
		}
	case methodContextsCleared:
		// A reload wipes the injected script
		m.SetInjected(pageID, false)
		m.logger.Info("page execution contexts cleared", zap.String("page", pageID))
	default:
		return
	}

	m.notify(Notification{PageID: pageID, Method: frame.Method, Params: frame.Params})
}

func (m *Manager) notify(n Notification) {
	m.listenersMu.RLock()
	listeners := m.listeners
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(n)
	}
}

func consoleText(args []*runtime.RemoteObject) string {
	var out []byte
	for i, arg := range args {
		if arg == nil {
			continue
		}
		if i > 0 {
			out = append(out, ' ')
		}
		switch {
		case len(arg.Value) > 0:
			out = append(out, []byte(arg.Value)...)
		case arg.Description != "":
			out = append(out, arg.Description...)
		default:
			out = append(out, string(arg.Type)...)
		}
	}
	return string(out)
}
