// Package realtime implements the Realtime Fan-out: a
// WebSocket connection manager that multiplexes every bus event to
// subscribed clients, with keepalive, drop-on-backpressure, and
// catchup for late subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/devradar/devradar/pkg/events"
	"github.com/devradar/devradar/pkg/models"
)

// writeTimeout bounds a single send to a client connection; a send that
// doesn't complete in time counts as a failed send for backpressure
// purposes.
const writeTimeout = 5 * time.Second

// defaultKeepalive is the ping cadence per connection when none is
// configured.
const defaultKeepalive = 30 * time.Second

// Bus is the subset of events.Bus the manager needs.
type Bus interface {
	Subscribe(fn events.Handler) (unsubscribe func())
	Catchup(ctx context.Context, projectID string, sinceID int64) (events []events.CatchupEvent, overflow bool, err error)
}

// clientMessage is the envelope a connected client may send.
type clientMessage struct {
	Type       string   `json:"type"`
	ProjectIDs []string `json:"projectIds,omitempty"`
	EventTypes []string `json:"eventTypes,omitempty"`
	SinceID    int64    `json:"sinceId,omitempty"`
}

// filter is a connection's current subscription, permitted by project id
// set and/or event type set; an empty set on either axis means "all".
type filter struct {
	projectIDs map[string]bool
	eventTypes map[string]bool
}

func (f filter) matches(evt models.Event) bool {
	if len(f.projectIDs) > 0 && !f.projectIDs[evt.ProjectID] {
		return false
	}
	if len(f.eventTypes) > 0 && !f.eventTypes[evt.Type] {
		return false
	}
	return true
}

// Connection is a single subscribed WebSocket client.
//
// filter is guarded by its own mutex (unlike a per-channel connection-set
// design) because Manager.broadcast reads it from the bus's delivery
// goroutine while the connection's own read loop writes it concurrently.
type Connection struct {
	ID     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	filterMu sync.RWMutex
	filter   filter
}

// Manager tracks connected clients and fans bus events out to them.
type Manager struct {
	bus       Bus
	keepalive time.Duration

	mu          sync.RWMutex
	connections map[string]*Connection

	unsubscribeBus func()
}

// NewManager creates a Manager bound to bus, pinging each connection every
// keepalive. Call Start to begin delivering bus events to connections.
func NewManager(bus Bus, keepalive time.Duration) *Manager {
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	return &Manager{
		bus:         bus,
		keepalive:   keepalive,
		connections: make(map[string]*Connection),
	}
}

// Start subscribes the manager to the bus so future events are fanned out
// to connected clients.
func (m *Manager) Start() {
	m.unsubscribeBus = m.bus.Subscribe(m.broadcast)
}

// ActiveConnections reports the number of connected clients.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection manages one client's lifecycle: sends the connected
// frame, then reads client messages (ping, subscribe, unsubscribe) until
// the connection closes.
func (m *Manager) HandleConnection(parentCtx context.Context, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:     uuid.New().String(),
		conn:   ws,
		ctx:    ctx,
		cancel: cancel,
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]any{
		"type":      "connected",
		"message":   fmt.Sprintf("connected as %s", c.ID),
		"timestamp": time.Now(),
	})

	keepalive := time.NewTicker(m.keepalive)
	defer keepalive.Stop()
	go m.keepaliveLoop(c, keepalive)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("realtime: invalid client message", "connection_id", c.ID, "error", err)
			continue
		}
		m.handleClientMessage(ctx, c, &msg)
	}
}

func (m *Manager) keepaliveLoop(c *Connection, ticker *time.Ticker) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := m.sendRaw(c, []byte(`{"type":"ping"}`)); err != nil {
				slog.Warn("realtime: keepalive failed, dropping connection", "connection_id", c.ID, "error", err)
				c.cancel()
				return
			}
		}
	}
}

func (m *Manager) handleClientMessage(ctx context.Context, c *Connection, msg *clientMessage) {
	switch msg.Type {
	case "ping":
		m.sendJSON(c, map[string]any{"type": "pong", "timestamp": time.Now()})

	case "subscribe":
		f := filter{projectIDs: toSet(msg.ProjectIDs), eventTypes: toSet(msg.EventTypes)}
		c.filterMu.Lock()
		c.filter = f
		c.filterMu.Unlock()
		m.sendJSON(c, map[string]any{"type": "subscription.confirmed"})
		m.catchup(ctx, c, f, msg.SinceID)

	case "unsubscribe":
		c.filterMu.Lock()
		c.filter = filter{}
		c.filterMu.Unlock()
		m.sendJSON(c, map[string]any{"type": "subscription.confirmed"})
	}
}

// catchup delivers events missed since sinceID for every project id the
// subscription names (or all projects, if unfiltered), so a client that
// subscribes after momentarily disconnecting doesn't silently miss
// history.
func (m *Manager) catchup(ctx context.Context, c *Connection, f filter, sinceID int64) {
	projectIDs := []string{""}
	if len(f.projectIDs) > 0 {
		projectIDs = projectIDs[:0]
		for id := range f.projectIDs {
			projectIDs = append(projectIDs, id)
		}
	}
	for _, projectID := range projectIDs {
		evts, overflow, err := m.bus.Catchup(ctx, projectID, sinceID)
		if err != nil {
			slog.Error("realtime: catchup query failed", "connection_id", c.ID, "error", err)
			continue
		}
		for _, e := range evts {
			if !f.matches(e.Event) {
				continue
			}
			m.sendJSON(c, e.Event)
		}
		if overflow {
			m.sendJSON(c, map[string]any{"type": "catchup.overflow", "projectId": projectID})
		}
	}
}

// broadcast is the bus subscription handler: it fans evt out to every
// connection whose filter matches. A send failure drops the connection
// from the set outright; there is no per-client retry queue.
func (m *Manager) broadcast(evt models.Event) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.filterMu.RLock()
		match := c.filter.matches(evt)
		c.filterMu.RUnlock()
		if !match {
			continue
		}
		if err := m.sendJSON(c, evt); err != nil {
			slog.Warn("realtime: send failed, dropping connection", "connection_id", c.ID, "error", err)
			c.cancel()
		}
	}
}

func (m *Manager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) sendJSON(c *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("realtime: failed to marshal message", "connection_id", c.ID, "error", err)
		return err
	}
	return m.sendRaw(c, data)
}

func (m *Manager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// Shutdown closes every connection with a normal-closure reason, then
// tears down the bus subscription last.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			c.cancel()
			_ = c.conn.Close(websocket.StatusNormalClosure, "server shutting down")
		}(c)
	}
	wg.Wait()

	if m.unsubscribeBus != nil {
		m.unsubscribeBus()
	}
}
