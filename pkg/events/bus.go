// Package events implements the internal event bus: a PostgreSQL
// LISTEN/NOTIFY transport with an outbox for publishes made while
// disconnected, plus the catchup query the realtime fan-out uses to cover
// the gap between a client subscribing and its LISTEN becoming active.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devradar/devradar/pkg/models"
)

// Channel is the single PostgreSQL NOTIFY channel devradar publishes every
// event on; subscribers filter locally by event type and project id.
const Channel = "devradar_events"

// maxOutboxSize bounds the FIFO outbox used while the bus cannot reach
// PostgreSQL; past this, the oldest queued event is dropped and logged.
const maxOutboxSize = 1000

// reconnectCap is the ceiling on the listener's exponential backoff.
const reconnectCap = 2 * time.Second

// Handler receives events delivered on the bus. Handlers run on the bus's
// single receive goroutine, so they must bound their own blocking: hand
// long-running work to your own goroutine (the discovery subscriber does
// this via a buffered channel) or cap it with a timeout (the realtime
// fan-out's per-send write deadline). This is a type alias (not a defined
// type) so callers can pass a plain func(models.Event) literal and satisfy
// interfaces declared against that signature directly.
type Handler = func(models.Event)

// Bus is the process-local event bus client: one dedicated LISTEN
// connection for receiving NOTIFY payloads, and the shared pool for
// publishing and catchup persistence.
type Bus struct {
	connString string
	pool       *pgxpool.Pool

	conn   *pgx.Conn
	connMu sync.Mutex

	running atomic.Bool
	ready   atomic.Bool

	subsMu sync.RWMutex
	subs   map[int]Handler
	nextID int

	outboxMu sync.Mutex
	outbox   []models.Event

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// New creates a Bus. connString opens the dedicated LISTEN connection;
// pool is used for publishing and catchup queries.
func New(connString string, pool *pgxpool.Pool) *Bus {
	return &Bus{
		connString: connString,
		pool:       pool,
		subs:       make(map[int]Handler),
	}
}

// Start establishes the dedicated LISTEN connection, subscribes to
// Channel, and begins the receive loop and outbox-flush loop.
func (b *Bus) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, b.connString)
	if err != nil {
		return fmt.Errorf("events: failed to open listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("events: initial LISTEN failed: %w", err)
	}

	b.connMu.Lock()
	b.conn = conn
	b.connMu.Unlock()

	b.running.Store(true)
	b.ready.Store(true)

	// The loops are deliberately detached from the caller's ctx: on
	// shutdown the bus must stay alive until Stop so events flushed by the
	// watcher (and anything stranded in the outbox) can still be published
	// after the process-wide context is cancelled.
	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancelLoop = cancel
	b.loopDone = make(chan struct{})
	go func() {
		defer close(b.loopDone)
		b.receiveLoop(loopCtx)
	}()
	go b.flushOutboxLoop(loopCtx)

	slog.Info("events: bus started")
	return nil
}

// Stop signals the loops to exit, waits for them, makes a final attempt to
// drain the outbox, then closes the LISTEN connection. ctx should be a
// fresh shutdown context, not the already-cancelled process context.
func (b *Bus) Stop(ctx context.Context) {
	b.running.Store(false)
	b.ready.Store(false)
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	if b.loopDone != nil {
		<-b.loopDone
	}

	b.flushOutbox(ctx)
	b.outboxMu.Lock()
	if stranded := len(b.outbox); stranded > 0 {
		slog.Warn("events: stopping with unflushed outbox events", "count", stranded)
	}
	b.outboxMu.Unlock()

	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close(ctx)
		b.conn = nil
	}
}

// Ready reports whether the underlying LISTEN connection is currently
// established.
func (b *Bus) Ready() bool {
	return b.ready.Load()
}

// Subscribe registers fn to be invoked for every event delivered on the
// bus. The returned func removes the subscription.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.subsMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.subsMu.Unlock()
	return func() {
		b.subsMu.Lock()
		delete(b.subs, id)
		b.subsMu.Unlock()
	}
}

// Publish persists evt to recent_events (for catchup) and broadcasts it
// via pg_notify within the same transaction. If the pool is currently
// unreachable, evt is pushed onto the bounded outbox and flushed on
// reconnect instead of being lost.
func (b *Bus) Publish(ctx context.Context, evt models.Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if err := b.persistAndNotify(ctx, evt); err != nil {
		slog.Warn("events: publish failed, queuing to outbox", "type", evt.Type, "error", err)
		b.enqueueOutbox(evt)
		return err
	}
	return nil
}

func (b *Bus) persistAndNotify(ctx context.Context, evt models.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}

	var projectID any
	if evt.ProjectID != "" {
		projectID = evt.ProjectID
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("events: begin publish tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO recent_events (project_id, event_type, payload) VALUES ($1, $2, $3)`,
		projectID, evt.Type, payload,
	); err != nil {
		return fmt.Errorf("events: persist event: %w", err)
	}

	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, truncateIfNeeded(payload)); err != nil {
		return fmt.Errorf("events: pg_notify: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("events: commit publish: %w", err)
	}
	return nil
}

// truncateIfNeeded keeps the NOTIFY payload under PostgreSQL's 8000-byte
// limit. Oversized events fall back to a routing-only envelope; the full
// payload remains recoverable from recent_events via catchup.
func truncateIfNeeded(payload []byte) string {
	if len(payload) <= 7900 {
		return string(payload)
	}
	var routing struct {
		Type      string `json:"type"`
		ProjectID string `json:"projectId,omitempty"`
	}
	_ = json.Unmarshal(payload, &routing)
	truncated, _ := json.Marshal(map[string]any{
		"type":      routing.Type,
		"projectId": routing.ProjectID,
		"truncated": true,
	})
	return string(truncated)
}

func (b *Bus) enqueueOutbox(evt models.Event) {
	b.outboxMu.Lock()
	defer b.outboxMu.Unlock()
	if len(b.outbox) >= maxOutboxSize {
		dropped := b.outbox[0]
		b.outbox = b.outbox[1:]
		slog.Warn("events: outbox full, dropping oldest event", "dropped_type", dropped.Type)
	}
	b.outbox = append(b.outbox, evt)
}

func (b *Bus) flushOutboxLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flushOutbox(ctx)
		}
	}
}

// flushOutbox drains the outbox in FIFO order, stopping at the first
// publish that still fails (the connection is still down).
func (b *Bus) flushOutbox(ctx context.Context) {
	for {
		b.outboxMu.Lock()
		if len(b.outbox) == 0 {
			b.outboxMu.Unlock()
			return
		}
		next := b.outbox[0]
		b.outboxMu.Unlock()

		if err := b.persistAndNotify(ctx, next); err != nil {
			return
		}

		b.outboxMu.Lock()
		if len(b.outbox) > 0 {
			b.outbox = b.outbox[1:]
		}
		b.outboxMu.Unlock()
	}
}

// receiveLoop is the sole goroutine that touches conn, avoiding the
// "conn busy" race between WaitForNotification and Exec.
func (b *Bus) receiveLoop(ctx context.Context) {
	for b.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b.connMu.Lock()
		conn := b.conn
		b.connMu.Unlock()

		if conn == nil {
			b.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue // timeout — loop back and check for shutdown
			}
			slog.Error("events: NOTIFY receive error", "error", err)
			b.ready.Store(false)
			b.reconnect(ctx)
			continue
		}

		var evt models.Event
		if err := json.Unmarshal([]byte(notification.Payload), &evt); err != nil {
			slog.Warn("events: failed to decode NOTIFY payload", "error", err)
			continue
		}

		b.subsMu.RLock()
		handlers := make([]Handler, 0, len(b.subs))
		for _, fn := range b.subs {
			handlers = append(handlers, fn)
		}
		b.subsMu.RUnlock()

		for _, fn := range handlers {
			fn(evt)
		}
	}
}

func (b *Bus) reconnect(ctx context.Context) {
	b.connMu.Lock()
	if b.conn != nil {
		_ = b.conn.Close(ctx)
		b.conn = nil
	}
	b.connMu.Unlock()

	backoff := 100 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, b.connString)
		if err != nil {
			slog.Error("events: reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, reconnectCap)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
			slog.Error("events: re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, reconnectCap)
			continue
		}

		b.connMu.Lock()
		b.conn = conn
		b.connMu.Unlock()
		b.ready.Store(true)
		slog.Info("events: bus reconnected")
		return
	}
}
