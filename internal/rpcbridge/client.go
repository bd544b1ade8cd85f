// Package rpcbridge is a JSON-RPC 2.0 client over a project-local Unix
// domain socket, with newline-delimited framing, a bounded history
// ring, and exponential-backoff reconnection.
package rpcbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonhardwick-spec/wrangler/internal/events"
)

const (
	defaultConnectTimeout  = 5 * time.Second
	defaultRequestTimeout  = 30 * time.Second
	defaultHealthTimeout   = 3 * time.Second
	defaultMaxReconnects   = 5
	defaultReconnectBase   = 500 * time.Millisecond
	defaultReconnectMax    = 30 * time.Second
	defaultHistoryCapacity = 50
)

type pendingEntry struct {
	method  string
	resultC chan pendingResult
	timer   *time.Timer
	done    atomic.Bool
}

type pendingResult struct {
	result json.RawMessage
	err    error
}

// Bridge is the RpcBridge component. Construct with New; call Connect
// before the first Request, or let the first failed Request schedule
// a reconnect in the background.
type Bridge struct {
	SocketPath    string
	Log           *slog.Logger
	Bus           *events.Bus
	MaxReconnect  int
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	idSeq atomic.Uint64

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	closed    bool
	pending   map[uint64]*pendingEntry
	attempts  int
	bo        *backoff
	stopCh    chan struct{}

	writeMu sync.Mutex
	queue   [][]byte // marshaled frames awaiting a live connection

	history *historyRing
}

// New constructs a Bridge bound to socketPath. bus/log may be nil.
func New(socketPath string, bus *events.Bus, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.New(slog.NewTextHandler(nullWriter{}, nil))
	}
	return &Bridge{
		SocketPath:    socketPath,
		Log:           log,
		Bus:           bus,
		MaxReconnect:  defaultMaxReconnects,
		ReconnectBase: defaultReconnectBase,
		ReconnectMax:  defaultReconnectMax,
		pending:       make(map[uint64]*pendingEntry),
		bo:            newBackoff(defaultReconnectBase, defaultReconnectMax),
		stopCh:        make(chan struct{}),
		history:       newHistoryRing(defaultHistoryCapacity),
	}
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

// Connect dials the socket with a 5s bound and starts the read loop.
func (b *Bridge) Connect(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(cctx, "unix", b.SocketPath)
	if err != nil {
		return fmt.Errorf("rpcbridge: connect: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.connected = true
	b.attempts = 0
	b.bo.Reset()
	b.mu.Unlock()

	go b.readLoop(conn)
	b.flushQueue()
	return nil
}

// flushQueue writes every frame queued while disconnected, in arrival
// order, now that a connection is live.
func (b *Bridge) flushQueue() {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()
	for _, frame := range pending {
		if err := b.writeRaw(frame); err != nil {
			b.handleDisconnect(err)
			return
		}
	}
}

// Request assigns a monotone id, registers a pending entry, writes the
// framed message, and waits for resolution, rejection, or timeout.
func (b *Bridge) Request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	id := b.idSeq.Add(1)

	var paramsJSON json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("rpcbridge: marshal params: %w", err)
		}
		paramsJSON = encoded
	}

	entry := &pendingEntry{method: method, resultC: make(chan pendingResult, 1)}
	entry.timer = time.AfterFunc(timeout, func() { b.timeoutPending(id) })

	b.mu.Lock()
	b.pending[id] = entry
	connected := b.connected
	b.mu.Unlock()

	b.history.Append(HistoryEntry{Kind: "request", Method: method, ID: id, Timestamp: nowMillis()})

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}
	frame, err := json.Marshal(req)
	if err != nil {
		entry.timer.Stop()
		b.removePending(id)
		return nil, fmt.Errorf("rpcbridge: marshal request: %w", err)
	}
	frame = append(frame, '\n')

	if connected {
		if err := b.writeRaw(frame); err != nil {
			b.handleDisconnect(err)
		}
	} else {
		b.mu.Lock()
		b.queue = append(b.queue, frame)
		b.mu.Unlock()
		b.scheduleReconnect()
	}

	select {
	case res := <-entry.resultC:
		return res.result, res.err
	case <-ctx.Done():
		b.removePending(id)
		entry.timer.Stop()
		return nil, ctx.Err()
	}
}

// writeRaw serializes writes across producers so frames land on the
// socket in the order Request calls arrived.
func (b *Bridge) writeRaw(data []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrConnectionClosed
	}
	_, err := conn.Write(data)
	return err
}

func (b *Bridge) timeoutPending(id uint64) {
	entry := b.removePending(id)
	if entry == nil {
		return
	}
	if entry.done.CompareAndSwap(false, true) {
		entry.resultC <- pendingResult{err: ErrRequestTimeout}
	}
	b.history.Append(HistoryEntry{Kind: "error", Method: entry.method, ID: id, Detail: ErrRequestTimeout.Error(), Timestamp: nowMillis()})
}

func (b *Bridge) removePending(id uint64) *pendingEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	return e
}

func (b *Bridge) readLoop(conn net.Conn) {
	reader := bufio.NewReaderSize(conn, 64*1024)
	var partial bytes.Buffer
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			partial.Write(bytes.TrimRight(line, "\n"))
			if bytes.HasSuffix(line, []byte("\n")) {
				b.handleLine(partial.Bytes())
				partial.Reset()
			}
		}
		if err != nil {
			b.handleDisconnect(err)
			return
		}
	}
}

func (b *Bridge) handleLine(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	var env inboundEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		b.history.Append(HistoryEntry{Kind: "malformed", Detail: err.Error(), Timestamp: nowMillis()})
		b.Log.Warn("rpcbridge: malformed frame", "err", err)
		return
	}

	switch {
	case env.ID != nil && env.Method == "":
		id := *env.ID
		entry := b.removePending(id)
		if entry == nil {
			return
		}
		entry.timer.Stop()
		if entry.done.CompareAndSwap(false, true) {
			if env.Error != nil {
				entry.resultC <- pendingResult{err: env.Error}
				b.history.Append(HistoryEntry{Kind: "error", Method: entry.method, ID: id, Detail: env.Error.Error(), Timestamp: nowMillis()})
			} else {
				entry.resultC <- pendingResult{result: env.Result}
				b.history.Append(HistoryEntry{Kind: "response", Method: entry.method, ID: id, Timestamp: nowMillis()})
			}
		}

	case env.Method != "" && env.ID == nil:
		b.history.Append(HistoryEntry{Kind: "notification", Method: env.Method, Timestamp: nowMillis()})
		b.emit(events.TypeRPCNotification, env.Method, env.Params)

	default:
		b.history.Append(HistoryEntry{Kind: "malformed", Detail: "unsupported message shape", Timestamp: nowMillis()})
	}
}

func (b *Bridge) handleDisconnect(cause error) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = false
	conn := b.conn
	b.conn = nil
	pendingCopy := b.pending
	b.pending = make(map[uint64]*pendingEntry)
	closed := b.closed
	b.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	for id, entry := range pendingCopy {
		entry.timer.Stop()
		if entry.done.CompareAndSwap(false, true) {
			entry.resultC <- pendingResult{err: ErrConnectionClosed}
		}
		b.history.Append(HistoryEntry{Kind: "error", Method: entry.method, ID: id, Detail: ErrConnectionClosed.Error(), Timestamp: nowMillis()})
	}

	b.emit(events.TypeRPCError, "", cause.Error())
	if !closed {
		b.scheduleReconnect()
	}
}

func (b *Bridge) scheduleReconnect() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	maxAttempts := b.MaxReconnect
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxReconnects
	}
	if b.attempts >= maxAttempts {
		b.mu.Unlock()
		b.Log.Warn("rpcbridge: reconnect attempts exhausted", "socket", b.SocketPath)
		b.emit(events.TypeRPCError, "", ErrReconnectAttemptsExhausted.Error())
		return
	}
	b.attempts++
	delay := b.bo.Next()
	b.mu.Unlock()

	go func() {
		select {
		case <-time.After(delay):
		case <-b.stopCh:
			return
		}
		if err := b.Connect(context.Background()); err != nil {
			b.Log.Warn("rpcbridge: reconnect failed", "err", err, "delay", delay)
			b.scheduleReconnect()
		}
	}()
}

// Disconnect tears down the socket and rejects all pending requests
// with ErrDisconnected. Idempotent.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conn := b.conn
	b.conn = nil
	b.connected = false
	pendingCopy := b.pending
	b.pending = make(map[uint64]*pendingEntry)
	b.mu.Unlock()

	close(b.stopCh)
	if conn != nil {
		_ = conn.Close()
	}
	for _, entry := range pendingCopy {
		entry.timer.Stop()
		if entry.done.CompareAndSwap(false, true) {
			entry.resultC <- pendingResult{err: ErrDisconnected}
		}
	}
}

// HealthCheck opens a short-lived connection, writes the literal probe
// string "health" (no JSON-RPC framing), and parses the first line
// returned as JSON within 3s.
func (b *Bridge) HealthCheck(ctx context.Context) (map[string]any, error) {
	cctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(cctx, "unix", b.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("rpcbridge: health dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := cctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write([]byte("health\n")); err != nil {
		return nil, fmt.Errorf("rpcbridge: health write: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("rpcbridge: health read: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(line), &out); err != nil {
		return nil, fmt.Errorf("rpcbridge: health parse: %w", err)
	}
	return out, nil
}

// History returns the bounded history ring's current contents, oldest first.
func (b *Bridge) History() []HistoryEntry {
	return b.history.All()
}

// PendingCount reports the number of in-flight requests, for tests and
// diagnostics.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) emit(typ events.Type, session string, data any) {
	if b.Bus == nil {
		return
	}
	b.Bus.Publish(typ, session, data)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
