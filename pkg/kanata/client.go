// Package kanata implements the Kanata line protocol client (spec §4.3):
// newline-delimited JSON over TCP, reconnect with backoff, pending-change
// coalescing, default-layer capture, and the shutdown-reset guarantee.
package kanata

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"bufio"
	"fmt"

	"go.uber.org/zap"

	"github.com/kanata-switcher/switchd/pkg/wire"
)

// State is the client's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of the client's connection health. It is part of the
// supervisor's KanataSink interface; the control surface's GetStatus does
// not include it.
type Stats struct {
	State          State
	ReconnectCount uint64
	LastError      error
}

var initialBackoff = []time.Duration{0, time.Second, 2 * time.Second, 5 * time.Second}
var reconnectBackoff = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}

// Client owns the single TCP connection to Kanata. All mutable state is
// guarded by mu. The connection is read only by the read-loop goroutine
// that connectAndServe starts; it is written by the connect-time pending
// flush, that read loop's deferred-default write, Dispatch and
// ShutdownReset, all through writeActionsLocked.
type Client struct {
	host   string
	port   int
	logger *zap.SugaredLogger

	hasConfigDefault   bool
	configDefaultLayer string
	onLayerChange      func(layer string)

	mu             sync.Mutex
	state          State
	writer         *bufio.Writer
	reconnectCount uint64
	lastErr        error

	// writeMu serializes every actual write to writer. Dispatch, the
	// connect-time pending-actions flush, and the read loop's deferred-
	// default write can all reach writeActions concurrently on the same
	// connection; mu only guards field access, not the write itself.
	writeMu sync.Mutex

	autoDefaultKnown bool
	autoDefaultLayer string
	deferredDefault  bool

	managedVks     []string
	pendingActions []wire.Action
	hasPending     bool
}

// New builds a Client. onLayerChange is invoked (off the lock) for every
// LayerChange message read from the wire, including the first one per
// connection; it is how the supervisor learns of externally-sourced layer
// changes for status broadcasting.
func New(host string, port int, configDefaultLayer string, hasConfigDefault bool, onLayerChange func(string), logger *zap.SugaredLogger) *Client {
	return &Client{
		host:               host,
		port:               port,
		logger:             logger,
		hasConfigDefault:   hasConfigDefault,
		configDefaultLayer: configDefaultLayer,
		onLayerChange:      onLayerChange,
		state:              StateDisconnected,
	}
}

// Run drives the connect/reconnect loop until ctx is cancelled. It never
// gives up: permanent connect failures are retried indefinitely per spec.
func (c *Client) Run(ctx context.Context) error {
	everConnected := false
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		delays := initialBackoff
		if everConnected {
			delays = reconnectBackoff
		}
		delay := delays[minInt(attempt, len(delays)-1)]
		if delay > 0 {
			c.logger.Infof("kanata: retrying connection to %s:%d in %s", c.host, c.port, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		c.mu.Lock()
		c.state = StateConnecting
		c.mu.Unlock()

		connectedOK, err := c.connectAndServe(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		c.mu.Lock()
		c.state = StateDisconnected
		c.writer = nil
		if err != nil {
			c.lastErr = err
		}
		if connectedOK {
			c.reconnectCount++
		}
		c.mu.Unlock()

		if err != nil {
			c.logger.Warnw("kanata: connection ended", "error", err)
		}

		if connectedOK {
			everConnected = true
			attempt = 0
		} else {
			attempt++
		}
	}
}

// connectAndServe dials once, flushes any pending plan, and serves the read
// loop until the connection fails or ctx is cancelled. connectedOK reports
// whether the dial itself succeeded. Run uses it to pick the next delay:
// after a successful dial the attempt counter resets and the reconnect
// schedule (starting at 1s) applies; after a failed dial the counter
// advances one step along the current schedule.
func (c *Client) connectAndServe(ctx context.Context) (connectedOK bool, err error) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	var d net.Dialer
	conn, derr := d.DialContext(ctx, "tcp", addr)
	if derr != nil {
		return false, fmt.Errorf("dial %s: %w", addr, derr)
	}
	defer conn.Close()
	c.logger.Infow("kanata: connected", "addr", addr)

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	c.mu.Lock()
	c.writer = writer
	c.state = StateConnected
	actions := c.pendingActions
	hasPending := c.hasPending
	c.pendingActions = nil
	c.hasPending = false
	c.mu.Unlock()

	if hasPending {
		if werr := c.writeActionsLocked(writer, actions); werr != nil {
			c.mu.Lock()
			c.pendingActions = actions
			c.hasPending = true
			c.mu.Unlock()
			return true, fmt.Errorf("flush pending actions: %w", werr)
		}
		c.logger.Debugw("kanata: flushed pending actions", "count", len(actions))
	}

	readErrCh := make(chan error, 1)
	go func() {
		for {
			line, rerr := reader.ReadBytes('\n')
			if len(line) > 0 {
				if layer, ok := wire.DecodeLayerChange(bytes.TrimSpace(line)); ok {
					c.handleLayerChange(writer, layer)
				}
			}
			if rerr != nil {
				readErrCh <- rerr
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return true, nil
	case rerr := <-readErrCh:
		return true, fmt.Errorf("read: %w", rerr)
	}
}

// handleLayerChange processes one incoming LayerChange: default-layer
// capture (first receipt only, and only absent a configured default),
// firing a deferred ChangeLayer once the default becomes known, then
// notifying the supervisor.
func (c *Client) handleLayerChange(writer *bufio.Writer, layer string) {
	c.mu.Lock()
	captured := false
	if !c.hasConfigDefault && !c.autoDefaultKnown {
		c.autoDefaultKnown = true
		c.autoDefaultLayer = layer
		captured = true
	}
	var deferredLayer string
	fireDeferred := false
	if c.deferredDefault {
		if known, ok := c.effectiveDefaultLayerLocked(); ok {
			deferredLayer = known
			fireDeferred = true
			c.deferredDefault = false
		}
	}
	c.mu.Unlock()

	if captured {
		c.logger.Infow("kanata: captured default layer", "layer", layer)
	}
	if fireDeferred {
		if werr := c.writeActionsLocked(writer, []wire.Action{wire.NewChangeLayer(deferredLayer)}); werr != nil {
			c.logger.Warnw("kanata: failed to send deferred default switch", "error", werr)
			c.mu.Lock()
			c.deferredDefault = true
			c.mu.Unlock()
		}
	}
	if c.onLayerChange != nil {
		c.onLayerChange(layer)
	}
}

// Dispatch sends a wire action plan, or queues it if not currently
// connected. managedVks is the reducer's authoritative next-managed-VK set,
// kept in sync here so ShutdownReset always has the true picture.
//
// A ChangeLayer action whose layer is empty means "switch to the default
// layer, not yet known": it is resolved immediately if possible, otherwise
// dropped from this batch and deferred until a default becomes known.
func (c *Client) Dispatch(actions []wire.Action, managedVks []string) {
	c.mu.Lock()
	c.managedVks = managedVks

	processed := make([]wire.Action, 0, len(actions))
	for _, a := range actions {
		if a.IsChangeLayer() && a.ChangeLayer == "" {
			if layer, ok := c.effectiveDefaultLayerLocked(); ok {
				processed = append(processed, wire.NewChangeLayer(layer))
			} else {
				c.deferredDefault = true
			}
			continue
		}
		processed = append(processed, a)
	}

	if c.state != StateConnected || c.writer == nil {
		c.pendingActions = processed
		c.hasPending = true
		c.mu.Unlock()
		return
	}
	writer := c.writer
	c.mu.Unlock()

	if len(processed) == 0 {
		return
	}
	if err := c.writeActionsLocked(writer, processed); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.lastErr = err
		c.pendingActions = processed
		c.hasPending = true
		c.mu.Unlock()
		c.logger.Warnw("kanata: write failed, queued for retry", "error", err)
	}
}

// ShutdownReset implements the §4.3 shutdown-reset contract: release every
// managed VK (reverse order) then switch to the default layer if known,
// using only the existing connection. It makes no reconnect attempt and
// returns promptly if not currently connected or if ctx expires first.
func (c *Client) ShutdownReset(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected || c.writer == nil {
		c.mu.Unlock()
		return nil
	}
	writer := c.writer
	vks := append([]string(nil), c.managedVks...)
	layer, layerKnown := c.effectiveDefaultLayerLocked()
	c.mu.Unlock()

	var actions []wire.Action
	for i := len(vks) - 1; i >= 0; i-- {
		actions = append(actions, wire.NewVkAction(vks[i], wire.Release))
	}
	if layerKnown {
		actions = append(actions, wire.NewChangeLayer(layer))
	}
	if len(actions) == 0 {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- c.writeActionsLocked(writer, actions) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("kanata shutdown reset: %w", err)
		}
		c.mu.Lock()
		c.managedVks = nil
		c.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DefaultLayer returns the layer the client would switch to for "unfocus"
// or "no-match" events, and whether one is known yet at all.
func (c *Client) DefaultLayer() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveDefaultLayerLocked()
}

func (c *Client) effectiveDefaultLayerLocked() (string, bool) {
	if c.hasConfigDefault {
		return c.configDefaultLayer, true
	}
	if c.autoDefaultKnown {
		return c.autoDefaultLayer, true
	}
	return "", false
}

// Stats reports the client's current connection health.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{State: c.state, ReconnectCount: c.reconnectCount, LastError: c.lastErr}
}

// writeActionsLocked serializes concurrent writers (Dispatch, the pending-
// actions flush, the read loop's deferred-default write, ShutdownReset)
// against the same connection's writer so their bytes never interleave.
func (c *Client) writeActionsLocked(w *bufio.Writer, actions []wire.Action) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeActions(w, actions)
}

func writeActions(w *bufio.Writer, actions []wire.Action) error {
	for _, a := range actions {
		line, err := a.Encode()
		if err != nil {
			return fmt.Errorf("encode %s: %w", a, err)
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
