package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatty/internal/bus"
	"chatty/internal/events"
	"chatty/internal/transport"
)

const (
	defaultReconnectDelay = 5 * time.Second
	heartbeatInterval     = 4 * time.Second
	heartbeatMissLimit    = 3
	handshakeTimeout      = 6 * time.Second
	writeTimeout          = 5 * time.Second
)

// Conn manages the lifecycle of the single server connection: handshake with
// the bearer credential, heartbeats in both directions, indefinite reconnect
// with a fixed delay, and dispatch of inbound frames to the subscription
// registry. State transitions are published on the bus.
type Conn struct {
	logger         *slog.Logger
	bus            bus.MessageBus
	tr             transport.Transport
	subs           *Registry
	reconnectDelay time.Duration

	mu         sync.Mutex
	state      events.ConnectionState
	token      string
	running    bool
	cancelRun  context.CancelFunc
	ready      chan struct{}
	readyDone  bool
	connectErr error
}

func NewConn(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, reconnectDelay time.Duration) *Conn {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	c := &Conn{
		logger:         logger,
		bus:            b,
		tr:             tr,
		reconnectDelay: reconnectDelay,
		state:          events.ConnectionStateDisconnected,
	}
	c.subs = newRegistry(logger.With("component", "session.registry"), c)

	return c
}

// Subscriptions exposes the registry owned by this connection.
func (c *Conn) Subscriptions() *Registry {
	return c.subs
}

func (c *Conn) State() events.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Connect starts the session with the given bearer token and blocks until the
// connection is established or terminally failed. Calling it again while the
// session is running just awaits the current attempt.
func (c *Conn) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.running {
		ready := c.ready
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
		}

		return c.currentConnectErr()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.token = token
	c.running = true
	c.cancelRun = cancel
	c.ready = make(chan struct{})
	c.readyDone = false
	c.connectErr = nil
	ready := c.ready
	c.mu.Unlock()

	go c.run(runCtx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready:
	}

	return c.currentConnectErr()
}

// Disconnect stops the session and synchronously releases every registered
// subscription, so no half-open subscription survives into the next connect.
// Idempotent.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()

		return
	}
	c.running = false
	cancel := c.cancelRun
	c.mu.Unlock()

	cancel()
	c.subs.dropAll()
	_ = c.tr.Close()
	c.setState(events.ConnectionStateDisconnected, nil)
}

// Reauthenticate tears the session down and reconnects with a new credential.
func (c *Conn) Reauthenticate(ctx context.Context, token string) error {
	c.Disconnect()

	return c.Connect(ctx, token)
}

// Publish sends a payload to an application destination. Fails fast while the
// connection is not established.
func (c *Conn) Publish(destination string, body []byte) error {
	if c.State() != events.ConnectionStateConnected {
		return ErrNotConnected
	}

	frame := transport.NewFrame(transport.CommandSend, map[string]string{
		"destination":  destination,
		"content-type": "application/json",
	})
	frame.Body = body

	return c.sendFrame(frame)
}

// Subscribe and Unsubscribe delegate to the registry so callers can hold a
// single session handle.
func (c *Conn) Subscribe(destination string, handler Handler) *Subscription {
	return c.subs.Subscribe(destination, handler)
}

func (c *Conn) Unsubscribe(destination string) {
	c.subs.Unsubscribe(destination)
}

func (c *Conn) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(events.ConnectionStateConnecting, nil)
		if err := c.tr.Connect(ctx); err != nil {
			c.logger.Error("transport connect failed", "error", err)
			c.setState(events.ConnectionStateReconnecting, err)
			if !sleepWithContext(ctx, c.reconnectDelay) {
				return
			}
			continue
		}

		if err := c.handshake(ctx); err != nil {
			_ = c.tr.Close()
			if errors.Is(err, ErrHandshakeRejected) {
				c.logger.Error("session handshake rejected", "error", err)
				c.setState(events.ConnectionStateFailed, err)
				c.signalReady(err)

				return
			}
			c.logger.Warn("session handshake failed", "error", err)
			c.setState(events.ConnectionStateReconnecting, err)
			if !sleepWithContext(ctx, c.reconnectDelay) {
				return
			}
			continue
		}

		c.setState(events.ConnectionStateConnected, nil)
		c.signalReady(nil)

		hbCtx, cancelHeartbeat := context.WithCancel(ctx)
		go c.runHeartbeat(hbCtx)
		err := c.runReader(ctx)
		cancelHeartbeat()

		// The socket is gone: every subscription with it. The reconciler
		// re-issues the set it needs on the next connected notification.
		c.subs.dropAll()
		_ = c.tr.Close()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("session read loop ended", "error", err)
		c.setState(events.ConnectionStateReconnecting, err)
		if !sleepWithContext(ctx, c.reconnectDelay) {
			return
		}
	}
}

func (c *Conn) handshake(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	hbMillis := int64(heartbeatInterval / time.Millisecond)
	frame := transport.NewFrame(transport.CommandConnect, map[string]string{
		"accept-version": "1.2",
		"host":           c.tr.Target(),
		"heart-beat":     fmt.Sprintf("%d,%d", hbMillis, hbMillis),
		"Authorization":  "Bearer " + token,
	})

	writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
	err := c.tr.WriteFrame(writeCtx, transport.Encode(frame))
	cancelWrite()
	if err != nil {
		return fmt.Errorf("send connect frame: %w", err)
	}

	readCtx, cancelRead := context.WithTimeout(ctx, handshakeTimeout)
	defer cancelRead()
	for {
		payload, err := c.tr.ReadFrame(readCtx)
		if err != nil {
			return fmt.Errorf("await connected frame: %w", err)
		}
		if transport.IsHeartbeat(payload) {
			continue
		}
		reply, err := transport.Decode(payload)
		if err != nil {
			return fmt.Errorf("decode handshake reply: %w", err)
		}
		switch reply.Command {
		case transport.CommandConnected:
			return nil
		case transport.CommandError:
			return fmt.Errorf("%w: %s", ErrHandshakeRejected, reply.Headers["message"])
		default:
			return fmt.Errorf("unexpected handshake reply: %s", reply.Command)
		}
	}
}

func (c *Conn) runReader(ctx context.Context) error {
	readTimeout := heartbeatInterval * heartbeatMissLimit
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// A read deadline of N heartbeat intervals doubles as the missed
		// heartbeat watchdog: a silent peer forces a reconnect cycle.
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		payload, err := c.tr.ReadFrame(readCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if transport.IsHeartbeat(payload) {
			continue
		}

		frame, err := transport.Decode(payload)
		if err != nil {
			c.logger.Warn("drop undecodable frame", "error", err)
			continue
		}

		switch frame.Command {
		case transport.CommandMessage:
			c.subs.dispatch(frame.Headers["subscription"], frame.Headers["destination"], frame.Body)
		case transport.CommandError:
			return fmt.Errorf("server error frame: %s", frame.Headers["message"])
		case transport.CommandReceipt:
			c.logger.Debug("receipt", "id", frame.Headers["receipt-id"])
		default:
			c.logger.Debug("ignoring frame", "command", frame.Command)
		}
	}
}

func (c *Conn) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.tr.WriteFrame(writeCtx, transport.Heartbeat())
			cancel()
			if err != nil {
				c.logger.Debug("heartbeat write failed", "error", err)
			}
		}
	}
}

func (c *Conn) sendFrame(frame transport.Frame) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	return c.tr.WriteFrame(writeCtx, transport.Encode(frame))
}

func (c *Conn) setState(state events.ConnectionState, cause error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	status := events.ConnectionStatus{
		State:     state,
		Target:    c.tr.Target(),
		Timestamp: time.Now(),
	}
	if cause != nil {
		status.Err = cause.Error()
	}
	c.bus.Publish(events.TopicConnStatus, status)
}

func (c *Conn) signalReady(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readyDone {
		return
	}
	c.connectErr = err
	c.readyDone = true
	close(c.ready)
}

func (c *Conn) currentConnectErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectErr
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
