package session

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"chatty/internal/events"
	"chatty/internal/transport"
)

// Handler receives the body of every inbound frame delivered on a
// subscription's destination.
type Handler func(destination string, body []byte)

// Subscription identifies one active topic subscription.
type Subscription struct {
	ID          string
	Destination string
}

type frameConn interface {
	State() events.ConnectionState
	sendFrame(frame transport.Frame) error
}

type registration struct {
	id      string
	handler Handler
}

// Registry keeps at most one active subscription per destination. Subscribing
// twice returns the existing subscription without touching the transport;
// subscribing while disconnected returns nil and is logged, never thrown.
type Registry struct {
	logger *slog.Logger
	conn   frameConn

	mu   sync.Mutex
	subs map[string]*registration
}

func newRegistry(logger *slog.Logger, conn frameConn) *Registry {
	return &Registry{
		logger: logger,
		conn:   conn,
		subs:   make(map[string]*registration),
	}
}

func (r *Registry) Subscribe(destination string, handler Handler) *Subscription {
	if r.conn.State() != events.ConnectionStateConnected {
		r.logger.Warn("subscribe skipped: not connected", "destination", destination)

		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.subs[destination]; ok {
		return &Subscription{ID: existing.id, Destination: destination}
	}

	id := uuid.NewString()
	frame := transport.NewFrame(transport.CommandSubscribe, map[string]string{
		"id":          id,
		"destination": destination,
		"ack":         "auto",
	})
	if err := r.conn.sendFrame(frame); err != nil {
		r.logger.Warn("subscribe failed", "destination", destination, "error", err)

		return nil
	}

	r.subs[destination] = &registration{id: id, handler: handler}
	r.logger.Debug("subscribed", "destination", destination, "id", id)

	return &Subscription{ID: id, Destination: destination}
}

func (r *Registry) Unsubscribe(destination string) {
	r.mu.Lock()
	reg, ok := r.subs[destination]
	if ok {
		delete(r.subs, destination)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	frame := transport.NewFrame(transport.CommandUnsubscribe, map[string]string{"id": reg.id})
	if err := r.conn.sendFrame(frame); err != nil {
		r.logger.Debug("unsubscribe frame failed", "destination", destination, "error", err)
	}
	r.logger.Debug("unsubscribed", "destination", destination)
}

func (r *Registry) UnsubscribeAll() {
	for _, destination := range r.Active() {
		r.Unsubscribe(destination)
	}
}

// Active returns the subscribed destinations, sorted.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.subs))
	for destination := range r.subs {
		out = append(out, destination)
	}
	sort.Strings(out)

	return out
}

// dropAll forgets every registration without transport traffic; used when the
// socket is already gone.
func (r *Registry) dropAll() {
	r.mu.Lock()
	n := len(r.subs)
	r.subs = make(map[string]*registration)
	r.mu.Unlock()
	if n > 0 {
		r.logger.Debug("dropped subscriptions", "count", n)
	}
}

// dispatch routes an inbound MESSAGE frame to the matching handler, by
// subscription id first and destination as a fallback.
func (r *Registry) dispatch(subID, destination string, body []byte) {
	r.mu.Lock()
	var (
		handler Handler
		dest    = destination
	)
	if subID != "" {
		for d, reg := range r.subs {
			if reg.id == subID {
				handler = reg.handler
				dest = d
				break
			}
		}
	}
	if handler == nil {
		if reg, ok := r.subs[destination]; ok {
			handler = reg.handler
		}
	}
	r.mu.Unlock()

	if handler == nil {
		r.logger.Debug("frame for unknown subscription", "subscription", subID, "destination", destination)

		return
	}
	handler(dest, body)
}
