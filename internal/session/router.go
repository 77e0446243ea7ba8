package session

import (
	"log/slog"

	"chatty/internal/wire"
)

// Router classifies inbound frame bodies and hands them to the reconciler.
// It holds no state of its own: in particular, the current focus is read by
// the reconciler at delivery time, never captured when the long-lived
// subscription was set up.
type Router struct {
	logger *slog.Logger
	rec    *Reconciler
}

func newRouter(logger *slog.Logger, rec *Reconciler) *Router {
	return &Router{logger: logger, rec: rec}
}

// HandleRoom processes a frame delivered on a room topic.
func (r *Router) HandleRoom(destination string, body []byte) {
	ev, err := wire.DecodeEvent(body)
	if err != nil {
		r.logger.Warn("drop undecodable room frame", "destination", destination, "error", err)

		return
	}

	roomID, ok := wire.RoomIDFromTopic(destination)
	if !ok {
		roomID = ev.ChatRoomID
	}
	if roomID == "" {
		r.logger.Warn("drop room frame without room id", "destination", destination)

		return
	}
	r.rec.applyRoomMessage(roomID, ev.Message())
}

// HandlePrivate processes a frame from the session's private queue. Both
// peer messages and confirmation echoes of the user's own sends arrive here.
func (r *Router) HandlePrivate(destination string, body []byte) {
	ev, err := wire.DecodeEvent(body)
	if err != nil {
		r.logger.Warn("drop undecodable private frame", "destination", destination, "error", err)

		return
	}
	r.rec.applyPrivateMessage(ev.Message())
}

// HandlePresence processes join/leave notices from the presence topic.
func (r *Router) HandlePresence(destination string, body []byte) {
	ev, err := wire.DecodeEvent(body)
	if err != nil {
		r.logger.Warn("drop undecodable presence frame", "destination", destination, "error", err)

		return
	}
	if !ev.IsPresence() {
		r.logger.Debug("ignoring non-presence notification", "type", ev.MessageType)

		return
	}
	r.rec.applyPresence(ev)
}
