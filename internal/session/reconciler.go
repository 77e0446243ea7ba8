package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"chatty/internal/auth"
	"chatty/internal/bus"
	"chatty/internal/domain"
	"chatty/internal/events"
	"chatty/internal/wire"
)

// API is the REST collaborator surface the reconciler depends on. Implemented
// by restapi.Client; tests substitute fakes.
type API interface {
	Rooms(ctx context.Context) ([]domain.Room, error)
	PublicRooms(ctx context.Context) ([]domain.Room, error)
	CreateRoom(ctx context.Context, name, description string, isPublic bool) (domain.Room, error)
	JoinRoom(ctx context.Context, roomID string) error
	JoinRoomByCode(ctx context.Context, secretCode string) (domain.Room, error)
	LeaveRoom(ctx context.Context, roomID string) error
	RoomMessages(ctx context.Context, roomID string, page, size int) ([]domain.Message, error)
	PrivateMessages(ctx context.Context, userID string, page, size int) ([]domain.Message, error)
	MarkRead(ctx context.Context, userID string) error
	UnreadCount(ctx context.Context) (int, error)
	AllUsers(ctx context.Context) ([]domain.User, error)
	OnlineUsers(ctx context.Context) ([]domain.User, error)
}

// Session is the slice of the connection the reconciler drives.
type Session interface {
	State() events.ConnectionState
	Publish(destination string, body []byte) error
	Subscribe(destination string, handler Handler) *Subscription
	Unsubscribe(destination string)
}

// Reconciler is the single owner of client-visible chat state: room and user
// lists, the conversation focus, the focused history, off-focus room buffers
// and the unread counter. Every mutation happens under one mutex, whether it
// originates from a user action or an inbound frame.
type Reconciler struct {
	logger  *slog.Logger
	bus     bus.MessageBus
	session Session
	api     API
	router  *Router
	self    auth.Identity

	historyPageSize int

	mu           sync.Mutex
	rooms        []domain.Room
	users        []domain.User
	focus        domain.Focus
	epoch        uint64
	history      []domain.Message
	roomBuffers  map[string][]domain.Message
	unread       int
	bootstrapped bool

	runCtx context.Context
}

func NewReconciler(logger *slog.Logger, b bus.MessageBus, sess Session, api API, self auth.Identity, historyPageSize int) *Reconciler {
	if historyPageSize <= 0 {
		historyPageSize = 50
	}
	r := &Reconciler{
		logger:          logger,
		bus:             b,
		session:         sess,
		api:             api,
		self:            self,
		historyPageSize: historyPageSize,
		roomBuffers:     make(map[string][]domain.Message),
	}
	r.router = newRouter(logger.With("component", "session.router"), r)

	return r
}

// Router exposes the inbound-frame handlers, mainly for tests.
func (r *Reconciler) Router() *Router {
	return r.router
}

// Start watches connection status: every connected notification restores
// exactly the subscription set the current focus needs, and the first one
// triggers the initial data loads.
func (r *Reconciler) Start(ctx context.Context) {
	r.runCtx = ctx
	connSub := r.bus.Subscribe(events.TopicConnStatus)

	go func() {
		defer r.bus.Unsubscribe(connSub, events.TopicConnStatus)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				status, ok := raw.(events.ConnectionStatus)
				if !ok || status.State != events.ConnectionStateConnected {
					continue
				}
				r.handleConnected(ctx)
			}
		}
	}()
}

func (r *Reconciler) handleConnected(ctx context.Context) {
	r.session.Subscribe(wire.PrivateQueue, r.router.HandlePrivate)
	r.session.Subscribe(wire.PresenceTopic, r.router.HandlePresence)

	r.mu.Lock()
	focus := r.focus
	first := !r.bootstrapped
	r.bootstrapped = true
	r.mu.Unlock()

	if focus.Kind == domain.FocusRoom {
		r.session.Subscribe(wire.RoomTopic(focus.RoomID), r.router.HandleRoom)
	}
	if first {
		go r.bootstrap(ctx)
	}
}

func (r *Reconciler) bootstrap(ctx context.Context) {
	if err := r.RefreshRooms(ctx); err != nil {
		r.logger.Warn("initial room load failed", "error", err)
	}
	if err := r.RefreshUsers(ctx); err != nil {
		r.logger.Warn("initial user load failed", "error", err)
	}
	if err := r.RefreshUnread(ctx); err != nil {
		r.logger.Warn("initial unread load failed", "error", err)
	}
}

// SelectRoom focuses a room: clears any private focus and the history,
// fetches the room history, and subscribes to the room topic. A fetch that
// resolves after the focus moved on is discarded.
func (r *Reconciler) SelectRoom(ctx context.Context, room domain.Room) error {
	token := r.setFocus(domain.RoomFocus(room.ID))

	msgs, err := r.api.RoomMessages(ctx, room.ID, 0, r.historyPageSize)
	if err != nil {
		return fmt.Errorf("load room history: %w", err)
	}

	r.mu.Lock()
	if r.epoch != token {
		r.mu.Unlock()
		r.logger.Debug("discarding stale room history", "room", room.ID)

		return nil
	}
	// Live messages buffered while the room was off focus may postdate the
	// fetched page; fold in whatever the fetch did not already cover.
	for _, m := range r.roomBuffers[room.ID] {
		if !domain.ContainsMessageID(msgs, m.ID) {
			msgs = append(msgs, m)
		}
	}
	delete(r.roomBuffers, room.ID)
	r.history = msgs
	count := len(msgs)
	r.mu.Unlock()

	r.bus.Publish(events.TopicHistory, events.HistoryLoaded{
		ConversationKey: domain.RoomConversationKey(room.ID),
		Count:           count,
	})
	r.session.Subscribe(wire.RoomTopic(room.ID), r.router.HandleRoom)

	return nil
}

// SelectPrivateChat focuses a direct conversation with peer, loads its
// history and marks it read on the server.
func (r *Reconciler) SelectPrivateChat(ctx context.Context, peer domain.User) error {
	token := r.setFocus(domain.PrivateFocus(peer.ID))

	msgs, err := r.api.PrivateMessages(ctx, peer.ID, 0, r.historyPageSize)
	if err != nil {
		return fmt.Errorf("load private history: %w", err)
	}

	r.mu.Lock()
	if r.epoch != token {
		r.mu.Unlock()
		r.logger.Debug("discarding stale private history", "peer", peer.ID)

		return nil
	}
	r.history = msgs
	count := len(msgs)
	r.mu.Unlock()

	r.bus.Publish(events.TopicHistory, events.HistoryLoaded{
		ConversationKey: domain.PrivateConversationKey(peer.ID),
		Count:           count,
	})
	r.session.Subscribe(wire.PrivateQueue, r.router.HandlePrivate)

	if err := r.api.MarkRead(ctx, peer.ID); err != nil {
		r.logger.Warn("mark as read failed", "peer", peer.ID, "error", err)
	} else if err := r.RefreshUnread(ctx); err != nil {
		r.logger.Warn("unread refresh failed", "error", err)
	}

	return nil
}

// setFocus atomically installs a new focus with a cleared history and returns
// the epoch token identifying this focus generation.
func (r *Reconciler) setFocus(focus domain.Focus) uint64 {
	r.mu.Lock()
	r.focus = focus
	r.epoch++
	token := r.epoch
	r.history = nil
	r.mu.Unlock()

	r.bus.Publish(events.TopicFocus, events.FocusChanged{Focus: focus})

	return token
}

// SendMessage publishes to the destination matching the current focus. The
// message is not appended locally: it becomes visible when the server echoes
// it back with its authoritative id.
func (r *Reconciler) SendMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if r.session.State() != events.ConnectionStateConnected {
		return ErrNotConnected
	}

	r.mu.Lock()
	focus := r.focus
	r.mu.Unlock()

	switch focus.Kind {
	case domain.FocusRoom:
		body, err := wire.EncodeRoomSend(focus.RoomID, content)
		if err != nil {
			return fmt.Errorf("encode room message: %w", err)
		}

		return r.session.Publish(wire.RoomSendDestination(focus.RoomID), body)
	case domain.FocusPrivate:
		body, err := wire.EncodePrivateSend(focus.PeerID, content)
		if err != nil {
			return fmt.Errorf("encode private message: %w", err)
		}

		return r.session.Publish(wire.PrivateSendDestination(focus.PeerID), body)
	default:
		return ErrNoFocus
	}
}

func (r *Reconciler) CreateRoom(ctx context.Context, name, description string, isPublic bool) (domain.Room, error) {
	room, err := r.api.CreateRoom(ctx, name, description, isPublic)
	if err != nil {
		return domain.Room{}, fmt.Errorf("create room: %w", err)
	}
	if err := r.RefreshRooms(ctx); err != nil {
		r.logger.Warn("room list refresh failed", "error", err)
	}

	return room, nil
}

func (r *Reconciler) JoinRoom(ctx context.Context, roomID string) error {
	if err := r.api.JoinRoom(ctx, roomID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	if err := r.RefreshRooms(ctx); err != nil {
		r.logger.Warn("room list refresh failed", "error", err)
	}

	return nil
}

func (r *Reconciler) JoinRoomByCode(ctx context.Context, secretCode string) (domain.Room, error) {
	room, err := r.api.JoinRoomByCode(ctx, secretCode)
	if err != nil {
		return domain.Room{}, fmt.Errorf("join room by code: %w", err)
	}
	if err := r.RefreshRooms(ctx); err != nil {
		r.logger.Warn("room list refresh failed", "error", err)
	}

	return room, nil
}

// LeaveRoom leaves on the server and, when the left room was focused, clears
// the focus together with its history and subscription.
func (r *Reconciler) LeaveRoom(ctx context.Context, roomID string) error {
	if err := r.api.LeaveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}

	r.mu.Lock()
	wasFocused := r.focus.IsRoom(roomID)
	if wasFocused {
		r.focus = domain.Focus{}
		r.epoch++
		r.history = nil
	}
	delete(r.roomBuffers, roomID)
	r.mu.Unlock()

	if wasFocused {
		r.bus.Publish(events.TopicFocus, events.FocusChanged{})
		r.session.Unsubscribe(wire.RoomTopic(roomID))
	}
	if err := r.RefreshRooms(ctx); err != nil {
		r.logger.Warn("room list refresh failed", "error", err)
	}

	return nil
}

// RefreshRooms replaces the room list wholesale; missed events cannot leave
// the list drifting.
func (r *Reconciler) RefreshRooms(ctx context.Context) error {
	rooms, err := r.api.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("fetch rooms: %w", err)
	}

	r.mu.Lock()
	r.rooms = rooms
	r.mu.Unlock()

	r.bus.Publish(events.TopicRooms, events.RoomsUpdated{Count: len(rooms)})

	return nil
}

// RefreshUsers replaces the user list (minus the caller) and recomputes the
// online flags from the online listing.
func (r *Reconciler) RefreshUsers(ctx context.Context) error {
	all, err := r.api.AllUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetch users: %w", err)
	}
	online, err := r.api.OnlineUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetch online users: %w", err)
	}

	onlineIDs := make(map[string]bool, len(online))
	for _, u := range online {
		onlineIDs[u.ID] = true
	}

	users := make([]domain.User, 0, len(all))
	for _, u := range all {
		if u.ID == r.self.UserID {
			continue
		}
		u.Online = onlineIDs[u.ID]
		users = append(users, u)
	}

	r.mu.Lock()
	r.users = users
	r.mu.Unlock()

	r.bus.Publish(events.TopicUsers, events.UsersUpdated{Total: len(users), Online: len(onlineIDs)})

	return nil
}

// RefreshUnread reloads the unread counter from the server.
func (r *Reconciler) RefreshUnread(ctx context.Context) error {
	count, err := r.api.UnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("fetch unread count: %w", err)
	}

	r.mu.Lock()
	r.unread = count
	r.mu.Unlock()

	r.bus.Publish(events.TopicUnread, events.UnreadChanged{Count: count})

	return nil
}

// MarkRead marks the conversation with peerID read and refreshes the counter.
func (r *Reconciler) MarkRead(ctx context.Context, peerID string) error {
	if err := r.api.MarkRead(ctx, peerID); err != nil {
		return fmt.Errorf("mark as read: %w", err)
	}

	return r.RefreshUnread(ctx)
}

// applyRoomMessage appends a live room message either to the focused history
// or to the room's off-focus buffer, deduplicating by server id in both.
func (r *Reconciler) applyRoomMessage(roomID string, msg domain.Message) {
	r.mu.Lock()
	if r.focus.IsRoom(roomID) {
		if domain.ContainsMessageID(r.history, msg.ID) {
			r.mu.Unlock()
			r.logger.Debug("drop duplicate room message", "id", msg.ID)

			return
		}
		r.history = append(r.history, msg)
		r.mu.Unlock()

		r.bus.Publish(events.TopicMessage, events.MessageAppended{
			ConversationKey: domain.RoomConversationKey(roomID),
			Message:         msg,
		})

		return
	}

	buf := r.roomBuffers[roomID]
	if domain.ContainsMessageID(buf, msg.ID) {
		r.mu.Unlock()
		r.logger.Debug("drop duplicate buffered room message", "id", msg.ID)

		return
	}
	r.roomBuffers[roomID] = append(buf, msg)
	size := len(buf) + 1
	r.mu.Unlock()

	r.bus.Publish(events.TopicRoomBuffered, events.RoomBuffered{RoomID: roomID, Message: msg, Size: size})
}

// applyPrivateMessage routes a private delivery against the focus as it is
// right now. The other party is the sender unless this is the echo of the
// caller's own send, in which case it is the recipient.
func (r *Reconciler) applyPrivateMessage(msg domain.Message) {
	other := msg.SenderID
	if other == r.self.UserID {
		other = msg.RecipientID
	}

	r.mu.Lock()
	if r.focus.IsPrivate(other) {
		if domain.ContainsMessageID(r.history, msg.ID) {
			r.mu.Unlock()
			r.logger.Debug("drop duplicate private message", "id", msg.ID)

			return
		}
		r.history = append(r.history, msg)
		r.mu.Unlock()

		r.bus.Publish(events.TopicMessage, events.MessageAppended{
			ConversationKey: domain.PrivateConversationKey(other),
			Message:         msg,
		})

		return
	}

	if msg.SenderID == r.self.UserID {
		// Echo for a conversation that is no longer focused; the history
		// fetch will pick it up when that conversation is opened again.
		r.mu.Unlock()

		return
	}
	r.unread++
	count := r.unread
	r.mu.Unlock()

	r.bus.Publish(events.TopicUnread, events.UnreadChanged{Count: count, From: msg.DisplaySender()})
}

// applyPresence republishes the notice for observers and refreshes the user
// list; presence is reconciled by full re-fetch, not incremental patching.
func (r *Reconciler) applyPresence(ev wire.Event) {
	r.bus.Publish(events.TopicPresence, events.PresenceChanged{
		Kind:     domain.MessageType(ev.MessageType),
		UserID:   ev.SenderID,
		Username: ev.SenderUsername,
	})

	ctx := r.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if err := r.RefreshUsers(ctx); err != nil {
			r.logger.Warn("user refresh after presence change failed", "error", err)
		}
	}()
}

// Focus returns the current conversation focus.
func (r *Reconciler) Focus() domain.Focus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.focus
}

// History returns a copy of the focused conversation's messages.
func (r *Reconciler) History() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Message, len(r.history))
	copy(out, r.history)

	return out
}

// RoomBuffer returns a copy of the off-focus buffer for a room.
func (r *Reconciler) RoomBuffer(roomID string) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := r.roomBuffers[roomID]
	out := make([]domain.Message, len(buf))
	copy(out, buf)

	return out
}

// Rooms returns a copy of the known room list.
func (r *Reconciler) Rooms() []domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Room, len(r.rooms))
	copy(out, r.rooms)

	return out
}

// Users returns a copy of the known user list.
func (r *Reconciler) Users() []domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.User, len(r.users))
	copy(out, r.users)

	return out
}

// Unread returns the unread private message counter.
func (r *Reconciler) Unread() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.unread
}
