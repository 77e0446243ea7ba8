package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chatty/internal/auth"
	"chatty/internal/bus"
	"chatty/internal/domain"
	"chatty/internal/events"
	"chatty/internal/wire"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type publishCall struct {
	destination string
	body        []byte
}

type fakeSession struct {
	mu           sync.Mutex
	state        events.ConnectionState
	published    []publishCall
	subscribed   []string
	unsubscribed []string
}

func (s *fakeSession) State() events.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) Publish(destination string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, publishCall{destination: destination, body: body})
	return nil
}

func (s *fakeSession) Subscribe(destination string, handler Handler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.subscribed {
		if d == destination {
			return &Subscription{ID: "dup", Destination: destination}
		}
	}
	s.subscribed = append(s.subscribed, destination)
	return &Subscription{ID: destination, Destination: destination}
}

func (s *fakeSession) Unsubscribe(destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = append(s.unsubscribed, destination)
	for i, d := range s.subscribed {
		if d == destination {
			s.subscribed = append(s.subscribed[:i], s.subscribed[i+1:]...)
			break
		}
	}
}

func (s *fakeSession) subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.subscribed))
	copy(out, s.subscribed)
	return out
}

type fakeAPI struct {
	mu          sync.Mutex
	rooms       []domain.Room
	users       []domain.User
	online      []domain.User
	unread      int
	roomMsgs    map[string][]domain.Message
	privMsgs    map[string][]domain.Message
	roomErr     error
	roomGate    chan struct{}
	roomStarted chan struct{}
	markedRead  []string
	left        []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		roomMsgs: make(map[string][]domain.Message),
		privMsgs: make(map[string][]domain.Message),
	}
}

func (f *fakeAPI) Rooms(ctx context.Context) ([]domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Room(nil), f.rooms...), nil
}

func (f *fakeAPI) PublicRooms(ctx context.Context) ([]domain.Room, error) {
	return f.Rooms(ctx)
}

func (f *fakeAPI) CreateRoom(ctx context.Context, name, description string, isPublic bool) (domain.Room, error) {
	return domain.Room{ID: "new", Name: name, Description: description, IsPublic: isPublic}, nil
}

func (f *fakeAPI) JoinRoom(ctx context.Context, roomID string) error { return nil }

func (f *fakeAPI) JoinRoomByCode(ctx context.Context, secretCode string) (domain.Room, error) {
	return domain.Room{ID: "secret", SecretCode: secretCode}, nil
}

func (f *fakeAPI) LeaveRoom(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, roomID)
	return nil
}

func (f *fakeAPI) RoomMessages(ctx context.Context, roomID string, page, size int) ([]domain.Message, error) {
	f.mu.Lock()
	started := f.roomStarted
	gate := f.roomGate
	err := f.roomErr
	msgs := append([]domain.Message(nil), f.roomMsgs[roomID]...)
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (f *fakeAPI) PrivateMessages(ctx context.Context, userID string, page, size int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.privMsgs[userID]...), nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, userID)
	return nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, nil
}

func (f *fakeAPI) AllUsers(ctx context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.User(nil), f.users...), nil
}

func (f *fakeAPI) OnlineUsers(ctx context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.User(nil), f.online...), nil
}

func newTestReconciler(t *testing.T) (*Reconciler, *fakeSession, *fakeAPI) {
	t.Helper()
	sess := &fakeSession{state: events.ConnectionStateConnected}
	api := newFakeAPI()
	b := bus.New(quietLogger())
	t.Cleanup(b.Close)

	rec := NewReconciler(quietLogger(), b, sess, api, auth.Identity{UserID: "me", Username: "self"}, 50)
	return rec, sess, api
}

func msg(id, senderID, content string) domain.Message {
	return domain.Message{
		ID:       id,
		SenderID: senderID,
		Content:  content,
		Type:     domain.MessageTypeText,
		At:       time.Now(),
	}
}

func TestDuplicateDeliveriesAppendOnce(t *testing.T) {
	rec, _, _ := newTestReconciler(t)
	rec.setFocus(domain.RoomFocus("42"))

	m := msg("m1", "u1", "hello")
	rec.applyRoomMessage("42", m)
	rec.applyRoomMessage("42", m)

	if got := len(rec.History()); got != 1 {
		t.Fatalf("expected one message after duplicate delivery, got %d", got)
	}
}

func TestDuplicateBufferedDeliveriesAppendOnce(t *testing.T) {
	rec, _, _ := newTestReconciler(t)
	rec.setFocus(domain.PrivateFocus("u2"))

	m := msg("m1", "u1", "hello")
	rec.applyRoomMessage("42", m)
	rec.applyRoomMessage("42", m)

	if got := len(rec.RoomBuffer("42")); got != 1 {
		t.Fatalf("expected one buffered message, got %d", got)
	}
}

func TestFocusIsExclusive(t *testing.T) {
	rec, _, api := newTestReconciler(t)
	ctx := context.Background()

	if err := rec.SelectRoom(ctx, domain.Room{ID: "42"}); err != nil {
		t.Fatalf("select room: %v", err)
	}
	if focus := rec.Focus(); !focus.IsRoom("42") {
		t.Fatalf("expected room focus, got %+v", focus)
	}

	api.privMsgs["u2"] = []domain.Message{msg("p1", "u2", "hi")}
	if err := rec.SelectPrivateChat(ctx, domain.User{ID: "u2"}); err != nil {
		t.Fatalf("select private chat: %v", err)
	}
	focus := rec.Focus()
	if !focus.IsPrivate("u2") {
		t.Fatalf("expected private focus, got %+v", focus)
	}
	if focus.RoomID != "" {
		t.Fatalf("room focus not cleared: %+v", focus)
	}
}

func TestStaleHistoryFetchIsDiscarded(t *testing.T) {
	rec, _, api := newTestReconciler(t)
	ctx := context.Background()

	api.roomMsgs["42"] = []domain.Message{msg("r1", "u1", "room history")}
	api.privMsgs["u2"] = []domain.Message{msg("p1", "u2", "private history")}
	api.roomGate = make(chan struct{})
	api.roomStarted = make(chan struct{}, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- rec.SelectRoom(ctx, domain.Room{ID: "42"}) }()
	<-api.roomStarted

	// The focus moves on while the room fetch is still in flight.
	if err := rec.SelectPrivateChat(ctx, domain.User{ID: "u2"}); err != nil {
		t.Fatalf("select private chat: %v", err)
	}
	close(api.roomGate)
	if err := <-errCh; err != nil {
		t.Fatalf("select room: %v", err)
	}

	if focus := rec.Focus(); !focus.IsPrivate("u2") {
		t.Fatalf("stale fetch moved the focus: %+v", focus)
	}
	history := rec.History()
	if len(history) != 1 || history[0].ID != "p1" {
		t.Fatalf("stale room history overwrote private history: %+v", history)
	}
}

func TestFailedHistoryFetchLeavesStateUntouched(t *testing.T) {
	rec, _, api := newTestReconciler(t)
	api.roomErr = errors.New("boom")

	if err := rec.SelectRoom(context.Background(), domain.Room{ID: "42"}); err == nil {
		t.Fatalf("expected error from failed fetch")
	}
	if got := len(rec.History()); got != 0 {
		t.Fatalf("failed fetch populated history: %d messages", got)
	}
	// The focus itself was already set; the fetch failure must not reset it.
	if focus := rec.Focus(); !focus.IsRoom("42") {
		t.Fatalf("expected room focus to survive, got %+v", focus)
	}
}

func TestUnreadAccounting(t *testing.T) {
	rec, _, _ := newTestReconciler(t)

	// Off-focus private message from a peer increments.
	rec.applyPrivateMessage(msg("p1", "u2", "hi"))
	if got := rec.Unread(); got != 1 {
		t.Fatalf("expected unread 1, got %d", got)
	}

	// Echo of own send never counts.
	own := msg("p2", "me", "my echo")
	own.RecipientID = "u3"
	rec.applyPrivateMessage(own)
	if got := rec.Unread(); got != 1 {
		t.Fatalf("own echo incremented unread: %d", got)
	}

	// Focused private message appends without counting.
	rec.setFocus(domain.PrivateFocus("u2"))
	rec.applyPrivateMessage(msg("p3", "u2", "focused"))
	if got := rec.Unread(); got != 1 {
		t.Fatalf("focused message incremented unread: %d", got)
	}
	if got := len(rec.History()); got != 1 {
		t.Fatalf("focused message not appended: %d", got)
	}
}

func TestOwnEchoAppendsToFocusedConversation(t *testing.T) {
	rec, _, _ := newTestReconciler(t)
	rec.setFocus(domain.PrivateFocus("u2"))

	echo := msg("p1", "me", "sent by me")
	echo.RecipientID = "u2"
	rec.applyPrivateMessage(echo)

	history := rec.History()
	if len(history) != 1 || history[0].ID != "p1" {
		t.Fatalf("echo not appended to focused conversation: %+v", history)
	}
	if got := rec.Unread(); got != 0 {
		t.Fatalf("echo incremented unread: %d", got)
	}
}

func TestReconnectRestoresExactSubscriptionSet(t *testing.T) {
	rec, sess, _ := newTestReconciler(t)
	rec.setFocus(domain.RoomFocus("42"))

	// Simulate buffered traffic for another room; it must not be resubscribed.
	rec.applyRoomMessage("99", msg("b1", "u1", "buffered"))

	rec.handleConnected(context.Background())

	want := map[string]bool{
		wire.PrivateQueue:    true,
		wire.PresenceTopic:   true,
		wire.RoomTopic("42"): true,
	}
	got := sess.subscriptions()
	if len(got) != len(want) {
		t.Fatalf("expected %d subscriptions, got %v", len(want), got)
	}
	for _, d := range got {
		if !want[d] {
			t.Fatalf("unexpected subscription %q in %v", d, got)
		}
	}
}

func TestSelectRoomMergesBufferedMessages(t *testing.T) {
	rec, sess, api := newTestReconciler(t)
	ctx := context.Background()

	shared := msg("m1", "u1", "in both")
	api.roomMsgs["42"] = []domain.Message{shared, msg("m2", "u1", "history only")}
	rec.applyRoomMessage("42", shared)
	rec.applyRoomMessage("42", msg("m3", "u1", "buffer only"))

	if err := rec.SelectRoom(ctx, domain.Room{ID: "42"}); err != nil {
		t.Fatalf("select room: %v", err)
	}

	history := rec.History()
	if len(history) != 3 {
		t.Fatalf("expected merged history of 3, got %+v", history)
	}
	if got := len(rec.RoomBuffer("42")); got != 0 {
		t.Fatalf("buffer not cleared after merge: %d", got)
	}
	found := false
	for _, d := range sess.subscriptions() {
		if d == wire.RoomTopic("42") {
			found = true
		}
	}
	if !found {
		t.Fatalf("room topic not subscribed after select: %v", sess.subscriptions())
	}
}

func TestSendMessageRequiresConnectionAndFocus(t *testing.T) {
	rec, sess, _ := newTestReconciler(t)

	if err := rec.SendMessage("   "); err != nil {
		t.Fatalf("blank message should be a no-op, got %v", err)
	}

	sess.mu.Lock()
	sess.state = events.ConnectionStateReconnecting
	sess.mu.Unlock()
	if err := rec.SendMessage("hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	sess.mu.Lock()
	sess.state = events.ConnectionStateConnected
	sess.mu.Unlock()
	if err := rec.SendMessage("hello"); !errors.Is(err, ErrNoFocus) {
		t.Fatalf("expected ErrNoFocus, got %v", err)
	}

	rec.setFocus(domain.RoomFocus("42"))
	if err := rec.SendMessage("hello"); err != nil {
		t.Fatalf("send to focused room: %v", err)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(sess.published))
	}
	if sess.published[0].destination != wire.RoomSendDestination("42") {
		t.Fatalf("unexpected destination: %q", sess.published[0].destination)
	}
	if len(rec.History()) != 0 {
		t.Fatalf("send appended optimistically")
	}
}

func TestLeaveFocusedRoomClearsFocus(t *testing.T) {
	rec, sess, api := newTestReconciler(t)
	ctx := context.Background()

	if err := rec.SelectRoom(ctx, domain.Room{ID: "42"}); err != nil {
		t.Fatalf("select room: %v", err)
	}
	if err := rec.LeaveRoom(ctx, "42"); err != nil {
		t.Fatalf("leave room: %v", err)
	}

	if focus := rec.Focus(); focus.Kind != domain.FocusNone {
		t.Fatalf("focus not cleared: %+v", focus)
	}
	if got := len(rec.History()); got != 0 {
		t.Fatalf("history not cleared: %d", got)
	}
	sess.mu.Lock()
	unsubscribed := append([]string(nil), sess.unsubscribed...)
	sess.mu.Unlock()
	if len(unsubscribed) != 1 || unsubscribed[0] != wire.RoomTopic("42") {
		t.Fatalf("room topic not unsubscribed: %v", unsubscribed)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.left) != 1 || api.left[0] != "42" {
		t.Fatalf("leave not sent to server: %v", api.left)
	}
}

func TestSelectPrivateChatMarksRead(t *testing.T) {
	rec, _, api := newTestReconciler(t)
	api.unread = 3

	if err := rec.SelectPrivateChat(context.Background(), domain.User{ID: "u2"}); err != nil {
		t.Fatalf("select private chat: %v", err)
	}

	api.mu.Lock()
	marked := append([]string(nil), api.markedRead...)
	api.mu.Unlock()
	if len(marked) != 1 || marked[0] != "u2" {
		t.Fatalf("conversation not marked read: %v", marked)
	}
	if got := rec.Unread(); got != 3 {
		t.Fatalf("unread not refreshed from server: %d", got)
	}
}

func TestRefreshUsersFiltersSelfAndFlagsOnline(t *testing.T) {
	rec, _, api := newTestReconciler(t)
	api.users = []domain.User{
		{ID: "me", Username: "self"},
		{ID: "u2", Username: "bob"},
		{ID: "u3", Username: "carol"},
	}
	api.online = []domain.User{{ID: "u3", Username: "carol"}}

	if err := rec.RefreshUsers(context.Background()); err != nil {
		t.Fatalf("refresh users: %v", err)
	}

	users := rec.Users()
	if len(users) != 2 {
		t.Fatalf("expected self filtered out, got %+v", users)
	}
	for _, u := range users {
		if u.ID == "me" {
			t.Fatalf("self present in user list")
		}
		if u.ID == "u3" && !u.Online {
			t.Fatalf("online flag not set for u3")
		}
		if u.ID == "u2" && u.Online {
			t.Fatalf("offline user flagged online")
		}
	}
}
