package notify

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
)

// Service listens to bus events and emits user-facing notifications: unread
// private messages, room join/leave notices and connection state changes.
type Service struct {
	logger  *slog.Logger
	bus     bus.MessageBus
	sender  Sender
	self    auth.Identity
	enabled func() bool

	connStatusMu     sync.Mutex
	lastConnState    events.ConnectionState
	lastConnStateSet bool

	unreadMu   sync.Mutex
	lastUnread int
}

func NewService(logger *slog.Logger, messageBus bus.MessageBus, sender Sender, self auth.Identity, enabled func() bool) *Service {
	if logger == nil {
		logger = slog.Default().With("component", "notify")
	}

	return &Service{
		logger:  logger,
		bus:     messageBus,
		sender:  sender,
		self:    self,
		enabled: enabled,
	}
}

func (s *Service) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	unreadSub := s.bus.Subscribe(events.TopicUnread)
	presenceSub := s.bus.Subscribe(events.TopicPresence)
	connSub := s.bus.Subscribe(events.TopicConnStatus)

	go func() {
		defer s.bus.Unsubscribe(unreadSub, events.TopicUnread)
		defer s.bus.Unsubscribe(presenceSub, events.TopicPresence)
		defer s.bus.Unsubscribe(connSub, events.TopicConnStatus)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-unreadSub:
				if !ok {
					return
				}
				if ev, ok := raw.(events.UnreadChanged); ok {
					s.handleUnread(ev)
				}
			case raw, ok := <-presenceSub:
				if !ok {
					return
				}
				if ev, ok := raw.(events.PresenceChanged); ok {
					s.handlePresence(ev)
				}
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				if status, ok := raw.(events.ConnectionStatus); ok {
					s.handleConnectionStatus(status)
				}
			}
		}
	}()
}

// handleUnread notifies only on live increments carrying a sender; counter
// refreshes from the server arrive without one and stay silent.
func (s *Service) handleUnread(ev events.UnreadChanged) {
	s.unreadMu.Lock()
	previous := s.lastUnread
	s.lastUnread = ev.Count
	s.unreadMu.Unlock()

	if ev.From == "" || ev.Count <= previous {
		return
	}

	s.send(Payload{
		Title:   "New message from " + ev.From,
		Content: fmt.Sprintf("%d unread message(s)", ev.Count),
	})
}

func (s *Service) handlePresence(ev events.PresenceChanged) {
	if ev.UserID == s.self.UserID || ev.Username == s.self.Username {
		return
	}

	name := strings.TrimSpace(ev.Username)
	if name == "" {
		name = "Someone"
	}

	switch ev.Kind {
	case domain.MessageTypeJoin:
		s.send(Payload{Title: "User joined", Content: name + " joined the chat"})
	case domain.MessageTypeLeave:
		s.send(Payload{Title: "User left", Content: name + " left the chat"})
	}
}

// handleConnectionStatus announces connected/failed transitions once per state
// change; the reconnect loop repeats states and must not repeat toasts.
func (s *Service) handleConnectionStatus(status events.ConnectionStatus) {
	if status.State == "" {
		return
	}

	s.connStatusMu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.connStatusMu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.connStatusMu.Unlock()

	switch status.State {
	case events.ConnectionStateConnected:
		s.send(Payload{Title: "Connected", Content: status.Target})
	case events.ConnectionStateFailed:
		content := strings.TrimSpace(status.Err)
		if content == "" {
			content = "Connection failed"
		}
		s.send(Payload{Title: "Connection failed", Content: content})
	}
}

func (s *Service) send(payload Payload) {
	if s.enabled != nil && !s.enabled() {
		return
	}
	title := strings.TrimSpace(payload.Title)
	content := strings.TrimSpace(payload.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(Payload{Title: title, Content: content})
}
