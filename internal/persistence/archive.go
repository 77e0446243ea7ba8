package persistence

import (
	"context"
	"log/slog"
	"strings"

	"chatty/internal/bus"
	"chatty/internal/domain"
	"chatty/internal/events"
)

// Archiver mirrors live message traffic into the local sqlite archive. It
// listens on the bus, so the session engine never knows the archive exists;
// dedup happens twice, in memory and again on the unique index.
type Archiver struct {
	logger        *slog.Logger
	bus           bus.MessageBus
	writer        *WriterQueue
	conversations *ConversationRepo
	messages      *MessageRepo
}

func NewArchiver(logger *slog.Logger, b bus.MessageBus, writer *WriterQueue, conversations *ConversationRepo, messages *MessageRepo) *Archiver {
	return &Archiver{
		logger:        logger,
		bus:           b,
		writer:        writer,
		conversations: conversations,
		messages:      messages,
	}
}

func (a *Archiver) Start(ctx context.Context) {
	appended := a.bus.Subscribe(events.TopicMessage)
	buffered := a.bus.Subscribe(events.TopicRoomBuffered)

	go func() {
		defer a.bus.Unsubscribe(appended, events.TopicMessage)
		defer a.bus.Unsubscribe(buffered, events.TopicRoomBuffered)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-appended:
				if !ok {
					return
				}
				if ev, ok := raw.(events.MessageAppended); ok {
					a.archive(ev.ConversationKey, ev.Message)
				}
			case raw, ok := <-buffered:
				if !ok {
					return
				}
				if ev, ok := raw.(events.RoomBuffered); ok {
					a.archive(domain.RoomConversationKey(ev.RoomID), ev.Message)
				}
			}
		}
	}()
}

func (a *Archiver) archive(conversationKey string, msg domain.Message) {
	if conversationKey == "" || msg.ID == "" {
		return
	}
	if msg.Type != domain.MessageTypeText {
		return
	}

	conv := Conversation{
		Key:       conversationKey,
		Kind:      conversationKind(conversationKey),
		UpdatedAt: msg.At,
	}
	if conv.Kind == ConversationKindPrivate {
		conv.Title = msg.DisplaySender()
	}

	a.writer.Enqueue("archive message", func(ctx context.Context) error {
		if err := a.conversations.Upsert(ctx, conv); err != nil {
			return err
		}
		_, err := a.messages.Insert(ctx, conversationKey, msg)

		return err
	})
}

func conversationKind(key string) string {
	if strings.HasPrefix(key, "dm:") {
		return ConversationKindPrivate
	}
	return ConversationKindRoom
}
