package persistence

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"chatty/internal/bus"
	"chatty/internal/domain"
	"chatty/internal/events"
)

func TestArchiverMirrorsBusTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(ctx, filepath.Join(t.TempDir(), "chatty.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	b := bus.New(logger)
	defer b.Close()

	writer := NewWriterQueue(logger, 16)
	writer.Start(ctx)
	convRepo := NewConversationRepo(db)
	msgRepo := NewMessageRepo(db)
	NewArchiver(logger, b, writer, convRepo, msgRepo).Start(ctx)

	now := time.Now().UTC().Truncate(time.Millisecond)
	b.Publish(events.TopicMessage, events.MessageAppended{
		ConversationKey: "dm:u2",
		Message: domain.Message{
			ID: "p1", SenderID: "u2", SenderUsername: "bob",
			Content: "hi", Type: domain.MessageTypeText, Private: true, At: now,
		},
	})
	b.Publish(events.TopicRoomBuffered, events.RoomBuffered{
		RoomID: "42",
		Message: domain.Message{
			ID: "m1", SenderID: "u1", SenderUsername: "alice",
			Content: "room", Type: domain.MessageTypeText, At: now,
		},
	})
	// Presence notices have no id and must not be archived.
	b.Publish(events.TopicMessage, events.MessageAppended{
		ConversationKey: "room:42",
		Message:         domain.Message{SenderUsername: "alice", Type: domain.MessageTypeJoin, At: now},
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		counts, err := msgRepo.CountByConversation(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if counts["dm:u2"] == 1 && counts["room:42"] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("archive did not catch up: %v", counts)
		}
		time.Sleep(20 * time.Millisecond)
	}

	convs, err := convRepo.ListRecent(ctx)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected two conversations, got %+v", convs)
	}
	for _, c := range convs {
		if c.Key == "dm:u2" && c.Title != "bob" {
			t.Fatalf("private conversation title not taken from sender: %q", c.Title)
		}
	}

	msgs, err := msgRepo.ListRecent(ctx, "room:42", 10)
	if err != nil {
		t.Fatalf("list room messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("join notice leaked into the archive: %+v", msgs)
	}
}
