package domain

import "testing"

func TestContainsMessageID(t *testing.T) {
	msgs := []Message{{ID: "m1"}, {ID: "m2"}, {}}

	if !ContainsMessageID(msgs, "m1") {
		t.Fatalf("expected m1 to be found")
	}
	if ContainsMessageID(msgs, "m3") {
		t.Fatalf("m3 should not be found")
	}
	// Presence notices carry no id and must never match each other.
	if ContainsMessageID(msgs, "") {
		t.Fatalf("empty id must never match")
	}
}

func TestDisplaySender(t *testing.T) {
	m := Message{SenderUsername: "alice", SenderName: "Alice L"}
	if got := m.DisplaySender(); got != "Alice L" {
		t.Fatalf("expected display name, got %q", got)
	}
	m.SenderName = ""
	if got := m.DisplaySender(); got != "alice" {
		t.Fatalf("expected username fallback, got %q", got)
	}
}

func TestFocusConversationKeys(t *testing.T) {
	if got := RoomFocus("42").ConversationKey(); got != "room:42" {
		t.Fatalf("unexpected room key: %q", got)
	}
	if got := PrivateFocus("u2").ConversationKey(); got != "dm:u2" {
		t.Fatalf("unexpected private key: %q", got)
	}
	if got := (Focus{}).ConversationKey(); got != "" {
		t.Fatalf("unfocused key should be empty, got %q", got)
	}
}

func TestFocusExclusivity(t *testing.T) {
	focus := RoomFocus("42")
	if !focus.IsRoom("42") || focus.IsRoom("43") {
		t.Fatalf("room focus predicate broken: %+v", focus)
	}
	if focus.IsPrivate("42") {
		t.Fatalf("room focus must not match private predicate")
	}

	focus = PrivateFocus("u2")
	if !focus.IsPrivate("u2") || focus.IsRoom("u2") {
		t.Fatalf("private focus predicate broken: %+v", focus)
	}
}
