package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

func testConversation(t *testing.T, title string) *conversation.Conversation {
	t.Helper()
	return conversation.New(
		conversation.WithTitle(title),
		conversation.WithThread(conversation.Thread{
			conversation.NewMessage(conversation.RoleUser, "hello"),
			conversation.NewMessage(conversation.RoleAssistant, "hi there"),
		}),
	)
}

// forkedConversation builds a conversation with one fork point so store
// round trips cover the fork index, not just linear records.
func forkedConversation(t *testing.T) *conversation.Conversation {
	t.Helper()
	u1 := conversation.NewMessage(conversation.RoleUser, "question")
	a1 := conversation.NewMessage(conversation.RoleAssistant, "first answer")
	conv := conversation.New(
		conversation.WithTitle("forked"),
		conversation.WithThread(conversation.Thread{u1, a1}),
	)
	if _, err := conv.Apply(conversation.MutateCreateFork(u1.ID)); err != nil {
		t.Fatalf("MutateCreateFork returned error: %v", err)
	}
	alt := conversation.NewMessage(conversation.RoleAssistant, "second answer")
	if _, err := conv.Apply(conversation.MutateInsertAfter(u1.ID, alt)); err != nil {
		t.Fatalf("MutateInsertAfter returned error: %v", err)
	}
	return conv
}

func TestInMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	defer func() { _ = s.Close() }()

	conv := testConversation(t, "lifecycle")
	if err := s.Put(ctx, conv, SaveOptions{}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	got, ok, err := s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !ok || got == nil {
		t.Fatalf("expected conversation after Put")
	}
	if got.Title != "lifecycle" {
		t.Fatalf("unexpected title: %s", got.Title)
	}
	if len(got.Primary) != 2 {
		t.Fatalf("expected 2 primary messages, got=%d", len(got.Primary))
	}

	if err := s.Delete(ctx, conv.ID, SaveOptions{}); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	_, ok, err = s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get after delete returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected conversation to be gone after Delete")
	}

	// Deleting a missing conversation is a no-op.
	if err := s.Delete(ctx, conv.ID, SaveOptions{}); err != nil {
		t.Fatalf("Delete of missing conversation returned error: %v", err)
	}
}

func TestInMemoryStore_GetReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	defer func() { _ = s.Close() }()

	conv := testConversation(t, "isolated")
	if err := s.Put(ctx, conv, SaveOptions{}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	// Mutating the original after Put must not leak into the store.
	conv.Title = "mutated original"
	conv.Primary[0].Text = "tampered"

	got, ok, err := s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected conversation")
	}
	if got.Title != "isolated" {
		t.Fatalf("store saw caller mutation, title=%s", got.Title)
	}
	if got.Primary[0].Text != "hello" {
		t.Fatalf("store saw caller mutation, text=%s", got.Primary[0].Text)
	}

	// Mutating the returned copy must not leak either.
	got.Title = "mutated copy"
	got.Primary = got.Primary[:1]

	again, ok, err := s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("second Get returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected conversation on second Get")
	}
	if again.Title != "isolated" || len(again.Primary) != 2 {
		t.Fatalf("store saw reader mutation, title=%s messages=%d", again.Title, len(again.Primary))
	}
}

func TestInMemoryStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	defer func() { _ = s.Close() }()

	conv := testConversation(t, "versioned")
	if err := s.Put(ctx, conv, SaveOptions{}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	err := s.Put(ctx, conv, SaveOptions{ExpectedVersion: 7})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got=%v", err)
	}
	var conflict *VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *VersionConflictError, got=%T", err)
	}
	if conflict.Expected != 7 || conflict.Actual != conv.Version {
		t.Fatalf("unexpected conflict detail: expected=%d actual=%d", conflict.Expected, conflict.Actual)
	}

	if err := s.Rename(ctx, conv.ID, "renamed", SaveOptions{ExpectedVersion: 3}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict from Rename, got=%v", err)
	}
	if err := s.Delete(ctx, conv.ID, SaveOptions{ExpectedVersion: 3}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict from Delete, got=%v", err)
	}

	// ExpectedVersion zero skips the check.
	if err := s.Put(ctx, conv, SaveOptions{}); err != nil {
		t.Fatalf("unchecked Put returned error: %v", err)
	}
}

func TestInMemoryStore_RenameBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	defer func() { _ = s.Close() }()

	if err := s.Rename(ctx, conversation.NewConversationID(), "nope", SaveOptions{}); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got=%v", err)
	}

	conv := testConversation(t, "before")
	if err := s.Put(ctx, conv, SaveOptions{}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := s.Rename(ctx, conv.ID, "after", SaveOptions{}); err != nil {
		t.Fatalf("Rename returned error: %v", err)
	}

	got, ok, err := s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !ok {
		t.Fatalf("expected conversation")
	}
	if got.Title != "after" {
		t.Fatalf("unexpected title after rename: %s", got.Title)
	}
	if got.Version != conv.Version+1 {
		t.Fatalf("expected version bump, before=%d after=%d", conv.Version, got.Version)
	}
}

func TestInMemoryStore_ListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	defer func() { _ = s.Close() }()

	now := time.Now()

	oldest := testConversation(t, "alpha notes")
	oldest.Updated = now.Add(-2 * time.Hour)
	middle := testConversation(t, "beta notes")
	middle.Updated = now.Add(-1 * time.Hour)
	newest := testConversation(t, "gamma")
	newest.Updated = now

	for _, conv := range []*conversation.Conversation{oldest, middle, newest} {
		if err := s.Put(ctx, conv, SaveOptions{}); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 conversations, got=%d", len(all))
	}
	if all[0].ID != newest.ID || all[1].ID != middle.ID || all[2].ID != oldest.ID {
		t.Fatalf("unexpected order: %s %s %s", all[0].Title, all[1].Title, all[2].Title)
	}
	if all[0].MessageCount != 2 {
		t.Fatalf("expected message count 2, got=%d", all[0].MessageCount)
	}

	notes, err := s.List(ctx, "*notes")
	if err != nil {
		t.Fatalf("List with pattern returned error: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 matching conversations, got=%d", len(notes))
	}
	if notes[0].Title != "beta notes" || notes[1].Title != "alpha notes" {
		t.Fatalf("unexpected filtered order: %s %s", notes[0].Title, notes[1].Title)
	}
}

func TestInMemoryStore_WatchNotifies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}

	conv := testConversation(t, "watched")
	if err := s.Put(ctx, conv, SaveOptions{}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	select {
	case id := <-ch:
		if id != conv.ID {
			t.Fatalf("unexpected notification id: %s", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a watch notification after Put")
	}

	if err := s.Delete(ctx, conv.ID, SaveOptions{}); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	select {
	case id := <-ch:
		if id != conv.ID {
			t.Fatalf("unexpected notification id after delete: %s", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a watch notification after Delete")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	select {
	case _, open := <-ch:
		if open {
			t.Fatalf("expected watch channel to close")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected watch channel to close after store Close")
	}
}

func TestInMemoryStore_ClosedStoreRejectsOperations(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}

	conv := testConversation(t, "closed")
	if err := s.Put(ctx, conv, SaveOptions{}); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed from Put, got=%v", err)
	}
	if _, _, err := s.Get(ctx, conv.ID); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed from Get, got=%v", err)
	}
	if _, err := s.List(ctx, ""); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed from List, got=%v", err)
	}
	if _, err := s.Watch(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed from Watch, got=%v", err)
	}
}
