package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/events"
	"github.com/go-go-golems/espalier/pkg/layout"
	"github.com/go-go-golems/espalier/pkg/store"
)

func newTestService(t *testing.T, options ...Option) *ConversationService {
	t.Helper()
	st := store.NewInMemoryStore()
	svc, err := New(st, options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, svc.Close())
		require.NoError(t, st.Close())
	})
	return svc
}

func seedConversation(t *testing.T, svc *ConversationService, title string, texts ...string) (*conversation.Conversation, []*conversation.Message) {
	t.Helper()
	msgs := make([]*conversation.Message, 0, len(texts))
	for i, text := range texts {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		msgs = append(msgs, conversation.NewMessage(role, text))
	}
	conv, err := svc.CreateConversation(context.Background(), title, msgs...)
	require.NoError(t, err)
	return conv, msgs
}

func TestCreateConversation(t *testing.T) {
	svc := newTestService(t)
	conv, msgs := seedConversation(t, svc, "rodents", "what is a capybara", "a large rodent")

	require.False(t, conv.ID.IsNull())
	require.Equal(t, "rodents", conv.Title)

	stored, ok, err := svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, stored.MessageCount())
	require.Equal(t, msgs[0].ID, stored.Root().ID)
}

func TestDoAppliesMutationAndJournals(t *testing.T) {
	svc := newTestService(t)
	conv, msgs := seedConversation(t, svc, "rodents", "what is a capybara", "a large rodent")

	followup := conversation.NewMessage(conversation.RoleUser, "where do they live")
	changes, err := svc.Do(context.Background(), conv.ID, conversation.MutateInsertAfter(msgs[1].ID, followup))
	require.NoError(t, err)
	require.Equal(t, []conversation.NodeID{followup.ID}, changes.Added)

	stored, ok, err := svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), stored.Version)
	require.Equal(t, 3, stored.MessageCount())

	entries := svc.Journal(conv.ID)
	require.Len(t, entries, 1)
	require.Equal(t, "insert_after", entries[0].Name)
	require.Equal(t, 1, entries[0].Added)
	require.Equal(t, 0, entries[0].Removed)
}

func TestDoBatchesMutationsUnderOneCommit(t *testing.T) {
	svc := newTestService(t)
	conv, msgs := seedConversation(t, svc, "rodents", "what is a capybara", "a large rodent")

	alt := conversation.NewMessage(conversation.RoleAssistant, "a very chill animal")
	_, err := svc.Do(context.Background(), conv.ID,
		conversation.MutateCreateFork(msgs[0].ID),
		conversation.MutateInsertAfter(msgs[0].ID, alt),
	)
	require.NoError(t, err)

	entries := svc.Journal(conv.ID)
	require.Len(t, entries, 1)
	require.Equal(t, "create_fork+insert_after", entries[0].Name)

	stored, _, err := svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stored.Version)
	_, ok := stored.Fork(msgs[0].ID)
	require.True(t, ok)
}

func TestDoUnknownConversation(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Do(context.Background(), conversation.NewConversationID(),
		conversation.MutateEditMessage(conversation.NewNodeID(), "x"))
	require.ErrorIs(t, err, store.ErrConversationNotFound)
}

func TestConcurrentAppendsApplyInOrder(t *testing.T) {
	svc := newTestService(t)
	conv, _ := seedConversation(t, svc, "burst", "hello")

	const n = 12
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := conversation.NewMessage(conversation.RoleAssistant, fmt.Sprintf("reply %d", i))
			_, errs[i] = svc.AppendToLeaf(context.Background(), conv.ID, msg)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "append %d", i)
	}

	stored, ok, err := svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1+n, stored.MessageCount())
	require.Equal(t, uint64(n), stored.Version)

	// Every append resolved the leaf inside its queued task, so the result
	// is one linear chain whatever order the goroutines ran in.
	path := stored.ActivePath()
	require.Len(t, path, 1+n)
	for i := 1; i < len(path); i++ {
		require.Equal(t, path[i-1].ID, path[i].ParentID)
	}
}

func TestAppendToLeafSeedsEmptyConversation(t *testing.T) {
	svc := newTestService(t)
	conv, err := svc.CreateConversation(context.Background(), "empty")
	require.NoError(t, err)

	first := conversation.NewMessage(conversation.RoleUser, "hello")
	changes, err := svc.AppendToLeaf(context.Background(), conv.ID, first)
	require.NoError(t, err)
	require.Equal(t, []conversation.NodeID{first.ID}, changes.Added)

	stored, _, err := svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, stored.Root().ID)
	require.True(t, stored.Root().ParentID.IsNull())
	require.Equal(t, uint64(1), stored.Version)

	second := conversation.NewMessage(conversation.RoleAssistant, "hi")
	_, err = svc.AppendToLeaf(context.Background(), conv.ID, second)
	require.NoError(t, err)

	stored, _, err = svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, stored.ActiveLeaf().ParentID)
	require.Equal(t, second.ID, stored.ActiveLeaf().ID)
}

func TestUndoRestoresCascadeRemoval(t *testing.T) {
	svc := newTestService(t)
	conv, msgs := seedConversation(t, svc, "rodents", "what is a capybara", "a large rodent")
	u1 := msgs[0]

	_, err := svc.Do(context.Background(), conv.ID, conversation.MutateCreateFork(u1.ID))
	require.NoError(t, err)
	alt := conversation.NewMessage(conversation.RoleAssistant, "a very chill animal")
	_, err = svc.AppendToLeaf(context.Background(), conv.ID, alt)
	require.NoError(t, err)

	changes, err := svc.Do(context.Background(), conv.ID, conversation.MutateRemoveWithCascade(u1.ID))
	require.NoError(t, err)
	require.Len(t, changes.Removed, 3)

	stored, _, err := svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.True(t, stored.IsEmpty())

	restored, err := svc.Undo(context.Background(), conv.ID)
	require.NoError(t, err)
	require.True(t, restored)

	stored, _, err = svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, 3, stored.MessageCount())
	entry, ok := stored.Fork(u1.ID)
	require.True(t, ok)
	require.Len(t, entry.Branches, 2)
	path := stored.ActivePath()
	require.Len(t, path, 2)
	require.Equal(t, u1.ID, path[0].ID)
	require.Equal(t, alt.ID, path[1].ID)
	require.Equal(t, uint64(4), stored.Version)

	// The slot is spent; a second undo has nothing to restore.
	restored, err = svc.Undo(context.Background(), conv.ID)
	require.NoError(t, err)
	require.False(t, restored)
}

func TestUndoEmptySlot(t *testing.T) {
	svc := newTestService(t)
	conv, _ := seedConversation(t, svc, "rodents", "what is a capybara")

	restored, err := svc.Undo(context.Background(), conv.ID)
	require.NoError(t, err)
	require.False(t, restored)
}

func TestUndoIgnoresOtherConversation(t *testing.T) {
	svc := newTestService(t)
	convA, msgsA := seedConversation(t, svc, "a", "question", "answer")
	convB, _ := seedConversation(t, svc, "b", "unrelated")

	_, err := svc.Do(context.Background(), convA.ID, conversation.MutateRemoveWithCascade(msgsA[1].ID))
	require.NoError(t, err)

	restored, err := svc.Undo(context.Background(), convB.ID)
	require.NoError(t, err)
	require.False(t, restored)

	// The slot survived the mismatched undo and still applies to A.
	restored, err = svc.Undo(context.Background(), convA.ID)
	require.NoError(t, err)
	require.True(t, restored)

	stored, _, err := svc.Get(context.Background(), convA.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.MessageCount())
}

func TestUndoNotArmedWhenNothingRemoved(t *testing.T) {
	svc := newTestService(t)
	conv, _ := seedConversation(t, svc, "rodents", "what is a capybara")

	changes, err := svc.Do(context.Background(), conv.ID, conversation.MutateRemoveWithCascade(conversation.NewNodeID()))
	require.NoError(t, err)
	require.Empty(t, changes.Removed)

	restored, err := svc.Undo(context.Background(), conv.ID)
	require.NoError(t, err)
	require.False(t, restored)
}

func TestDeleteConversation(t *testing.T) {
	svc := newTestService(t)
	conv, msgs := seedConversation(t, svc, "rodents", "what is a capybara", "a large rodent")

	_, err := svc.Do(context.Background(), conv.ID, conversation.MutateRemoveWithCascade(msgs[1].ID))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteConversation(context.Background(), conv.ID))

	_, ok, err := svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting also dropped the undo snapshot pointing at the record.
	restored, err := svc.Undo(context.Background(), conv.ID)
	require.NoError(t, err)
	require.False(t, restored)
}

func TestRename(t *testing.T) {
	svc := newTestService(t)
	conv, _ := seedConversation(t, svc, "draft", "hello")

	require.NoError(t, svc.Rename(context.Background(), conv.ID, "final"))

	stored, _, err := svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, "final", stored.Title)
}

func TestGetTreeAndLayout(t *testing.T) {
	svc := newTestService(t)
	conv, _ := seedConversation(t, svc, "rodents", "sys", "what is a capybara", "a large rodent")

	tr, err := svc.GetTree(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, 3, tr.Len())

	res, err := svc.GetLayout(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, res.Positions, 3)
	for _, n := range tr.Nodes {
		require.Contains(t, res.Positions, n.ID)
	}
}

func TestGetLayoutKeepsCoordinatesAcrossAppend(t *testing.T) {
	ps, err := store.NewPresentationStore(t.TempDir())
	require.NoError(t, err)
	svc := newTestService(t, WithPresentationStore(ps))
	conv, msgs := seedConversation(t, svc, "rodents", "what is a capybara", "a large rodent")

	before, err := svc.GetLayout(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, before.Positions, 2)

	extra := conversation.NewMessage(conversation.RoleUser, "where do they live")
	_, err = svc.AppendToLeaf(context.Background(), conv.ID, extra)
	require.NoError(t, err)

	after, err := svc.GetLayout(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, after.Positions, 3)
	require.Equal(t, before.Positions[msgs[0].ID], after.Positions[msgs[0].ID])
	require.Equal(t, before.Positions[msgs[1].ID], after.Positions[msgs[1].ID])
	require.Contains(t, after.Positions, extra.ID)
}

func TestPresentationFlushOnClose(t *testing.T) {
	dir := t.TempDir()
	ps, err := store.NewPresentationStore(dir)
	require.NoError(t, err)

	st := store.NewInMemoryStore()
	svc, err := New(st,
		WithPresentationStore(ps),
		WithPresentationDebounce(time.Hour),
	)
	require.NoError(t, err)

	conv, err := svc.CreateConversation(context.Background(), "canvas",
		conversation.NewMessage(conversation.RoleUser, "hello"))
	require.NoError(t, err)
	nodeID := conv.Root().ID

	svc.UpdatePositions(conv.ID, map[conversation.NodeID]layout.Position{
		nodeID: {X: 10, Y: 20, Width: 220, Height: 88},
	})
	svc.SetViewport(conv.ID, layout.Viewport{Width: 800, Height: 600, Zoom: 2})

	rec := svc.Presentation(conv.ID)
	require.NotNil(t, rec.Viewport)
	require.Equal(t, float64(2), rec.Viewport.Zoom)

	// Nothing hit the disk yet, the debounce window is an hour.
	require.NoError(t, svc.Close())

	loaded, err := ps.Load(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Viewport)
	require.Equal(t, float64(2), loaded.Viewport.Zoom)
	require.Equal(t, float64(10), loaded.Positions[nodeID].X)
	require.Equal(t, float64(20), loaded.Positions[nodeID].Y)

	require.NoError(t, st.Close())
}

func TestCloseRejectsFurtherWork(t *testing.T) {
	st := store.NewInMemoryStore()
	svc, err := New(st)
	require.NoError(t, err)
	conv, err := svc.CreateConversation(context.Background(), "done")
	require.NoError(t, err)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	_, err = svc.CreateConversation(context.Background(), "late")
	require.ErrorIs(t, err, ErrServiceClosed)

	_, err = svc.Do(context.Background(), conv.ID, conversation.MutateEditMessage(conversation.NewNodeID(), "x"))
	require.ErrorIs(t, err, ErrServiceClosed)

	require.NoError(t, st.Close())
}

func TestJournalIsBounded(t *testing.T) {
	svc := newTestService(t, WithJournalSize(3))
	conv, msgs := seedConversation(t, svc, "rodents", "what is a capybara")

	for i := 0; i < 5; i++ {
		_, err := svc.Do(context.Background(), conv.ID,
			conversation.MutateEditMessage(msgs[0].ID, fmt.Sprintf("edit %d", i)))
		require.NoError(t, err)
	}

	entries := svc.Journal(conv.ID)
	require.Len(t, entries, 3)
	for _, e := range entries {
		require.Equal(t, "edit_message", e.Name)
		require.Equal(t, conv.ID, e.Conversation)
	}
}

func TestEventsReachRouterSubscribers(t *testing.T) {
	router, err := events.NewEventRouter()
	require.NoError(t, err)

	received := make(chan events.Event, 16)
	router.AddHandler("collect", events.FirehoseTopic, func(msg *message.Message) error {
		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}
		received <- e
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()
	defer func() {
		require.NoError(t, router.Close())
	}()

	svc := newTestService(t, WithEventRouter(router))
	conv, msgs := seedConversation(t, svc, "rodents", "what is a capybara")

	created := waitForEvent(t, received)
	require.Equal(t, events.EventTypeConversationCreated, created.Type())
	require.Equal(t, conv.ID, created.Metadata().ConversationID)

	reply := conversation.NewMessage(conversation.RoleAssistant, "a large rodent")
	_, err = svc.Do(context.Background(), conv.ID, conversation.MutateInsertAfter(msgs[0].ID, reply))
	require.NoError(t, err)

	changed := waitForEvent(t, received)
	require.Equal(t, events.EventTypeTreeChanged, changed.Type())
	tc, ok := changed.(*events.EventTreeChanged)
	require.True(t, ok)
	require.Equal(t, "insert_after", tc.Mutation)
	require.Equal(t, []conversation.NodeID{reply.ID}, tc.Changes.Added)
	require.Equal(t, uint64(1), tc.Version)
}

func TestStoreWatchPublishesExternalChanges(t *testing.T) {
	router, err := events.NewEventRouter()
	require.NoError(t, err)

	received := make(chan events.Event, 16)
	router.AddHandler("collect", events.FirehoseTopic, func(msg *message.Message) error {
		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}
		received <- e
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()
	defer func() {
		require.NoError(t, router.Close())
	}()

	st := store.NewInMemoryStore()
	svc, err := New(st, WithEventRouter(router), WithStoreWatch())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, svc.Close())
		require.NoError(t, st.Close())
	})

	// Write behind the service's back, as another process would.
	conv := conversation.New(
		conversation.WithTitle("edited elsewhere"),
		conversation.WithThread(conversation.Thread{
			conversation.NewMessage(conversation.RoleUser, "hello"),
		}),
	)
	require.NoError(t, st.Put(context.Background(), conv, store.SaveOptions{Source: "external"}))

	changed := waitForEvent(t, received)
	require.Equal(t, events.EventTypeTreeChanged, changed.Type())
	require.Equal(t, conv.ID, changed.Metadata().ConversationID)
	tc, ok := changed.(*events.EventTreeChanged)
	require.True(t, ok)
	require.Equal(t, "external_change", tc.Mutation)
	require.True(t, tc.Changes.StructureChanged)

	require.NoError(t, st.Delete(context.Background(), conv.ID, store.SaveOptions{Source: "external"}))

	deleted := waitForEvent(t, received)
	require.Equal(t, events.EventTypeConversationDeleted, deleted.Type())
	require.Equal(t, conv.ID, deleted.Metadata().ConversationID)
}

func waitForEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
