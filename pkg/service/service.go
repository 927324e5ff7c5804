// Package service orchestrates conversation mutations, persistence, events,
// generation, and presentation state behind a single facade.
//
// Every write to a conversation goes through that conversation's ordered
// mutation queue: one worker applies tasks strictly in submission order, so
// concurrent callers can never interleave partial updates. Reads go straight
// to the store, which hands out isolated copies.
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/events"
	"github.com/go-go-golems/espalier/pkg/export"
	"github.com/go-go-golems/espalier/pkg/generation"
	"github.com/go-go-golems/espalier/pkg/layout"
	"github.com/go-go-golems/espalier/pkg/store"
	"github.com/go-go-golems/espalier/pkg/tree"
)

var (
	ErrServiceClosed     = errors.New("service closed")
	ErrNoEngine          = errors.New("no generation engine configured")
	ErrGenerationRunning = errors.New("generation already running")
)

const removeCascadeName = "remove_with_cascade"

// ConversationService owns the write path of every conversation. It applies
// mutations through per-conversation queues, persists committed records,
// publishes change events, and keeps the derived tree, layout, and
// presentation state reachable from one place.
type ConversationService struct {
	store        store.Store
	router       *events.EventRouter
	engine       generation.Engine
	autosaver    *export.Autosaver
	layoutConfig layout.Config
	now          func() time.Time
	journal      *journal
	journalSize  int
	presentation *presentationWriter

	presentationStore *store.PresentationStore
	presentationDelay time.Duration

	storeWatch  bool
	watchCancel context.CancelFunc

	group errgroup.Group

	mu          sync.Mutex
	closed      bool
	queues      map[conversation.ConversationID]*mutationQueue
	publishers  map[conversation.ConversationID]*events.PublisherManager
	running     map[conversation.ConversationID]*runningGeneration
	lastChanges map[conversation.ConversationID]*conversation.ChangeSet

	// single-slot undo, armed by the last cascading delete
	undoConv conversation.ConversationID
	undoSnap *conversation.Conversation
}

type Option func(*ConversationService) error

func WithEventRouter(router *events.EventRouter) Option {
	return func(s *ConversationService) error {
		s.router = router
		return nil
	}
}

func WithEngine(engine generation.Engine) Option {
	return func(s *ConversationService) error {
		s.engine = engine
		return nil
	}
}

func WithAutosaver(autosaver *export.Autosaver) Option {
	return func(s *ConversationService) error {
		s.autosaver = autosaver
		return nil
	}
}

func WithPresentationStore(ps *store.PresentationStore) Option {
	return func(s *ConversationService) error {
		s.presentationStore = ps
		return nil
	}
}

// WithPresentationDebounce sets how long position updates accumulate before
// they are written out.
func WithPresentationDebounce(delay time.Duration) Option {
	return func(s *ConversationService) error {
		s.presentationDelay = delay
		return nil
	}
}

func WithLayoutConfig(cfg layout.Config) Option {
	return func(s *ConversationService) error {
		s.layoutConfig = cfg
		return nil
	}
}

func WithJournalSize(size int) Option {
	return func(s *ConversationService) error {
		s.journalSize = size
		return nil
	}
}

// WithStoreWatch republishes store change notifications as change events.
// With a file-backed store this surfaces edits made by other processes; the
// in-memory and sqlite stores notify on every write, own writes included, so
// subscribers must tolerate an extra refresh.
func WithStoreWatch() Option {
	return func(s *ConversationService) error {
		s.storeWatch = true
		return nil
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *ConversationService) error {
		s.now = now
		return nil
	}
}

func New(st store.Store, options ...Option) (*ConversationService, error) {
	if st == nil {
		return nil, errors.New("no store provided")
	}

	ret := &ConversationService{
		store:        st,
		layoutConfig: layout.DefaultConfig(),
		now:          time.Now,
		journalSize:  defaultJournalSize,
		queues:       map[conversation.ConversationID]*mutationQueue{},
		publishers:   map[conversation.ConversationID]*events.PublisherManager{},
		running:      map[conversation.ConversationID]*runningGeneration{},
		lastChanges:  map[conversation.ConversationID]*conversation.ChangeSet{},
	}

	for _, option := range options {
		if err := option(ret); err != nil {
			return nil, err
		}
	}

	ret.journal = newJournal(ret.journalSize)
	if ret.presentationStore != nil {
		ret.presentation = newPresentationWriter(ret.presentationStore, ret.presentationDelay)
	}
	if ret.storeWatch {
		watchCtx, cancel := context.WithCancel(context.Background())
		ids, err := st.Watch(watchCtx)
		if err != nil {
			cancel()
			return nil, errors.Wrap(err, "failed to watch store")
		}
		ret.watchCancel = cancel
		ret.group.Go(func() error {
			ret.runStoreWatch(watchCtx, ids)
			return nil
		})
	}

	return ret, nil
}

// Close drains the mutation queues, cancels running generations, and flushes
// pending presentation writes. The store and the event router belong to the
// caller and stay open.
func (s *ConversationService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	queues := make([]*mutationQueue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	cancels := make([]context.CancelFunc, 0, len(s.running))
	for _, rg := range s.running {
		cancels = append(cancels, rg.cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if s.watchCancel != nil {
		s.watchCancel()
	}
	for _, q := range queues {
		q.close()
	}
	if err := s.group.Wait(); err != nil {
		log.Warn().Err(err).Msg("worker group reported an error on close")
	}

	if s.presentation != nil {
		s.presentation.flush()
	}
	return nil
}

// enqueue submits a task to the conversation's queue and waits for it. The
// queue and its worker are created on first use.
func (s *ConversationService) enqueue(ctx context.Context, id conversation.ConversationID, run func(context.Context) error) error {
	if id.IsNull() {
		return errors.New("conversation id is null")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	q, ok := s.queues[id]
	if !ok {
		q = newMutationQueue()
		s.queues[id] = q
		s.group.Go(func() error {
			q.worker()
			return nil
		})
	}
	s.mu.Unlock()

	t := &task{ctx: ctx, run: run, done: make(chan error, 1)}
	if err := q.push(t); err != nil {
		return err
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ConversationService) load(ctx context.Context, id conversation.ConversationID) (*conversation.Conversation, error) {
	conv, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(store.ErrConversationNotFound, "conversation %s", id)
	}
	return conv, nil
}

// commit persists an already-mutated record and fans out the side effects of
// the write: journal entry, tree.changed event, optional autosave.
func (s *ConversationService) commit(ctx context.Context, conv *conversation.Conversation, mutation string, changes *conversation.ChangeSet) error {
	if changes == nil {
		changes = &conversation.ChangeSet{}
	}

	if err := s.store.Put(ctx, conv, store.SaveOptions{Source: "service"}); err != nil {
		return errors.Wrapf(err, "failed to persist conversation %s", conv.ID)
	}

	s.journal.append(JournalEntry{
		ID:           ulid.Make(),
		Conversation: conv.ID,
		Name:         mutation,
		At:           s.now(),
		Added:        len(changes.Added),
		Removed:      len(changes.Removed),
	})

	s.mu.Lock()
	s.lastChanges[conv.ID] = changes
	s.mu.Unlock()

	metadata := events.NewEventMetadata(conv.ID)
	s.publisherFor(conv.ID).PublishBlind(events.NewTreeChangedEvent(metadata, mutation, changes, conv.Version))

	if s.autosaver != nil {
		if err := s.autosaver.Save(conv); err != nil {
			log.Warn().Err(err).Str("conversation_id", conv.ID.String()).Msg("autosave failed")
		}
	}

	return nil
}

// publisherFor returns the conversation's publisher manager, wiring it to
// the conversation topic and the firehose on first use.
func (s *ConversationService) publisherFor(id conversation.ConversationID) *events.PublisherManager {
	s.mu.Lock()
	defer s.mu.Unlock()

	pm, ok := s.publishers[id]
	if !ok {
		pm = events.NewPublisherManager()
		if s.router != nil {
			pm.SubscribePublisher(events.ConversationTopic(id), s.router.Publisher)
			pm.SubscribePublisher(events.FirehoseTopic, s.router.Publisher)
		}
		s.publishers[id] = pm
	}
	return pm
}

func (s *ConversationService) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CreateConversation stores a fresh conversation, optionally seeded with a
// linear run of messages, and announces it.
func (s *ConversationService) CreateConversation(ctx context.Context, title string, seed ...*conversation.Message) (*conversation.Conversation, error) {
	if s.isClosed() {
		return nil, ErrServiceClosed
	}

	conv := conversation.New(
		conversation.WithTitle(title),
		conversation.WithThread(seed),
	)
	if err := s.store.Put(ctx, conv, store.SaveOptions{Source: "service"}); err != nil {
		return nil, errors.Wrap(err, "failed to store new conversation")
	}

	metadata := events.NewEventMetadata(conv.ID)
	s.publisherFor(conv.ID).PublishBlind(events.NewConversationCreatedEvent(metadata, title))

	return conv, nil
}

// DeleteConversation removes the record, its presentation cache, and an undo
// snapshot pointing at it. The delete runs through the mutation queue so it
// cannot interleave with a mutation in flight.
func (s *ConversationService) DeleteConversation(ctx context.Context, id conversation.ConversationID) error {
	return s.enqueue(ctx, id, func(ctx context.Context) error {
		if err := s.store.Delete(ctx, id, store.SaveOptions{Source: "service"}); err != nil {
			return err
		}

		s.mu.Lock()
		if s.undoConv == id {
			s.undoConv = conversation.NullConversation
			s.undoSnap = nil
		}
		delete(s.lastChanges, id)
		s.mu.Unlock()

		if s.presentation != nil {
			s.presentation.delete(id)
		}

		metadata := events.NewEventMetadata(id)
		s.publisherFor(id).PublishBlind(events.NewConversationDeletedEvent(metadata))
		return nil
	})
}

func (s *ConversationService) Rename(ctx context.Context, id conversation.ConversationID, title string) error {
	return s.enqueue(ctx, id, func(ctx context.Context) error {
		return s.store.Rename(ctx, id, title, store.SaveOptions{Source: "service"})
	})
}

func (s *ConversationService) Get(ctx context.Context, id conversation.ConversationID) (*conversation.Conversation, bool, error) {
	return s.store.Get(ctx, id)
}

func (s *ConversationService) List(ctx context.Context, pattern string) ([]store.ConversationInfo, error) {
	return s.store.List(ctx, pattern)
}

// Do applies mutations to the conversation through its ordered queue and
// waits for the outcome. A cascading delete arms the undo slot first; the
// slot is kept only when the cascade actually removed something.
func (s *ConversationService) Do(ctx context.Context, id conversation.ConversationID, mutations ...conversation.Mutation) (*conversation.ChangeSet, error) {
	if len(mutations) == 0 {
		return &conversation.ChangeSet{}, nil
	}

	var out *conversation.ChangeSet
	err := s.enqueue(ctx, id, func(ctx context.Context) error {
		conv, err := s.load(ctx, id)
		if err != nil {
			return err
		}

		var snapshot *conversation.Conversation
		for _, m := range mutations {
			if m.Name() == removeCascadeName {
				snapshot = conv.Clone()
				break
			}
		}

		changes, err := conv.ApplyAll(mutations...)
		if err != nil {
			return err
		}

		if snapshot != nil && len(changes.Removed) > 0 {
			s.mu.Lock()
			s.undoConv = conv.ID
			s.undoSnap = snapshot
			s.mu.Unlock()
		}

		if err := s.commit(ctx, conv, mutationNames(mutations), changes); err != nil {
			return err
		}
		out = changes
		return nil
	})
	return out, err
}

// Undo restores the snapshot taken before the last cascading delete and
// clears the slot, so a second undo is a silent no-op. Undo for a different
// conversation or an empty slot reports false without error.
func (s *ConversationService) Undo(ctx context.Context, id conversation.ConversationID) (bool, error) {
	restored := false
	err := s.enqueue(ctx, id, func(ctx context.Context) error {
		s.mu.Lock()
		snapshot := s.undoSnap
		match := snapshot != nil && s.undoConv == id
		if match {
			s.undoSnap = nil
			s.undoConv = conversation.NullConversation
		}
		s.mu.Unlock()
		if !match {
			return nil
		}

		current, ok, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}

		var before []conversation.NodeID
		version := snapshot.Version
		if ok {
			before = current.AllMessages().IDs()
			version = current.Version
		}
		snapshot.Version = version + 1
		snapshot.Updated = s.now()

		added, removed := conversation.DiffIDs(before, snapshot.AllMessages().IDs())
		changes := &conversation.ChangeSet{
			Added:            added,
			Removed:          removed,
			StructureChanged: true,
		}

		if err := s.commit(ctx, snapshot, "undo", changes); err != nil {
			return err
		}
		restored = true
		return nil
	})
	return restored, err
}

// AppendToLeaf inserts the message after the current active leaf, seeding
// the primary sequence when the conversation is still empty.
func (s *ConversationService) AppendToLeaf(ctx context.Context, id conversation.ConversationID, message *conversation.Message) (*conversation.ChangeSet, error) {
	if message == nil {
		return nil, errors.New("message is nil")
	}

	var out *conversation.ChangeSet
	err := s.enqueue(ctx, id, func(ctx context.Context) error {
		conv, err := s.load(ctx, id)
		if err != nil {
			return err
		}

		var changes *conversation.ChangeSet
		if leaf := conv.ActiveLeaf(); leaf != nil {
			changes, err = conv.ApplyAll(conversation.MutateInsertAfter(leaf.ID, message))
			if err != nil {
				return err
			}
		} else {
			if message.ID.IsNull() {
				return errors.New("message has no id")
			}
			message.ParentID = conversation.NullNode
			conv.Primary = append(conv.Primary, message)
			conv.Version++
			conv.Updated = s.now()
			changes = &conversation.ChangeSet{
				Added:            []conversation.NodeID{message.ID},
				StructureChanged: true,
			}
		}

		if err := s.commit(ctx, conv, "insert_after", changes); err != nil {
			return err
		}
		out = changes
		return nil
	})
	return out, err
}

func (s *ConversationService) GetTree(ctx context.Context, id conversation.ConversationID) (*tree.Tree, error) {
	conv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return tree.Build(conv)
}

// GetLayout derives node positions for the conversation, keeping cached
// coordinates for nodes the tree still has. The refreshed positions go back
// into the presentation cache.
func (s *ConversationService) GetLayout(ctx context.Context, id conversation.ConversationID) (layout.Result, error) {
	conv, err := s.load(ctx, id)
	if err != nil {
		return layout.Result{}, err
	}
	tr, err := tree.Build(conv)
	if err != nil {
		return layout.Result{}, err
	}

	prev := layout.Result{}
	if s.presentation != nil {
		prev.Positions = s.presentation.snapshot(id).Positions
	}

	s.mu.Lock()
	changed := s.lastChanges[id]
	s.mu.Unlock()

	res := layout.Incremental(tr, s.layoutConfig, prev, changed)

	if s.presentation != nil {
		s.presentation.setPositions(id, res.Positions)
	}
	return res, nil
}

// Presentation returns a copy of the conversation's cached positions and
// viewport.
func (s *ConversationService) Presentation(id conversation.ConversationID) *store.PresentationRecord {
	if s.presentation == nil {
		return store.NewPresentationRecord()
	}
	return s.presentation.snapshot(id)
}

// UpdatePositions records node moves, overwriting only the given entries.
// Writes are debounced.
func (s *ConversationService) UpdatePositions(id conversation.ConversationID, positions map[conversation.NodeID]layout.Position) {
	if s.presentation == nil {
		return
	}
	s.presentation.mergePositions(id, positions)
}

func (s *ConversationService) SetViewport(id conversation.ConversationID, viewport layout.Viewport) {
	if s.presentation == nil {
		return
	}
	s.presentation.setViewport(id, viewport)
}

// Journal returns the retained mutation journal of the conversation, oldest
// first.
func (s *ConversationService) Journal(id conversation.ConversationID) []JournalEntry {
	return s.journal.forConversation(id)
}

func mutationNames(mutations []conversation.Mutation) string {
	if len(mutations) == 1 {
		return mutations[0].Name()
	}
	names := make([]string, 0, len(mutations))
	for _, m := range mutations {
		names = append(names, m.Name())
	}
	return strings.Join(names, "+")
}
