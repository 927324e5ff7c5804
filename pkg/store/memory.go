package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mb0/glob"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

// InMemoryStore is a thread-safe Store. Records are deep-cloned on read and
// write so callers never alias store memory.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[conversation.ConversationID]*conversation.Conversation
	watchers      []*memoryWatcher
	closed        bool
}

type memoryWatcher struct {
	ch   chan conversation.ConversationID
	done <-chan struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: map[conversation.ConversationID]*conversation.Conversation{},
	}
}

func (s *InMemoryStore) Get(_ context.Context, id conversation.ConversationID) (*conversation.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}

	conv, ok := s.conversations[id]
	if !ok || conv == nil {
		return nil, false, nil
	}
	return conv.Clone(), true, nil
}

func (s *InMemoryStore) List(_ context.Context, pattern string) ([]ConversationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	out := make([]ConversationInfo, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if pattern != "" {
			matching, err := glob.Match(pattern, conv.Title)
			if err != nil {
				return nil, err
			}
			if !matching {
				continue
			}
		}
		out = append(out, InfoOf(conv))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Updated.Equal(out[j].Updated) {
			return out[i].Updated.After(out[j].Updated)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *InMemoryStore) Put(_ context.Context, conv *conversation.Conversation, opts SaveOptions) error {
	if conv == nil {
		return fmt.Errorf("in-memory store: nil conversation")
	}
	if conv.ID.IsNull() {
		return fmt.Errorf("in-memory store: conversation has no ID")
	}
	if err := conv.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	actual := uint64(0)
	if existing, ok := s.conversations[conv.ID]; ok && existing != nil {
		actual = existing.Version
	}
	if err := assertExpectedVersion(conv.ID, opts.ExpectedVersion, actual); err != nil {
		return err
	}

	s.conversations[conv.ID] = conv.Clone()
	s.notifyLocked(conv.ID)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id conversation.ConversationID, opts SaveOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	existing, ok := s.conversations[id]
	if !ok || existing == nil {
		return nil
	}
	if err := assertExpectedVersion(id, opts.ExpectedVersion, existing.Version); err != nil {
		return err
	}
	delete(s.conversations, id)
	s.notifyLocked(id)
	return nil
}

func (s *InMemoryStore) Rename(_ context.Context, id conversation.ConversationID, title string, opts SaveOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	existing, ok := s.conversations[id]
	if !ok || existing == nil {
		return ErrConversationNotFound
	}
	if err := assertExpectedVersion(id, opts.ExpectedVersion, existing.Version); err != nil {
		return err
	}
	existing.Title = title
	existing.Version++
	existing.Updated = time.Now()
	s.notifyLocked(id)
	return nil
}

func (s *InMemoryStore) Watch(ctx context.Context) (<-chan conversation.ConversationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	w := &memoryWatcher{
		ch:   make(chan conversation.ConversationID, 16),
		done: ctx.Done(),
	}
	s.watchers = append(s.watchers, w)
	return w.ch, nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, w := range s.watchers {
		close(w.ch)
	}
	s.watchers = nil
	return nil
}

func (s *InMemoryStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// notifyLocked fans a change out to all live watchers. Cancelled watchers
// are closed and dropped; a watcher with a full buffer loses the
// notification rather than blocking the write path.
func (s *InMemoryStore) notifyLocked(id conversation.ConversationID) {
	kept := s.watchers[:0]
	for _, w := range s.watchers {
		select {
		case <-w.done:
			close(w.ch)
			continue
		default:
		}
		select {
		case w.ch <- id:
		default:
			log.Warn().Str("conversation_id", id.String()).Msg("store watcher is slow, dropping notification")
		}
		kept = append(kept, w)
	}
	s.watchers = kept
}

func assertExpectedVersion(id conversation.ConversationID, expected, actual uint64) error {
	if expected == 0 || expected == actual {
		return nil
	}
	return &VersionConflictError{
		ID:       id,
		Expected: expected,
		Actual:   actual,
	}
}
