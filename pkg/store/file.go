package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

// selfWriteWindow is how long after one of our own writes an fsnotify event
// for the same file is treated as an echo rather than an external change.
const selfWriteWindow = 2 * time.Second

// FileStore persists one JSON document per conversation under a root
// directory, named <conversation-id>.json. An InMemoryStore holds the
// working set; every write goes through it and is then flushed to disk with
// a temp-file rename.
type FileStore struct {
	mu         sync.RWMutex
	dir        string
	store      *InMemoryStore
	selfWrites map[conversation.ConversationID]time.Time
	closed     bool
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &FileStore{
		dir:        dir,
		store:      NewInMemoryStore(),
		selfWrites: map[conversation.ConversationID]time.Time{},
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Get(ctx context.Context, id conversation.ConversationID) (*conversation.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	return s.store.Get(ctx, id)
}

func (s *FileStore) List(ctx context.Context, pattern string) ([]ConversationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, pattern)
}

func (s *FileStore) Put(ctx context.Context, conv *conversation.Conversation, opts SaveOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.store.Put(ctx, conv, opts); err != nil {
		return err
	}
	return s.persistLocked(ctx, conv.ID)
}

func (s *FileStore) Delete(ctx context.Context, id conversation.ConversationID, opts SaveOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id, opts); err != nil {
		return err
	}

	s.selfWrites[id] = time.Now()
	err := os.Remove(s.pathFor(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) Rename(ctx context.Context, id conversation.ConversationID, title string, opts SaveOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.store.Rename(ctx, id, title, opts); err != nil {
		return err
	}
	return s.persistLocked(ctx, id)
}

// Watch emits the IDs of conversations whose files change externally. Our
// own writes are filtered out by the self-write window. Changed files are
// reloaded into the working set before their ID is emitted, so a subsequent
// Get returns fresh content.
func (s *FileStore) Watch(ctx context.Context) (<-chan conversation.ConversationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	ch := make(chan conversation.ConversationID, 16)
	go s.watchLoop(ctx, watcher, ch)
	return ch, nil
}

func (s *FileStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, ch chan conversation.ConversationID) {
	defer close(ch)
	defer func() {
		_ = watcher.Close()
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			id, err := conversation.ParseConversationID(strings.TrimSuffix(filepath.Base(event.Name), ".json"))
			if err != nil {
				continue
			}
			if s.isSelfWrite(id) {
				continue
			}

			s.reload(ctx, id)
			select {
			case ch <- id:
			case <-ctx.Done():
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("dir", s.dir).Msg("file store watcher error")

		case <-ctx.Done():
			return
		}
	}
}

func (s *FileStore) isSelfWrite(id conversation.ConversationID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.selfWrites[id]
	if !ok {
		return false
	}
	if time.Since(at) > selfWriteWindow {
		delete(s.selfWrites, id)
		return false
	}
	return true
}

// reload refreshes the working set from the file after an external change.
func (s *FileStore) reload(ctx context.Context, id conversation.ConversationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	conv, err := s.readFile(s.pathFor(id))
	if os.IsNotExist(err) {
		_ = s.store.Delete(ctx, id, SaveOptions{})
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", id.String()).Msg("ignoring externally changed conversation file")
		return
	}
	s.store.mu.Lock()
	s.store.conversations[conv.ID] = conv
	s.store.notifyLocked(conv.ID)
	s.store.mu.Unlock()
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.store.Close()
}

func (s *FileStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *FileStore) loadFromDisk() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		conv, err := s.readFile(path)
		if err != nil {
			// one corrupt file must not take the whole library down
			log.Warn().Err(err).Str("path", path).Msg("skipping unreadable conversation file")
			continue
		}

		wantID := strings.TrimSuffix(entry.Name(), ".json")
		if conv.ID.String() != wantID {
			log.Warn().Str("path", path).Str("record_id", conv.ID.String()).Msg("skipping conversation file whose name does not match its record")
			continue
		}

		s.store.conversations[conv.ID] = conv
	}
	return nil
}

func (s *FileStore) readFile(path string) (*conversation.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRecord(data); err != nil {
		return nil, err
	}

	conv := &conversation.Conversation{}
	if err := json.Unmarshal(data, conv); err != nil {
		return nil, err
	}
	if conv.Forks == nil {
		conv.Forks = map[conversation.NodeID]*conversation.ForkEntry{}
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *FileStore) persistLocked(ctx context.Context, id conversation.ConversationID) error {
	conv, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok || conv == nil {
		s.selfWrites[id] = time.Now()
		err := os.Remove(s.pathFor(id))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	b, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}

	s.selfWrites[id] = time.Now()
	path := s.pathFor(id)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (s *FileStore) pathFor(id conversation.ConversationID) string {
	return filepath.Join(s.dir, id.String()+".json")
}
