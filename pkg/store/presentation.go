package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/layout"
)

// PresentationRecord carries per-conversation view state that is not part
// of the conversation itself: where node boxes sit on the canvas and which
// window the user last looked at. Losing it is never fatal, the layout
// engine can recompute positions from the tree.
type PresentationRecord struct {
	Positions map[conversation.NodeID]layout.Position
	Viewport  *layout.Viewport
}

// NewPresentationRecord returns an empty record ready for use.
func NewPresentationRecord() *PresentationRecord {
	return &PresentationRecord{
		Positions: map[conversation.NodeID]layout.Position{},
	}
}

// presentationDoc is the on-disk YAML shape. Node IDs become string keys so
// the file stays hand-readable and stale entries can be skipped on load.
type presentationDoc struct {
	Positions map[string]layout.Position `yaml:"positions,omitempty"`
	Viewport  *layout.Viewport           `yaml:"viewport,omitempty"`
}

// PresentationStore keeps one YAML file per conversation under a root
// directory. Reads never fail on a missing or corrupt file; the caller gets
// an empty record and the next save overwrites the damage.
type PresentationStore struct {
	mu  sync.Mutex
	dir string
}

func NewPresentationStore(dir string) (*PresentationStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("presentation store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &PresentationStore{dir: dir}, nil
}

func (s *PresentationStore) Load(id conversation.ConversationID) (*PresentationRecord, error) {
	if id.IsNull() {
		return nil, fmt.Errorf("presentation store: null conversation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return NewPresentationRecord(), nil
		}
		return nil, err
	}

	doc := &presentationDoc{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", id.String()).
			Msg("discarding corrupt presentation file")
		return NewPresentationRecord(), nil
	}

	rec := NewPresentationRecord()
	rec.Viewport = doc.Viewport
	for k, pos := range doc.Positions {
		nodeID, err := conversation.ParseNodeID(k)
		if err != nil {
			log.Warn().Str("conversation_id", id.String()).Str("node_id", k).
				Msg("skipping unparsable node id in presentation file")
			continue
		}
		rec.Positions[nodeID] = pos
	}
	return rec, nil
}

func (s *PresentationStore) Save(id conversation.ConversationID, rec *PresentationRecord) error {
	if id.IsNull() {
		return fmt.Errorf("presentation store: null conversation id")
	}
	if rec == nil {
		return fmt.Errorf("presentation store: nil record")
	}

	doc := &presentationDoc{
		Positions: map[string]layout.Position{},
		Viewport:  rec.Viewport,
	}
	for nodeID, pos := range rec.Positions {
		doc.Positions[nodeID.String()] = pos
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(id)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (s *PresentationStore) Delete(id conversation.ConversationID) error {
	if id.IsNull() {
		return fmt.Errorf("presentation store: null conversation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.pathFor(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *PresentationStore) pathFor(id conversation.ConversationID) string {
	return filepath.Join(s.dir, id.String()+".yaml")
}
