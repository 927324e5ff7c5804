package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/layout"
	"github.com/go-go-golems/espalier/pkg/store"
)

const defaultPresentationDebounce = 500 * time.Millisecond

// presentationWriter caches presentation records in memory and debounces
// their writes, so a burst of position updates costs one file write per
// conversation instead of one per drag tick.
type presentationWriter struct {
	store *store.PresentationStore
	delay time.Duration

	mu      sync.Mutex
	records map[conversation.ConversationID]*store.PresentationRecord
	dirty   map[conversation.ConversationID]bool
	timer   *time.Timer
}

func newPresentationWriter(ps *store.PresentationStore, delay time.Duration) *presentationWriter {
	if delay <= 0 {
		delay = defaultPresentationDebounce
	}
	return &presentationWriter{
		store:   ps,
		delay:   delay,
		records: map[conversation.ConversationID]*store.PresentationRecord{},
		dirty:   map[conversation.ConversationID]bool{},
	}
}

// loadLocked returns the cached record, reading it from the store on first
// access. A failed load degrades to an empty record.
func (w *presentationWriter) loadLocked(id conversation.ConversationID) *store.PresentationRecord {
	rec, ok := w.records[id]
	if ok {
		return rec
	}

	rec, err := w.store.Load(id)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", id.String()).Msg("failed to load presentation record")
		rec = store.NewPresentationRecord()
	}
	w.records[id] = rec
	return rec
}

func (w *presentationWriter) snapshot(id conversation.ConversationID) *store.PresentationRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return clonePresentation(w.loadLocked(id))
}

// setPositions replaces the whole position map, dropping entries for nodes
// the layout no longer knows.
func (w *presentationWriter) setPositions(id conversation.ConversationID, positions map[conversation.NodeID]layout.Position) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec := w.loadLocked(id)
	rec.Positions = make(map[conversation.NodeID]layout.Position, len(positions))
	for nodeID, pos := range positions {
		rec.Positions[nodeID] = pos
	}
	w.markDirtyLocked(id)
}

// mergePositions overwrites the entries present in positions and keeps the
// rest, for single-node moves.
func (w *presentationWriter) mergePositions(id conversation.ConversationID, positions map[conversation.NodeID]layout.Position) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec := w.loadLocked(id)
	for nodeID, pos := range positions {
		rec.Positions[nodeID] = pos
	}
	w.markDirtyLocked(id)
}

func (w *presentationWriter) setViewport(id conversation.ConversationID, viewport layout.Viewport) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec := w.loadLocked(id)
	rec.Viewport = &viewport
	w.markDirtyLocked(id)
}

// delete drops the cached record and the persisted file.
func (w *presentationWriter) delete(id conversation.ConversationID) {
	w.mu.Lock()
	delete(w.records, id)
	delete(w.dirty, id)
	w.mu.Unlock()

	if err := w.store.Delete(id); err != nil {
		log.Warn().Err(err).Str("conversation_id", id.String()).Msg("failed to delete presentation record")
	}
}

func (w *presentationWriter) markDirtyLocked(id conversation.ConversationID) {
	w.dirty[id] = true
	if w.timer == nil {
		w.timer = time.AfterFunc(w.delay, w.flush)
	}
}

// flush writes every dirty record. The debounce timer lands here, and Close
// calls it directly.
func (w *presentationWriter) flush() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	pending := make(map[conversation.ConversationID]*store.PresentationRecord, len(w.dirty))
	for id := range w.dirty {
		pending[id] = clonePresentation(w.loadLocked(id))
	}
	w.dirty = map[conversation.ConversationID]bool{}
	w.mu.Unlock()

	for id, rec := range pending {
		if err := w.store.Save(id, rec); err != nil {
			log.Warn().Err(err).Str("conversation_id", id.String()).Msg("failed to save presentation record")
		}
	}
}

func clonePresentation(rec *store.PresentationRecord) *store.PresentationRecord {
	out := store.NewPresentationRecord()
	for id, pos := range rec.Positions {
		out.Positions[id] = pos
	}
	if rec.Viewport != nil {
		viewport := *rec.Viewport
		out.Viewport = &viewport
	}
	return out
}
