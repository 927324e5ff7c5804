package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/layout"
)

func TestPresentationStore_RoundTrip(t *testing.T) {
	s, err := NewPresentationStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewPresentationStore returned error: %v", err)
	}

	id := conversation.NewConversationID()
	n1 := conversation.NewNodeID()
	n2 := conversation.NewNodeID()

	rec := NewPresentationRecord()
	rec.Positions[n1] = layout.Position{X: 10, Y: 20, Width: 240, Height: 80}
	rec.Positions[n2] = layout.Position{X: 10, Y: 140, Width: 240, Height: 64}
	rec.Viewport = &layout.Viewport{Width: 800, Height: 600, OffsetX: 15, OffsetY: 25, Zoom: 1.5}

	if err := s.Save(id, rec); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := s.Load(id)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(got.Positions) != 2 {
		t.Fatalf("expected 2 positions, got=%d", len(got.Positions))
	}
	if got.Positions[n1] != rec.Positions[n1] {
		t.Fatalf("position mismatch for first node: %+v", got.Positions[n1])
	}
	if got.Positions[n2] != rec.Positions[n2] {
		t.Fatalf("position mismatch for second node: %+v", got.Positions[n2])
	}
	if got.Viewport == nil {
		t.Fatalf("expected viewport to survive round trip")
	}
	if *got.Viewport != *rec.Viewport {
		t.Fatalf("viewport mismatch: %+v", *got.Viewport)
	}
}

func TestPresentationStore_MissingFileYieldsEmptyRecord(t *testing.T) {
	s, err := NewPresentationStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewPresentationStore returned error: %v", err)
	}

	got, err := s.Load(conversation.NewConversationID())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got == nil {
		t.Fatalf("expected empty record, got nil")
	}
	if len(got.Positions) != 0 || got.Viewport != nil {
		t.Fatalf("expected empty record, got %d positions", len(got.Positions))
	}
}

func TestPresentationStore_CorruptFileYieldsEmptyRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPresentationStore(dir)
	if err != nil {
		t.Fatalf("NewPresentationStore returned error: %v", err)
	}

	id := conversation.NewConversationID()
	path := filepath.Join(dir, id.String()+".yaml")
	if err := os.WriteFile(path, []byte("positions: [broken"), 0o644); err != nil {
		t.Fatalf("writing corrupt file returned error: %v", err)
	}

	got, err := s.Load(id)
	if err != nil {
		t.Fatalf("Load of corrupt file returned error: %v", err)
	}
	if len(got.Positions) != 0 || got.Viewport != nil {
		t.Fatalf("expected empty record from corrupt file")
	}
}

func TestPresentationStore_SkipsUnparsableNodeIDs(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPresentationStore(dir)
	if err != nil {
		t.Fatalf("NewPresentationStore returned error: %v", err)
	}

	id := conversation.NewConversationID()
	nodeID := conversation.NewNodeID()
	doc := "positions:\n" +
		"  not-a-uuid:\n" +
		"    x: 1\n" +
		"    y: 2\n" +
		"  " + nodeID.String() + ":\n" +
		"    x: 4\n" +
		"    y: 8\n" +
		"    width: 120\n" +
		"    height: 48\n"
	path := filepath.Join(dir, id.String()+".yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing presentation file returned error: %v", err)
	}

	got, err := s.Load(id)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(got.Positions) != 1 {
		t.Fatalf("expected 1 parsable position, got=%d", len(got.Positions))
	}
	pos, ok := got.Positions[nodeID]
	if !ok {
		t.Fatalf("expected position for parsable node id")
	}
	if pos.X != 4 || pos.Y != 8 || pos.Width != 120 || pos.Height != 48 {
		t.Fatalf("unexpected position: %+v", pos)
	}
}

func TestPresentationStore_Delete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPresentationStore(dir)
	if err != nil {
		t.Fatalf("NewPresentationStore returned error: %v", err)
	}

	id := conversation.NewConversationID()
	rec := NewPresentationRecord()
	rec.Positions[conversation.NewNodeID()] = layout.Position{X: 1, Y: 2, Width: 3, Height: 4}
	if err := s.Save(id, rec); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if err := s.Delete(id); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, id.String()+".yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected presentation file to be removed, stat err=%v", err)
	}

	// Deleting a missing record is a no-op.
	if err := s.Delete(id); err != nil {
		t.Fatalf("second Delete returned error: %v", err)
	}
}
