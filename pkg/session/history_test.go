package session

import (
	"fmt"
	"testing"

	"github.com/vango-dev/whiteboard/pkg/protocol"
)

func drawing(id string) protocol.DrawingEvent {
	return protocol.DrawingEvent{ID: id, Type: protocol.ShapeLine, Points: []float64{0, 0, 10, 10}}
}

func ids(drawings []protocol.DrawingEvent) string {
	out := ""
	for i, d := range drawings {
		if i > 0 {
			out += ","
		}
		out += d.ID
	}
	return out
}

func TestHistoryAppendPreservesOrder(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < 5; i++ {
		h.Append(drawing(fmt.Sprintf("d%d", i)))
	}
	if got := ids(h.Drawings()); got != "d0,d1,d2,d3,d4" {
		t.Errorf("Drawings() = %s", got)
	}
	if h.Len() != 5 {
		t.Errorf("Len() = %d, want 5", h.Len())
	}
}

func TestHistoryUndoRedoRestores(t *testing.T) {
	h := NewHistory(0)
	h.Append(drawing("a"))
	h.Append(drawing("b"))
	before := ids(h.Drawings())

	if !h.Undo() {
		t.Fatal("Undo() = false")
	}
	if got := ids(h.Drawings()); got != "a" {
		t.Errorf("after undo = %s, want a", got)
	}
	if !h.Redo() {
		t.Fatal("Redo() = false")
	}
	if got := ids(h.Drawings()); got != before {
		t.Errorf("after redo = %s, want %s", got, before)
	}
}

func TestHistoryUndoEmptyIsNoop(t *testing.T) {
	h := NewHistory(0)
	if h.Undo() {
		t.Error("Undo() on empty history = true")
	}
	if h.Redo() {
		t.Error("Redo() on empty history = true")
	}
	if h.CanUndo() || h.CanRedo() {
		t.Error("empty history reports undo/redo available")
	}
}

func TestHistoryAppendClearsRedo(t *testing.T) {
	h := NewHistory(0)
	h.Append(drawing("a"))
	h.Append(drawing("b"))
	h.Undo()

	h.Append(drawing("c"))

	if h.CanRedo() {
		t.Error("CanRedo() = true after append")
	}
	if h.Redo() {
		t.Error("Redo() = true after append")
	}
	if !h.CanUndo() {
		t.Error("CanUndo() = false, undo stack should survive append")
	}
	if got := ids(h.Drawings()); got != "a,c" {
		t.Errorf("Drawings() = %s, want a,c", got)
	}
}

func TestHistoryClearUndoRestoresInOrder(t *testing.T) {
	h := NewHistory(0)
	h.Append(drawing("a"))
	h.Append(drawing("b"))
	h.Append(drawing("c"))

	if !h.Clear() {
		t.Fatal("Clear() = false")
	}
	if h.Len() != 0 {
		t.Fatalf("Len() after clear = %d", h.Len())
	}

	if !h.Undo() {
		t.Fatal("Undo() after clear = false")
	}
	if got := ids(h.Drawings()); got != "a,b,c" {
		t.Errorf("Drawings() = %s, want a,b,c", got)
	}

	// Undoing further peels off single drawings again.
	h.Undo()
	if got := ids(h.Drawings()); got != "a,b" {
		t.Errorf("Drawings() = %s, want a,b", got)
	}
}

func TestHistoryRedoClear(t *testing.T) {
	h := NewHistory(0)
	h.Append(drawing("a"))
	h.Clear()
	h.Undo()

	if !h.Redo() {
		t.Fatal("Redo() = false")
	}
	if h.Len() != 0 {
		t.Errorf("Len() after redo clear = %d, want 0", h.Len())
	}
	h.Undo()
	if got := ids(h.Drawings()); got != "a" {
		t.Errorf("Drawings() = %s, want a", got)
	}
}

func TestHistoryClearEmptyIsNoop(t *testing.T) {
	h := NewHistory(0)
	if h.Clear() {
		t.Error("Clear() on empty canvas = true")
	}
	if h.CanUndo() {
		t.Error("empty clear should not be undoable")
	}
}

func TestHistoryClearDiscardsRedo(t *testing.T) {
	h := NewHistory(0)
	h.Append(drawing("a"))
	h.Append(drawing("b"))
	h.Undo()
	h.Clear()
	if h.CanRedo() {
		t.Error("CanRedo() = true after clear")
	}
}

func TestHistoryMaxDepth(t *testing.T) {
	h := NewHistory(2)
	h.Append(drawing("a"))
	h.Append(drawing("b"))
	h.Append(drawing("c"))

	if len(h.undo) != 2 {
		t.Fatalf("undo depth = %d, want 2", len(h.undo))
	}

	// All three drawings can still be removed.
	for i := 0; i < 3; i++ {
		if !h.Undo() {
			t.Fatalf("Undo() #%d = false", i+1)
		}
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
	if h.Undo() {
		t.Error("Undo() on drained history = true")
	}

	for i := 0; i < 3; i++ {
		if !h.Redo() {
			t.Fatalf("Redo() #%d = false", i+1)
		}
	}
	if got := ids(h.Drawings()); got != "a,b,c" {
		t.Errorf("Drawings() = %s, want a,b,c", got)
	}
}

func TestHistoryDrawingsIsCopy(t *testing.T) {
	h := NewHistory(0)
	h.Append(drawing("a"))
	snap := h.Drawings()
	snap[0].ID = "mutated"
	if got := ids(h.Drawings()); got != "a" {
		t.Errorf("Drawings() = %s, snapshot mutation leaked", got)
	}
}

func TestHistoryInterleavedSequence(t *testing.T) {
	h := NewHistory(0)
	h.Append(drawing("a"))
	h.Append(drawing("b"))
	h.Undo()               // a
	h.Append(drawing("c")) // a,c
	h.Clear()              // -
	h.Append(drawing("d")) // d
	h.Undo()               // -
	h.Undo()               // a,c
	h.Redo()               // -
	h.Redo()               // d

	if got := ids(h.Drawings()); got != "d" {
		t.Errorf("Drawings() = %s, want d", got)
	}
}
