package session

import "github.com/vango-dev/whiteboard/pkg/protocol"

// Frame is a group of drawings removed or restored together by one undo or
// redo step. Appends produce one-event frames; clear produces a frame
// holding the whole canvas.
type Frame []protocol.DrawingEvent

type stepKind uint8

const (
	stepAppend stepKind = iota
	stepClear
)

func (k stepKind) String() string {
	if k == stepClear {
		return "clear"
	}
	return "append"
}

// step is one undoable action and the drawings it touched.
type step struct {
	kind  stepKind
	frame Frame
}

// History is a session's drawing log with undo and redo.
//
// History is not safe for concurrent use; it is owned by one actor.
type History struct {
	drawings []protocol.DrawingEvent
	undo     []step
	redo     []step
	maxDepth int
}

// NewHistory returns an empty history keeping at most maxDepth undo steps.
// A maxDepth of zero or less means unlimited.
func NewHistory(maxDepth int) *History {
	return &History{maxDepth: maxDepth}
}

// Append adds d to the end of the canvas and discards the redo stack.
func (h *History) Append(d protocol.DrawingEvent) {
	h.drawings = append(h.drawings, d)
	h.pushUndo(step{kind: stepAppend, frame: Frame{d}})
	h.redo = nil
}

// Undo reverts the most recent step. It reports false, changing nothing,
// when there is nothing to revert.
func (h *History) Undo() bool {
	if len(h.undo) == 0 {
		// Steps trimmed off the bottom of the stack leave drawings behind;
		// those are removed one at a time.
		if len(h.drawings) == 0 {
			return false
		}
		last := h.drawings[len(h.drawings)-1]
		h.drawings = h.drawings[:len(h.drawings)-1]
		h.redo = append(h.redo, step{kind: stepAppend, frame: Frame{last}})
		return true
	}

	s := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]

	switch s.kind {
	case stepAppend:
		n := len(s.frame)
		if n > len(h.drawings) {
			n = len(h.drawings)
		}
		h.drawings = h.drawings[:len(h.drawings)-n]
	case stepClear:
		restored := make([]protocol.DrawingEvent, 0, len(s.frame)+len(h.drawings))
		restored = append(restored, s.frame...)
		restored = append(restored, h.drawings...)
		h.drawings = restored
	}

	h.redo = append(h.redo, s)
	return true
}

// Redo re-applies the most recently undone step. It reports false when the
// redo stack is empty.
func (h *History) Redo() bool {
	if len(h.redo) == 0 {
		return false
	}

	s := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]

	switch s.kind {
	case stepAppend:
		h.drawings = append(h.drawings, s.frame...)
	case stepClear:
		s.frame = Frame(h.drawings)
		h.drawings = nil
	}

	h.pushUndo(s)
	return true
}

// Clear empties the canvas as one undoable step and discards the redo
// stack. Clearing an empty canvas is a no-op and reports false.
func (h *History) Clear() bool {
	if len(h.drawings) == 0 {
		return false
	}
	h.pushUndo(step{kind: stepClear, frame: Frame(h.drawings)})
	h.drawings = nil
	h.redo = nil
	return true
}

// Drawings returns a copy of the canvas in order.
func (h *History) Drawings() []protocol.DrawingEvent {
	out := make([]protocol.DrawingEvent, len(h.drawings))
	copy(out, h.drawings)
	return out
}

// Len returns the number of drawings on the canvas.
func (h *History) Len() int {
	return len(h.drawings)
}

// CanUndo reports whether Undo would change anything.
func (h *History) CanUndo() bool {
	return len(h.undo) > 0 || len(h.drawings) > 0
}

// CanRedo reports whether Redo would change anything.
func (h *History) CanRedo() bool {
	return len(h.redo) > 0
}

func (h *History) pushUndo(s step) {
	h.undo = append(h.undo, s)
	if h.maxDepth > 0 && len(h.undo) > h.maxDepth {
		drop := len(h.undo) - h.maxDepth
		h.undo = append(h.undo[:0:0], h.undo[drop:]...)
	}
}
