// Package history implements a bounded linear undo/redo stack.
package history

const DefaultMaxDepth = 50

// History keeps past and future snapshots around a present value. Callers own
// copying: values pushed here must not be mutated afterwards.
type History[T any] struct {
	past     []T
	present  T
	future   []T
	maxDepth int
}

// New creates a history whose present is initial. maxDepth <= 0 selects
// DefaultMaxDepth.
func New[T any](maxDepth int, initial T) *History[T] {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &History[T]{present: initial, maxDepth: maxDepth}
}

// Push records a new present. The previous present moves onto the past and
// any redo branch is discarded.
func (h *History[T]) Push(snapshot T) {
	h.past = append(h.past, h.present)
	if len(h.past) > h.maxDepth {
		h.past = append(h.past[:0:0], h.past[len(h.past)-h.maxDepth:]...)
	}
	h.present = snapshot
	h.future = nil
}

// Undo steps back one entry and returns the new present.
func (h *History[T]) Undo() (T, bool) {
	if len(h.past) == 0 {
		var zero T
		return zero, false
	}
	last := len(h.past) - 1
	previous := h.past[last]
	h.past = h.past[:last]

	h.future = append([]T{h.present}, h.future...)
	if len(h.future) > h.maxDepth {
		h.future = h.future[:h.maxDepth]
	}
	h.present = previous
	return previous, true
}

// Redo steps forward one entry and returns the new present.
func (h *History[T]) Redo() (T, bool) {
	if len(h.future) == 0 {
		var zero T
		return zero, false
	}
	next := h.future[0]
	h.future = h.future[1:]

	h.past = append(h.past, h.present)
	if len(h.past) > h.maxDepth {
		h.past = append(h.past[:0:0], h.past[len(h.past)-h.maxDepth:]...)
	}
	h.present = next
	return next, true
}

func (h *History[T]) Present() T {
	return h.present
}

// Replace overwrites the present without touching either stack.
func (h *History[T]) Replace(snapshot T) {
	h.present = snapshot
}

// Reset drops both stacks and starts over from present.
func (h *History[T]) Reset(present T) {
	h.past = nil
	h.future = nil
	h.present = present
}

// Clone returns an independent copy of the stacks. The snapshots themselves
// are shared.
func (h *History[T]) Clone() *History[T] {
	return &History[T]{
		past:     append([]T(nil), h.past...),
		present:  h.present,
		future:   append([]T(nil), h.future...),
		maxDepth: h.maxDepth,
	}
}

func (h *History[T]) CanUndo() bool {
	return len(h.past) > 0
}

func (h *History[T]) CanRedo() bool {
	return len(h.future) > 0
}

// Len returns the sizes of the past and future stacks.
func (h *History[T]) Len() (past, future int) {
	return len(h.past), len(h.future)
}

func (h *History[T]) MaxDepth() int {
	return h.maxDepth
}
