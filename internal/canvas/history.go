package canvas

// DefaultHistoryLimit caps how many snapshots a History keeps.
const DefaultHistoryLimit = 100

// HistoryEntry is one committed state of the canvas.
type HistoryEntry = Snapshot

// History is a linear undo/redo stack of full snapshots.
// Snapshots are stored as-is; NodeStore never mutates a slice after it has
// been handed out, so no copy is taken on push or restore.
type History struct {
	sequence []HistoryEntry
	cursor   int
	limit    int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{cursor: -1, limit: limit}
}

// Reset discards everything and seeds the stack with a single entry.
func (h *History) Reset(initial HistoryEntry) {
	h.sequence = []HistoryEntry{initial}
	h.cursor = 0
}

// Push truncates the redo tail, appends entry and moves the cursor onto it.
// The oldest entry is evicted once the limit is exceeded.
func (h *History) Push(entry HistoryEntry) {
	if h.cursor < len(h.sequence)-1 {
		h.sequence = h.sequence[:h.cursor+1:h.cursor+1]
	}
	h.sequence = append(h.sequence, entry)
	if len(h.sequence) > h.limit {
		h.sequence = h.sequence[len(h.sequence)-h.limit:]
	}
	h.cursor = len(h.sequence) - 1
}

func (h *History) CanUndo() bool {
	return h.cursor > 0
}

func (h *History) CanRedo() bool {
	return h.cursor < len(h.sequence)-1
}

// Undo moves the cursor back and returns the entry it now points at.
func (h *History) Undo() (HistoryEntry, bool) {
	if !h.CanUndo() {
		return HistoryEntry{}, false
	}
	h.cursor--
	return h.sequence[h.cursor], true
}

// Redo moves the cursor forward and returns the entry it now points at.
func (h *History) Redo() (HistoryEntry, bool) {
	if !h.CanRedo() {
		return HistoryEntry{}, false
	}
	h.cursor++
	return h.sequence[h.cursor], true
}

// Current returns the entry under the cursor.
func (h *History) Current() (HistoryEntry, bool) {
	if h.cursor < 0 || h.cursor >= len(h.sequence) {
		return HistoryEntry{}, false
	}
	return h.sequence[h.cursor], true
}

func (h *History) Cursor() int {
	return h.cursor
}

func (h *History) Len() int {
	return len(h.sequence)
}

func (h *History) Clear() {
	h.sequence = nil
	h.cursor = -1
}
