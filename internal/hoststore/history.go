package hoststore

import "github.com/blinky-mon/blinky/internal/models"

// history is a bounded FIFO of snapshots. Once full, push overwrites the
// oldest entry. filter removes arbitrary entries, not just the ends.
// It is not safe for concurrent use; Store guards it.
type history struct {
	items    []models.Snapshot
	start    int // index of the oldest entry once len(items) == capacity
	capacity int
}

func newHistory(capacity int) *history {
	initial := capacity
	if initial > 16 {
		initial = 16
	}
	return &history{items: make([]models.Snapshot, 0, initial), capacity: capacity}
}

func (h *history) len() int { return len(h.items) }

func (h *history) push(s models.Snapshot) {
	if len(h.items) < h.capacity {
		h.items = append(h.items, s)
		return
	}
	h.items[h.start] = s
	h.start = (h.start + 1) % h.capacity
}

// ordered returns the entries oldest first. The slice is new but the
// snapshots still share their lists with the ring.
func (h *history) ordered() []models.Snapshot {
	out := make([]models.Snapshot, 0, len(h.items))
	out = append(out, h.items[h.start:]...)
	out = append(out, h.items[:h.start]...)
	return out
}

// tail returns deep copies of the newest n entries, oldest first. A
// non-positive n returns every entry.
func (h *history) tail(n int) []models.Snapshot {
	all := h.ordered()
	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	out := make([]models.Snapshot, len(all))
	for i := range all {
		out[i] = all[i].Clone()
	}
	return out
}

// filter drops every entry for which keep is false and reports how many
// were removed. Order of the survivors is preserved.
func (h *history) filter(keep func(*models.Snapshot) bool) int {
	all := h.ordered()
	kept := all[:0]
	for i := range all {
		if keep(&all[i]) {
			kept = append(kept, all[i])
		}
	}
	removed := len(all) - len(kept)
	clear(all[len(kept):])
	h.items = kept
	h.start = 0
	return removed
}
