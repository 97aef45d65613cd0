package hoststore

import (
	"testing"

	"github.com/blinky-mon/blinky/internal/models"
)

func TestHistoryWrapAndFilter(t *testing.T) {
	t.Parallel()

	h := newHistory(4)
	for i := uint64(1); i <= 6; i++ {
		h.push(models.Snapshot{Timestamp: i})
	}
	got := h.ordered()
	if len(got) != 4 || got[0].Timestamp != 3 || got[3].Timestamp != 6 {
		t.Fatalf("ordered=%v", got)
	}

	removed := h.filter(func(s *models.Snapshot) bool { return s.Timestamp%2 == 0 })
	if removed != 2 || h.len() != 2 {
		t.Fatalf("removed=%d len=%d", removed, h.len())
	}
	h.push(models.Snapshot{Timestamp: 7})
	h.push(models.Snapshot{Timestamp: 8})
	h.push(models.Snapshot{Timestamp: 9})
	got = h.ordered()
	want := []uint64{6, 7, 8, 9}
	for i := range want {
		if got[i].Timestamp != want[i] {
			t.Fatalf("after refill ordered=%v", got)
		}
	}
	if tail := h.tail(2); len(tail) != 2 || tail[0].Timestamp != 8 {
		t.Fatalf("tail=%v", tail)
	}
}
