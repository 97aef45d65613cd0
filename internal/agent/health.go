package agent

import (
	"sync/atomic"
	"time"
)

// Health is the agent's live status, read by the /health endpoint while
// the collection loop writes it.
type Health struct {
	streamConnected atomic.Bool
	pushAbandoned   atomic.Bool
	lastSampleAt    atomic.Int64
	lastPushAt      atomic.Int64
	samples         atomic.Uint64
	pushFailures    atomic.Uint64
	storeFailures   atomic.Uint64
	startedAt       time.Time
}

func NewHealth() *Health {
	return &Health{startedAt: time.Now()}
}

func (h *Health) SetStreamConnected(ok bool) { h.streamConnected.Store(ok) }

func (h *Health) StreamConnected() bool { return h.streamConnected.Load() }

func (h *Health) MarkSample(ts time.Time) {
	h.samples.Add(1)
	h.lastSampleAt.Store(ts.UnixNano())
}

func (h *Health) MarkPush(ts time.Time) { h.lastPushAt.Store(ts.UnixNano()) }

func (h *Health) MarkPushFailure() { h.pushFailures.Add(1) }

func (h *Health) MarkStoreFailure() { h.storeFailures.Add(1) }

func (h *Health) SetPushAbandoned() { h.pushAbandoned.Store(true) }

func (h *Health) Snapshot() map[string]any {
	out := map[string]any{
		"stream_connected": h.streamConnected.Load(),
		"push_abandoned":   h.pushAbandoned.Load(),
		"samples":          h.samples.Load(),
		"push_failures":    h.pushFailures.Load(),
		"store_failures":   h.storeFailures.Load(),
		"uptime_seconds":   int64(time.Since(h.startedAt).Seconds()),
	}
	if v := h.lastSampleAt.Load(); v > 0 {
		out["last_sample_at"] = time.Unix(0, v).UTC()
	}
	if v := h.lastPushAt.Load(); v > 0 {
		out["last_push_at"] = time.Unix(0, v).UTC()
	}
	return out
}
