// Package hoststore keeps the collector's per-host aggregate state: the
// latest snapshot, a bounded history and liveness. Records are created on
// first sight of a hostname and live for the life of the process.
package hoststore

import (
	"sort"
	"sync"
	"time"

	"github.com/blinky-mon/blinky/internal/models"
)

// HistoryCap bounds the number of snapshots kept per host.
const HistoryCap = 1000

// HostRecord is a point-in-time copy of one host's state.
type HostRecord struct {
	Hostname        string            `json:"hostname"`
	AgentVersion    string            `json:"agent_version"`
	Latest          models.Snapshot   `json:"latest"`
	History         []models.Snapshot `json:"history,omitempty"`
	LastUpdate      uint64            `json:"last_update"` // unix seconds
	Online          bool              `json:"online"`
	VersionMismatch bool              `json:"version_mismatch"`
}

type host struct {
	hostname        string
	agentVersion    string
	latest          models.Snapshot
	history         *history
	lastUpdate      uint64
	online          bool
	versionMismatch bool
}

func (h *host) record(withHistory bool) HostRecord {
	r := HostRecord{
		Hostname:        h.hostname,
		AgentVersion:    h.agentVersion,
		Latest:          h.latest.Clone(),
		LastUpdate:      h.lastUpdate,
		Online:          h.online,
		VersionMismatch: h.versionMismatch,
	}
	if withHistory {
		r.History = h.history.tail(0)
	}
	return r
}

// Store is safe for concurrent use. The lock is held only for the
// read-modify-write of the map, never across I/O.
type Store struct {
	mu      sync.Mutex
	hosts   map[string]*host
	version string
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store. collectorVersion is compared against each
// agent's reported version to flag mismatches.
func New(collectorVersion string, opts ...Option) *Store {
	s := &Store{
		hosts:   make(map[string]*host),
		version: collectorVersion,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) unixNow() uint64 {
	return uint64(s.now().Unix())
}

// StoreMetrics records snap as the host's latest state and appends it to
// its history. The host is keyed by snap.Hostname and marked online. The
// snapshot is copied; slices inside it must not be modified afterwards.
func (s *Store) StoreMetrics(snap *models.Snapshot, agentVersion string) {
	if snap == nil {
		return
	}
	ts := snap.Timestamp
	if ts == 0 {
		ts = s.unixNow()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts[snap.Hostname]
	if !ok {
		h = &host{hostname: snap.Hostname, history: newHistory(HistoryCap)}
		s.hosts[snap.Hostname] = h
	}
	h.latest = snap.Clone()
	h.history.push(snap.Clone())
	h.lastUpdate = ts
	h.online = true
	h.agentVersion = agentVersion
	h.versionMismatch = agentVersion != "" && agentVersion != s.version
}

// Touch refreshes liveness for a known host without a new snapshot, as a
// heartbeat does. It reports whether the host exists.
func (s *Store) Touch(hostname string, ts uint64) bool {
	if ts == 0 {
		ts = s.unixNow()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts[hostname]
	if !ok {
		return false
	}
	if ts > h.lastUpdate {
		h.lastUpdate = ts
	}
	h.online = true
	return true
}

// MarkHostOffline flags a known host offline. Unknown hostnames are ignored.
func (s *Store) MarkHostOffline(hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.hosts[hostname]; ok {
		h.online = false
	}
}

// CleanupOldData marks offline every host whose last update is at least
// maxAge old, and drops every history entry whose own timestamp is that
// old. Timestamps in the future count as fresh. CleanupOldData(0) marks
// every host offline and empties every history. It returns the number of
// history entries removed.
func (s *Store) CleanupOldData(maxAge time.Duration) int {
	now := s.now().Unix()
	limit := int64(maxAge / time.Second)
	stale := func(ts uint64) bool {
		return now-int64(ts) >= limit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, h := range s.hosts {
		if stale(h.lastUpdate) {
			h.online = false
		}
		removed += h.history.filter(func(snap *models.Snapshot) bool {
			return !stale(snap.Timestamp)
		})
	}
	return removed
}

// GetAllHosts returns a copy of every host record, without history,
// sorted by hostname.
func (s *Store) GetAllHosts() []HostRecord {
	s.mu.Lock()
	out := make([]HostRecord, 0, len(s.hosts))
	for _, h := range s.hosts {
		out = append(out, h.record(false))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

// GetHostMetrics returns a full copy of one host, history included.
func (s *Store) GetHostMetrics(hostname string) (HostRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts[hostname]
	if !ok {
		return HostRecord{}, false
	}
	return h.record(true), true
}

// GetHistory returns the newest limit snapshots for hostname, oldest first.
// A non-positive limit returns the whole history.
func (s *Store) GetHistory(hostname string, limit int) ([]models.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts[hostname]
	if !ok {
		return nil, false
	}
	return h.history.tail(limit), true
}

// HistoryLen reports how many snapshots are held for hostname.
func (s *Store) HistoryLen(hostname string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.hosts[hostname]; ok {
		return h.history.len()
	}
	return 0
}

// GetHostnames returns every known hostname, sorted.
func (s *Store) GetHostnames() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.hosts))
	for name := range s.hosts {
		names = append(names, name)
	}
	s.mu.Unlock()

	sort.Strings(names)
	return names
}

// GetHostCount returns the number of known hosts, online or not.
func (s *Store) GetHostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hosts)
}

// Counts returns the total and online host counts in one pass.
func (s *Store) Counts() (total, online int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.hosts {
		if h.online {
			online++
		}
	}
	return len(s.hosts), online
}
