// Package localstore is the agent's append-only, rotating JSON-lines log of
// snapshots. Every I/O failure degrades to false or an empty result: callers
// cannot tell "no data" from "error", and the cause is only logged at debug.
//
// File names do not sort chronologically as plain text: the day file
// metrics-YYYYMMDD.jsonl sorts after that day's rotated files, and a
// same-second suffix -N sorts before its unsuffixed sibling. Files and every
// reader order by the parsed name instead, so tools listing the directory
// should not rely on ls order.
package localstore

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blinky-mon/blinky/internal/models"
)

const (
	filePrefix = "metrics-"
	fileSuffix = ".jsonl"
	dayLayout  = "20060102"
	timeLayout = "150405"

	// DefaultMaxFiles and DefaultMaxFileSize match the shipped config.
	DefaultMaxFiles    = 100
	DefaultMaxFileSize = 10 << 20
)

// Store owns every metrics-*.jsonl file under its directory.
type Store struct {
	dir      string
	maxFiles int
	maxSize  int64
	now      func() time.Time
	log      *zap.Logger

	mu         sync.RWMutex
	active     string // base name of the file appends go to
	activeDay  string
	activeSize int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger for swallowed I/O errors.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New opens (creating if needed) a log under dir that rotates once the
// active file reaches maxSize bytes and keeps at most maxFiles files.
// Non-positive limits select the defaults. A directory that cannot be created
// is not an error here; every later operation simply fails soft.
func New(dir string, maxFiles int, maxSize int64, opts ...Option) *Store {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	s := &Store{
		dir:      dir,
		maxFiles: maxFiles,
		maxSize:  maxSize,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Debug("creating storage dir", zap.String("dir", dir), zap.Error(err))
	}
	s.resume()
	return s
}

// Path returns the storage directory.
func (s *Store) Path() string { return s.dir }

// resume picks up the newest file of the current UTC day, if any, so that a
// restart keeps appending where the previous run stopped.
func (s *Store) resume() {
	today := s.now().UTC().Format(dayLayout)
	s.active = filePrefix + today + fileSuffix
	s.activeDay = today

	files := s.listFiles()
	for i := len(files) - 1; i >= 0; i-- {
		if files[i].day == today {
			s.active = files[i].name
			break
		}
	}
	if fi, err := os.Stat(filepath.Join(s.dir, s.active)); err == nil {
		s.activeSize = fi.Size()
	}
}

// Store appends one snapshot as a JSON line. It first switches to a new day
// file when the UTC day has changed, or rotates to a timestamped file when
// the active one has reached the size threshold. A failed write may still
// have reached the disk, so retrying can duplicate a line.
func (s *Store) Store(snap *models.Snapshot) bool {
	if snap == nil {
		return false
	}
	line, err := snap.ToJSON()
	if err != nil {
		s.log.Debug("encoding snapshot", zap.Error(err))
		return false
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if today := now.Format(dayLayout); today != s.activeDay {
		s.active = filePrefix + today + fileSuffix
		s.activeDay = today
		s.activeSize = 0
		if fi, err := os.Stat(filepath.Join(s.dir, s.active)); err == nil {
			s.activeSize = fi.Size()
		}
	}
	if s.activeSize >= s.maxSize {
		s.rotate(now)
	}

	f, err := os.OpenFile(filepath.Join(s.dir, s.active), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.log.Debug("opening active file", zap.String("file", s.active), zap.Error(err))
		return false
	}
	n, werr := f.Write(line)
	s.activeSize += int64(n)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		s.log.Debug("appending snapshot", zap.String("file", s.active), zap.NamedError("write", werr), zap.NamedError("close", cerr))
		return false
	}
	return true
}

// rotate makes a fresh timestamped file active and applies retention.
// Caller holds mu.
func (s *Store) rotate(now time.Time) {
	day, clock := now.Format(dayLayout), now.Format(timeLayout)
	name := filePrefix + day + "-" + clock + fileSuffix
	// Same-second rotations take a sequence suffix above any already used,
	// so parsed order stays creation order after retention.
	seq := -1
	for _, f := range s.listFiles() {
		if f.day == day && f.time == clock && f.seq > seq {
			seq = f.seq
		}
	}
	if seq >= 0 {
		name = filePrefix + day + "-" + clock + "-" + strconv.Itoa(seq+1) + fileSuffix
	}
	s.log.Debug("rotating", zap.String("from", s.active), zap.String("to", name))

	s.active = name
	s.activeDay = day
	s.activeSize = 0
	// Reserve the name now so retention and a same-second rotation see it.
	if f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		f.Close()
	}
	s.cleanupLocked()
}

// CleanupOldFiles deletes the oldest files while more than maxFiles remain.
// Age is not considered.
func (s *Store) CleanupOldFiles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
}

func (s *Store) cleanupLocked() {
	files := s.listFiles()
	for len(files) > s.maxFiles {
		if files[0].name == s.active {
			break
		}
		if err := os.Remove(filepath.Join(s.dir, files[0].name)); err != nil {
			s.log.Debug("removing old file", zap.String("file", files[0].name), zap.Error(err))
		}
		files = files[1:]
	}
}

// GetLatest returns up to count snapshots, most recent first. Unparsable
// lines are skipped.
func (s *Store) GetLatest(count int) []models.Snapshot {
	if count <= 0 {
		return []models.Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Snapshot, 0, min(count, 1024))
	files := s.listFiles()
	for i := len(files) - 1; i >= 0 && len(out) < count; i-- {
		lines := s.readLines(files[i].name)
		for j := len(lines) - 1; j >= 0 && len(out) < count; j-- {
			if snap, err := models.FromJSON(lines[j]); err == nil {
				out = append(out, *snap)
			}
		}
	}
	return out
}

// GetRange returns every snapshot whose timestamp lies in [start, end], in
// no guaranteed order.
func (s *Store) GetRange(start, end uint64) []models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Snapshot{}
	for _, f := range s.listFiles() {
		for _, line := range s.readLines(f.name) {
			snap, err := models.FromJSON(line)
			if err != nil {
				continue
			}
			if snap.Timestamp >= start && snap.Timestamp <= end {
				out = append(out, *snap)
			}
		}
	}
	return out
}

// TotalCount returns the number of lines across all files.
func (s *Store) TotalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, f := range s.listFiles() {
		data, err := os.ReadFile(filepath.Join(s.dir, f.name))
		if err != nil {
			continue
		}
		total += bytes.Count(data, []byte{'\n'})
	}
	return total
}

// FileCount returns the number of log files currently on disk.
func (s *Store) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listFiles())
}

// Files returns the log file names, oldest first.
func (s *Store) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := s.listFiles()
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names
}

// readLines returns the non-empty lines of one file, or nil.
func (s *Store) readLines(name string) [][]byte {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		s.log.Debug("opening log file", zap.String("file", name), zap.Error(err))
		return nil
	}
	defer f.Close()

	var lines [][]byte
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			lines = append(lines, trimmed)
		}
		if err != nil {
			if err != io.EOF {
				s.log.Debug("reading log file", zap.String("file", name), zap.Error(err))
			}
			return lines
		}
	}
}

// ── File naming ─────────────────────────────────────────────────────────────

// logFile is a parsed file name. Names are metrics-DAY.jsonl for the first
// file of a day and metrics-DAY-HHMMSS[-N].jsonl after rotation.
type logFile struct {
	name string
	day  string
	time string // "" for the day file
	seq  int
}

func parseName(name string) (logFile, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return logFile{}, false
	}
	stem := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	parts := strings.Split(stem, "-")
	if len(parts) > 3 || !digits(parts[0], len(dayLayout)) {
		return logFile{}, false
	}
	lf := logFile{name: name, day: parts[0]}
	if len(parts) >= 2 {
		if !digits(parts[1], len(timeLayout)) {
			return logFile{}, false
		}
		lf.time = parts[1]
	}
	if len(parts) == 3 {
		n, err := strconv.Atoi(parts[2])
		if err != nil || n <= 0 {
			return logFile{}, false
		}
		lf.seq = n
	}
	return lf, true
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// less orders files chronologically: by day, the day file before any
// rotated file of that day, then by time and sequence.
func (a logFile) less(b logFile) bool {
	if a.day != b.day {
		return a.day < b.day
	}
	if a.time != b.time {
		return a.time < b.time // "" sorts first
	}
	return a.seq < b.seq
}

// listFiles returns the log files in chronological order.
func (s *Store) listFiles() []logFile {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Debug("listing storage dir", zap.String("dir", s.dir), zap.Error(err))
		return nil
	}
	var files []logFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if lf, ok := parseName(e.Name()); ok {
			files = append(files, lf)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].less(files[j]) })
	return files
}

func (s *Store) String() string {
	return fmt.Sprintf("localstore(%s, max_files=%d, max_size=%d)", s.dir, s.maxFiles, s.maxSize)
}
