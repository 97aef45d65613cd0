package localstore

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/blinky-mon/blinky/internal/models"
)

var t0 = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

// base keeps every test timestamp at ten digits so all lines are the same length.
const base = 1_000_000_000

func snapAt(i uint64) *models.Snapshot {
	s := models.NewSnapshot()
	s.Hostname = "agent-1"
	s.Timestamp = base + i
	return s
}

func seq(s models.Snapshot) uint64 { return s.Timestamp - base }

func lineLen(t *testing.T) int64 {
	t.Helper()
	data, err := snapAt(0).ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	return int64(len(data) + 1)
}

func TestStoreCreatesDayFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := New(dir, 10, 1<<20, WithClock(func() time.Time { return t0 }))

	if !s.Store(snapAt(1)) || !s.Store(snapAt(2)) {
		t.Fatalf("Store failed")
	}
	files := s.Files()
	if len(files) != 1 || files[0] != "metrics-20240309.jsonl" {
		t.Fatalf("files=%v", files)
	}
	data, err := os.ReadFile(filepath.Join(dir, files[0]))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), "\n") != 2 || !strings.HasSuffix(string(data), "\n") {
		t.Fatalf("file content: %q", data)
	}
	if s.TotalCount() != 2 || s.FileCount() != 1 || s.Path() != dir {
		t.Fatalf("counts total=%d files=%d", s.TotalCount(), s.FileCount())
	}
}

func TestRotationCountAndRetention(t *testing.T) {
	t.Parallel()

	l := lineLen(t)
	threshold := 3 * l // three lines per file
	cases := []struct {
		stores, maxFiles, wantFiles int
	}{
		{stores: 3, maxFiles: 10, wantFiles: 1},
		{stores: 4, maxFiles: 10, wantFiles: 2},
		{stores: 9, maxFiles: 10, wantFiles: 3},
		{stores: 10, maxFiles: 10, wantFiles: 4},
		{stores: 30, maxFiles: 4, wantFiles: 4},
	}
	for _, tc := range cases {
		dir := t.TempDir()
		clock := t0
		s := New(dir, tc.maxFiles, threshold, WithClock(func() time.Time { return clock }))
		for i := 0; i < tc.stores; i++ {
			if !s.Store(snapAt(uint64(i))) {
				t.Fatalf("store %d failed", i)
			}
			clock = clock.Add(time.Second)
		}
		if got := s.FileCount(); got != tc.wantFiles {
			t.Fatalf("stores=%d max=%d: files=%d want %d (%v)", tc.stores, tc.maxFiles, got, tc.wantFiles, s.Files())
		}
		// Retained files hold the newest lines, ending with the last stored one.
		latest := s.GetLatest(1)
		if len(latest) != 1 || seq(latest[0]) != uint64(tc.stores-1) {
			t.Fatalf("latest=%+v", latest)
		}
		if tc.stores > tc.maxFiles*3 {
			all := s.GetRange(0, ^uint64(0))
			minTS := uint64(tc.stores)
			for _, snap := range all {
				minTS = min(minTS, seq(snap))
			}
			if wantMin := uint64(tc.stores - tc.maxFiles*3); minTS != wantMin {
				t.Fatalf("oldest retained ts=%d want %d", minTS, wantMin)
			}
		}
	}
}

func TestRotationActuallySwitchesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l := lineLen(t)
	clock := t0
	s := New(dir, 10, l, WithClock(func() time.Time { return clock }))

	s.Store(snapAt(1))
	clock = clock.Add(90 * time.Second)
	s.Store(snapAt(2))

	files := s.Files()
	want := []string{"metrics-20240309.jsonl", "metrics-20240309-120130.jsonl"}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files=%v want %v", files, want)
	}
	for _, f := range files {
		data, _ := os.ReadFile(filepath.Join(dir, f))
		if strings.Count(string(data), "\n") != 1 {
			t.Fatalf("%s holds %q", f, data)
		}
	}
}

func TestSameSecondRotationsSortInOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := New(dir, 3, lineLen(t), WithClock(func() time.Time { return t0 }))

	for i := 0; i < 8; i++ {
		s.Store(snapAt(uint64(i)))
	}
	files := s.Files()
	if len(files) != 3 {
		t.Fatalf("files=%v", files)
	}
	want := []string{"metrics-20240309-120000-4.jsonl", "metrics-20240309-120000-5.jsonl", "metrics-20240309-120000-6.jsonl"}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("files=%v want %v", files, want)
		}
	}
	got := s.GetLatest(10)
	if len(got) != 3 || seq(got[0]) != 7 || seq(got[2]) != 5 {
		t.Fatalf("latest=%v", got)
	}
}

func TestGetLatestOrderAndUnparsable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := New(dir, 10, 1<<20, WithClock(func() time.Time { return t0 }))
	for i := 1; i <= 5; i++ {
		s.Store(snapAt(uint64(i)))
	}

	f, err := os.OpenFile(filepath.Join(dir, "metrics-20240309.jsonl"), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{truncated\n\n")
	f.Close()
	s.Store(snapAt(6))

	got := s.GetLatest(3)
	if len(got) != 3 || seq(got[0]) != 6 || seq(got[1]) != 5 || seq(got[2]) != 4 {
		t.Fatalf("latest=%v", got)
	}
	if all := s.GetLatest(100); len(all) != 6 {
		t.Fatalf("all=%d", len(all))
	}
	if len(s.GetLatest(0)) != 0 {
		t.Fatalf("count 0 should be empty")
	}
}

func TestGetRange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := New(dir, 10, 2*lineLen(t), WithClock(func() time.Time { return t0 }))
	for i := uint64(100); i < 110; i++ {
		s.Store(snapAt(i))
	}
	got := s.GetRange(base+103, base+106)
	if len(got) != 4 {
		t.Fatalf("range len=%d", len(got))
	}
	for _, snap := range got {
		if seq(snap) < 103 || seq(snap) > 106 {
			t.Fatalf("out of range: %d", snap.Timestamp)
		}
	}
	if len(s.GetRange(base+200, base+300)) != 0 {
		t.Fatalf("expected empty range")
	}
}

func TestResumeAfterRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l := lineLen(t)
	clock := t0
	now := func() time.Time { return clock }

	s := New(dir, 10, 2*l, WithClock(now))
	for i := 0; i < 3; i++ {
		s.Store(snapAt(uint64(i)))
		clock = clock.Add(time.Second)
	}
	before := s.Files()

	s2 := New(dir, 10, 2*l, WithClock(now))
	s2.Store(snapAt(3))
	after := s2.Files()
	if len(after) != len(before) {
		t.Fatalf("restart should append to the newest file: before=%v after=%v", before, after)
	}
	if s2.TotalCount() != 4 {
		t.Fatalf("total=%d", s2.TotalCount())
	}
}

func TestDayChangeSwitchesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	clock := t0
	s := New(dir, 10, 1<<20, WithClock(func() time.Time { return clock }))
	s.Store(snapAt(1))
	clock = clock.Add(24 * time.Hour)
	s.Store(snapAt(2))

	files := s.Files()
	if len(files) != 2 || files[1] != "metrics-20240310.jsonl" {
		t.Fatalf("files=%v", files)
	}
}

func TestFailuresDegrade(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(filepath.Join(blocker, "metrics"), 10, 1024)

	if s.Store(snapAt(1)) {
		t.Fatalf("Store should fail soft")
	}
	if s.Store(nil) {
		t.Fatalf("nil snapshot stored")
	}
	if len(s.GetLatest(5)) != 0 || len(s.GetRange(0, 10)) != 0 || s.TotalCount() != 0 || s.FileCount() != 0 {
		t.Fatalf("reads should be empty")
	}
	s.CleanupOldFiles()
}

func TestCleanupIgnoresForeignFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"metrics-20240101.jsonl", "metrics-20240102.jsonl", "metrics-20240103.jsonl", "notes.txt", "metrics-latest.jsonl"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := New(dir, 2, 1024, WithClock(func() time.Time { return t0 }))
	s.CleanupOldFiles()

	files := s.Files()
	if len(files) != 2 || files[0] != "metrics-20240102.jsonl" {
		t.Fatalf("files=%v", files)
	}
	for _, keep := range []string{"notes.txt", "metrics-latest.jsonl"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Fatalf("%s removed: %v", keep, err)
		}
	}
}

func TestParseName(t *testing.T) {
	t.Parallel()

	good := map[string]logFile{
		"metrics-20240309.jsonl":          {day: "20240309"},
		"metrics-20240309-235959.jsonl":   {day: "20240309", time: "235959"},
		"metrics-20240309-235959-2.jsonl": {day: "20240309", time: "235959", seq: 2},
	}
	for name, want := range good {
		got, ok := parseName(name)
		want.name = name
		if !ok || got != want {
			t.Fatalf("parseName(%q)=%+v,%t", name, got, ok)
		}
	}
	for _, name := range []string{"metrics-2024.jsonl", "metrics-20240309-12.jsonl", "metrics-20240309.json", "x-20240309.jsonl", "metrics-20240309-120000-0.jsonl"} {
		if _, ok := parseName(name); ok {
			t.Fatalf("parseName(%q) accepted", name)
		}
	}
}

func TestFilesOrderIsChronologicalNotLexical(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	chrono := []string{
		"metrics-20240309.jsonl",
		"metrics-20240309-120000.jsonl",
		"metrics-20240309-120000-2.jsonl",
		"metrics-20240309-120000-10.jsonl",
		"metrics-20240310.jsonl",
	}
	for i, name := range chrono {
		data, err := snapAt(uint64(i)).ToJSON()
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), append(data, '\n'), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	lexical := slices.Clone(chrono)
	sort.Strings(lexical)
	if slices.Equal(lexical, chrono) {
		t.Fatal("fixture should not already be in text order")
	}

	s := New(dir, 10, DefaultMaxFileSize, WithClock(func() time.Time { return t0 }))
	if got := s.Files(); !slices.Equal(got, chrono) {
		t.Fatalf("files=%v want %v", got, chrono)
	}
	got := s.GetLatest(len(chrono))
	for i, snap := range got {
		if want := uint64(len(chrono) - 1 - i); seq(snap) != want {
			t.Fatalf("latest[%d] seq=%d want %d", i, seq(snap), want)
		}
	}
}
