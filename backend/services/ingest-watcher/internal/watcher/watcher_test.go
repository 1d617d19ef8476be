package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"psws/backend/services/ingest-watcher/internal/service"
)

type fakeProcessor struct {
	mu       sync.Mutex
	calls    []string
	outcomes map[string]service.Outcome
	notify   chan string
}

func (p *fakeProcessor) Process(_ context.Context, path string) service.Outcome {
	p.mu.Lock()
	p.calls = append(p.calls, filepath.Base(path))
	out, ok := p.outcomes[filepath.Base(path)]
	p.mu.Unlock()
	if p.notify != nil {
		p.notify <- path
	}
	if !ok {
		return service.Outcome{State: service.StateCleaned}
	}
	return out
}

func (p *fakeProcessor) reset() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := p.calls
	p.calls = nil
	sort.Strings(calls)
	return calls
}

func mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func defaultOptions(root string) Options {
	return Options{
		Root:      root,
		NestedDir: "stations",
		Prefixes:  []string{"S", "N", "T"},
		Ignore:    []string{"OBS*", "magData", "csvData", ".*"},
		RetryBase: time.Minute,
		RetryMax:  10 * time.Minute,
	}
}

func TestCandidatesFlatAndNested(t *testing.T) {
	root := t.TempDir()
	mkdirs(t,
		filepath.Join(root, "N000123"),
		filepath.Join(root, "S000099"),
		filepath.Join(root, "lost+found"),
		filepath.Join(root, "stations", "T000001", "home", "T000001"),
		filepath.Join(root, "stations", "N000555"),
	)
	if err := os.WriteFile(filepath.Join(root, "N_not_a_dir"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	w := New(defaultOptions(root), &fakeProcessor{}, zap.NewNop())
	got := w.candidates()
	sort.Strings(got)
	want := []string{
		filepath.Join(root, "N000123"),
		filepath.Join(root, "S000099"),
		filepath.Join(root, "stations", "T000001", "home", "T000001"),
	}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidates = %v, want %v", got, want)
		}
	}
	if layoutOf(want[2], root, "stations").String() != "nested" || layoutOf(want[0], root, "stations").String() != "flat" {
		t.Errorf("layout detection mismatch")
	}
}

func TestScanSkipsIgnoredEntries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "N000123")
	mkdirs(t,
		filepath.Join(dir, "cOBS2024-01-15T00-00_#7"),
		filepath.Join(dir, "OBS2024-01-15T00-00"),
		filepath.Join(dir, "magData"),
		filepath.Join(dir, ".cache"),
	)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	proc := &fakeProcessor{}
	w := New(defaultOptions(filepath.Dir(dir)), proc, zap.NewNop())
	d := &watchedDir{path: dir, markers: map[string]*markerState{}}

	if !w.scan(context.Background(), d) {
		t.Fatal("scan reported missing directory")
	}
	calls := proc.reset()
	if len(calls) != 1 || calls[0] != "cOBS2024-01-15T00-00_#7" {
		t.Fatalf("unexpected calls %v", calls)
	}
	if d.lastScan.IsZero() {
		t.Error("last scan not recorded")
	}
}

func TestScanRetriesAndParks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "N000123")
	mkdirs(t, filepath.Join(dir, "c_#7"), filepath.Join(dir, "xbad"))

	proc := &fakeProcessor{outcomes: map[string]service.Outcome{
		"c_#7": {State: service.StateFailed, Retryable: true, Reason: "no drf_properties.h5"},
		"xbad": {State: service.StateFailed, Retryable: false, Reason: "unrecognized upload type"},
	}}
	w := New(defaultOptions(filepath.Dir(dir)), proc, zap.NewNop())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	d := &watchedDir{path: dir, markers: map[string]*markerState{}}

	w.scan(context.Background(), d)
	if calls := proc.reset(); len(calls) != 2 {
		t.Fatalf("first pass calls %v", calls)
	}

	w.scan(context.Background(), d)
	if calls := proc.reset(); len(calls) != 0 {
		t.Fatalf("nothing is due yet, got %v", calls)
	}

	now = now.Add(time.Minute)
	w.scan(context.Background(), d)
	if calls := proc.reset(); len(calls) != 1 || calls[0] != "c_#7" {
		t.Fatalf("only the retryable marker is due, got %v", calls)
	}

	// Second failure doubles the delay.
	now = now.Add(time.Minute)
	w.scan(context.Background(), d)
	if calls := proc.reset(); len(calls) != 0 {
		t.Fatalf("backoff should have doubled, got %v", calls)
	}

	w.mu.Lock()
	w.dirs[dir] = d
	w.mu.Unlock()
	snap := w.Snapshot()
	if len(snap) != 1 || len(snap[0].Markers) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	bad := snap[0].Markers[1]
	if bad.Name != "xbad" || !bad.Parked || bad.Attempts != 1 {
		t.Errorf("unexpected parked marker %+v", bad)
	}
	if retry := snap[0].Markers[0]; retry.Attempts != 2 || retry.Parked {
		t.Errorf("unexpected retry marker %+v", retry)
	}

	if err := os.Remove(filepath.Join(dir, "xbad")); err != nil {
		t.Fatal(err)
	}
	w.scan(context.Background(), d)
	if _, ok := d.markers["xbad"]; ok {
		t.Error("state for a vanished marker should be dropped")
	}
}

func TestScanReportsMissingDirectory(t *testing.T) {
	w := New(defaultOptions(t.TempDir()), &fakeProcessor{}, zap.NewNop())
	d := &watchedDir{path: filepath.Join(t.TempDir(), "gone"), markers: map[string]*markerState{}}
	if w.scan(context.Background(), d) {
		t.Fatal("expected scan to report a missing directory")
	}
}

func TestRunDiscoversNewDirectories(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, filepath.Join(root, "N000123"))

	proc := &fakeProcessor{notify: make(chan string, 4)}
	opts := defaultOptions(root)
	opts.PollInterval = 10 * time.Millisecond
	opts.DiscoveryInterval = 10 * time.Millisecond
	w := New(opts, proc, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	marker := filepath.Join(root, "stations", "S000099", "home", "S000099", "m2024-03-01T10:15_#3")
	mkdirs(t, marker)

	select {
	case got := <-proc.notify:
		if got != marker {
			t.Fatalf("processed %s, want %s", got, marker)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("marker in a new nested directory was never processed")
	}

	cancel()
	// Drain so a late poll cannot block on notify.
	go func() {
		for range proc.notify {
		}
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunRequiresRoot(t *testing.T) {
	w := New(defaultOptions(filepath.Join(t.TempDir(), "missing")), &fakeProcessor{}, zap.NewNop())
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestBackoff(t *testing.T) {
	b := newBackoff(time.Second, 5*time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("step %d: got %s want %s", i, got, w)
		}
	}
}
