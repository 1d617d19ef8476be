package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"psws/backend/services/ingest-watcher/internal/service"
	"psws/backend/services/ingest-watcher/internal/trigger"
)

// Processor runs one marker to a terminal state.
type Processor interface {
	Process(ctx context.Context, path string) service.Outcome
}

// Options configures discovery and polling.
type Options struct {
	Root              string
	NestedDir         string
	Prefixes          []string
	Ignore            []string
	PollInterval      time.Duration
	DiscoveryInterval time.Duration
	RetryBase         time.Duration
	RetryMax          time.Duration
}

// MarkerStatus describes a marker that is waiting for a retry or parked.
type MarkerStatus struct {
	Name        string    `json:"name"`
	Attempts    int       `json:"attempts"`
	Parked      bool      `json:"parked"`
	Reason      string    `json:"reason,omitempty"`
	NextAttempt time.Time `json:"nextAttempt,omitempty"`
}

// DirStatus describes one watched station directory.
type DirStatus struct {
	Path     string         `json:"path"`
	Layout   string         `json:"layout"`
	LastScan time.Time      `json:"lastScan"`
	Markers  []MarkerStatus `json:"markers"`
}

type markerState struct {
	attempts int
	parked   bool
	reason   string
	next     time.Time
	backoff  *backoff
}

type watchedDir struct {
	path   string
	layout trigger.Layout

	mu       sync.Mutex
	lastScan time.Time
	markers  map[string]*markerState
}

// Watcher discovers station directories under a root and polls each one
// for trigger markers on its own schedule.
type Watcher struct {
	opts   Options
	proc   Processor
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	dirs map[string]*watchedDir
	wg   sync.WaitGroup
}

// New returns a Watcher that hands every due marker to proc.
func New(opts Options, proc Processor, logger *zap.Logger) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = time.Minute
	}
	return &Watcher{
		opts:   opts,
		proc:   proc,
		logger: logger,
		now:    time.Now,
		dirs:   make(map[string]*watchedDir),
	}
}

// Run watches until ctx is cancelled. A marker already being processed runs
// to completion before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.opts.Root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("watcher: root is not a directory: " + w.opts.Root)
	}

	w.logger.Info("watcher started",
		zap.String("root", w.opts.Root),
		zap.Strings("prefixes", w.opts.Prefixes),
		zap.Duration("poll_interval", w.opts.PollInterval),
	)

	w.discover(ctx)
	ticker := time.NewTicker(w.opts.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("watcher stopped")
			return nil
		case <-ticker.C:
			w.discover(ctx)
		}
	}
}

// Snapshot reports watched directories and their pending markers.
func (w *Watcher) Snapshot() []DirStatus {
	w.mu.Lock()
	dirs := make([]*watchedDir, 0, len(w.dirs))
	for _, d := range w.dirs {
		dirs = append(dirs, d)
	}
	w.mu.Unlock()

	out := make([]DirStatus, 0, len(dirs))
	for _, d := range dirs {
		d.mu.Lock()
		st := DirStatus{Path: d.path, Layout: d.layout.String(), LastScan: d.lastScan, Markers: []MarkerStatus{}}
		for name, m := range d.markers {
			st.Markers = append(st.Markers, MarkerStatus{
				Name:        name,
				Attempts:    m.attempts,
				Parked:      m.parked,
				Reason:      m.reason,
				NextAttempt: m.next,
			})
		}
		d.mu.Unlock()
		sort.Slice(st.Markers, func(i, j int) bool { return st.Markers[i].Name < st.Markers[j].Name })
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// discover starts a poll loop for every qualifying directory not yet watched.
func (w *Watcher) discover(ctx context.Context) {
	for _, path := range w.candidates() {
		w.mu.Lock()
		if _, ok := w.dirs[path]; ok {
			w.mu.Unlock()
			continue
		}
		d := &watchedDir{path: path, layout: layoutOf(path, w.opts.Root, w.opts.NestedDir), markers: make(map[string]*markerState)}
		w.dirs[path] = d
		w.mu.Unlock()

		w.logger.Info("watching directory", zap.String("path", path), zap.String("layout", d.layout.String()))
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.poll(ctx, d)
		}()
	}
}

// candidates lists flat station directories and nested station homes.
func (w *Watcher) candidates() []string {
	var out []string
	entries, err := os.ReadDir(w.opts.Root)
	if err != nil {
		w.logger.Warn("root scan failed", zap.String("root", w.opts.Root), zap.Error(err))
		return nil
	}
	for _, e := range entries {
		path := filepath.Join(w.opts.Root, e.Name())
		if w.stationName(e.Name()) && isDir(path) {
			out = append(out, path)
		}
	}

	if w.opts.NestedDir == "" {
		return out
	}
	nested := filepath.Join(w.opts.Root, w.opts.NestedDir)
	entries, err = os.ReadDir(nested)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("nested scan failed", zap.String("path", nested), zap.Error(err))
		}
		return out
	}
	for _, e := range entries {
		if !w.stationName(e.Name()) {
			continue
		}
		home := filepath.Join(nested, e.Name(), "home", e.Name())
		if isDir(home) {
			out = append(out, home)
		}
	}
	return out
}

func (w *Watcher) stationName(name string) bool {
	if len(w.opts.Prefixes) == 0 {
		return !strings.HasPrefix(name, ".")
	}
	for _, p := range w.opts.Prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (w *Watcher) ignored(name string) bool {
	for _, pattern := range w.opts.Ignore {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) poll(ctx context.Context, d *watchedDir) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if !w.scan(ctx, d) {
			w.mu.Lock()
			delete(w.dirs, d.path)
			w.mu.Unlock()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// scan processes every due marker in d once, sequentially. It reports false
// when the directory is gone.
func (w *Watcher) scan(ctx context.Context, d *watchedDir) bool {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("watched directory disappeared", zap.String("path", d.path))
			return false
		}
		w.logger.Warn("directory scan failed", zap.String("path", d.path), zap.Error(err))
		return true
	}

	now := w.now()
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if ctx.Err() != nil {
			return true
		}
		name := e.Name()
		if !e.IsDir() || w.ignored(name) {
			continue
		}
		seen[name] = struct{}{}

		d.mu.Lock()
		st := d.markers[name]
		due := st == nil || (!st.parked && !now.Before(st.next))
		d.mu.Unlock()
		if !due {
			continue
		}

		out := w.proc.Process(context.WithoutCancel(ctx), filepath.Join(d.path, name))
		w.record(d, name, out)
	}

	d.mu.Lock()
	d.lastScan = now
	for name := range d.markers {
		if _, ok := seen[name]; !ok {
			delete(d.markers, name)
		}
	}
	d.mu.Unlock()
	return true
}

func (w *Watcher) record(d *watchedDir, name string, out service.Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if out.State == service.StateCleaned {
		delete(d.markers, name)
		return
	}
	st := d.markers[name]
	if st == nil {
		st = &markerState{backoff: newBackoff(w.opts.RetryBase, w.opts.RetryMax)}
		d.markers[name] = st
	}
	st.attempts++
	st.reason = out.Reason
	if !out.Retryable {
		st.parked = true
		st.next = time.Time{}
		return
	}
	st.next = w.now().Add(st.backoff.Next())
	w.logger.Debug("marker retry scheduled",
		zap.String("path", filepath.Join(d.path, name)),
		zap.Int("attempts", st.attempts),
		zap.Time("next_attempt", st.next),
	)
}

func layoutOf(path, root, nestedDir string) trigger.Layout {
	if nestedDir != "" && strings.HasPrefix(path, filepath.Join(root, nestedDir)+string(filepath.Separator)) {
		return trigger.LayoutNested
	}
	return trigger.LayoutFlat
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
