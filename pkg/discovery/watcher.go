package discovery

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/devradar/devradar/pkg/config"
)

// ChangeKind distinguishes a directory appearing from a directory vanishing.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeRemoved
)

// Change is the debounced, stabilized notification the watcher emits for a
// single candidate project directory.
type Change struct {
	Kind ChangeKind
	Path string
}

// Watcher is the debounced filesystem observer. It watches
// cfg.WatchPath to cfg.Depth, coalescing rapid writes per directory behind a
// reset-on-write timer, and emits at most one Change per settled window.
type Watcher struct {
	cfg *config.WatcherConfig
	fsw *fsnotify.Watcher

	mu           sync.Mutex
	timers       map[string]*time.Timer
	lastEventAt  map[string]time.Time
	permErrCount int
	healthy      bool

	changes chan Change
}

// NewWatcher creates a Watcher over cfg.WatchPath. The caller must call Run
// to start receiving events and Close to release resources.
func NewWatcher(cfg *config.WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:         cfg,
		fsw:         fsw,
		timers:      make(map[string]*time.Timer),
		lastEventAt: make(map[string]time.Time),
		healthy:     true,
		changes:     make(chan Change, 256),
	}, nil
}

// Changes returns the channel of debounced, stabilized directory changes.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Healthy reports whether the watcher has not accumulated repeated
// permission errors.
func (w *Watcher) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.healthy
}

// Run adds the watch roots and processes fsnotify events until ctx is
// cancelled. It is blocking; call it in its own goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.addWatchTree(w.cfg.WatchPath, 0); err != nil {
		return err
	}

	if w.cfg.StartupDelay > 0 {
		select {
		case <-time.After(w.cfg.StartupDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	w.scanExisting()

	// Pending debounces are NOT flushed here: by the time ctx is cancelled
	// the downstream bridge may have stopped consuming, so the shutdown
	// path calls FlushAll and Bridge.Drain explicitly, in order, with a
	// fresh context.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.recordError(err)
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) addWatchTree(root string, depth int) error {
	if depth > w.cfg.Depth {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		w.recordError(err)
		return err
	}
	if err := w.fsw.Add(root); err != nil {
		w.recordError(err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || IsSystemDir(name) || w.matchesIgnorePattern(name) {
			continue
		}
		full := filepath.Join(root, name)
		if isSymlink(full) {
			continue // symlinks are never followed
		}
		if err := w.addWatchTree(full, depth+1); err != nil {
			slog.Warn("discovery: failed to watch subtree", "path", full, "error", err)
		}
	}
	return nil
}

func (w *Watcher) matchesIgnorePattern(name string) bool {
	for _, pattern := range w.cfg.IgnorePatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func isSymlink(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}

// projectDirFor resolves the fsnotify event's path to the candidate project
// directory it belongs to: always the directory directly under WatchPath.
// Nested directories are never returned as candidates, whatever Depth is.
func (w *Watcher) projectDirFor(path string) (string, bool) {
	rel, err := filepath.Rel(w.cfg.WatchPath, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if parts[0] == "" {
		return "", false
	}
	if strings.HasPrefix(parts[0], ".") || IsSystemDir(parts[0]) {
		return "", false
	}
	return filepath.Join(w.cfg.WatchPath, parts[0]), true
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	dir, ok := w.projectDirFor(ev.Name)
	if !ok {
		return
	}
	w.schedule(dir)
}

// schedule (re)starts dir's debounce timer: a new event for a key cancels
// any pending timer for that key and pushes the fire time out by a full
// DebounceDelay.
func (w *Watcher) schedule(dir string) {
	w.mu.Lock()
	w.lastEventAt[dir] = time.Now()
	if existing, ok := w.timers[dir]; ok {
		existing.Stop()
	}
	w.timers[dir] = time.AfterFunc(w.cfg.DebounceDelay, func() { w.settle(dir) })
	w.mu.Unlock()
}

// scanExisting feeds every candidate directory already present under the
// watch root through the same debounce path a live fsnotify event would
// take, so projects that predate the process are discovered too.
func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.cfg.WatchPath)
	if err != nil {
		w.recordError(err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || IsSystemDir(name) || w.matchesIgnorePattern(name) {
			continue
		}
		full := filepath.Join(w.cfg.WatchPath, name)
		if isSymlink(full) {
			continue
		}
		w.schedule(full)
	}
}

// settle is invoked once a directory's debounce window has elapsed. It
// re-checks write stability before emitting: if a write landed within
// StabilityThreshold of now, the window is extended rather than firing.
func (w *Watcher) settle(dir string) {
	w.mu.Lock()
	last := w.lastEventAt[dir]
	if time.Since(last) < w.cfg.StabilityThreshold {
		w.timers[dir] = time.AfterFunc(w.cfg.StabilityThreshold, func() { w.settle(dir) })
		w.mu.Unlock()
		return
	}
	delete(w.timers, dir)
	delete(w.lastEventAt, dir)
	w.mu.Unlock()

	kind := ChangeAdded
	if _, err := os.Stat(dir); err != nil {
		kind = ChangeRemoved
	}
	select {
	case w.changes <- Change{Kind: kind, Path: dir}:
	default:
		slog.Warn("discovery: change channel full, dropping event", "path", dir)
	}
}

func (w *Watcher) recordError(err error) {
	if os.IsPermission(err) {
		w.mu.Lock()
		w.permErrCount++
		if w.permErrCount > 5 {
			w.healthy = false
		}
		w.mu.Unlock()
	}
	slog.Warn("discovery: watcher error", "error", err)
}

// FlushAll immediately fires every pending debounced timer, bypassing the
// remaining delay. Used during shutdown, where pending events must be
// flushed before the event bus closes.
func (w *Watcher) FlushAll() {
	w.mu.Lock()
	dirs := make([]string, 0, len(w.timers))
	for dir, t := range w.timers {
		t.Stop()
		dirs = append(dirs, dir)
	}
	w.timers = make(map[string]*time.Timer)
	w.lastEventAt = make(map[string]time.Time)
	w.mu.Unlock()

	for _, dir := range dirs {
		kind := ChangeAdded
		if _, err := os.Stat(dir); err != nil {
			kind = ChangeRemoved
		}
		select {
		case w.changes <- Change{Kind: kind, Path: dir}:
		default:
			// Nothing may be consuming during shutdown; dropping beats
			// deadlocking the flush.
			slog.Warn("discovery: change channel full during flush, dropping event", "path", dir)
		}
	}
}

// CancelAll discards every pending debounced timer without emitting
// anything — an admin escape hatch distinct from FlushAll.
func (w *Watcher) CancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.lastEventAt = make(map[string]time.Time)
}
