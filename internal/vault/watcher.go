package vault

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the vault tree and invokes the reconciler's single-note
// sync on create/modify events. Rapid edits to the same file are coalesced
// with a per-path debounce so each save burst yields one sync.
type Watcher struct {
	manager    *Manager
	reconciler *Reconciler
	debounce   time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates a watcher over the vault. A non-positive debounce
// defaults to 2 seconds.
func NewWatcher(manager *Manager, reconciler *Reconciler, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		manager:    manager,
		reconciler: reconciler,
		debounce:   debounce,
		done:       make(chan struct{}),
		timers:     make(map[string]*time.Timer),
	}
}

// Start begins watching the vault tree. The watcher recursively registers
// every non-hidden directory and picks up directories created later.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	if err := w.addTree(w.manager.Root()); err != nil {
		_ = fsw.Close()
		return err
	}

	go w.loop(ctx)
	log.Printf("vault: watching %s for note changes", w.manager.Root())
	return nil
}

// Stop shuts down the watcher and cancels pending debounce timers.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	<-w.done

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, evt)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("vault: watcher error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(ctx context.Context, evt fsnotify.Event) {
	if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	if evt.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if !hidden(evt.Name) {
				if err := w.addTree(evt.Name); err != nil {
					log.Printf("vault: failed to watch new directory %s: %v", evt.Name, err)
				}
			}
			return
		}
	}

	if !strings.EqualFold(filepath.Ext(evt.Name), ".md") || hidden(evt.Name) {
		return
	}

	w.schedule(ctx, evt.Name)
}

// schedule resets the debounce timer for path; the sync fires once the file
// has been quiet for the debounce window.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}

	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err := w.reconciler.SyncNote(ctx, path); err != nil {
			log.Printf("vault: real-time sync failed for %s: %v", path, err)
		}
	})
}

// addTree registers path and every non-hidden subdirectory with the watcher.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// hidden reports whether any path component is a dot-directory (.obsidian,
// .git, .trash).
func hidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
