//go:build darwin && cgo

package pathwatch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mutagen-io/fsevents"
	"github.com/pkg/errors"

	"github.com/pathwatch/pathwatch/internal"
)

// nativeRecursive: an FSEvents watch covers the whole subtree.
const nativeRecursive = true

// DefaultConfig returns the platform consolidation policy. FSEvents streams
// are recursive, so sharing an ancestor watch is cheap: reuse existing
// ancestor watchers, merge siblings and cousins up to two segments below the
// common directory, and narrow shared watchers when subscriptions go away.
func DefaultConfig() Config {
	return Config{
		ReuseAncestorWatchers:            true,
		RelocateAncestorWatchers:         true,
		MergeWatchersWithCommonAncestors: true,
		MaxCommonAncestorLevel:           2,
	}
}

const (
	// eventChannelCapacity buffers batches between the FSEvents dispatch
	// queue and the processing goroutine.
	eventChannelCapacity = 50

	// coalescingPeriod is the FSEvents latency parameter; NoDefer makes
	// one-shot events outside a coalescing window arrive immediately.
	coalescingPeriod = 10 * time.Millisecond

	streamFlags = fsevents.FileEvents | fsevents.NoDefer | fsevents.WatchRoot
)

// fseventsBackend multiplexes every watched directory onto a single shared
// FSEvents stream. Adding or removing a watch builds a replacement stream
// over the new path set and promotes it before the previous stream stops, so
// coverage never lapses; that rebuild is O(paths) per mutation, which is fine
// because subscription churn is rare relative to events.
type fseventsBackend struct {
	mu         sync.Mutex
	cond       *sync.Cond
	byHandle   map[int]*fseventsWatch
	byPath     map[string]int
	nextHandle int
	stream     *fsevents.EventStream
	destroyed  bool
	processing bool

	events chan []fsevents.Event
	quit   chan struct{}
}

type fseventsWatch struct {
	handle int
	dir    string
	fn     actionFunc
}

func newBackend() backend {
	b := &fseventsBackend{
		byHandle: make(map[int]*fseventsWatch),
		byPath:   make(map[string]int),
		events:   make(chan []fsevents.Event, eventChannelCapacity),
		quit:     make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

func (b *fseventsBackend) addWatch(dir string, fn actionFunc) (int, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return -1, err
	}
	if !fi.IsDir() {
		return -1, errors.Errorf("%q is not a directory", dir)
	}

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return -1, ErrClosed
	}
	if _, ok := b.byPath[dir]; ok {
		b.mu.Unlock()
		return -1, errors.Errorf("directory %q is already watched", dir)
	}
	b.nextHandle++
	w := &fseventsWatch{handle: b.nextHandle, dir: dir, fn: fn}
	b.byHandle[w.handle] = w
	b.byPath[dir] = w.handle
	paths := b.pathList()
	b.mu.Unlock()

	b.promote(paths)
	return w.handle, nil
}

func (b *fseventsBackend) removeWatch(handle int) error {
	b.mu.Lock()
	w, ok := b.byHandle[handle]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.byHandle, handle)
	delete(b.byPath, w.dir)
	paths := b.pathList()
	b.mu.Unlock()

	if len(paths) == 0 {
		b.swap(nil)
		return nil
	}
	b.promote(paths)
	return nil
}

func (b *fseventsBackend) close() error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil
	}
	b.destroyed = true
	// Wait out any in-flight batch before tearing the stream down.
	for b.processing {
		b.cond.Wait()
	}
	b.mu.Unlock()

	b.swap(nil)
	close(b.quit)
	return nil
}

func (b *fseventsBackend) pathList() []string {
	paths := make([]string, 0, len(b.byPath))
	for p := range b.byPath {
		paths = append(paths, p)
	}
	return paths
}

// promote starts a new stream over paths and retires the previous one. The
// new stream is live before the old one stops.
func (b *fseventsBackend) promote(paths []string) {
	stream := &fsevents.EventStream{
		Events:  b.events,
		Paths:   paths,
		Latency: coalescingPeriod,
		Flags:   streamFlags,
	}
	stream.Start()
	b.swap(stream)
}

func (b *fseventsBackend) swap(stream *fsevents.EventStream) {
	b.mu.Lock()
	old := b.stream
	b.stream = stream
	b.mu.Unlock()
	if old != nil {
		old.Stop()
	}
}

func (b *fseventsBackend) run() {
	for {
		select {
		case batch := <-b.events:
			b.processBatch(batch)
		case <-b.quit:
			return
		}
	}
}

func (b *fseventsBackend) processBatch(batch []fsevents.Event) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.processing = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.processing = false
		b.cond.Broadcast()
		b.mu.Unlock()
	}()

	// FSEvents reports each endpoint of a rename as its own event, in no
	// guaranteed order; two consecutive ItemRenamed events with adjacent
	// event IDs are the two halves of one rename.
	var pending *fsevents.Event
	for i := range batch {
		e := batch[i]
		e.Path = filepath.Clean(e.Path)
		if debug {
			internal.Debug(e.Path, uint64(e.Flags), e.ID)
		}

		renamed := e.Flags&fsevents.ItemRenamed != 0
		if pending != nil {
			p := *pending
			pending = nil
			if renamed && e.ID == p.ID+1 {
				b.resolveRenamePair(p, e)
				continue
			}
			b.resolveLoneRename(p)
		}
		if renamed {
			pending = &e
			continue
		}
		b.processFlags(e)
	}
	if pending != nil {
		b.resolveLoneRename(*pending)
	}
}

// processFlags turns one non-rename event into portable actions. FSEvents
// flags are a bit-union with unreliable ordering inside a batch, so creation
// is confirmed by the path existing and removal by it being gone; the
// modified bit is forwarded as-is.
func (b *fseventsBackend) processFlags(e fsevents.Event) {
	w := b.ownerOf(e.Path)
	if w == nil {
		return
	}
	dir, name := filepath.Dir(e.Path), filepath.Base(e.Path)
	exists := pathExists(e.Path)

	if e.Flags&fsevents.ItemCreated != 0 && exists {
		w.fn(w.handle, dir, name, actionAdd, "")
	}
	if e.Flags&fsevents.ItemRemoved != 0 && !exists {
		w.fn(w.handle, dir, name, actionDelete, "")
	}
	if e.Flags&fsevents.ItemModified != 0 {
		w.fn(w.handle, dir, name, actionModified, "")
	}
}

// resolveRenamePair emits the portable view of one reconstructed rename.
// Which endpoint is the destination is decided by what is actually on disk.
func (b *fseventsBackend) resolveRenamePair(first, second fsevents.Event) {
	oldPath, newPath := first.Path, second.Path
	if pathExists(oldPath) && !pathExists(newPath) {
		oldPath, newPath = newPath, oldPath
	}
	oldDir, newDir := filepath.Dir(oldPath), filepath.Dir(newPath)

	if oldDir == newDir {
		if w := b.ownerOf(newPath); w != nil {
			w.fn(w.handle, newDir, filepath.Base(newPath), actionMoved, filepath.Base(oldPath))
		}
		return
	}
	if w := b.ownerOf(oldPath); w != nil {
		w.fn(w.handle, oldDir, filepath.Base(oldPath), actionDelete, "")
	}
	if w := b.ownerOf(newPath); w != nil {
		w.fn(w.handle, newDir, filepath.Base(newPath), actionAdd, "")
		if second.Flags&fsevents.ItemModified != 0 || first.Flags&fsevents.ItemModified != 0 {
			w.fn(w.handle, newDir, filepath.Base(newPath), actionModified, "")
		}
	}
}

// resolveLoneRename handles an ItemRenamed with no adjacent partner: the
// other endpoint lies outside every watched tree, so the rename degrades to
// an add or a delete depending on whether the path survived.
func (b *fseventsBackend) resolveLoneRename(e fsevents.Event) {
	w := b.ownerOf(e.Path)
	if w == nil {
		return
	}
	dir, name := filepath.Dir(e.Path), filepath.Base(e.Path)
	if pathExists(e.Path) {
		w.fn(w.handle, dir, name, actionAdd, "")
	} else {
		w.fn(w.handle, dir, name, actionDelete, "")
	}
}

// ownerOf correlates an event path to the watch serving it: the nearest
// watched directory at or above the path's parent. A path that only matches
// a watched directory exactly is an event on that directory itself
// (deletion, typically) and is deliberately not reported, mirroring the
// other platforms.
func (b *fseventsBackend) ownerOf(path string) *fseventsWatch {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir := filepath.Dir(path)
	for {
		if handle, ok := b.byPath[dir]; ok {
			return b.byHandle[handle]
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
