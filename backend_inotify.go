//go:build linux

package pathwatch

import (
	"os"
	"strings"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/pathwatch/pathwatch/internal"
)

// nativeRecursive: inotify watches are strictly per-directory.
const nativeRecursive = false

// DefaultConfig returns the platform consolidation policy. Consolidating
// subscriptions under an ancestor requires a recursive watch primitive,
// which inotify is not, so Linux runs one native watch per directory.
func DefaultConfig() Config { return Config{} }

// watchMask selects the inotify events the four portable actions are built
// from. IN_DELETE_SELF and IN_MOVE_SELF are deliberately absent: deletion or
// relocation of a directly watched directory is not reported on any platform.
const watchMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_MODIFY |
	unix.IN_ATTRIB | unix.IN_MOVED_FROM | unix.IN_MOVED_TO

type inotifyBackend struct {
	// Store fd here as os.File.Read() will no longer return on close after
	// calling Fd(). See: https://github.com/golang/go/issues/26439
	fd   int
	file *os.File

	mu         sync.Mutex
	byWd       map[uint32]*inotifyWatch
	byHandle   map[int]*inotifyWatch
	nextHandle int

	done     chan struct{}
	doneResp chan struct{}
}

type inotifyWatch struct {
	wd     uint32
	handle int
	dir    string
	fn     actionFunc
}

func newBackend() backend {
	fd, errno := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if fd == -1 {
		// The session constructor has no error return; surface the failure
		// on the first addWatch instead.
		return &failedBackend{err: errors.Wrap(errno, "unable to initialize inotify")}
	}
	b := &inotifyBackend{
		fd:       fd,
		file:     os.NewFile(uintptr(fd), ""),
		byWd:     make(map[uint32]*inotifyWatch),
		byHandle: make(map[int]*inotifyWatch),
		done:     make(chan struct{}),
		doneResp: make(chan struct{}),
	}
	go b.readEvents()
	return b
}

func (b *inotifyBackend) addWatch(dir string, fn actionFunc) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wd, err := unix.InotifyAddWatch(b.fd, dir, watchMask)
	if wd == -1 {
		return -1, errors.Wrapf(err, "unable to watch %q", dir)
	}
	if _, ok := b.byWd[uint32(wd)]; ok {
		return -1, errors.Errorf("directory %q is already watched", dir)
	}

	b.nextHandle++
	w := &inotifyWatch{wd: uint32(wd), handle: b.nextHandle, dir: dir, fn: fn}
	b.byWd[w.wd] = w
	b.byHandle[w.handle] = w
	return w.handle, nil
}

func (b *inotifyBackend) removeWatch(handle int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.byHandle[handle]
	if !ok {
		// Already gone; stopping twice is not an error.
		return nil
	}
	delete(b.byHandle, handle)
	delete(b.byWd, w.wd)

	if _, err := unix.InotifyRmWatch(b.fd, w.wd); err != nil && err != unix.EINVAL {
		// EINVAL means the kernel already dropped the watch, which happens
		// when the watched directory was deleted.
		return errors.Wrapf(err, "unable to remove watch on %q", w.dir)
	}
	return nil
}

func (b *inotifyBackend) close() error {
	select {
	case <-b.done:
		return nil
	default:
	}
	close(b.done)
	// Causes any blocking read to return with os.ErrClosed.
	if err := b.file.Close(); err != nil {
		return err
	}
	<-b.doneResp
	return nil
}

func (b *inotifyBackend) byWatchDescriptor(wd uint32) *inotifyWatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byWd[wd]
}

func (b *inotifyBackend) forget(wd uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.byWd[wd]; ok {
		delete(b.byWd, wd)
		delete(b.byHandle, w.handle)
	}
}

// pendingMove holds one IN_MOVED_FROM half until its IN_MOVED_TO shows up in
// the same read batch; unpaired halves degrade to plain deletes.
type pendingMove struct {
	cookie uint32
	watch  *inotifyWatch
	name   string
}

func (b *inotifyBackend) readEvents() {
	defer close(b.doneResp)

	var buf [unix.SizeofInotifyEvent * 4096]byte
	for {
		select {
		case <-b.done:
			return
		default:
		}

		n, err := b.file.Read(buf[:])
		switch {
		case errors.Is(err, os.ErrClosed):
			return
		case err != nil:
			continue
		case n < unix.SizeofInotifyEvent:
			continue
		}

		var pending []pendingMove

		var offset uint32
		for offset <= uint32(n-unix.SizeofInotifyEvent) {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			mask := raw.Mask
			nameLen := raw.Len

			var name string
			if nameLen > 0 {
				bytes := (*[unix.PathMax]byte)(unsafe.Pointer(&buf[offset+unix.SizeofInotifyEvent]))[:nameLen:nameLen]
				// The filename is padded with NULL bytes; trim them.
				name = strings.TrimRight(string(bytes), "\000")
			}
			offset += unix.SizeofInotifyEvent + nameLen

			if debug {
				internal.Debug(name, mask, raw.Cookie)
			}

			watch := b.byWatchDescriptor(uint32(raw.Wd))
			if watch == nil {
				continue
			}
			if mask&unix.IN_IGNORED != 0 {
				// The kernel dropped the watch (directory deleted or
				// unmounted); just clean up our side.
				b.forget(watch.wd)
				continue
			}
			if name == "" {
				// Events on the watched directory itself are not reported.
				continue
			}

			switch {
			case mask&unix.IN_MOVED_FROM != 0:
				pending = append(pending, pendingMove{cookie: raw.Cookie, watch: watch, name: name})
			case mask&unix.IN_MOVED_TO != 0:
				pending = b.resolveMove(pending, watch, name, raw.Cookie)
			case mask&unix.IN_CREATE != 0:
				watch.fn(watch.handle, watch.dir, name, actionAdd, "")
			case mask&unix.IN_DELETE != 0:
				watch.fn(watch.handle, watch.dir, name, actionDelete, "")
			case mask&(unix.IN_MODIFY|unix.IN_ATTRIB) != 0:
				watch.fn(watch.handle, watch.dir, name, actionModified, "")
			}
		}

		// Anything moved away without a matching destination in this batch
		// left the watched tree for good.
		for _, p := range pending {
			p.watch.fn(p.watch.handle, p.watch.dir, p.name, actionDelete, "")
		}
	}
}

// resolveMove pairs an IN_MOVED_TO with its recorded IN_MOVED_FROM half. A
// move within one directory becomes a single actionMoved; a move between two
// watched directories becomes a delete in the source and an add in the
// destination; a move in from outside is just an add.
func (b *inotifyBackend) resolveMove(pending []pendingMove, watch *inotifyWatch, name string, cookie uint32) []pendingMove {
	for i, p := range pending {
		if p.cookie != cookie {
			continue
		}
		pending = append(pending[:i], pending[i+1:]...)
		if p.watch == watch {
			watch.fn(watch.handle, watch.dir, name, actionMoved, p.name)
		} else {
			p.watch.fn(p.watch.handle, p.watch.dir, p.name, actionDelete, "")
			watch.fn(watch.handle, watch.dir, name, actionAdd, "")
		}
		return pending
	}
	watch.fn(watch.handle, watch.dir, name, actionAdd, "")
	return pending
}
