//go:build windows

package pathwatch

import (
	"os"
	"sync"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/pathwatch/pathwatch/internal"
)

// nativeRecursive: watches are issued per-directory; ReadDirectoryChangesW
// could watch subtrees, but per-directory watches keep the three platforms'
// event streams alike.
const nativeRecursive = false

// DefaultConfig returns the platform consolidation policy: one native watch
// per directory, like Linux.
func DefaultConfig() Config { return Config{} }

// notifyFilter selects the change classes the four portable actions are
// built from.
const notifyFilter = windows.FILE_NOTIFY_CHANGE_FILE_NAME |
	windows.FILE_NOTIFY_CHANGE_DIR_NAME |
	windows.FILE_NOTIFY_CHANGE_ATTRIBUTES |
	windows.FILE_NOTIFY_CHANGE_SIZE |
	windows.FILE_NOTIFY_CHANGE_LAST_WRITE |
	windows.FILE_NOTIFY_CHANGE_CREATION

// readBufferSize is the ReadDirectoryChangesW buffer; 64K is the largest
// size that still works over SMB.
const readBufferSize = 65536

type readDCWBackend struct {
	mu         sync.Mutex
	watches    map[int]*dcwWatch
	nextHandle int
	closed     bool
}

type dcwWatch struct {
	handle int
	dir    string
	fn     actionFunc
	file   windows.Handle
	done   chan struct{}
}

func newBackend() backend {
	return &readDCWBackend{watches: make(map[int]*dcwWatch)}
}

func (b *readDCWBackend) addWatch(dir string, fn actionFunc) (int, error) {
	pathp, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return -1, err
	}
	file, err := windows.CreateFile(pathp, windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return -1, errors.Wrapf(os.NewSyscallError("CreateFile", err), "unable to watch %q", dir)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		windows.CloseHandle(file)
		return -1, ErrClosed
	}
	b.nextHandle++
	w := &dcwWatch{handle: b.nextHandle, dir: dir, fn: fn, file: file, done: make(chan struct{})}
	b.watches[w.handle] = w
	b.mu.Unlock()

	go b.readEvents(w)
	return w.handle, nil
}

func (b *readDCWBackend) removeWatch(handle int) error {
	b.mu.Lock()
	w, ok := b.watches[handle]
	if ok {
		delete(b.watches, handle)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	// Closing the directory handle errors the pending
	// ReadDirectoryChangesW call and ends the reader; events it was still
	// delivering carry a handle nobody owns anymore and are dropped.
	if err := windows.CloseHandle(w.file); err != nil {
		return os.NewSyscallError("CloseHandle", err)
	}
	return nil
}

func (b *readDCWBackend) close() error {
	b.mu.Lock()
	b.closed = true
	watches := make([]*dcwWatch, 0, len(b.watches))
	for _, w := range b.watches {
		watches = append(watches, w)
	}
	b.watches = make(map[int]*dcwWatch)
	b.mu.Unlock()

	for _, w := range watches {
		windows.CloseHandle(w.file)
		<-w.done
	}
	return nil
}

// fileNotifyInformation mirrors FILE_NOTIFY_INFORMATION; fileName (UTF-16,
// not NUL-terminated) follows the fixed header in the buffer.
type fileNotifyInformation struct {
	nextEntryOffset uint32
	action          uint32
	fileNameLength  uint32
}

func (b *readDCWBackend) readEvents(w *dcwWatch) {
	defer close(w.done)

	var buf [readBufferSize]byte
	for {
		var returned uint32
		err := windows.ReadDirectoryChanges(w.file, &buf[0], uint32(len(buf)),
			false, notifyFilter, &returned, nil, 0)
		if err != nil {
			// The handle was closed by removeWatch, or the watched
			// directory went away; either way this watch is done.
			return
		}
		if returned == 0 {
			// Overflow: too many changes for the buffer; the OS dropped
			// them, nothing to replay.
			continue
		}

		var renamedFrom string
		var offset uint32
		for {
			info := (*fileNotifyInformation)(unsafe.Pointer(&buf[offset]))
			nameLen := info.fileNameLength / 2
			namep := (*[readBufferSize / 2]uint16)(unsafe.Pointer(&buf[offset+12]))[:nameLen:nameLen]
			name := syscall.UTF16ToString(namep)

			if debug {
				internal.Debug(name, info.action)
			}

			switch info.action {
			case windows.FILE_ACTION_ADDED:
				w.fn(w.handle, w.dir, name, actionAdd, "")
			case windows.FILE_ACTION_REMOVED:
				w.fn(w.handle, w.dir, name, actionDelete, "")
			case windows.FILE_ACTION_MODIFIED:
				w.fn(w.handle, w.dir, name, actionModified, "")
			case windows.FILE_ACTION_RENAMED_OLD_NAME:
				renamedFrom = name
			case windows.FILE_ACTION_RENAMED_NEW_NAME:
				if renamedFrom != "" {
					w.fn(w.handle, w.dir, name, actionMoved, renamedFrom)
					renamedFrom = ""
				} else {
					w.fn(w.handle, w.dir, name, actionAdd, "")
				}
			}

			if info.nextEntryOffset == 0 {
				break
			}
			offset += info.nextEntryOffset
			if offset >= returned {
				break
			}
		}
		if renamedFrom != "" {
			// The matching new-name entry never arrived: the file moved
			// out of this directory.
			w.fn(w.handle, w.dir, renamedFrom, actionDelete, "")
		}
	}
}
