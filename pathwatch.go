// Package pathwatch watches files and directories for changes, consolidating
// many subscriptions onto as few OS-level watch resources as it can.
//
// Unlike a plain one-watch-per-path library, pathwatch keeps a registry of
// every active subscription and decides per platform whether a new
// subscription can share an existing OS watch, whether several watches should
// be merged under a common parent directory, and when a shared watch has to be
// split up again. Subscribers never notice: events are filtered and translated
// per subscription, and handovers between OS watches are atomic.
//
// Platform support:
//
//   - macOS: one shared FSEvents stream covers every watched path.
//   - Linux: inotify, one watch per directory (inotify is not recursive, so
//     consolidation is disabled there).
//   - Windows: ReadDirectoryChangesW, one watch per directory.
package pathwatch

import (
	"errors"
	"os"
)

// EventKind classifies a change notification.
type EventKind uint8

const (
	// Change reports that the contents of the watched directory changed, or
	// that the watched file was written to. Event.Path is empty.
	Change EventKind = iota + 1

	// Rename reports that the watched file was renamed within the watched
	// tree. Event.Path holds the new absolute path, and the subscription
	// keeps following the renamed target. A watched directory that is itself
	// renamed or deleted produces no event.
	Rename

	// Delete reports that the exact watched target was removed (or renamed
	// out of the watched tree). Event.Path is empty.
	Delete

	// Create reports that the watched target reappeared after a Delete, or
	// was renamed into the watched tree.
	Create
)

func (k EventKind) String() string {
	switch k {
	case Change:
		return "change"
	case Rename:
		return "rename"
	case Delete:
		return "delete"
	case Create:
		return "create"
	}
	return "unknown"
}

// Event is a single change notification delivered to a subscription callback.
type Event struct {
	Kind EventKind

	// Path is the new absolute location for Rename events and empty for
	// everything else.
	Path string
}

func (e Event) String() string { return e.Kind.String() + " " + e.Path }

// Callback receives change notifications for one subscription. Callbacks run
// on the session's dispatch goroutine: they must not block for long, and
// calls back into the same session (Watch, Close, CloseAll) have to happen on
// another goroutine. A panic in a callback is recovered and reported through
// the subscription's error hook rather than killing the dispatcher.
type Callback func(Event)

// Config controls how aggressively a session consolidates subscriptions onto
// shared OS watches. The zero value disables all consolidation: one native
// watch per distinct directory. Use DefaultConfig for the platform policy.
type Config struct {
	// ReuseAncestorWatchers attaches a new subscription to an existing watch
	// on an ancestor directory instead of creating a new one.
	ReuseAncestorWatchers bool

	// RelocateDescendantWatchers replaces existing watches below a new
	// ancestor subscription with a single watch on the ancestor.
	RelocateDescendantWatchers bool

	// RelocateAncestorWatchers narrows a shared ancestor watch down to the
	// sole remaining descendant when every other subscription detaches.
	RelocateAncestorWatchers bool

	// MergeWatchersWithCommonAncestors consolidates sibling and cousin
	// subscriptions under their nearest common directory.
	MergeWatchersWithCommonAncestors bool

	// MaxCommonAncestorLevel caps how many path segments may separate a
	// subscription from the common ancestor it gets merged under. Zero or
	// negative removes the cap.
	MaxCommonAncestorLevel int
}

var (
	// ErrClosed is returned when Watch is called on a closed session.
	ErrClosed = errors.New("pathwatch: session already closed")

	// ErrNotAbsolute is returned by Watch for relative paths.
	ErrNotAbsolute = errors.New("pathwatch: path must be absolute")
)

// debug is set with the PATHWATCH_DEBUG=1 environment variable; it dumps
// subscription operations and raw backend events to stderr.
var debug = os.Getenv("PATHWATCH_DEBUG") != ""

// Watch starts watching path on the default session and invokes cb for every
// change. path must be absolute and must exist; symbolic links are resolved
// before use, and watching a file watches the file's parent directory with
// events filtered down to the file itself.
//
// A path that does not exist is rejected with the *fs.PathError from the
// operating system.
func Watch(path string, cb Callback) (*Subscription, error) {
	return defaultSession().Watch(path, cb)
}

// CloseAll stops every subscription and native watcher on the default session
// and resets its registry. The session stays usable afterwards.
func CloseAll() { defaultSession().CloseAll() }

// WatchedPaths returns the directories currently watched at the OS level by
// the default session, one per native watcher.
func WatchedPaths() []string { return defaultSession().WatchedPaths() }

// NativeWatcherCount returns the number of live OS-level watches held by the
// default session.
func NativeWatcherCount() int { return defaultSession().NativeWatcherCount() }
