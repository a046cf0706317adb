package pathwatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Subscription is one user-visible watch on one path. It holds a reference to
// whichever native watcher currently backs it; the registry may migrate it
// between native watchers at any time without the subscriber noticing.
//
// Lifecycle methods are safe to call from any goroutine. The handle* methods
// run on the session's dispatch goroutine only.
type Subscription struct {
	session *Session

	watchedPath    string // path as requested
	normalizedPath string // canonical directory being observed
	targetPath     string // canonical target; equals normalizedPath for directories
	registryPath   string // normalizedPath as recorded at attach time, the registry's key
	watchingParent bool   // target is a file inside normalizedPath
	targetExists   bool   // target was present at the last known point

	native    *nativeWatcher
	callbacks []Callback
	onError   func(error)
	active    bool
}

// Path returns the path the subscription was created with.
func (sub *Subscription) Path() string { return sub.watchedPath }

// Close stops the subscription. No callback will be invoked after Close
// returns. Closing twice is a no-op.
func (sub *Subscription) Close() error {
	err := sub.session.do(func() { sub.session.detach(sub) })
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// AddCallback registers an additional callback on the subscription.
func (sub *Subscription) AddCallback(cb Callback) {
	if cb == nil {
		return
	}
	sub.session.do(func() { sub.callbacks = append(sub.callbacks, cb) })
}

// OnError registers a hook for delivery errors and recovered callback panics.
// The subscription stays active when the hook fires.
func (sub *Subscription) OnError(fn func(error)) {
	sub.session.do(func() { sub.onError = fn })
}

// attachTo binds the subscription to a native watcher, starting it if needed.
func (sub *Subscription) attachTo(n *nativeWatcher) error {
	if err := n.addSubscriber(sub); err != nil {
		return err
	}
	sub.native = n
	return nil
}

// handleWillStop clears the native reference, but only if the stopping
// watcher is ours; a stale will-stop from a previous native is ignored.
func (sub *Subscription) handleWillStop(n *nativeWatcher) {
	if sub.native == n {
		sub.native = nil
	}
}

// handleShouldDetach migrates the subscription onto a replacement native
// watcher. The offer is ignored if the subscription is closing, the
// replacement is the current native, or the replacement does not cover this
// subscription's directory. The replacement is attached before the old native
// is dropped so no event is lost to the swap.
func (sub *Subscription) handleShouldDetach(replacement *nativeWatcher) {
	if !sub.active || sub.session.tearingDown {
		return
	}
	if replacement == nil || replacement == sub.native {
		return
	}
	if !isAncestorOrSelf(replacement.path, sub.normalizedPath) {
		return
	}

	old := sub.native
	if err := replacement.addSubscriber(sub); err != nil {
		sub.reportError(fmt.Errorf("pathwatch: migrating %q to %q: %w",
			sub.normalizedPath, replacement.path, err))
		return
	}
	sub.native = replacement
	if old != nil {
		old.removeSubscriber(sub)
	}
}

// handleRaw runs the event translator over one raw backend event and invokes
// the user callbacks with the result, if any.
func (sub *Subscription) handleRaw(e rawEvent) {
	if !sub.active {
		return
	}

	res := translate(e, sub.targetPath, sub.normalizedPath, sub.watchingParent, sub.targetExists)

	// The subscription follows its target across renames inside the watched
	// tree.
	if res.newTarget != "" {
		sub.targetPath = res.newTarget
		if sub.watchingParent {
			sub.normalizedPath = filepath.Dir(res.newTarget)
		}
	}
	if res.event == nil {
		return
	}
	switch res.event.Kind {
	case Delete:
		sub.targetExists = false
	case Create:
		sub.targetExists = true
	}
	sub.emit(*res.event)
}

func (sub *Subscription) emit(ev Event) {
	for _, cb := range sub.callbacks {
		sub.invoke(cb, ev)
	}
}

// invoke shields the dispatch loop from user code: a panicking callback is
// reported through the error hook and the subscription stays live.
func (sub *Subscription) invoke(cb Callback, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			sub.reportError(fmt.Errorf("pathwatch: callback panic on %q: %v", sub.watchedPath, r))
		}
	}()
	cb(ev)
}

func (sub *Subscription) reportError(err error) {
	if sub.onError != nil {
		sub.onError(err)
		return
	}
	if debug {
		fmt.Fprintf(os.Stderr, "PATHWATCH_DEBUG: %s\n", err)
	}
}
