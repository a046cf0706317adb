package pathwatch

import (
	"fmt"
	"os"
)

// nativeWatcher wraps exactly one OS-level watch on exactly one directory and
// reference-counts the subscriptions served by it. It starts the OS watch
// lazily on the first subscriber and releases it when the last one leaves.
//
// All methods run on the session's dispatch goroutine.
type nativeWatcher struct {
	session   *Session
	path      string
	recursive bool
	handle    int
	running   bool

	subscribers []*Subscription
}

func newNativeWatcher(s *Session, path string) *nativeWatcher {
	return &nativeWatcher{
		session:   s,
		path:      path,
		recursive: nativeRecursive,
		handle:    -1,
	}
}

// addSubscriber registers sub and starts the OS watch if this is the first
// subscriber. On a start failure no state is retained.
func (n *nativeWatcher) addSubscriber(sub *Subscription) error {
	if !n.running {
		handle, err := n.session.be.addWatch(n.path, n.session.deliver)
		if err != nil {
			return err
		}
		n.handle = handle
		n.running = true
		n.session.natives[handle] = n
		if debug {
			fmt.Fprintf(os.Stderr, "PATHWATCH_DEBUG: native start %q handle=%d\n", n.path, handle)
		}
	}
	n.subscribers = append(n.subscribers, sub)
	return nil
}

// removeSubscriber drops sub and stops the OS watch when nobody is left.
func (n *nativeWatcher) removeSubscriber(sub *Subscription) {
	for i, have := range n.subscribers {
		if have == sub {
			n.subscribers = append(n.subscribers[:i], n.subscribers[i+1:]...)
			break
		}
	}
	if len(n.subscribers) == 0 {
		n.stop()
	}
}

// stop broadcasts will-stop and releases the OS watch. Stopping a watcher
// that is not running is not an error.
func (n *nativeWatcher) stop() {
	if !n.running {
		return
	}
	for _, sub := range n.snapshot() {
		sub.handleWillStop(n)
	}
	if err := n.session.be.removeWatch(n.handle); err != nil && debug {
		fmt.Fprintf(os.Stderr, "PATHWATCH_DEBUG: native stop %q: %s\n", n.path, err)
	}
	delete(n.session.natives, n.handle)
	n.running = false
	n.handle = -1
}

// shouldDetach offers every subscriber a replacement native watcher during a
// migration. Subscribers that accept re-attach to the replacement before
// dropping this one, so there is no window without OS coverage; the
// stop-if-empty logic then fires through removeSubscriber.
func (n *nativeWatcher) shouldDetach(replacement *nativeWatcher) {
	for _, sub := range n.snapshot() {
		sub.handleShouldDetach(replacement)
	}
}

// dispatch fans one raw backend event out to every subscriber.
func (n *nativeWatcher) dispatch(e rawEvent) {
	if debug {
		fmt.Fprintf(os.Stderr, "PATHWATCH_DEBUG: raw %s\n", e)
	}
	for _, sub := range n.snapshot() {
		sub.handleRaw(e)
	}
}

// snapshot copies the subscriber list so handlers may mutate it mid-loop.
func (n *nativeWatcher) snapshot() []*Subscription {
	cp := make([]*Subscription, len(n.subscribers))
	copy(cp, n.subscribers)
	return cp
}
