package pathwatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Session is an isolated watcher universe: one backend, one consolidation
// registry, one dispatch goroutine. The package-level functions operate on a
// lazily created default session with the platform's DefaultConfig; create
// explicit sessions to use a different consolidation policy.
//
// All registry bookkeeping, native watcher lifecycle and user callback
// invocation happen on the session's dispatch goroutine. Public methods post
// a request onto that goroutine and wait for it to complete, so they are safe
// to call from any goroutine.
type Session struct {
	cfg Config
	be  backend

	reqs chan func()
	raw  chan rawEvent
	done chan struct{}

	// Owned by the dispatch goroutine.
	registry    *registry
	natives     map[int]*nativeWatcher // backend handle → wrapper
	subs        map[*Subscription]struct{}
	tearingDown bool
	closed      bool
}

// rawChannelCapacity buffers the hop from backend goroutines onto the
// dispatch goroutine. Delivery is best-effort under sustained load; the OS
// coalesces anyway.
const rawChannelCapacity = 64

var (
	defaultOnce sync.Once
	defaultSess *Session
)

func defaultSession() *Session {
	defaultOnce.Do(func() {
		defaultSess = NewSession(DefaultConfig())
	})
	return defaultSess
}

// NewSession creates a session with the given consolidation policy and starts
// its dispatch goroutine.
func NewSession(cfg Config) *Session {
	return newSession(cfg, newBackend())
}

func newSession(cfg Config, be backend) *Session {
	s := &Session{
		cfg:     cfg,
		be:      be,
		reqs:    make(chan func()),
		raw:     make(chan rawEvent, rawChannelCapacity),
		done:    make(chan struct{}),
		natives: make(map[int]*nativeWatcher),
		subs:    make(map[*Subscription]struct{}),
	}
	s.registry = newRegistry(s)
	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.reqs:
			fn()
			if s.closed {
				return
			}
		case e := <-s.raw:
			s.dispatchRaw(e)
		}
	}
}

// do runs fn on the dispatch goroutine and waits for it to finish.
func (s *Session) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.reqs <- func() { fn(); close(ran) }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		// The session may have been shut down by this very request.
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	}
}

// deliver is the actionFunc handed to the backend; it runs on backend
// goroutines and hands raw events over to the dispatch goroutine.
func (s *Session) deliver(handle int, dir, filename string, action rawAction, oldName string) {
	e := rawEvent{handle: handle, action: action, dir: dir, filename: filename, oldName: oldName}
	select {
	case s.raw <- e:
	case <-s.done:
	}
}

func (s *Session) dispatchRaw(e rawEvent) {
	n := s.natives[e.handle]
	if n == nil {
		// No owner; expected for events raced against a migration or
		// removal.
		return
	}
	n.dispatch(e)
}

// Watch starts watching path and invokes cb for every change. See the
// package-level Watch for the exact contract.
func (s *Session) Watch(path string, cb Callback) (*Subscription, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%w: %q", ErrNotAbsolute, path)
	}
	if debug {
		fmt.Fprintf(os.Stderr, "PATHWATCH_DEBUG: %s  Watch(%q)\n",
			time.Now().Format("15:04:05.000000000"), path)
	}

	// Canonicalization and the existence check happen on the caller's
	// goroutine; starting a native watch happens later, on the dispatch
	// goroutine. A missing path surfaces here as the OS *fs.PathError.
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(canonical)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		session:      s,
		watchedPath:  path,
		targetPath:   canonical,
		targetExists: true,
		active:       true,
	}
	if fi.IsDir() {
		sub.normalizedPath = canonical
	} else {
		sub.normalizedPath = filepath.Dir(canonical)
		sub.watchingParent = true
	}
	// The registry keys the subscription under the directory it had at
	// attach time; normalizedPath may later follow the target across
	// renames deeper into the watched tree.
	sub.registryPath = sub.normalizedPath
	if cb != nil {
		sub.callbacks = append(sub.callbacks, cb)
	}

	var attachErr error
	err = s.do(func() {
		if s.tearingDown {
			attachErr = ErrClosed
			return
		}
		if attachErr = s.registry.attach(sub); attachErr != nil {
			return
		}
		s.subs[sub] = struct{}{}
	})
	if err != nil {
		return nil, err
	}
	if attachErr != nil {
		return nil, attachErr
	}
	return sub, nil
}

// detach runs on the dispatch goroutine and tears one subscription down.
func (s *Session) detach(sub *Subscription) {
	if !sub.active {
		return
	}
	sub.active = false
	s.registry.detach(sub)
	if n := sub.native; n != nil {
		sub.native = nil
		n.removeSubscriber(sub)
	}
	delete(s.subs, sub)
}

// CloseAll stops every subscription and native watcher and resets the
// registry. The session stays usable afterwards.
func (s *Session) CloseAll() {
	s.do(func() {
		s.tearingDown = true
		for sub := range s.subs {
			s.detach(sub)
		}
		// Detaching every subscription stops every native watcher; sweep
		// whatever is left in case a backend error kept one registered.
		for _, n := range s.nativeList() {
			n.stop()
		}
		s.registry.reset()
		s.tearingDown = false
	})
}

// Close shuts the session down for good: closes every subscription, releases
// the backend and stops the dispatch goroutine. Watch returns ErrClosed
// afterwards.
func (s *Session) Close() error {
	s.CloseAll()
	s.do(func() { s.closed = true })
	// The backend is released only once the dispatch goroutine is gone, so
	// a backend reader blocked on the raw channel can always drain.
	<-s.done
	return s.be.close()
}

// WatchedPaths returns the directories currently watched at the OS level, one
// per native watcher, sorted and deduplicated.
func (s *Session) WatchedPaths() []string {
	var paths []string
	s.do(func() {
		seen := make(map[string]struct{}, len(s.natives))
		for _, n := range s.natives {
			if _, ok := seen[n.path]; ok {
				continue
			}
			seen[n.path] = struct{}{}
			paths = append(paths, n.path)
		}
	})
	sort.Strings(paths)
	return paths
}

// NativeWatcherCount returns the number of live OS-level watches.
func (s *Session) NativeWatcherCount() int {
	var count int
	s.do(func() { count = len(s.natives) })
	return count
}

func (s *Session) nativeList() []*nativeWatcher {
	list := make([]*nativeWatcher, 0, len(s.natives))
	for _, n := range s.natives {
		list = append(list, n)
	}
	return list
}
