package pathwatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSubscriptionFollowsRename(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)
	touch(t, tmp, "f")

	s, be := newFakeSession(Config{})
	defer s.Close()

	c := newCollector()
	_, err := s.Watch(join(tmp, "f"), c.cb)
	require.NoError(t, err)

	// The parent directory carries the watch for a file subscription.
	require.Equal(t, []string{tmp}, be.dirs())

	be.emit(t, tmp, "g", actionMoved, "f")
	c.wantNext(t, Event{Kind: Rename, Path: join(tmp, "g")})

	// The subscription tracks the new name: changes to g are ours, the old
	// name is somebody else's.
	be.emit(t, tmp, "g", actionModified, "")
	c.wantNext(t, Event{Kind: Change})
	be.emit(t, tmp, "f", actionModified, "")
	c.wantNone(t)
}

func TestFileSubscriptionDeleteAndRecreate(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)
	touch(t, tmp, "f")

	s, be := newFakeSession(Config{})
	defer s.Close()

	c := newCollector()
	_, err := s.Watch(join(tmp, "f"), c.cb)
	require.NoError(t, err)

	// The target existed when the watch started; a replayed Add is noise.
	be.emit(t, tmp, "f", actionAdd, "")
	c.wantNone(t)

	be.emit(t, tmp, "f", actionDelete, "")
	c.wantNext(t, Event{Kind: Delete})

	be.emit(t, tmp, "f", actionAdd, "")
	c.wantNext(t, Event{Kind: Create})
}

func TestFileSubscriptionIgnoresSiblings(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)
	touch(t, tmp, "f")

	s, be := newFakeSession(Config{})
	defer s.Close()

	c := newCollector()
	_, err := s.Watch(join(tmp, "f"), c.cb)
	require.NoError(t, err)

	be.emit(t, tmp, "other", actionAdd, "")
	be.emit(t, tmp, "other", actionModified, "")
	be.emit(t, tmp, "other", actionDelete, "")
	be.emit(t, tmp, "elsewhere", actionMoved, "other")
	c.wantNone(t)
}

func TestDirectorySubscriptionEvents(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)

	s, be := newFakeSession(Config{})
	defer s.Close()

	c := newCollector()
	_, err := s.Watch(tmp, c.cb)
	require.NoError(t, err)

	be.emit(t, tmp, "f", actionAdd, "")
	c.wantNext(t, Event{Kind: Change})
	be.emit(t, tmp, "f", actionModified, "")
	c.wantNext(t, Event{Kind: Change})
	be.emit(t, tmp, "g", actionMoved, "f")
	c.wantNext(t, Event{Kind: Change})
	be.emit(t, tmp, "g", actionDelete, "")
	c.wantNext(t, Event{Kind: Change})
}

func TestCloseStopsDelivery(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)

	s, be := newFakeSession(Config{})
	defer s.Close()

	c := newCollector()
	sub, err := s.Watch(tmp, c.cb)
	require.NoError(t, err)

	be.emit(t, tmp, "f", actionAdd, "")
	c.wantNext(t, Event{Kind: Change})

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent

	assert.Equal(t, 0, s.NativeWatcherCount())
}

func TestAdditionalCallbacks(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)

	s, be := newFakeSession(Config{})
	defer s.Close()

	c1, c2 := newCollector(), newCollector()
	sub, err := s.Watch(tmp, c1.cb)
	require.NoError(t, err)
	sub.AddCallback(c2.cb)

	be.emit(t, tmp, "f", actionAdd, "")
	c1.wantNext(t, Event{Kind: Change})
	c2.wantNext(t, Event{Kind: Change})
}

func TestCallbackPanicIsContained(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)

	s, be := newFakeSession(Config{})
	defer s.Close()

	c := newCollector()
	sub, err := s.Watch(tmp, func(Event) { panic("boom") })
	require.NoError(t, err)
	sub.AddCallback(c.cb)

	errs := make(chan error, 4)
	sub.OnError(func(err error) { errs <- err })

	be.emit(t, tmp, "f", actionAdd, "")

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "panic")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for panic report")
	}

	// The subscription survives its own misbehaving callback.
	c.wantNext(t, Event{Kind: Change})
	be.emit(t, tmp, "g", actionAdd, "")
	c.wantNext(t, Event{Kind: Change})
}

func TestSessionCloseRejectsWatch(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)

	s, _ := newFakeSession(Config{})
	_, err := s.Watch(tmp, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Watch(tmp, nil)
	assert.ErrorIs(t, err, ErrClosed)
}
