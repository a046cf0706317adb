package pathwatch

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against the real platform backend with the platform's
// default consolidation policy.

func newPlatformSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(DefaultConfig())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWatchDirectory(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)
	s := newPlatformSession(t)

	c := newCollector()
	sub, err := s.Watch(tmp, c.cb)
	require.NoError(t, err)

	touch(t, tmp, "file")
	c.wantNext(t, Event{Kind: Change})

	cat(t, "data", tmp, "file")
	c.wantNext(t, Event{Kind: Change})

	rm(t, tmp, "file")
	c.wantNext(t, Event{Kind: Change})

	require.NoError(t, sub.Close())
	assert.Equal(t, 0, s.NativeWatcherCount())
}

func TestWatchFile(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)
	touch(t, tmp, "f")
	s := newPlatformSession(t)

	c := newCollector()
	_, err := s.Watch(join(tmp, "f"), c.cb)
	require.NoError(t, err)

	// The watch actually sits on the parent directory.
	assert.Equal(t, []string{tmp}, s.WatchedPaths())

	cat(t, "data", tmp, "f")
	c.wantNext(t, Event{Kind: Change})

	mv(t, join(tmp, "f"), join(tmp, "g"))
	c.wantNext(t, Event{Kind: Rename, Path: join(tmp, "g")})

	// The subscription keeps following the renamed file.
	cat(t, "more", tmp, "g")
	c.wantNext(t, Event{Kind: Change})
}

func TestWatchFileSiblingNoise(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)
	touch(t, tmp, "f")
	s := newPlatformSession(t)

	c := newCollector()
	_, err := s.Watch(join(tmp, "f"), c.cb)
	require.NoError(t, err)

	touch(t, tmp, "other")
	cat(t, "data", tmp, "other")
	rm(t, tmp, "other")
	c.wantNone(t)
}

func TestDeletedWatchedDirectoryIsSilent(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)
	mkdir(t, tmp, "sub")
	s := newPlatformSession(t)

	c := newCollector()
	_, err := s.Watch(join(tmp, "sub"), c.cb)
	require.NoError(t, err)

	rmAll(t, tmp, "sub")
	c.wantNone(t)
}

func TestDeletedSubdirectoryObservedViaParent(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)
	mkdir(t, tmp, "sub")
	s := newPlatformSession(t)

	cp, cc := newCollector(), newCollector()
	_, err := s.Watch(tmp, cp.cb)
	require.NoError(t, err)
	_, err = s.Watch(join(tmp, "sub"), cc.cb)
	require.NoError(t, err)

	rm(t, tmp, "sub")
	cp.wantNext(t, Event{Kind: Change})
	cc.wantNone(t)
}

func TestWatchRejectsMissingPath(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)
	s := newPlatformSession(t)

	_, err := s.Watch(join(tmp, "does-not-exist"), nil)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err), "want a not-found error, have %v", err)
}

func TestWatchRejectsRelativePath(t *testing.T) {
	t.Parallel()
	s := newPlatformSession(t)

	_, err := s.Watch("relative/path", nil)
	assert.ErrorIs(t, err, ErrNotAbsolute)
}

func TestCloseAllOnLiveBackend(t *testing.T) {
	t.Parallel()
	tmp := realDir(t)
	mkdir(t, tmp, "a")
	s := newPlatformSession(t)

	_, err := s.Watch(tmp, nil)
	require.NoError(t, err)
	_, err = s.Watch(join(tmp, "a"), nil)
	require.NoError(t, err)
	require.NotZero(t, s.NativeWatcherCount())

	s.CloseAll()
	assert.Zero(t, s.NativeWatcherCount())
	assert.Empty(t, s.WatchedPaths())

	// Still usable afterwards.
	c := newCollector()
	_, err = s.Watch(tmp, c.cb)
	require.NoError(t, err)
	touch(t, tmp, "after")
	c.wantNext(t, Event{Kind: Change})
}

func TestDefaultSessionRoundTrip(t *testing.T) {
	tmp := realDir(t)

	c := newCollector()
	sub, err := Watch(tmp, c.cb)
	require.NoError(t, err)
	require.NotZero(t, NativeWatcherCount())

	touch(t, tmp, "file")
	c.wantNext(t, Event{Kind: Change})

	require.NoError(t, sub.Close())
	CloseAll()
	assert.Zero(t, NativeWatcherCount())
	assert.Empty(t, WatchedPaths())
}
