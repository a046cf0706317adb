package pathwatch

import "path/filepath"

// translation is the outcome of running the translator over one raw event:
// at most one public event, plus a possible target update when the
// subscription follows a rename.
type translation struct {
	event     *Event
	newTarget string
}

func change() *Event { return &Event{Kind: Change} }

func deleted() *Event { return &Event{Kind: Delete} }

func created() *Event { return &Event{Kind: Create} }

func renamed(p string) *Event { return &Event{Kind: Rename, Path: p} }

// translate maps one raw backend event onto a subscription's view of the
// world. It is a pure function of the event and the subscription context:
//
//   - targetPath is the exact path the user asked about (possibly a file),
//   - normalizedPath is the canonical directory being observed,
//   - watchingParent is true when the target is a file inside that directory,
//   - targetExists is whether the target was present at the last known point;
//     an Add for a target that never went away is a spurious replay of the
//     subscribe-time state and is dropped.
//
// Raw events may concern siblings, descendants, or the watched directory
// itself; anything outside the subscription's directory is filtered here.
func translate(e rawEvent, targetPath, normalizedPath string, watchingParent, targetExists bool) translation {
	newPath := filepath.Join(e.dir, e.filename)
	var oldPath string
	if e.oldName != "" {
		oldPath = filepath.Join(e.dir, e.oldName)
	}

	eqTarget := func(p string) bool { return p != "" && p == targetPath }
	within := func(p string) bool { return p != "" && inside(normalizedPath, p) }

	// Events touching neither the inside of the watched directory via their
	// new nor their old path are someone else's business. Note that the
	// watched directory itself is not "inside": deleting or renaming the
	// directory a subscription sits on is deliberately silent, matching the
	// behavior of every backend.
	if !within(newPath) && !within(oldPath) {
		return translation{}
	}

	switch e.action {
	case actionAdd:
		if eqTarget(newPath) {
			if targetExists {
				// The target was present when the watch started (or has not
				// been deleted since); this Add is a replay, not a create.
				return translation{}
			}
			return translation{event: created()}
		}
		if watchingParent {
			return translation{}
		}
		return translation{event: change()}

	case actionDelete:
		if watchingParent {
			if eqTarget(newPath) {
				return translation{event: deleted()}
			}
			return translation{}
		}
		return translation{event: change()}

	case actionModified:
		if watchingParent {
			if eqTarget(newPath) {
				return translation{event: change()}
			}
			return translation{}
		}
		if eqTarget(newPath) {
			// A directory is never "modified"; its contents are.
			return translation{}
		}
		return translation{event: change()}

	case actionMoved:
		return translateMove(newPath, oldPath, targetPath, normalizedPath, watchingParent, eqTarget, within)
	}

	return translation{}
}

func translateMove(newPath, oldPath, targetPath, normalizedPath string, watchingParent bool, eqTarget, within func(string) bool) translation {
	involved := eqTarget(newPath) || eqTarget(oldPath)

	if !involved {
		if watchingParent {
			return translation{}
		}
		if filepath.Dir(newPath) == normalizedPath || (oldPath != "" && filepath.Dir(oldPath) == normalizedPath) {
			return translation{event: change()}
		}
		return translation{}
	}

	var res translation
	if within(newPath) && newPath != targetPath {
		res.newTarget = newPath
	}
	switch {
	case within(oldPath) && within(newPath):
		res.event = renamed(newPath)
	case within(oldPath):
		res.event = deleted()
	case within(newPath):
		res.event = created()
	}
	return res
}
