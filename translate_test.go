package pathwatch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslateDirectorySubscription(t *testing.T) {
	t.Parallel()
	base := filepath.Join(string(sep), "watched")
	other := filepath.Join(string(sep), "elsewhere")

	tests := []struct {
		name string
		raw  rawEvent
		want *Event
	}{
		{"add inside", rawEvent{action: actionAdd, dir: base, filename: "f"}, &Event{Kind: Change}},
		{"add outside", rawEvent{action: actionAdd, dir: other, filename: "f"}, nil},
		{"delete inside", rawEvent{action: actionDelete, dir: base, filename: "f"}, &Event{Kind: Change}},
		{"delete of the directory itself", rawEvent{action: actionDelete, dir: filepath.Dir(base), filename: "watched"}, nil},
		{"modify inside", rawEvent{action: actionModified, dir: base, filename: "f"}, &Event{Kind: Change}},
		{"modify of the directory itself", rawEvent{action: actionModified, dir: filepath.Dir(base), filename: "watched"}, nil},
		{"modify deep", rawEvent{action: actionModified, dir: filepath.Join(base, "sub"), filename: "f"}, &Event{Kind: Change}},
		{"move within", rawEvent{action: actionMoved, dir: base, filename: "new", oldName: "old"}, &Event{Kind: Change}},
		{"move deep", rawEvent{action: actionMoved, dir: filepath.Join(base, "sub"), filename: "new", oldName: "old"}, nil},
		{"move outside", rawEvent{action: actionMoved, dir: other, filename: "new", oldName: "old"}, nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := translate(tt.raw, base, base, false, true)
			assert.Equal(t, tt.want, res.event)
			assert.Empty(t, res.newTarget)
		})
	}
}

func TestTranslateFileSubscription(t *testing.T) {
	t.Parallel()
	base := filepath.Join(string(sep), "watched")
	target := filepath.Join(base, "f")

	tests := []struct {
		name       string
		raw        rawEvent
		exists     bool
		want       *Event
		wantTarget string
	}{
		{"replayed add of the target", rawEvent{action: actionAdd, dir: base, filename: "f"}, true, nil, ""},
		{"add of the target after delete", rawEvent{action: actionAdd, dir: base, filename: "f"}, false, &Event{Kind: Create}, ""},
		{"add of a sibling", rawEvent{action: actionAdd, dir: base, filename: "g"}, true, nil, ""},
		{"delete of the target", rawEvent{action: actionDelete, dir: base, filename: "f"}, true, &Event{Kind: Delete}, ""},
		{"delete of a sibling", rawEvent{action: actionDelete, dir: base, filename: "g"}, true, nil, ""},
		{"modify of the target", rawEvent{action: actionModified, dir: base, filename: "f"}, true, &Event{Kind: Change}, ""},
		{"modify of a sibling", rawEvent{action: actionModified, dir: base, filename: "g"}, true, nil, ""},
		{"sibling rename", rawEvent{action: actionMoved, dir: base, filename: "h", oldName: "g"}, true, nil, ""},
		{
			"target renamed in place",
			rawEvent{action: actionMoved, dir: base, filename: "g", oldName: "f"},
			true,
			&Event{Kind: Rename, Path: filepath.Join(base, "g")},
			filepath.Join(base, "g"),
		},
		{
			"something renamed onto the target",
			rawEvent{action: actionMoved, dir: base, filename: "f", oldName: "g"},
			true,
			&Event{Kind: Rename, Path: target},
			"",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := translate(tt.raw, target, base, true, tt.exists)
			assert.Equal(t, tt.want, res.event)
			assert.Equal(t, tt.wantTarget, res.newTarget)
		})
	}
}

func TestTranslateMoveAcrossBoundary(t *testing.T) {
	t.Parallel()
	base := filepath.Join(string(sep), "watched")
	target := filepath.Join(base, "f")
	outside := filepath.Join(string(sep), "elsewhere")

	// Moved out with an unknown destination: only the old path is ours; the
	// target is gone.
	res := translate(rawEvent{action: actionMoved, dir: base, filename: "", oldName: "f"},
		target, base, true, true)
	assert.Equal(t, &Event{Kind: Delete}, res.event)
	assert.Empty(t, res.newTarget)

	// Backends usually report cross-directory moves as delete+add instead.
	res = translate(rawEvent{action: actionDelete, dir: base, filename: "f"},
		target, base, true, true)
	assert.Equal(t, &Event{Kind: Delete}, res.event)

	// Moved back in from outside: only the new path is ours.
	res = translate(rawEvent{action: actionAdd, dir: base, filename: "f"},
		target, base, true, false)
	assert.Equal(t, &Event{Kind: Create}, res.event)

	// An event entirely outside the watched tree is silent.
	res = translate(rawEvent{action: actionAdd, dir: outside, filename: "f"},
		target, base, true, true)
	assert.Nil(t, res.event)
}
