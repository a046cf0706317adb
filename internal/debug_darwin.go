//go:build darwin && cgo

package internal

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mutagen-io/fsevents"
)

// Debug dumps one raw FSEvents event to stderr.
func Debug(path string, flags uint64, id uint64) {
	names := []struct {
		n string
		m uint64
	}{
		{"MustScanSubDirs", uint64(fsevents.MustScanSubDirs)},
		{"EventIDsWrapped", uint64(fsevents.EventIDsWrapped)},
		{"HistoryDone", uint64(fsevents.HistoryDone)},
		{"RootChanged", uint64(fsevents.RootChanged)},
		{"Mount", uint64(fsevents.Mount)},
		{"Unmount", uint64(fsevents.Unmount)},
		{"ItemCreated", uint64(fsevents.ItemCreated)},
		{"ItemRemoved", uint64(fsevents.ItemRemoved)},
		{"ItemInodeMetaMod", uint64(fsevents.ItemInodeMetaMod)},
		{"ItemRenamed", uint64(fsevents.ItemRenamed)},
		{"ItemModified", uint64(fsevents.ItemModified)},
		{"ItemFinderInfoMod", uint64(fsevents.ItemFinderInfoMod)},
		{"ItemChangeOwner", uint64(fsevents.ItemChangeOwner)},
		{"ItemXattrMod", uint64(fsevents.ItemXattrMod)},
		{"ItemIsFile", uint64(fsevents.ItemIsFile)},
		{"ItemIsDir", uint64(fsevents.ItemIsDir)},
		{"ItemIsSymlink", uint64(fsevents.ItemIsSymlink)},
	}

	var l []string
	for _, n := range names {
		if flags&n.m == n.m {
			l = append(l, n.n)
		}
	}
	fmt.Fprintf(os.Stderr, "PATHWATCH_DEBUG: %s  %-40s (id: %d) → %q\n",
		time.Now().Format("15:04:05.000000000"), strings.Join(l, "|"), id, path)
}
