package internal

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/windows"
)

// Debug dumps one raw directory-change record to stderr.
func Debug(name string, action uint32) {
	names := map[uint32]string{
		windows.FILE_ACTION_ADDED:            "FILE_ACTION_ADDED",
		windows.FILE_ACTION_REMOVED:          "FILE_ACTION_REMOVED",
		windows.FILE_ACTION_MODIFIED:         "FILE_ACTION_MODIFIED",
		windows.FILE_ACTION_RENAMED_OLD_NAME: "FILE_ACTION_RENAMED_OLD_NAME",
		windows.FILE_ACTION_RENAMED_NEW_NAME: "FILE_ACTION_RENAMED_NEW_NAME",
	}
	n, ok := names[action]
	if !ok {
		n = fmt.Sprintf("0x%x", action)
	}
	fmt.Fprintf(os.Stderr, "PATHWATCH_DEBUG: %s  %-30s → %q\n",
		time.Now().Format("15:04:05.000000000"), n, name)
}
