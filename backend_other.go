//go:build !linux && !windows && !(darwin && cgo)

package pathwatch

import (
	"fmt"
	"runtime"
)

const nativeRecursive = false

// DefaultConfig returns an empty policy on unsupported platforms.
func DefaultConfig() Config { return Config{} }

func newBackend() backend {
	return &failedBackend{err: fmt.Errorf("pathwatch not supported on %s", runtime.GOOS)}
}
