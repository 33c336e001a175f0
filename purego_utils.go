//go:build (darwin || linux) && !noopus

package media

import (
	"os"
	"path/filepath"
	"unsafe"
)

// maxCString bounds the scan for a terminator in strings returned by
// native libraries.
const maxCString = 1024

// goStringFromPtr copies a NUL-terminated string owned by a native library.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), maxCString)
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// findModuleRoot returns the nearest ancestor of the working directory
// holding a go.mod, or "" outside a module. Locally built libraries live
// under <root>/build.
func findModuleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
