//go:build (darwin || linux) && (amd64 || arm64)

// Shared loading for the libstream_* native libraries used by the segmenter
// and the platform device provider.

package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// nativeLibrary is a lazily loaded shared library. bind registers the
// library's symbols once the handle is open.
type nativeLibrary struct {
	base   string // e.g. "libstream_segmenter"
	envVar string // optional full-path override
	bind   func(handle uintptr)

	once   sync.Once
	handle uintptr
	err    error
}

func (l *nativeLibrary) load() error {
	l.once.Do(func() {
		l.err = l.open()
	})
	return l.err
}

func (l *nativeLibrary) open() error {
	var lastErr error
	for _, path := range nativeLibraryPaths(libraryFileName(l.base), l.envVar) {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		l.handle = handle
		l.bind(handle)
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("load %s: %w", l.base, lastErr)
	}
	return errors.New(l.base + " not found in any standard location")
}

func libraryFileName(base string) string {
	if runtime.GOOS == "darwin" {
		return base + ".dylib"
	}
	return base + ".so"
}

func nativeLibraryPaths(libName, envVar string) []string {
	var paths []string

	if envVar != "" {
		if p := os.Getenv(envVar); p != "" {
			paths = append(paths, p)
		}
	}
	if dir := os.Getenv("STREAM_SDK_LIB_PATH"); dir != "" {
		paths = append(paths, filepath.Join(dir, libName))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	if root := findModuleRoot(); root != "" {
		paths = append(paths, filepath.Join(root, "build", libName))
	}

	// Let the dynamic loader search too
	paths = append(paths, libName, "/usr/local/lib/"+libName)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths, "/opt/homebrew/lib/"+libName)
	case "linux":
		paths = append(paths, "/usr/lib/"+libName)
	}
	return paths
}

// findModuleRoot walks up from the working directory to the directory
// holding go.mod.
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

// goStringFromPtr copies a NUL-terminated C string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	n := 0
	for n < 4096 && *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(p), n))
}

func bytePtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
