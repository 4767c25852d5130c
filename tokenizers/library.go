//go:build !windows

package tokenizers

import (
	"os"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
)

func loadLibrary(path string) (uintptr, error) {
	libHandle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil || libHandle == 0 {
		return 0, errors.Wrapf(err, "failed to load shared library: %s", path)
	}
	return libHandle, nil
}

// isLibraryValid reports whether path exists and can be opened as a shared library.
func isLibraryValid(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	libh, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return false
	}
	_ = purego.Dlclose(libh)
	return true
}

func closeLibrary(handle uintptr) error {
	if err := purego.Dlclose(handle); err != nil {
		return errors.Errorf("failed to close library: %s", err.Error())
	}
	return nil
}
