package tokenizers

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

const libPathEnv = "TOKENIZERS_LIB_PATH"

// LoadTokenizerLibrary opens the native library, trying in order:
// 1. userPath
// 2. TOKENIZERS_LIB_PATH
// 3. the cached library
// 4. a fresh download from GitHub releases into the cache
//
// Failures to locate the library wrap ErrLibraryUnavailable.
func LoadTokenizerLibrary(userPath string) (uintptr, error) {
	if userPath != "" {
		return loadFromExplicitPath(userPath, "user-provided path")
	}

	if envPath := os.Getenv(libPathEnv); envPath != "" {
		return loadFromExplicitPath(envPath, libPathEnv)
	}

	cachedPath := GetCachedLibraryPath()
	if isLibraryValid(cachedPath) {
		libh, err := loadLibrary(cachedPath)
		if err == nil {
			return libh, nil
		}
		log().Warn("cached tokenizers library failed to load, re-downloading", "path", cachedPath, "error", err)
		_ = ClearLibraryCache()
	}

	if err := DownloadAndCacheLibrary(); err != nil {
		return 0, errors.Wrapf(ErrLibraryUnavailable, "failed to download library from GitHub releases: %v", err)
	}

	libh, err := loadLibrary(cachedPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to load downloaded library from: %s", cachedPath)
	}
	return libh, nil
}

func loadFromExplicitPath(path, source string) (uintptr, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, errors.Wrapf(ErrLibraryUnavailable, "library file not found at %s: %s", source, path)
	}
	libh, err := loadLibrary(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to load library from %s: %s", source, path)
	}
	return libh, nil
}

// getLibraryName returns the platform-specific library name
func getLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libtokenizers.dylib"
	case "linux":
		return "libtokenizers.so"
	case "windows":
		return "tokenizers.dll"
	default:
		return fmt.Sprintf("libtokenizers_%s", runtime.GOOS)
	}
}

// getCacheDir returns the platform-specific cache directory
func getCacheDir() string {
	var cacheDir string

	switch runtime.GOOS {
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			cacheDir = filepath.Join(home, "Library", "Caches", "tokenizers", "lib")
		}
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			cacheDir = filepath.Join(appData, "tokenizers", "lib")
		}
	default:
		if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
			cacheDir = filepath.Join(xdgCache, "tokenizers", "lib")
		} else if home, err := os.UserHomeDir(); err == nil {
			cacheDir = filepath.Join(home, ".cache", "tokenizers", "lib")
		}
	}

	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "tokenizers", "lib")
	}
	return cacheDir
}

// isMusl checks if the current Linux system uses musl libc
func isMusl() bool {
	for _, loader := range []string{"/lib/ld-musl-x86_64.so.1", "/lib/ld-musl-aarch64.so.1"} {
		if _, err := os.Stat(loader); err == nil {
			return true
		}
	}
	return false
}
