// Package paths resolves pcappuller's per-user locations and normalizes
// user-supplied filesystem paths.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// AppName is the directory name used under the platform config/cache roots.
	AppName = "pcappuller"

	// CacheFileName is the metadata cache database file name.
	CacheFileName = "capinfos.sqlite"

	// HomeEnvVar overrides every per-user location when set.
	HomeEnvVar = "PCAPPULLER_HOME"
)

// CacheDir returns the per-user cache directory.
// Order: $PCAPPULLER_HOME, %LOCALAPPDATA% (Windows), $XDG_CACHE_HOME, ~/.cache.
func CacheDir() (string, error) {
	if home := os.Getenv(HomeEnvVar); home != "" {
		return home, nil
	}
	if runtime.GOOS == "windows" {
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, AppName), nil
		}
	}
	if base := os.Getenv("XDG_CACHE_HOME"); base != "" {
		return filepath.Join(base, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", AppName), nil
}

// DefaultCachePath returns the default metadata cache database path.
func DefaultCachePath() (string, error) {
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CacheFileName), nil
}

// ConfigDir returns the per-user configuration directory.
// Order: $PCAPPULLER_HOME, %APPDATA% (Windows), $XDG_CONFIG_HOME, ~/.config.
func ConfigDir() (string, error) {
	if home := os.Getenv(HomeEnvVar); home != "" {
		return home, nil
	}
	if runtime.GOOS == "windows" {
		if base := os.Getenv("APPDATA"); base != "" {
			return filepath.Join(base, AppName), nil
		}
	}
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", AppName), nil
}

// Expand resolves a leading "~" to the user's home directory and cleans the
// result. Empty input stays empty.
func Expand(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(path)
}

// WithExtension appends ext to path unless path already ends with it
// (case-insensitive).
func WithExtension(path, ext string) string {
	if strings.HasSuffix(strings.ToLower(path), strings.ToLower(ext)) {
		return path
	}
	return path + ext
}
