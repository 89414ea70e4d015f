// Package syncer converges the filesystem around the application: storage
// path validation, content directory symlinks, JSON config patches and cache
// cleanup.
package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// ValidateDirectory checks that path exists, is a directory and is writable.
// An empty path means "use the system default" and is always valid.
func ValidateDirectory(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("directory %s does not exist: create it with 'mkdir -p %s' or unset it", path, path)
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	if err := unix.Access(path, unix.W_OK); err != nil {
		return fmt.Errorf("directory %s is not writable: %w", path, err)
	}
	return nil
}

// SavePaths are the output directories of generated videos and images.
type SavePaths struct {
	SavePath      string `json:"save_path"`
	ImageSavePath string `json:"image_save_path"`
}

// Empty reports whether no output directory is configured.
func (s SavePaths) Empty() bool {
	return s.SavePath == "" && s.ImageSavePath == ""
}

// LoadSavePaths reads the JSON sidecar. Fields missing from the sidecar, or
// the whole sidecar when absent or unreadable, come from fallback.
func LoadSavePaths(sidecar string, fallback SavePaths) SavePaths {
	if sidecar == "" {
		return fallback
	}
	data, err := os.ReadFile(sidecar)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			klog.Warningf("Failed to read save paths from %s: %v", sidecar, err)
		}
		return fallback
	}
	var paths SavePaths
	if err := json.Unmarshal(data, &paths); err != nil {
		klog.Warningf("Ignoring malformed save paths file %s: %v", sidecar, err)
		return fallback
	}
	if paths.SavePath == "" {
		paths.SavePath = fallback.SavePath
	}
	if paths.ImageSavePath == "" {
		paths.ImageSavePath = fallback.ImageSavePath
	}
	return paths
}

// ValidateSavePaths requires every configured output directory to exist and
// be writable. Nothing configured means the application picks its defaults.
func ValidateSavePaths(paths SavePaths) error {
	if paths.Empty() {
		return nil
	}
	for _, p := range []struct{ name, path string }{
		{"save_path", paths.SavePath},
		{"image_save_path", paths.ImageSavePath},
	} {
		if err := ValidateDirectory(p.path); err != nil {
			return fmt.Errorf("invalid %s: %w (fix SAVE_PATHS_FILE or SAVE_PATH/IMAGE_SAVE_PATH)", p.name, err)
		}
	}
	return nil
}
