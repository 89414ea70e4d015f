package syncer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ConfigPatch is a partial overlay applied to a JSON object as a merge patch.
type ConfigPatch map[string]any

// PatchOutcome is what ApplyPatch did.
type PatchOutcome int

const (
	PatchUnchanged PatchOutcome = iota
	PatchApplied
	// PatchSkipped means the file does not exist yet; the application writes
	// it on first start.
	PatchSkipped
)

func (o PatchOutcome) String() string {
	switch o {
	case PatchUnchanged:
		return "unchanged"
	case PatchApplied:
		return "updated"
	case PatchSkipped:
		return "skipped"
	}
	return "unknown"
}

// ApplyPatch merges patch into the JSON object in file and rewrites it only
// when the result differs. Keys not named by the patch are kept.
func ApplyPatch(file string, patch ConfigPatch) (PatchOutcome, error) {
	current, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PatchSkipped, nil
		}
		return PatchUnchanged, fmt.Errorf("failed to read %s: %w", file, err)
	}
	if !json.Valid(current) {
		return PatchUnchanged, fmt.Errorf("%s is not valid JSON, leaving it untouched", file)
	}

	patchData, err := json.Marshal(patch)
	if err != nil {
		return PatchUnchanged, fmt.Errorf("failed to marshal patch: %w", err)
	}
	merged, err := jsonpatch.MergePatch(current, patchData)
	if err != nil {
		return PatchUnchanged, fmt.Errorf("failed to patch %s: %w", file, err)
	}
	if jsonpatch.Equal(current, merged) {
		return PatchUnchanged, nil
	}

	var out bytes.Buffer
	if err := json.Indent(&out, merged, "", "    "); err != nil {
		return PatchUnchanged, fmt.Errorf("failed to format %s: %w", file, err)
	}
	if err := writeFileAtomic(file, out.Bytes()); err != nil {
		return PatchUnchanged, err
	}
	return PatchApplied, nil
}

// writeFileAtomic replaces file through a temporary sibling, keeping its mode.
func writeFileAtomic(file string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(file); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(file), "."+filepath.Base(file)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", file, err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set mode on %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return fmt.Errorf("failed to replace %s: %w", file, err)
	}
	return nil
}

// SyncCkptsDirectory puts the content store first on the application's
// checkpoint search path. Entries the application already lists are kept
// after it, without duplicates.
func SyncCkptsDirectory(appConfig, ckptsDir string) (PatchOutcome, error) {
	if ckptsDir == "" {
		return PatchSkipped, nil
	}
	current, err := os.ReadFile(appConfig)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PatchSkipped, nil
		}
		return PatchUnchanged, fmt.Errorf("failed to read %s: %w", appConfig, err)
	}
	var doc struct {
		CheckpointsPaths []any `json:"checkpoints_paths"`
	}
	if err := json.Unmarshal(current, &doc); err != nil {
		return PatchUnchanged, fmt.Errorf("%s is not valid JSON, leaving it untouched: %w", appConfig, err)
	}

	paths := []any{ckptsDir}
	for _, p := range doc.CheckpointsPaths {
		if s, ok := p.(string); ok && filepath.Clean(s) == filepath.Clean(ckptsDir) {
			continue
		}
		paths = append(paths, p)
	}
	return ApplyPatch(appConfig, ConfigPatch{"checkpoints_paths": paths})
}

// SyncSavePaths writes the configured output directories into the
// application config.
func SyncSavePaths(appConfig string, paths SavePaths) (PatchOutcome, error) {
	patch := ConfigPatch{}
	if paths.SavePath != "" {
		patch["save_path"] = paths.SavePath
	}
	if paths.ImageSavePath != "" {
		patch["image_save_path"] = paths.ImageSavePath
	}
	if len(patch) == 0 {
		return PatchSkipped, nil
	}
	return ApplyPatch(appConfig, patch)
}
