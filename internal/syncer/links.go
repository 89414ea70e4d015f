package syncer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"
)

// SyncTarget is a desired symlink Target -> Source.
type SyncTarget struct {
	Source string
	Target string
	Label  string
}

// LinkOutcome is what LinkContentDirectory did.
type LinkOutcome int

const (
	AlreadyCorrect LinkOutcome = iota
	Created
	Replaced
)

func (o LinkOutcome) String() string {
	switch o {
	case AlreadyCorrect:
		return "already correct"
	case Created:
		return "created"
	case Replaced:
		return "replaced"
	}
	return "unknown"
}

// ContentTargets links each name in projectDir to the same name in the
// content store.
func ContentTargets(contentDir, projectDir string, names []string) []SyncTarget {
	targets := make([]SyncTarget, 0, len(names))
	for _, name := range names {
		targets = append(targets, SyncTarget{
			Source: filepath.Join(contentDir, name),
			Target: filepath.Join(projectDir, name),
			Label:  name,
		})
	}
	return targets
}

// LinkContentDirectory makes t.Target a symlink to t.Source. Running it
// again with the same target reports AlreadyCorrect and touches nothing. A
// real directory at the target has its entries moved into the store first.
func LinkContentDirectory(t SyncTarget) (LinkOutcome, error) {
	if err := checkDistinct(t); err != nil {
		return AlreadyCorrect, err
	}
	if err := os.MkdirAll(t.Source, 0755); err != nil {
		return AlreadyCorrect, fmt.Errorf("failed to create %s store %s: %w", t.Label, t.Source, err)
	}

	info, err := os.Lstat(t.Target)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(t.Target), 0755); err != nil {
			return Created, fmt.Errorf("failed to create parent of %s: %w", t.Target, err)
		}
		if err := os.Symlink(t.Source, t.Target); err != nil {
			return Created, fmt.Errorf("failed to link %s: %w", t.Label, err)
		}
		return Created, nil
	case err != nil:
		return AlreadyCorrect, fmt.Errorf("failed to stat %s: %w", t.Target, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		dest, err := os.Readlink(t.Target)
		if err != nil {
			return AlreadyCorrect, fmt.Errorf("failed to read link %s: %w", t.Target, err)
		}
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(filepath.Dir(t.Target), dest)
		}
		if filepath.Clean(dest) == filepath.Clean(t.Source) {
			return AlreadyCorrect, nil
		}
		if err := os.Remove(t.Target); err != nil {
			return Replaced, fmt.Errorf("failed to remove stale link %s: %w", t.Target, err)
		}
	case info.IsDir():
		if err := migrateEntries(t.Target, t.Source); err != nil {
			return Replaced, err
		}
		if err := os.RemoveAll(t.Target); err != nil {
			return Replaced, fmt.Errorf("failed to remove directory %s: %w", t.Target, err)
		}
	default:
		if err := os.Remove(t.Target); err != nil {
			return Replaced, fmt.Errorf("failed to remove %s: %w", t.Target, err)
		}
	}

	if err := os.Symlink(t.Source, t.Target); err != nil {
		return Replaced, fmt.Errorf("failed to link %s: %w", t.Label, err)
	}
	return Replaced, nil
}

// checkDistinct refuses a store that is the target itself or lies inside it.
// Linking such a pair would delete the target's contents.
func checkDistinct(t SyncTarget) error {
	source := filepath.Clean(t.Source)
	if resolved, err := filepath.EvalSymlinks(source); err == nil {
		source = resolved
	}
	// The target itself is usually a symlink to the store, so only its parent
	// is resolved.
	target := filepath.Clean(t.Target)
	if parent, err := filepath.EvalSymlinks(filepath.Dir(target)); err == nil {
		target = filepath.Join(parent, filepath.Base(target))
	}

	for _, pair := range [][2]string{{filepath.Clean(t.Source), filepath.Clean(t.Target)}, {source, target}} {
		if within(pair[0], pair[1]) {
			return fmt.Errorf("refusing to link %s: store %s is the same as or inside %s, point CONTENT_DIR outside the project",
				t.Label, t.Source, t.Target)
		}
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// migrateEntries moves entries of dir that the store does not have yet.
func migrateEntries(dir, store string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		dst := filepath.Join(store, e.Name())
		if _, err := os.Lstat(dst); err == nil {
			klog.Warningf("Discarding %s, the store already has %s", filepath.Join(dir, e.Name()), dst)
			continue
		}
		if err := os.Rename(filepath.Join(dir, e.Name()), dst); err != nil {
			return fmt.Errorf("failed to move %s into %s: %w", e.Name(), store, err)
		}
	}
	return nil
}
