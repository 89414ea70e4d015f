package syncer

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"k8s.io/klog/v2"
)

// Cleaner evicts temporary caches around an application run.
type Cleaner struct {
	// SystemCacheDir is always removed.
	SystemCacheDir string
	// CacheDir contents are purged when larger than LimitBytes or forced.
	CacheDir   string
	LimitBytes int64
	// ProjectDir is scanned for __pycache__ directories.
	ProjectDir string
	Out        io.Writer
}

// CleanReport summarizes one Clean call.
type CleanReport struct {
	SystemFreed int64
	CacheFreed  int64
	CacheSize   int64
	Pycache     int
}

// Clean removes the caches. Every step runs even when an earlier one fails;
// the errors are returned together.
func (c *Cleaner) Clean(force bool) (CleanReport, error) {
	var report CleanReport
	var result *multierror.Error

	if c.SystemCacheDir != "" {
		if err := guard(c.SystemCacheDir); err != nil {
			result = multierror.Append(result, err)
		} else if size, err := dirSize(c.SystemCacheDir); err == nil {
			if err := os.RemoveAll(c.SystemCacheDir); err != nil {
				result = multierror.Append(result, fmt.Errorf("failed to remove %s: %w", c.SystemCacheDir, err))
			} else {
				report.SystemFreed = size
			}
		} else if !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}

	if c.CacheDir != "" {
		size, err := dirSize(c.CacheDir)
		switch {
		case err != nil && !os.IsNotExist(err):
			result = multierror.Append(result, err)
		case err == nil:
			report.CacheSize = size
			if force || size > c.LimitBytes {
				if err := guard(c.CacheDir); err != nil {
					result = multierror.Append(result, err)
				} else if err := purgeContents(c.CacheDir); err != nil {
					result = multierror.Append(result, err)
				} else {
					report.CacheFreed = size
				}
			}
		}
	}

	if c.ProjectDir != "" {
		n, err := purgePycache(c.ProjectDir)
		if err != nil {
			result = multierror.Append(result, err)
		}
		report.Pycache = n
	}

	c.print(report)
	return report, result.ErrorOrNil()
}

func (c *Cleaner) print(r CleanReport) {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	freed := r.SystemFreed + r.CacheFreed
	if freed == 0 && r.Pycache == 0 {
		klog.V(1).Infof("Nothing to clean (cache %s)", humanize.IBytes(uint64(r.CacheSize)))
		return
	}
	fmt.Fprintf(out, "🧹 Freed %s of cache, removed %d __pycache__ directories\n",
		humanize.IBytes(uint64(freed)), r.Pycache)
}

// guard refuses to purge the root or the home directory.
func guard(path string) error {
	clean := filepath.Clean(path)
	if clean == "/" || clean == "." {
		return fmt.Errorf("refusing to clean %q", path)
	}
	if home, err := homedir.Dir(); err == nil && clean == filepath.Clean(home) {
		return fmt.Errorf("refusing to clean home directory %q", path)
	}
	return nil
}

func dirSize(root string) (int64, error) {
	if _, err := os.Lstat(root); err != nil {
		return 0, err
	}
	var size int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size, err
}

func purgeContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var result *multierror.Error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// purgePycache removes __pycache__ directories below root. Symlinked
// directories, like the content store links, are not followed.
func purgePycache(root string) (int, error) {
	count := 0
	var result *multierror.Error
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		switch d.Name() {
		case ".git":
			return filepath.SkipDir
		case "__pycache__":
			if err := os.RemoveAll(path); err != nil {
				result = multierror.Append(result, err)
			} else {
				count++
			}
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		result = multierror.Append(result, err)
	}
	return count, result.ErrorOrNil()
}
