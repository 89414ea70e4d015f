package syncer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ValidateDirectory(""))
	require.NoError(t, ValidateDirectory(dir))

	err := ValidateDirectory(filepath.Join(dir, "missing"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "mkdir -p")

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	require.ErrorContains(t, ValidateDirectory(file), "not a directory")
}

func TestValidateDirectoryNotWritable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can write anywhere")
	}
	dir := filepath.Join(t.TempDir(), "ro")
	require.NoError(t, os.Mkdir(dir, 0555))
	require.ErrorContains(t, ValidateDirectory(dir), "not writable")
}

func TestLoadSavePaths(t *testing.T) {
	dir := t.TempDir()
	fallback := SavePaths{SavePath: "/fallback/videos", ImageSavePath: "/fallback/images"}

	require.Equal(t, fallback, LoadSavePaths(filepath.Join(dir, "missing.json"), fallback))

	sidecar := filepath.Join(dir, "save_paths.json")
	require.NoError(t, os.WriteFile(sidecar, []byte(`{"save_path": "/data/videos"}`), 0644))
	require.Equal(t, SavePaths{SavePath: "/data/videos", ImageSavePath: "/fallback/images"}, LoadSavePaths(sidecar, fallback))

	require.NoError(t, os.WriteFile(sidecar, []byte(`{"save_path": `), 0644))
	require.Equal(t, fallback, LoadSavePaths(sidecar, fallback))
}

func TestValidateSavePaths(t *testing.T) {
	require.NoError(t, ValidateSavePaths(SavePaths{}))

	dir := t.TempDir()
	require.NoError(t, ValidateSavePaths(SavePaths{SavePath: dir, ImageSavePath: dir}))

	err := ValidateSavePaths(SavePaths{SavePath: dir, ImageSavePath: filepath.Join(dir, "nope")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "image_save_path")
}

func TestLinkContentDirectoryIdempotent(t *testing.T) {
	root := t.TempDir()
	target := SyncTarget{
		Source: filepath.Join(root, "content", "loras"),
		Target: filepath.Join(root, "Wan2GP", "loras"),
		Label:  "loras",
	}

	outcome, err := LinkContentDirectory(target)
	require.NoError(t, err)
	require.Equal(t, Created, outcome)

	before, err := os.Lstat(target.Target)
	require.NoError(t, err)

	outcome, err = LinkContentDirectory(target)
	require.NoError(t, err)
	require.Equal(t, AlreadyCorrect, outcome)

	after, err := os.Lstat(target.Target)
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime())

	dest, err := os.Readlink(target.Target)
	require.NoError(t, err)
	require.Equal(t, target.Source, dest)
}

func TestLinkContentDirectoryReplacesWrongLink(t *testing.T) {
	root := t.TempDir()
	target := SyncTarget{Source: filepath.Join(root, "store", "ckpts"), Target: filepath.Join(root, "app", "ckpts"), Label: "ckpts"}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app"), 0755))
	require.NoError(t, os.Symlink(filepath.Join(root, "elsewhere"), target.Target))

	outcome, err := LinkContentDirectory(target)
	require.NoError(t, err)
	require.Equal(t, Replaced, outcome)

	dest, err := os.Readlink(target.Target)
	require.NoError(t, err)
	require.Equal(t, target.Source, dest)
}

func TestLinkContentDirectoryMigratesRealDirectory(t *testing.T) {
	root := t.TempDir()
	target := SyncTarget{Source: filepath.Join(root, "store", "loras"), Target: filepath.Join(root, "app", "loras"), Label: "loras"}
	require.NoError(t, os.MkdirAll(target.Target, 0755))
	require.NoError(t, os.MkdirAll(target.Source, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(target.Target, "new.safetensors"), []byte("new"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(target.Target, "dup.safetensors"), []byte("app copy"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(target.Source, "dup.safetensors"), []byte("store copy"), 0644))

	outcome, err := LinkContentDirectory(target)
	require.NoError(t, err)
	require.Equal(t, Replaced, outcome)

	data, err := os.ReadFile(filepath.Join(target.Source, "new.safetensors"))
	require.NoError(t, err)
	require.Equal(t, "new", string(data))
	data, err = os.ReadFile(filepath.Join(target.Source, "dup.safetensors"))
	require.NoError(t, err)
	require.Equal(t, "store copy", string(data))

	info, err := os.Lstat(target.Target)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSymlink)
}

func TestLinkContentDirectoryRefusesStoreInsideProject(t *testing.T) {
	project := filepath.Join(t.TempDir(), "Wan2GP")
	weights := filepath.Join(project, "ckpts", "model.safetensors")
	require.NoError(t, os.MkdirAll(filepath.Dir(weights), 0755))
	require.NoError(t, os.WriteFile(weights, []byte("weights"), 0644))

	for _, target := range []SyncTarget{
		ContentTargets(project, project, []string{"ckpts"})[0],
		{Source: filepath.Join(project, "ckpts", "store"), Target: filepath.Join(project, "ckpts"), Label: "ckpts"},
	} {
		_, err := LinkContentDirectory(target)
		require.ErrorContains(t, err, "refusing to link ckpts")
	}

	data, err := os.ReadFile(weights)
	require.NoError(t, err)
	require.Equal(t, "weights", string(data))
	info, err := os.Lstat(filepath.Join(project, "ckpts"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestLinkContentDirectoryRefusesStoreLinkedToProject(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "Wan2GP")
	weights := filepath.Join(project, "ckpts", "model.safetensors")
	require.NoError(t, os.MkdirAll(filepath.Dir(weights), 0755))
	require.NoError(t, os.WriteFile(weights, []byte("weights"), 0644))
	content := filepath.Join(root, "content")
	require.NoError(t, os.Symlink(project, content))

	_, err := LinkContentDirectory(ContentTargets(content, project, []string{"ckpts"})[0])
	require.ErrorContains(t, err, "refusing to link ckpts")

	data, err := os.ReadFile(weights)
	require.NoError(t, err)
	require.Equal(t, "weights", string(data))
}

func TestWithin(t *testing.T) {
	require.True(t, within("/srv/Wan2GP", "/srv/Wan2GP"))
	require.True(t, within("/srv/Wan2GP/ckpts", "/srv/Wan2GP"))
	require.False(t, within("/srv/Wan2GP-content", "/srv/Wan2GP"))
	require.False(t, within("/srv", "/srv/Wan2GP"))
	require.False(t, within("/srv/..content", "/srv/Wan2GP"))
}

func TestContentTargets(t *testing.T) {
	targets := ContentTargets("/content", "/srv/Wan2GP", []string{"ckpts", "loras"})
	require.Equal(t, []SyncTarget{
		{Source: "/content/ckpts", Target: "/srv/Wan2GP/ckpts", Label: "ckpts"},
		{Source: "/content/loras", Target: "/srv/Wan2GP/loras", Label: "loras"},
	}, targets)
}

func writeJSON(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestApplyPatchNoOpWhenEqual(t *testing.T) {
	file := filepath.Join(t.TempDir(), "wgp_config.json")
	content := `{"save_path": "/data/videos", "attention_mode": "sage2"}`
	writeJSON(t, file, content, 0600)
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(file, old, old))

	outcome, err := ApplyPatch(file, ConfigPatch{"save_path": "/data/videos"})
	require.NoError(t, err)
	require.Equal(t, PatchUnchanged, outcome)

	info, err := os.Stat(file)
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(old))
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, content, string(data))
}

func TestApplyPatchKeepsUnrelatedKeys(t *testing.T) {
	file := filepath.Join(t.TempDir(), "wgp_config.json")
	writeJSON(t, file, `{"save_path": "outputs", "transformer_types": ["t2v"], "nested": {"a": 1}}`, 0600)

	outcome, err := SyncSavePaths(file, SavePaths{SavePath: "/data/videos", ImageSavePath: "/data/images"})
	require.NoError(t, err)
	require.Equal(t, PatchApplied, outcome)

	m := readJSON(t, file)
	require.Equal(t, "/data/videos", m["save_path"])
	require.Equal(t, "/data/images", m["image_save_path"])
	require.Equal(t, []any{"t2v"}, m["transformer_types"])
	require.Equal(t, map[string]any{"a": float64(1)}, m["nested"])

	info, err := os.Stat(file)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	outcome, err = SyncSavePaths(file, SavePaths{SavePath: "/data/videos", ImageSavePath: "/data/images"})
	require.NoError(t, err)
	require.Equal(t, PatchUnchanged, outcome)

	entries, err := os.ReadDir(filepath.Dir(file))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files left behind")
}

func TestSyncCkptsDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "wgp_config.json")
	writeJSON(t, file, `{"checkpoints_paths": ["ckpts", "."]}`, 0644)

	outcome, err := SyncCkptsDirectory(file, "/content/ckpts")
	require.NoError(t, err)
	require.Equal(t, PatchApplied, outcome)
	require.Equal(t, []any{"/content/ckpts", "ckpts", "."}, readJSON(t, file)["checkpoints_paths"])

	outcome, err = SyncCkptsDirectory(file, "/content/ckpts")
	require.NoError(t, err)
	require.Equal(t, PatchUnchanged, outcome)
}

func TestSyncCkptsDirectoryMovesStoreToFront(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "wgp_config.json")
	writeJSON(t, file, `{"checkpoints_paths": [".", "/content/ckpts/"], "ui_theme": "dark"}`, 0644)

	outcome, err := SyncCkptsDirectory(file, "/content/ckpts")
	require.NoError(t, err)
	require.Equal(t, PatchApplied, outcome)
	cfg := readJSON(t, file)
	require.Equal(t, []any{"/content/ckpts", "."}, cfg["checkpoints_paths"])
	require.Equal(t, "dark", cfg["ui_theme"])

	fresh := filepath.Join(dir, "fresh.json")
	writeJSON(t, fresh, `{}`, 0644)
	_, err = SyncCkptsDirectory(fresh, "/content/ckpts")
	require.NoError(t, err)
	require.Equal(t, []any{"/content/ckpts"}, readJSON(t, fresh)["checkpoints_paths"])

	outcome, err = SyncCkptsDirectory(filepath.Join(dir, "missing.json"), "/content/ckpts")
	require.NoError(t, err)
	require.Equal(t, PatchSkipped, outcome)
}

func TestApplyPatchMissingAndMalformed(t *testing.T) {
	dir := t.TempDir()
	outcome, err := ApplyPatch(filepath.Join(dir, "missing.json"), ConfigPatch{"a": 1})
	require.NoError(t, err)
	require.Equal(t, PatchSkipped, outcome)

	bad := filepath.Join(dir, "bad.json")
	writeJSON(t, bad, `{"save_path": `, 0644)
	_, err = ApplyPatch(bad, ConfigPatch{"save_path": "/x"})
	require.Error(t, err)
	data, rerr := os.ReadFile(bad)
	require.NoError(t, rerr)
	require.Equal(t, `{"save_path": `, string(data))

	outcome, err = SyncSavePaths(bad, SavePaths{})
	require.NoError(t, err)
	require.Equal(t, PatchSkipped, outcome)
}

func fill(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", size)), 0644))
}

func TestCleanerPurgesOnlyOverLimit(t *testing.T) {
	root := t.TempDir()
	cache := filepath.Join(root, "cache")
	fill(t, filepath.Join(cache, "a", "blob"), 600)
	fill(t, filepath.Join(cache, "b"), 600)

	c := &Cleaner{CacheDir: cache, LimitBytes: 2000, Out: &strings.Builder{}}
	report, err := c.Clean(false)
	require.NoError(t, err)
	require.Equal(t, int64(1200), report.CacheSize)
	require.Zero(t, report.CacheFreed)
	_, err = os.Stat(filepath.Join(cache, "b"))
	require.NoError(t, err)

	c.LimitBytes = 1000
	report, err = c.Clean(false)
	require.NoError(t, err)
	require.Equal(t, int64(1200), report.CacheFreed)
	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	require.Empty(t, entries)
	_, err = os.Stat(cache)
	require.NoError(t, err, "the cache directory itself is kept")
}

func TestCleanerForce(t *testing.T) {
	root := t.TempDir()
	cache := filepath.Join(root, "cache")
	fill(t, filepath.Join(cache, "small"), 10)

	var out strings.Builder
	c := &Cleaner{CacheDir: cache, LimitBytes: 1 << 30, Out: &out}
	report, err := c.Clean(true)
	require.NoError(t, err)
	require.Equal(t, int64(10), report.CacheFreed)
	require.Contains(t, out.String(), "Freed 10 B")
}

func TestCleanerSystemCacheAndPycache(t *testing.T) {
	root := t.TempDir()
	system := filepath.Join(root, "tmp", "gradio")
	fill(t, filepath.Join(system, "upload"), 100)

	project := filepath.Join(root, "Wan2GP")
	fill(t, filepath.Join(project, "__pycache__", "wgp.cpython-310.pyc"), 10)
	fill(t, filepath.Join(project, "models", "__pycache__", "x.pyc"), 10)
	fill(t, filepath.Join(project, "models", "model.py"), 10)

	store := filepath.Join(root, "store")
	fill(t, filepath.Join(store, "__pycache__", "keep.pyc"), 10)
	require.NoError(t, os.Symlink(store, filepath.Join(project, "loras")))

	c := &Cleaner{SystemCacheDir: system, ProjectDir: project, Out: &strings.Builder{}}
	report, err := c.Clean(false)
	require.NoError(t, err)
	require.Equal(t, int64(100), report.SystemFreed)
	require.Equal(t, 2, report.Pycache)

	_, err = os.Stat(system)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(project, "models", "model.py"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(store, "__pycache__", "keep.pyc"))
	require.NoError(t, err, "symlinked directories are not followed")
}

func TestCleanerMissingDirectories(t *testing.T) {
	root := t.TempDir()
	c := &Cleaner{
		SystemCacheDir: filepath.Join(root, "nope"),
		CacheDir:       filepath.Join(root, "also-nope"),
		ProjectDir:     filepath.Join(root, "missing-project"),
		Out:            &strings.Builder{},
	}
	report, err := c.Clean(true)
	require.NoError(t, err)
	require.Equal(t, CleanReport{}, report)
}

func TestGuard(t *testing.T) {
	require.Error(t, guard("/"))
	require.Error(t, guard("."))
	require.NoError(t, guard(t.TempDir()))
	if home, err := os.UserHomeDir(); err == nil {
		require.Error(t, guard(home+"/"))
	}
}
