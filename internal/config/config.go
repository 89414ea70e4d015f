package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/go-shellwords"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. WANCTL_CONDA_ENV.
const EnvPrefix = "WANCTL"

// DefaultFile is where the config file is looked up when --config is not given.
const DefaultFile = "~/.config/wanctl/wanctl.conf"

// Config keys. In the config file they are written as KEY=value.
const (
	KeyCondaExe         = "CONDA_EXE"
	KeyCondaEnv         = "CONDA_ENV"
	KeyEnvManifest      = "ENV_MANIFEST"
	KeyPythonVersion    = "PYTHON_VERSION"
	KeyTorchPackages    = "TORCH_PACKAGES"
	KeyTorchIndexURL    = "TORCH_INDEX_URL"
	KeyProjectDir       = "PROJECT_DIR"
	KeyOfficialRepo     = "OFFICIAL_REPO"
	KeyForkRepo         = "FORK_REPO"
	KeyRepoPreference   = "REPO_PREFERENCE"
	KeyBranch           = "BRANCH"
	KeyRequirementsFile = "REQUIREMENTS_FILE"
	KeyAppEntry         = "APP_ENTRY"
	KeyServerPort       = "SERVER_PORT"
	KeyDefaultMode      = "DEFAULT_MODE"
	KeyAppArgs          = "APP_ARGS"
	KeySageVersion      = "SAGE_VERSION"
	KeySageRepo         = "SAGE_REPO"
	KeySageArchAuto     = "SAGE_ARCH_AUTO"
	KeyBuildLogDir      = "BUILD_LOG_DIR"
	KeyBuildDir         = "BUILD_DIR"
	KeyMaxJobs          = "MAX_JOBS"
	KeyContentDir       = "CONTENT_DIR"
	KeyLinkDirs         = "LINK_DIRS"
	KeyCacheDir         = "CACHE_DIR"
	KeyCacheLimitGB     = "CACHE_LIMIT_GB"
	KeySystemCacheDir   = "SYSTEM_CACHE_DIR"
	KeySavePathsFile    = "SAVE_PATHS_FILE"
	KeySavePath         = "SAVE_PATH"
	KeyImageSavePath    = "IMAGE_SAVE_PATH"
	KeyAppConfigFile    = "APP_CONFIG_FILE"
	KeyStateFile        = "STATE_FILE"
	KeyHistoryDir       = "HISTORY_DIR"
	KeyLockTimeout      = "LOCK_TIMEOUT"
	KeyGfxOverride      = "GFX_OVERRIDE"
	KeyNoGitUpdate      = "NO_GIT_UPDATE"
	KeySkipPackageCheck = "SKIP_PACKAGE_CHECK"
	KeyDisableTcmalloc  = "DISABLE_TCMALLOC"
	KeyCleanCache       = "CLEAN_CACHE"
)

// Defaults is the fixed (key, default) table. Any key that is absent or
// empty in the config file takes its value from here.
var Defaults = map[string]string{
	KeyCondaExe:         "conda",
	KeyCondaEnv:         "wan2gp",
	KeyEnvManifest:      "",
	KeyPythonVersion:    "3.10.9",
	KeyTorchPackages:    "torch==2.7.1 torchvision torchaudio",
	KeyTorchIndexURL:    "https://download.pytorch.org/whl/cu128",
	KeyProjectDir:       "~/Wan2GP",
	KeyOfficialRepo:     "https://github.com/deepbeepmeep/Wan2GP.git",
	KeyForkRepo:         "",
	KeyRepoPreference:   "",
	KeyBranch:           "",
	KeyRequirementsFile: "requirements.txt",
	KeyAppEntry:         "wgp.py",
	KeyServerPort:       "7860",
	KeyDefaultMode:      "",
	KeyAppArgs:          "",
	KeySageVersion:      "auto",
	KeySageRepo:         "https://github.com/thu-ml/SageAttention.git",
	KeySageArchAuto:     "true",
	KeyBuildLogDir:      "~/.cache/wanctl/logs",
	KeyBuildDir:         os.TempDir(),
	KeyMaxJobs:          "0",
	KeyContentDir:       "",
	KeyLinkDirs:         "ckpts,loras,loras_i2v,finetunes,settings",
	KeyCacheDir:         "",
	KeyCacheLimitGB:     "20",
	KeySystemCacheDir:   filepath.Join(os.TempDir(), "gradio"),
	KeySavePathsFile:    "~/.config/wanctl/save_paths.json",
	KeySavePath:         "",
	KeyImageSavePath:    "",
	KeyAppConfigFile:    "wgp_config.json",
	KeyStateFile:        "~/.config/wanctl/state.json",
	KeyHistoryDir:       "~/.cache/wanctl",
	KeyLockTimeout:      "2m",
	KeyGfxOverride:      "",
	KeyNoGitUpdate:      "false",
	KeySkipPackageCheck: "false",
	KeyDisableTcmalloc:  "false",
	KeyCleanCache:       "false",
}

// Config is the fully resolved launcher configuration. It is built once per
// command and passed by value; helpers that change it return a copy.
type Config struct {
	// File is the config file that was read, empty when defaults were used.
	File string

	CondaExe      string
	CondaEnv      string
	EnvManifest   string
	PythonVersion string
	TorchPackages []string
	TorchIndexURL string

	ProjectDir       string
	OfficialRepo     string
	ForkRepo         string
	RepoPreference   string
	Branch           string
	RequirementsFile string

	AppEntry    string
	ServerPort  int
	DefaultMode string
	AppArgs     []string

	SageVersion  string
	SageExplicit bool
	SageRepo     string
	SageArchAuto bool
	BuildLogDir  string
	BuildDir     string
	MaxJobs      int

	ContentDir      string
	LinkDirs        []string
	CacheDir        string
	CacheLimitBytes int64
	SystemCacheDir  string
	SavePathsFile   string
	SavePath        string
	ImageSavePath   string
	AppConfigFile   string
	StateFile       string
	HistoryDir      string
	LockTimeout     time.Duration
	GfxOverride     string

	NoGitUpdate      bool
	SkipPackageCheck bool
	DisableTcmalloc  bool
	CleanCache       bool
	RebuildEnv       bool
	T2V              bool
	DryRun           bool
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// File overrides DefaultFile.
	File string
	// Flags are bound to config keys through FlagKeys; set flags win over
	// the environment, the file and the defaults.
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to config keys.
	FlagKeys map[string]string
}

// Load resolves the configuration: flags > WANCTL_* environment > config
// file > defaults. A missing config file is not an error.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	for key, def := range Defaults {
		v.SetDefault(key, def)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	file := opts.File
	if file == "" {
		file = DefaultFile
	}
	file, err := homedir.Expand(file)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path %q: %w", file, err)
	}
	v.SetConfigFile(file)
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml", ".json", ".toml":
	default:
		// Shell-style KEY=value files, optionally with "export".
		v.SetConfigType("env")
	}

	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		klog.Warningf("Config file %s not found, using defaults", file)
	} else {
		used = v.ConfigFileUsed()
		klog.V(1).Infof("Using config file: %s", used)
	}

	if opts.Flags != nil {
		for name, key := range opts.FlagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	cfg, err := resolve(v)
	if err != nil {
		return nil, err
	}
	cfg.File = used

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolver reads keys from viper, treating empty values as unset.
type resolver struct {
	v   *viper.Viper
	err error
}

func (r *resolver) str(key string) string {
	s := strings.TrimSpace(r.v.GetString(key))
	if s == "" {
		return Defaults[key]
	}
	return s
}

func (r *resolver) path(key string) string {
	s := r.str(key)
	if s == "" {
		return ""
	}
	expanded, err := homedir.Expand(s)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: %w", key, err)
		return s
	}
	return filepath.Clean(expanded)
}

func (r *resolver) boolean(key string) bool {
	b, err := strconv.ParseBool(r.str(key))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: invalid boolean %q", key, r.str(key))
	}
	return b
}

func (r *resolver) integer(key string) int {
	n, err := strconv.Atoi(r.str(key))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: invalid integer %q", key, r.str(key))
	}
	return n
}

func (r *resolver) list(key string) []string {
	var out []string
	for _, item := range strings.Split(r.str(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func resolve(v *viper.Viper) (*Config, error) {
	r := &resolver{v: v}

	cfg := &Config{
		CondaExe:      r.str(KeyCondaExe),
		CondaEnv:      r.str(KeyCondaEnv),
		EnvManifest:   r.path(KeyEnvManifest),
		PythonVersion: r.str(KeyPythonVersion),
		TorchPackages: strings.Fields(r.str(KeyTorchPackages)),
		TorchIndexURL: r.str(KeyTorchIndexURL),

		ProjectDir:       r.path(KeyProjectDir),
		OfficialRepo:     r.str(KeyOfficialRepo),
		ForkRepo:         r.str(KeyForkRepo),
		RepoPreference:   strings.ToLower(r.str(KeyRepoPreference)),
		Branch:           r.str(KeyBranch),
		RequirementsFile: r.str(KeyRequirementsFile),

		AppEntry:    r.str(KeyAppEntry),
		ServerPort:  r.integer(KeyServerPort),
		DefaultMode: strings.ToLower(r.str(KeyDefaultMode)),

		SageVersion:  strings.ToLower(r.str(KeySageVersion)),
		SageRepo:     r.str(KeySageRepo),
		SageArchAuto: r.boolean(KeySageArchAuto),
		BuildLogDir:  r.path(KeyBuildLogDir),
		BuildDir:     r.path(KeyBuildDir),
		MaxJobs:      r.integer(KeyMaxJobs),

		ContentDir:     r.path(KeyContentDir),
		LinkDirs:       r.list(KeyLinkDirs),
		CacheDir:       r.path(KeyCacheDir),
		SystemCacheDir: r.path(KeySystemCacheDir),
		SavePathsFile:  r.path(KeySavePathsFile),
		SavePath:       r.path(KeySavePath),
		ImageSavePath:  r.path(KeyImageSavePath),
		AppConfigFile:  r.str(KeyAppConfigFile),
		StateFile:      r.path(KeyStateFile),
		HistoryDir:     r.path(KeyHistoryDir),
		GfxOverride:    r.str(KeyGfxOverride),

		NoGitUpdate:      r.boolean(KeyNoGitUpdate),
		SkipPackageCheck: r.boolean(KeySkipPackageCheck),
		DisableTcmalloc:  r.boolean(KeyDisableTcmalloc),
		CleanCache:       r.boolean(KeyCleanCache),
	}

	cfg.CacheLimitBytes = int64(r.integer(KeyCacheLimitGB)) << 30

	if args := r.str(KeyAppArgs); args != "" {
		parsed, err := shellwords.Parse(args)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to parse %q: %w", KeyAppArgs, args, err)
		}
		cfg.AppArgs = parsed
	}

	timeout, err := time.ParseDuration(r.str(KeyLockTimeout))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyLockTimeout, err)
	}
	cfg.LockTimeout = timeout

	if r.err != nil {
		return nil, r.err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.CondaEnv == "" {
		return fmt.Errorf("%s cannot be empty", KeyCondaEnv)
	}
	if c.ProjectDir == "" {
		return fmt.Errorf("%s cannot be empty", KeyProjectDir)
	}
	if c.OfficialRepo == "" {
		return fmt.Errorf("%s cannot be empty", KeyOfficialRepo)
	}
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid %s %d, must be between 1-65535", KeyServerPort, c.ServerPort)
	}
	switch c.SageVersion {
	case "2", "3", "auto", "none":
	default:
		return fmt.Errorf("invalid %s %q, expected one of 2, 3, auto, none", KeySageVersion, c.SageVersion)
	}
	switch c.DefaultMode {
	case "", "t2v", "i2v":
	default:
		return fmt.Errorf("invalid %s %q, expected t2v or i2v", KeyDefaultMode, c.DefaultMode)
	}
	switch c.RepoPreference {
	case "", "official":
	case "fork":
		if c.ForkRepo == "" {
			return fmt.Errorf("%s is fork but %s is not set", KeyRepoPreference, KeyForkRepo)
		}
	default:
		return fmt.Errorf("invalid %s %q, expected official or fork", KeyRepoPreference, c.RepoPreference)
	}
	if c.MaxJobs < 0 {
		return fmt.Errorf("invalid %s %d, cannot be negative", KeyMaxJobs, c.MaxJobs)
	}
	if c.CacheLimitBytes < 0 {
		return fmt.Errorf("invalid %s, cannot be negative", KeyCacheLimitGB)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("invalid %s %s, cannot be negative", KeyLockTimeout, c.LockTimeout)
	}
	if c.ContentDir != "" {
		rel, err := filepath.Rel(filepath.Clean(c.ProjectDir), filepath.Clean(c.ContentDir))
		if err == nil && (rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))) {
			return fmt.Errorf("invalid %s %s, it must be outside %s %s", KeyContentDir, c.ContentDir, KeyProjectDir, c.ProjectDir)
		}
	}
	return nil
}

// WithLaunchFlags returns a copy of c with the launcher flags applied.
// --sage2/--sage3 mark the attention library version as explicit.
func (c Config) WithLaunchFlags(f LaunchFlags) Config {
	c.RebuildEnv = c.RebuildEnv || f.RebuildEnv
	c.NoGitUpdate = c.NoGitUpdate || f.NoGitUpdate
	c.SkipPackageCheck = c.SkipPackageCheck || f.SkipPackageCheck
	c.DisableTcmalloc = c.DisableTcmalloc || f.DisableTcmalloc
	c.CleanCache = c.CleanCache || f.CleanCache
	c.DryRun = c.DryRun || f.DryRun
	c.T2V = c.T2V || f.T2V
	switch {
	case f.Sage2:
		c.SageVersion, c.SageExplicit = "2", true
	case f.Sage3:
		c.SageVersion, c.SageExplicit = "3", true
	}
	return c
}

// RequirementsPath is the dependency manifest inside the project.
func (c Config) RequirementsPath() string {
	return c.inProject(c.RequirementsFile)
}

// AppConfigPath is the target application's JSON config file.
func (c Config) AppConfigPath() string {
	return c.inProject(c.AppConfigFile)
}

// LockPath is the provisioning lock file guarding ProjectDir.
func (c Config) LockPath() string {
	return filepath.Clean(c.ProjectDir) + ".wanctl.lock"
}

func (c Config) inProject(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}
