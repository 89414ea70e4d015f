package launcher

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/config"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/hardware"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner"
	"github.com/alessio/shellescape"
	"k8s.io/klog/v2"
)

// modeFlags select the application's generation mode.
var modeFlags = []string{"t2v", "i2v"}

// AppArgs returns the arguments after the entry point: configured APP_ARGS,
// forwarded arguments, the mode flag and the server port unless given.
func (l *Launcher) AppArgs() []string {
	cfg := l.Config
	args := append(append([]string(nil), cfg.AppArgs...), l.Args...)

	mode := cfg.DefaultMode
	if cfg.T2V {
		mode = "t2v"
	}
	if mode != "" && !hasAnyFlag(args, modeFlags) {
		args = append(args, "--"+mode)
	}
	if !config.HasFlag(args, "server-port") {
		args = append(args, "--server-port", strconv.Itoa(cfg.ServerPort))
	}
	return args
}

func hasAnyFlag(args, names []string) bool {
	for _, name := range names {
		if config.HasFlag(args, name) {
			return true
		}
	}
	return false
}

// AppCommand builds the application command running inside the conda
// environment.
func (l *Launcher) AppCommand(ctx context.Context, profile hardware.Profile) runner.Cmd {
	conda := l.Provisioner().Conda()
	cmd := conda.Python(append([]string{l.Config.AppEntry}, l.AppArgs()...)...)
	cmd.Dir = l.Config.ProjectDir
	cmd.Env = l.AppEnv(ctx, profile)
	cmd.Stdin = os.Stdin
	cmd.Interrupt = true
	cmd.WaitDelay = interruptGrace
	return cmd
}

// AppEnv returns the variables exported to the application.
func (l *Launcher) AppEnv(ctx context.Context, profile hardware.Profile) []string {
	cfg := l.Config
	var env []string
	if cfg.CacheDir != "" {
		env = append(env, "GRADIO_TEMP_DIR="+cfg.CacheDir, "TMPDIR="+cfg.CacheDir)
	}
	env = append(env, "GRADIO_ANALYTICS_ENABLED=False")

	if !cfg.DisableTcmalloc {
		if lib := l.findTcmalloc(ctx); lib != "" {
			preload := lib
			if existing := os.Getenv("LD_PRELOAD"); existing != "" {
				preload = existing + ":" + lib
			}
			env = append(env, "LD_PRELOAD="+preload)
		}
	}

	if profile.Vendor == hardware.VendorAMD && cfg.GfxOverride != "" {
		env = append(env, "HSA_OVERRIDE_GFX_VERSION="+cfg.GfxOverride)
	}
	return env
}

var tcmallocRe = regexp.MustCompile(`libtcmalloc(_minimal)?\.so\.\d+`)

// findTcmalloc looks up tcmalloc in the dynamic linker cache.
func (l *Launcher) findTcmalloc(ctx context.Context) string {
	if _, err := l.Runner.LookPath("ldconfig"); err != nil {
		return ""
	}
	out, err := l.Runner.Output(ctx, runner.New("ldconfig", "-p"))
	if err != nil {
		klog.V(1).Infof("ldconfig failed: %v", err)
		return ""
	}
	lib := tcmallocRe.FindString(out)
	if lib == "" {
		klog.V(1).Info("tcmalloc not found, using the default allocator")
	}
	return lib
}

func (l *Launcher) printDryRun(cmd runner.Cmd) {
	l.printf("\n🧪 Dry run, the application would be started with:\n")
	l.printf("  cd %s\n", shellescape.Quote(cmd.Dir))
	for _, kv := range cmd.Env {
		key, value, _ := strings.Cut(kv, "=")
		l.printf("  export %s=%s\n", key, shellescape.Quote(value))
	}
	l.printf("  %s\n", shellescape.QuoteCommand(append([]string{cmd.Name}, cmd.Args...)))
	fmt.Fprintln(l.out())
}
