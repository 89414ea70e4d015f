package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// LaunchFlags are the flags the launcher consumes itself. Every other
// argument is forwarded to the application.
type LaunchFlags struct {
	RebuildEnv       bool
	NoGitUpdate      bool
	SkipPackageCheck bool
	Sage2            bool
	Sage3            bool
	T2V              bool
	DisableTcmalloc  bool
	CleanCache       bool
	DryRun           bool
	Help             bool
	ConfigFile       string
	// Verbosity is the klog -v level, empty when not given.
	Verbosity        string
}

// LaunchFlagSet returns the launcher flag set bound to f.
func LaunchFlagSet(f *LaunchFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("launch", pflag.ContinueOnError)
	fs.BoolVar(&f.RebuildEnv, "rebuild-env", false, "Remove and recreate the conda environment")
	fs.BoolVar(&f.NoGitUpdate, "no-git-update", false, "Skip remote checks and git pull")
	fs.BoolVar(&f.SkipPackageCheck, "skip-package-check", false, "Skip installed package inspection")
	fs.BoolVar(&f.Sage2, "sage2", false, "Force a SageAttention 2 build")
	fs.BoolVar(&f.Sage3, "sage3", false, "Force a SageAttention 3 (Blackwell) build")
	fs.BoolVar(&f.T2V, "t2v", false, "Start the application in text-to-video mode")
	fs.BoolVar(&f.DisableTcmalloc, "disable-tcmalloc", false, "Do not preload tcmalloc")
	fs.BoolVar(&f.CleanCache, "clean-cache", false, "Purge the custom cache directory regardless of its size")
	fs.BoolVar(&f.DryRun, "dry-run", false, "Print the application command instead of running it")
	fs.StringVar(&f.ConfigFile, "config", "", "config file (default is "+DefaultFile+")")
	fs.StringVarP(&f.Verbosity, "v", "v", "", "klog verbosity level")
	fs.BoolVarP(&f.Help, "help", "h", false, "Show help")
	return fs
}

// SplitArgs separates launcher flags from application arguments. Unknown
// arguments keep their relative order. Everything after "--" is forwarded.
func SplitArgs(args []string) (LaunchFlags, []string, error) {
	var flags LaunchFlags
	fs := LaunchFlagSet(&flags)

	var own, rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			rest = append(rest, args[i+1:]...)
			break
		}
		f := lookup(fs, arg)
		if f == nil {
			rest = append(rest, arg)
			continue
		}
		own = append(own, arg)
		if f.Value.Type() != "bool" && !strings.Contains(arg, "=") {
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("flag %s needs a value", arg)
			}
			i++
			own = append(own, args[i])
		}
	}

	if err := fs.Parse(own); err != nil {
		return flags, nil, err
	}
	if flags.Sage2 && flags.Sage3 {
		return flags, nil, fmt.Errorf("--sage2 and --sage3 are mutually exclusive")
	}
	return flags, rest, nil
}

func lookup(fs *pflag.FlagSet, arg string) *pflag.Flag {
	switch {
	case strings.HasPrefix(arg, "--"):
		name, _, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		return fs.Lookup(name)
	case strings.HasPrefix(arg, "-") && (len(arg) == 2 || (len(arg) > 2 && arg[2] == '=')):
		return fs.ShorthandLookup(arg[1:2])
	}
	return nil
}

// HasFlag reports whether args already carry --name or --name=value.
func HasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == "--"+name || strings.HasPrefix(arg, "--"+name+"=") {
			return true
		}
	}
	return false
}
