package cmd

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/config"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/launcher"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	cfgFile   string
	klogFlags = flag.NewFlagSet("klog", flag.ExitOnError)
	rootCmd   = &cobra.Command{
		Use:   "wanctl",
		Short: "Wan2GP launcher",
		Long: `wanctl provisions and launches Wan2GP, the local video generation web application.
It keeps the conda environment and the source checkout current, builds the
SageAttention kernels for the detected GPU and starts the application.`,
		Version:    version,
		SuggestFor: []string{"start", "run"},
	}
)

// Execute runs the root command and exits with the launcher's status on
// failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SuggestionsMinimumDistance = 1

	err := rootCmd.Execute()
	klog.Flush()
	if err == nil {
		return
	}

	code := launcher.ExitCode(err)
	if code == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if err.Error() == `unknown command "start" for "wanctl"` || err.Error() == `unknown command "run" for "wanctl"` {
		fmt.Fprintf(os.Stderr, "\nDid you mean:\n  wanctl launch\n")
	}
	if err.Error() == `unknown command "install" for "wanctl"` {
		fmt.Fprintf(os.Stderr, "\nDid you mean one of:\n  wanctl setup\n  wanctl sage install\n")
	}

	var exitErr *launcher.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "\nRun 'wanctl --help' for usage.\n")
	}
	os.Exit(code)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultFile+")")

	klog.InitFlags(klogFlags)
	// Single letter go flags become -v and --v.
	rootCmd.PersistentFlags().AddGoFlag(klogFlags.Lookup("v"))

	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(hwCmd)
	rootCmd.AddCommand(sageCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(statusCmd)
}

// loadConfig resolves the configuration for a subcommand. Flags listed in
// flagKeys override the file and environment.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (*config.Config, error) {
	return config.Load(config.LoadOptions{
		File:     cfgFile,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	})
}
