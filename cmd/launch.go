package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/config"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/launcher"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/provision"
	"github.com/spf13/cobra"
)

var launchCmd = &cobra.Command{
	Use:   "launch [launcher flags] [application args...]",
	Short: "Provision everything and start Wan2GP",
	Long: `Provision the conda environment and the Wan2GP checkout, build SageAttention
for the detected GPU, repair the content links and start the application.

Launcher flags are consumed by wanctl. Every other argument is passed to the
application unchanged, in its original order. Arguments after "--" are always
passed through.

Examples:
  wanctl launch
  wanctl launch --no-git-update --listen
  wanctl launch --sage3 --t2v
  wanctl launch -v 2 --no-git-update
  wanctl launch --rebuild-env
  wanctl launch --dry-run -- --server-port 7861`,
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, appArgs, err := config.SplitArgs(args)
		if err != nil {
			return err
		}
		if flags.Verbosity != "" {
			if err := klogFlags.Set("v", flags.Verbosity); err != nil {
				return fmt.Errorf("invalid -v %q: %w", flags.Verbosity, err)
			}
		}
		if flags.Help {
			fmt.Println(cmd.Long)
			fmt.Println("\nLauncher flags:")
			fmt.Print(config.LaunchFlagSet(&config.LaunchFlags{}).FlagUsages())
			return nil
		}

		file := flags.ConfigFile
		if file == "" {
			file = cfgFile
		}
		cfg, err := config.Load(config.LoadOptions{File: file})
		if err != nil {
			return err
		}
		launchCfg := cfg.WithLaunchFlags(flags)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = launcher.New(launchCfg, appArgs).Run(ctx)
		if errors.Is(err, provision.ErrRebuildDeclined) {
			fmt.Println("Environment rebuild cancelled.")
			return nil
		}
		return err
	},
}
