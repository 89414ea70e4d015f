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

var setupFlags config.LaunchFlags

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Provision the environment without starting Wan2GP",
	Long: `Run every launch stage except the application itself: the source checkout,
the conda environment, the SageAttention build and the content links.

Examples:
  wanctl setup
  wanctl setup --rebuild-env
  wanctl setup --sage2 --no-git-update`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if setupFlags.Sage2 && setupFlags.Sage3 {
			return fmt.Errorf("--sage2 and --sage3 are mutually exclusive")
		}
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		l := launcher.New(cfg.WithLaunchFlags(setupFlags), nil)
		prepared, err := l.Prepare(ctx)
		if errors.Is(err, provision.ErrRebuildDeclined) {
			fmt.Println("Environment rebuild cancelled.")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Println("\n✅ Setup complete.")
		fmt.Printf("  GPU: %s\n", prepared.Profile)
		fmt.Printf("  SageAttention %s: %s\n", prepared.Sage.Version, prepared.Sage.Reason)
		if prepared.Provision.Head != "" {
			fmt.Printf("  Source: %s (%s)\n", prepared.Provision.Head, prepared.Provision.Remote)
		}
		return nil
	},
}

func init() {
	setupCmd.Flags().BoolVar(&setupFlags.RebuildEnv, "rebuild-env", false, "Remove and recreate the conda environment")
	setupCmd.Flags().BoolVar(&setupFlags.NoGitUpdate, "no-git-update", false, "Skip remote checks and git pull")
	setupCmd.Flags().BoolVar(&setupFlags.SkipPackageCheck, "skip-package-check", false, "Skip installed package inspection")
	setupCmd.Flags().BoolVar(&setupFlags.Sage2, "sage2", false, "Force a SageAttention 2 build")
	setupCmd.Flags().BoolVar(&setupFlags.Sage3, "sage3", false, "Force a SageAttention 3 (Blackwell) build")
	setupCmd.Flags().BoolVar(&setupFlags.CleanCache, "clean-cache", false, "Purge the custom cache directory regardless of its size")
}
