package cmd

import (
	"fmt"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/config"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/launcher"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/syncer"
	"github.com/spf13/cobra"
)

var cleanForce bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean the temporary caches",
	Long: `Purge the system Gradio cache and the Python bytecode caches of the checkout.
The custom CACHE_DIR is purged when it exceeds CACHE_LIMIT_GB, or always with
--force.

Examples:
  wanctl clean
  wanctl clean --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		if err := syncer.ValidateDirectory(cfg.CacheDir); err != nil {
			return fmt.Errorf("invalid %s: %w", config.KeyCacheDir, err)
		}
		_, err = launcher.New(*cfg, nil).Cleaner().Clean(cleanForce)
		return err
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanForce, "force", false, "Purge the custom cache directory regardless of its size")
}
