package cmd

import (
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/launcher"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Repair content links and patch the application config",
	Long: `Validate the output directories, point the content directories of the checkout
at CONTENT_DIR and write the checkpoint and output paths into the application
config. Nothing is provisioned or built.

Examples:
  wanctl sync
  wanctl sync --config ./wanctl.conf`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		return launcher.New(*cfg, nil).Sync()
	},
}
