package cmd

import (
	"fmt"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/launcher"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/provision"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/sage"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the environment and checkout",
	Long: `Show the configuration in use, the conda environment, the Wan2GP checkout,
the installed SageAttention and the most recent builds.

Examples:
  wanctl status`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		l := launcher.New(*cfg, nil)
		p := l.Provisioner()

		printTitle("Configuration")
		file := cfg.File
		if file == "" {
			file = "(defaults)"
		}
		printField("Config file", file)
		printField("Project dir", cfg.ProjectDir)
		if cfg.ContentDir != "" {
			printField("Content dir", cfg.ContentDir)
		}
		fmt.Println()

		printTitle("Conda Environment")
		envReady := false
		if err := p.CheckTools(); err != nil {
			fmt.Printf("  ⚠️ %v\n", err)
		} else if prefix, err := p.Conda().EnvPrefix(ctx); err != nil {
			fmt.Printf("  ⚠️ %v\n", err)
		} else if prefix == "" {
			fmt.Printf("  ❌ Environment '%s' not found, run 'wanctl setup'\n", cfg.CondaEnv)
		} else {
			envReady = true
			printField("Name", cfg.CondaEnv)
			printField("Prefix", prefix)
		}
		fmt.Println()

		printTitle("Repository")
		repo := p.Repo()
		if !repo.Exists() {
			fmt.Printf("  ❌ No checkout at %s\n", repo.Dir)
		} else {
			if origin, err := repo.RemoteURL(ctx, "origin"); err == nil {
				printField("Origin", origin)
			}
			printField("Branch", repo.CurrentBranch(ctx))
			if head, err := repo.Head(ctx); err == nil {
				printField("Commit", head)
			}
		}
		if state, err := provision.LoadState(cfg.StateFile); err != nil {
			fmt.Printf("  ⚠️ Unreadable state file: %v\n", err)
		} else if state != nil {
			printField("Remote choice", state.RemoteKind)
			printField("Last update", state.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Println()

		printTitle("SageAttention")
		if envReady {
			installed, err := sage.DetectInstalled(ctx, &sage.PipInspector{Runner: l.Runner, Python: p.Conda().Python})
			if err != nil {
				printField("Installed", fmt.Sprintf("unknown (%v)", err))
			} else {
				printField("Installed", installed)
			}
		}
		printField("Configured", cfg.SageVersion)
		fmt.Println()

		return displayBuildHistory(cfg.HistoryDir, DefaultHistoryShown)
	},
}
