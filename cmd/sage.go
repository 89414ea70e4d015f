package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/config"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/history"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/launcher"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/sage"
	"github.com/spf13/cobra"
)

var sageCmd = &cobra.Command{
	Use:   "sage",
	Short: "SageAttention build commands",
	Long:  `Build SageAttention from source and inspect what is installed.`,
}

var sageInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Build and install SageAttention into the environment",
	Long: `Clone SageAttention, build it for the detected GPU and install it into the
conda environment. The environment must already exist, run 'wanctl setup' first.

Examples:
  wanctl sage install
  wanctl sage install --version 3
  wanctl sage install --version 2 --arch-auto=false`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, map[string]string{
			"version":   config.KeySageVersion,
			"arch-auto": config.KeySageArchAuto,
			"jobs":      config.KeyMaxJobs,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		l := launcher.New(*cfg, nil)
		sel, err := l.Selection()
		if err != nil {
			return err
		}
		profile := l.Detector.Detect(ctx)
		v := sage.Resolve(sel, profile)
		if v == sage.VersionNone {
			fmt.Println("SageAttention is disabled (version none), nothing to build.")
			return nil
		}

		fmt.Printf("🎮 %s\n", profile)
		fmt.Printf("Building SageAttention %s...\n", v)
		if err := l.InstallSage(ctx, v, profile); err != nil {
			if errors.Is(err, sage.ErrToolchainUnsupported) {
				fmt.Printf("⚠️ Warning: %v\n", err)
				return nil
			}
			return err
		}
		return nil
	},
}

var sageStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the installed SageAttention and recent builds",
	Long: `Show which SageAttention generation is installed in the conda environment and
the most recent build attempts.

Examples:
  wanctl sage status
  wanctl sage status --last 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		last, _ := cmd.Flags().GetInt("last")

		l := launcher.New(*cfg, nil)
		installed, err := sage.DetectInstalled(cmd.Context(), &sage.PipInspector{
			Runner: l.Runner,
			Python: l.Provisioner().Conda().Python,
		})
		printTitle("SageAttention")
		if err != nil {
			printField("Installed", fmt.Sprintf("unknown (%v)", err))
		} else {
			printField("Installed", installed)
			printField("Generation", sage.InstalledGeneration(installed))
		}
		fmt.Println()
		return displayBuildHistory(cfg.HistoryDir, last)
	},
}

func init() {
	sageInstallCmd.Flags().String("version", "", "SageAttention version to build: 2, 3 or auto")
	sageInstallCmd.Flags().Bool("arch-auto", true, "Target only the detected GPU architectures")
	sageInstallCmd.Flags().Int("jobs", 0, "Native build parallelism (0 derives it from the CPU count)")
	sageStatusCmd.Flags().Int("last", DefaultHistoryShown, "Number of build attempts to show")

	sageCmd.AddCommand(sageInstallCmd)
	sageCmd.AddCommand(sageStatusCmd)
}

// displayBuildHistory lists the newest build attempts.
func displayBuildHistory(dir string, n int) error {
	printTitle("Recent builds")
	store, err := history.New(dir)
	if err != nil {
		return err
	}
	records, err := store.Last(n)
	if err != nil {
		return fmt.Errorf("failed to read build history: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("  No builds recorded")
		return nil
	}
	for _, r := range records {
		icon := "✅"
		switch {
		case r.Skipped:
			icon = "⏭️ "
		case !r.Success:
			icon = "❌"
		}
		fmt.Printf("  %s %s  v%s  arch=%s  jobs=%d  %s\n",
			icon, r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.Version, r.Arch, r.Jobs, r.Duration)
		if r.Error != "" {
			fmt.Printf("      %s\n", r.Error)
		}
		if r.LogPath != "" && !r.Success {
			fmt.Printf("      log: %s\n", r.LogPath)
		}
	}
	return nil
}
