package cmd

import (
	"fmt"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/hardware"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/launcher"
	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/sage"
	"github.com/spf13/cobra"
)

var hwCmd = &cobra.Command{
	Use:   "hw",
	Short: "Hardware information commands",
	Long:  `Display the hardware facts the launcher bases its build decisions on.`,
}

var hwShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show GPU and CPU information",
	Long: `Display the detected GPU profile, the SageAttention generation it selects, the
CUDA architecture list a build would target and the native build parallelism.

Examples:
  wanctl hw show
  wanctl hw show -v 2`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		l := launcher.New(*cfg, nil)
		profile := l.Detector.Detect(cmd.Context())

		printTitle("🖥️  Hardware Information")
		fmt.Println()
		displayGpuInfo(profile)
		fmt.Println()

		auto := sage.Resolve(sage.Selection{Version: sage.VersionAuto}, profile)
		printTitle("SageAttention")
		printField("Auto selection", auto)
		switch auto {
		case sage.V3:
			printField("Arch list", hardware.NewestArchList)
		default:
			printField("Arch list", profile.CUDAArchList(cfg.SageArchAuto, false))
		}
		fmt.Println()

		cores := hardware.CPUCores()
		jobs := cfg.MaxJobs
		if jobs <= 0 {
			jobs = hardware.ParallelJobs(cores)
		}
		printTitle("CPU")
		printField("Cores", cores)
		printField("Build jobs", jobs)
		return nil
	},
}

func init() {
	hwCmd.AddCommand(hwShowCmd)
}

// displayGpuInfo shows the detected GPU profile.
func displayGpuInfo(profile hardware.Profile) {
	printTitle("GPU")
	printField("Vendor", profile.Vendor)
	printField("Detected via", profile.Source)
	if len(profile.Devices) == 0 {
		fmt.Println("  No GPU detected")
		return
	}
	tier := "pre-Blackwell"
	if profile.NewestGeneration {
		tier = "Blackwell"
	}
	printField("Generation", tier)
	fmt.Printf("  Detected %d GPU(s):\n", len(profile.Devices))
	for i, d := range profile.Devices {
		cc := d.ComputeCap
		if cc == "" {
			cc = "unknown"
		}
		fmt.Printf("    [%d] %s (compute %s)\n", i, d.Name, cc)
	}
}
