//go:build linux

package hardware

import (
	"runtime"

	"github.com/prometheus/procfs"
	"k8s.io/klog/v2"
)

// CPUCores counts the processors listed in /proc/cpuinfo, falling back to
// runtime.NumCPU when procfs is unavailable.
func CPUCores() int {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		klog.V(1).Infof("procfs unavailable: %v", err)
		return runtime.NumCPU()
	}
	info, err := fs.CPUInfo()
	if err != nil || len(info) == 0 {
		klog.V(1).Infof("failed to read cpuinfo: %v", err)
		return runtime.NumCPU()
	}
	return len(info)
}
