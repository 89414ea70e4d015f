//go:build !linux

package hardware

import "runtime"

// CPUCores returns runtime.NumCPU on platforms without procfs.
func CPUCores() int {
	return runtime.NumCPU()
}
