package hardware

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"k8s.io/klog/v2"
)

// NVMLDevices returns the name and CUDA compute capability of every NVIDIA
// GPU through NVML. It fails when the driver library is not installed.
func NVMLDevices() ([]Device, error) {
	// Initialize the NVML library
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to initialize NVML: %v", nvml.ErrorString(ret))
	}

	// Ensure proper cleanup of NVML resources
	defer func() {
		if shutdownRet := nvml.Shutdown(); shutdownRet != nvml.SUCCESS {
			klog.Warningf("Failed to shutdown NVML: %v", nvml.ErrorString(shutdownRet))
		}
	}()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to get device count: %v", nvml.ErrorString(ret))
	}

	devices := make([]Device, 0, count)
	for i := 0; i < count; i++ {
		device, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("failed to get device handle for GPU %d: %v", i, nvml.ErrorString(ret))
		}

		name, ret := device.GetName()
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("failed to get device name for GPU %d: %v", i, nvml.ErrorString(ret))
		}

		d := Device{Name: name}
		if major, minor, ret := device.GetCudaComputeCapability(); ret == nvml.SUCCESS {
			d.ComputeCap = fmt.Sprintf("%d.%d", major, minor)
		} else {
			klog.V(1).Infof("No compute capability for GPU %d: %v", i, nvml.ErrorString(ret))
		}
		devices = append(devices, d)
	}

	return devices, nil
}
