package hardware

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/runner"
	"k8s.io/klog/v2"
)

// Vendor identifies the GPU vendor of the primary device.
type Vendor string

const (
	VendorNVIDIA  Vendor = "nvidia"
	VendorAMD     Vendor = "amd"
	VendorIntel   Vendor = "intel"
	VendorUnknown Vendor = "unknown"
)

// Device is a single GPU as reported by the probing tool. ComputeCap is
// empty when the tool could not report it (e.g. lspci).
type Device struct {
	Name       string
	ComputeCap string
}

// Profile is the result of probing the local GPUs. It is built once by
// Detect and only read afterwards.
type Profile struct {
	Vendor  Vendor
	Devices []Device
	// NewestGeneration reports whether the primary device supports the newest
	// attention library generation (Blackwell / compute capability 12.x).
	NewestGeneration bool
	// Source names the probe that produced the profile.
	Source string
}

// Names lists the device names in probe order.
func (p Profile) Names() []string {
	names := make([]string, 0, len(p.Devices))
	for _, d := range p.Devices {
		names = append(names, d.Name)
	}
	return names
}

// ComputeCaps lists the known compute capabilities in probe order.
func (p Profile) ComputeCaps() []string {
	var caps []string
	for _, d := range p.Devices {
		if d.ComputeCap != "" {
			caps = append(caps, d.ComputeCap)
		}
	}
	return caps
}

// Primary returns the first device.
func (p Profile) Primary() (Device, bool) {
	if len(p.Devices) == 0 {
		return Device{}, false
	}
	return p.Devices[0], true
}

func (p Profile) String() string {
	primary, ok := p.Primary()
	if !ok {
		return fmt.Sprintf("%s (no devices)", p.Vendor)
	}
	s := fmt.Sprintf("%s: %s", p.Vendor, primary.Name)
	if primary.ComputeCap != "" {
		s += fmt.Sprintf(" (compute %s)", primary.ComputeCap)
	}
	if n := len(p.Devices); n > 1 {
		s += fmt.Sprintf(" +%d more", n-1)
	}
	return s
}

// newestGenerationPatterns match device names of the newest generation.
// Vendor tools sometimes omit precise capability strings, so names are the
// primary signal and the numeric compute capability is the backstop.
var newestGenerationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bRTX\s*50[0-9]{2}\b`),
	regexp.MustCompile(`(?i)\bblackwell\b`),
	regexp.MustCompile(`(?i)\bGB20[0-9]\b`),
}

// IsNewestGeneration applies the tier mapping to a single device.
func IsNewestGeneration(d Device) bool {
	for _, re := range newestGenerationPatterns {
		if re.MatchString(d.Name) {
			return true
		}
	}
	major, _, ok := splitComputeCap(d.ComputeCap)
	return ok && major >= 12
}

func splitComputeCap(cc string) (major, minor int, ok bool) {
	cc = strings.TrimSpace(cc)
	if cc == "" {
		return 0, 0, false
	}
	majStr, minStr, _ := strings.Cut(cc, ".")
	major, err := strconv.Atoi(majStr)
	if err != nil {
		return 0, 0, false
	}
	if minStr != "" {
		if minor, err = strconv.Atoi(minStr); err != nil {
			return 0, 0, false
		}
	}
	return major, minor, true
}

// Detector probes GPUs with local tools only.
type Detector struct {
	Runner runner.Runner
	// NVML enumerates devices through the NVIDIA management library. It is
	// consulted when nvidia-smi is missing or fails; nil disables it.
	NVML func() ([]Device, error)
}

// NewDetector returns a Detector using r for nvidia-smi and lspci.
func NewDetector(r runner.Runner) *Detector {
	return &Detector{Runner: r, NVML: NVMLDevices}
}

// Detect probes nvidia-smi, then NVML, then lspci. It never fails: when no
// probe works the vendor is unknown.
func (d *Detector) Detect(ctx context.Context) Profile {
	if devices, ok := d.probeNvidiaSmi(ctx); ok {
		return newProfile(VendorNVIDIA, devices, "nvidia-smi")
	}
	if d.NVML != nil {
		devices, err := d.NVML()
		if err != nil {
			klog.V(1).Infof("NVML probe failed: %v", err)
		} else if len(devices) > 0 {
			return newProfile(VendorNVIDIA, devices, "nvml")
		}
	}
	if vendor, devices, ok := d.probeLspci(ctx); ok {
		return newProfile(vendor, devices, "lspci")
	}
	return Profile{Vendor: VendorUnknown, Source: "none"}
}

func newProfile(vendor Vendor, devices []Device, source string) Profile {
	p := Profile{Vendor: vendor, Devices: devices, Source: source}
	if primary, ok := p.Primary(); ok {
		p.NewestGeneration = IsNewestGeneration(primary)
	}
	return p
}

func (d *Detector) probeNvidiaSmi(ctx context.Context) ([]Device, bool) {
	if _, err := d.Runner.LookPath("nvidia-smi"); err != nil {
		return nil, false
	}
	out, err := d.Runner.Output(ctx, runner.New("nvidia-smi",
		"--query-gpu=name,compute_cap", "--format=csv,noheader"))
	if err != nil {
		klog.V(1).Infof("nvidia-smi query failed: %v", err)
		return nil, false
	}
	devices := ParseNvidiaSmi(out)
	return devices, len(devices) > 0
}

// ParseNvidiaSmi parses "name, compute_cap" CSV lines.
func ParseNvidiaSmi(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, cc, _ := strings.Cut(line, ",")
		cc = strings.TrimSpace(cc)
		if _, _, ok := splitComputeCap(cc); !ok {
			cc = ""
		}
		devices = append(devices, Device{Name: strings.TrimSpace(name), ComputeCap: cc})
	}
	return devices
}

func (d *Detector) probeLspci(ctx context.Context) (Vendor, []Device, bool) {
	if _, err := d.Runner.LookPath("lspci"); err != nil {
		return VendorUnknown, nil, false
	}
	out, err := d.Runner.Output(ctx, runner.New("lspci"))
	if err != nil {
		klog.V(1).Infof("lspci failed: %v", err)
		return VendorUnknown, nil, false
	}
	vendor, devices := ParseLspci(out)
	return vendor, devices, vendor != VendorUnknown
}

var (
	gpuClassRe = regexp.MustCompile(`(VGA compatible controller|3D controller|Display controller)[^:]*:\s*(.+)$`)
	revisionRe = regexp.MustCompile(`\s*\(rev [0-9a-fA-F]+\)\s*$`)
	amdRe      = regexp.MustCompile(`(?i)\b(AMD|ATI|Radeon|Advanced Micro Devices)\b`)
	intelRe    = regexp.MustCompile(`(?i)\bIntel\b`)
)

// ParseLspci picks GPU lines from lspci output. A discrete vendor wins over an
// integrated one: NVIDIA, then AMD, then Intel.
func ParseLspci(out string) (Vendor, []Device) {
	byVendor := map[Vendor][]Device{}
	for _, line := range strings.Split(out, "\n") {
		m := gpuClassRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		desc := revisionRe.ReplaceAllString(m[2], "")
		var vendor Vendor
		switch {
		case strings.Contains(strings.ToUpper(desc), "NVIDIA"):
			vendor = VendorNVIDIA
		case amdRe.MatchString(desc):
			vendor = VendorAMD
		case intelRe.MatchString(desc):
			vendor = VendorIntel
		default:
			continue
		}
		byVendor[vendor] = append(byVendor[vendor], Device{Name: desc})
	}
	for _, vendor := range []Vendor{VendorNVIDIA, VendorAMD, VendorIntel} {
		if devices := byVendor[vendor]; len(devices) > 0 {
			return vendor, devices
		}
	}
	return VendorUnknown, nil
}
