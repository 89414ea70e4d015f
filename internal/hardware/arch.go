package hardware

import "strings"

// Fallback architecture lists used when auto-detection is off or no compute
// capability could be read.
const (
	DefaultArchList = "8.0;8.9"
	NewestArchList  = "12.0"
)

// CanonicalArch maps a compute capability to the architecture token passed
// to the native build.
func CanonicalArch(cc string) (string, bool) {
	major, minor, ok := splitComputeCap(cc)
	if !ok {
		return "", false
	}
	switch {
	case major == 7 && minor == 0:
		return "7.0", true
	case major == 7 && minor == 5:
		return "7.5", true
	case major == 8 && (minor == 0 || minor == 6):
		return "8.0", true
	case major == 8 && minor == 9:
		return "8.9", true
	case major == 9 && minor == 0:
		return "9.0", true
	case major == 10:
		return "10.0", true
	case major == 12:
		return "12.0", true
	}
	return "", false
}

// CUDAArchList returns the semicolon separated architecture list for a
// build. With auto set and compute capabilities available, every distinct
// canonical architecture across all devices is listed in first-seen order.
// Otherwise the fixed list for the requested generation is returned.
func (p Profile) CUDAArchList(auto, newestGeneration bool) string {
	if auto {
		seen := map[string]bool{}
		var archs []string
		for _, cc := range p.ComputeCaps() {
			arch, ok := CanonicalArch(cc)
			if !ok || seen[arch] {
				continue
			}
			seen[arch] = true
			archs = append(archs, arch)
		}
		if len(archs) > 0 {
			return strings.Join(archs, ";")
		}
	}
	if newestGeneration {
		return NewestArchList
	}
	return DefaultArchList
}
