package sage

import (
	"context"
	"fmt"

	"github.com/Gunther-Schulz/wan2gp-launcher-sub000/internal/hardware"
	"k8s.io/klog/v2"
)

// Trigger collects what the provisioning stage learned about the environment.
type Trigger struct {
	Selection           Selection
	Profile             hardware.Profile
	EnvCreated          bool
	RequirementsChanged bool
	SkipPackageCheck    bool
}

// Decision is the outcome of Decide.
type Decision struct {
	Version   Version
	Build     bool
	Reason    string
	Installed string
}

// Decide resolves the version to use and whether it has to be (re)built.
func Decide(ctx context.Context, t Trigger, insp PackageInspector) Decision {
	v := Resolve(t.Selection, t.Profile)
	d := Decision{Version: v}

	switch {
	case v == VersionNone:
		d.Reason = "SageAttention disabled"
		return d
	case t.Profile.Vendor == hardware.VendorAMD || t.Profile.Vendor == hardware.VendorIntel:
		d.Reason = fmt.Sprintf("no CUDA device (%s GPU)", t.Profile.Vendor)
		return d
	case t.Selection.Explicit:
		d.Build, d.Reason = true, fmt.Sprintf("version %s requested", v)
		return d
	case t.SkipPackageCheck:
		d.Reason = "package check skipped"
		return d
	case t.EnvCreated:
		d.Build, d.Reason = true, "new environment"
		return d
	case t.RequirementsChanged:
		d.Build, d.Reason = true, "requirements changed"
		return d
	}

	installed, err := DetectInstalled(ctx, insp)
	if err != nil {
		klog.Warningf("Could not inspect installed SageAttention: %v", err)
		d.Reason = "installed version unknown"
		return d
	}
	d.Installed = installed
	if have := InstalledGeneration(installed); have != v {
		d.Build, d.Reason = true, fmt.Sprintf("installed %s, want version %s", installed, v)
		return d
	}
	d.Reason = fmt.Sprintf("%s already installed", installed)
	return d
}
