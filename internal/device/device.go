// Package device resolves the compute device a run executes on. Only the
// host CPU is supported; the probe is used to size worker pools and to log
// what the run is actually using.
package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"cgan-forge/internal/errs"
)

// Info describes the selected device.
type Info struct {
	Name          string
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	Features      []string
}

var probed = []struct {
	name string
	id   cpuid.FeatureID
}{
	{"sse4.2", cpuid.SSE42},
	{"avx", cpuid.AVX},
	{"avx2", cpuid.AVX2},
	{"fma3", cpuid.FMA3},
	{"avx512f", cpuid.AVX512F},
	{"asimd", cpuid.ASIMD},
}

// Select resolves a configured device name. "" and "auto" pick the CPU.
func Select(name string) (Info, error) {
	switch strings.ToLower(name) {
	case "", "auto", "cpu":
		return cpuInfo(), nil
	default:
		return Info{}, errs.Configuration("device", "unsupported device %q (only cpu is available)", name)
	}
}

func cpuInfo() Info {
	info := Info{
		Name:          "cpu",
		Brand:         cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
	if info.LogicalCores <= 0 {
		info.LogicalCores = runtime.NumCPU()
	}
	if info.Brand == "" {
		info.Brand = runtime.GOARCH
	}
	for _, f := range probed {
		if cpuid.CPU.Supports(f.id) {
			info.Features = append(info.Features, f.name)
		}
	}
	return info
}

// Workers returns requested when positive, otherwise a worker count sized to
// the device.
func (i Info) Workers(requested int) int {
	if requested > 0 {
		return requested
	}
	if i.LogicalCores > 1 {
		return i.LogicalCores / 2
	}
	return 1
}

// String renders the key=value form used in startup logs.
func (i Info) String() string {
	return fmt.Sprintf("device=%s brand=%q logical_cores=%d features=%s",
		i.Name, i.Brand, i.LogicalCores, strings.Join(i.Features, ","))
}
