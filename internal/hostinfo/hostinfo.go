// Package hostinfo reports the CPU the lessons run on and sizes worker pools.
package hostinfo

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Info is a snapshot of the host CPU.
type Info struct {
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	CacheL2       int // bytes, -1 if unknown
	Features      []string
}

// Vector extensions worth reporting for float64 kernels.
var reported = []struct {
	name string
	id   cpuid.FeatureID
}{
	{"SSE4.2", cpuid.SSE42},
	{"AVX", cpuid.AVX},
	{"AVX2", cpuid.AVX2},
	{"FMA3", cpuid.FMA3},
	{"AVX512F", cpuid.AVX512F},
	{"AVX512DQ", cpuid.AVX512DQ},
	{"ASIMD", cpuid.ASIMD},
}

// Detect reads the host CPU.
func Detect() Info {
	cpu := cpuid.CPU
	info := Info{
		Brand:         strings.TrimSpace(cpu.BrandName),
		Vendor:        cpu.VendorString,
		PhysicalCores: cpu.PhysicalCores,
		LogicalCores:  cpu.LogicalCores,
		CacheL2:       cpu.Cache.L2,
	}
	if info.Brand == "" {
		info.Brand = "unknown " + runtime.GOARCH
	}
	for _, f := range reported {
		if cpu.Supports(f.id) {
			info.Features = append(info.Features, f.name)
		}
	}
	return info
}

// String formats i on one line.
func (i Info) String() string {
	features := "none"
	if len(i.Features) > 0 {
		features = strings.Join(i.Features, " ")
	}
	return fmt.Sprintf("%s (%d physical / %d logical cores, features: %s)",
		i.Brand, i.PhysicalCores, i.LogicalCores, features)
}

// Workers is the number of goroutines to use for data-parallel work: one per
// physical core, falling back to GOMAXPROCS when cpuid cannot tell.
func (i Info) Workers() int {
	n := i.PhysicalCores
	if n <= 0 {
		n = i.LogicalCores
	}
	if procs := runtime.GOMAXPROCS(0); n <= 0 || n > procs {
		n = procs
	}
	return max(n, 1)
}

// Describe is Detect().String().
func Describe() string { return Detect().String() }

// Workers is Detect().Workers().
func Workers() int { return Detect().Workers() }
