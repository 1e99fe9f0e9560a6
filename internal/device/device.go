// Package device selects the born compute backend a run executes on.
package device

import (
	"errors"
	"fmt"
	"log"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/klauspost/cpuid/v2"
)

// Device names accepted in configuration.
const (
	CPUName    = "cpu"
	WebGPUName = "webgpu"
)

// ErrUnsupported is returned when a device is not compiled into this build.
var ErrUnsupported = errors.New("device not supported on this platform")

// CPU is the autodiff-wrapped pure Go backend.
type CPU = *autodiff.Backend[*cpu.Backend]

// NewCPU returns a fresh CPU backend with its own gradient tape.
func NewCPU() CPU {
	return autodiff.New(cpu.New())
}

// Validate reports whether name is a known device.
func Validate(name string) error {
	switch name {
	case CPUName, WebGPUName:
		return nil
	default:
		return fmt.Errorf("unknown device %q (want %s or %s)", name, CPUName, WebGPUName)
	}
}

// Info summarises the host processor.
type Info struct {
	Brand         string
	PhysicalCores int
	LogicalCores  int
	Features      []string
}

// simdFeatures are the extensions the CPU kernels can take advantage of.
var simdFeatures = []cpuid.FeatureID{cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F, cpuid.AVX512DQ}

// Host inspects the current processor.
func Host() Info {
	info := Info{
		Brand:         cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
	for _, f := range simdFeatures {
		if cpuid.CPU.Supports(f) {
			info.Features = append(info.Features, f.String())
		}
	}
	return info
}

// Describe logs the selected device and the host processor.
func Describe(name string) {
	info := Host()
	log.Printf("device=%s cpu=%q physical_cores=%d logical_cores=%d simd=%v",
		name, info.Brand, info.PhysicalCores, info.LogicalCores, info.Features)
}
