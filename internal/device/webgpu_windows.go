//go:build windows

package device

import (
	"fmt"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/webgpu"
)

// WebGPU is the autodiff-wrapped GPU backend.
type WebGPU = *autodiff.Backend[*webgpu.Backend]

// NewWebGPU initialises the GPU. The returned release func frees device
// resources and must be called once training is done.
func NewWebGPU() (WebGPU, func(), error) {
	if !webgpu.IsAvailable() {
		return nil, nil, fmt.Errorf("webgpu: no compatible adapter: %w", ErrUnsupported)
	}
	gpu, err := webgpu.New()
	if err != nil {
		return nil, nil, fmt.Errorf("webgpu: %w", err)
	}
	return autodiff.New(gpu), gpu.Release, nil
}
