//go:build !windows

package main

import (
	"context"
	"fmt"

	"resnet-forge/internal/config"
	"resnet-forge/internal/device"
)

func runWebGPU(context.Context, *config.Config) error {
	return fmt.Errorf("webgpu: %w", device.ErrUnsupported)
}
