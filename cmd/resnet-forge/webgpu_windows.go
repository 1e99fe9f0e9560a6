//go:build windows

package main

import (
	"context"

	"resnet-forge/internal/config"
	"resnet-forge/internal/device"
	"resnet-forge/internal/trainer"
)

func runWebGPU(ctx context.Context, cfg *config.Config) error {
	backend, release, err := device.NewWebGPU()
	if err != nil {
		return err
	}
	defer release()
	return trainer.Run(ctx, cfg, backend)
}
