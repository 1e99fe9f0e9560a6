package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"resnet-forge/internal/config"
	"resnet-forge/internal/device"
	"resnet-forge/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (compiled-in defaults when empty)")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	dataDir := flag.String("data-dir", "", "Dataset cache directory")
	dev := flag.String("device", "", "Compute device (cpu or webgpu)")
	arch := flag.String("arch", "", "Model architecture")
	width := flag.Int("width", 0, "Channel width of the first stage")
	trainBatch := flag.Int("train-batch-size", 0, "Training batch size")
	evalBatch := flag.Int("eval-batch-size", 0, "Evaluation batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of data loader workers")
	lr := flag.Float64("lr", 0, "Initial learning rate")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log progress every N batches")
	track := flag.Bool("track", false, "Record per-epoch metrics to the tracking directory")
	trackDir := flag.String("track-dir", "", "Tracking output directory")
	noDownload := flag.Bool("no-download", false, "Fail instead of downloading a missing dataset")

	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	cfg.ApplyOverrides(config.Overrides{
		Epochs:         *epochs,
		DataDir:        *dataDir,
		Device:         *dev,
		Arch:           *arch,
		Width:          *width,
		Seed:           *seed,
		TrainBatchSize: *trainBatch,
		EvalBatchSize:  *evalBatch,
		NumWorkers:     *numWorkers,
		LR:             *lr,
		LogEvery:       *logEvery,
		Track:          *track,
		TrackDir:       *trackDir,
		NoDownload:     *noDownload,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	log.Printf("epochs=%d arch=%s device=%s train_batch=%d eval_batch=%d workers=%d lr=%g",
		cfg.Epochs, cfg.Arch, cfg.Device, cfg.TrainBatchSize, cfg.EvalBatchSize, cfg.NumWorkers, cfg.LR)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device.Describe(cfg.Device)

	var err error
	switch cfg.Device {
	case device.WebGPUName:
		err = runWebGPU(ctx, cfg)
	default:
		err = trainer.Run(ctx, cfg, device.NewCPU())
	}
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
