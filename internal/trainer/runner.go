package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"resnet-forge/internal/dataset"
	"resnet-forge/internal/metrics"
)

// BatchIterator yields the batches of one epoch, returning io.EOF when
// exhausted. *dataset.Iterator satisfies it.
type BatchIterator interface {
	Next(ctx context.Context) (dataset.Batch, error)
	Len() int
	BatchSize() int
}

// RunOptions tunes RunEpoch.
type RunOptions struct {
	// LogEvery emits a progress line every N batches. Zero disables it.
	LogEvery int
	// ExactAccuracy divides correct predictions by the samples actually
	// seen instead of batches × batch size.
	ExactAccuracy bool
}

// RunEpoch drives step over every batch and returns the epoch metrics.
func RunEpoch(ctx context.Context, step Step, batches BatchIterator, opts RunOptions) (metrics.EpochMetrics, error) {
	var (
		acc    metrics.Accumulator
		window metrics.Window
		n      int
	)
	mode := step.Mode()

	for {
		if err := ctx.Err(); err != nil {
			return metrics.EpochMetrics{}, err
		}

		startData := time.Now()
		batch, err := batches.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return metrics.EpochMetrics{}, fmt.Errorf("%s batch %d: %w", mode, n, err)
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		out, err := step.Run(batch)
		if err != nil {
			return metrics.EpochMetrics{}, fmt.Errorf("%s batch %d: %w", mode, n, err)
		}
		computeTime := time.Since(startCompute)

		acc.Add(out.Loss, out.Scores, out.Labels)
		window.Record(batch.Size(), dataTime, computeTime, out.Loss)
		n++

		if opts.LogEvery > 0 && window.Batches() >= opts.LogEvery {
			snap := window.Snapshot()
			log.Printf("mode=%s batch=%d/%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f acc=%.4f",
				mode,
				n,
				batches.Len(),
				snap.ImagesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.AvgLoss,
				float64(acc.Correct())/float64(acc.Samples()),
			)
		}
	}

	if n == 0 {
		return metrics.EpochMetrics{}, fmt.Errorf("%s: no batches", mode)
	}
	if opts.ExactAccuracy {
		return acc.FinalizeExact(n), nil
	}
	return acc.Finalize(n, batches.BatchSize()), nil
}
