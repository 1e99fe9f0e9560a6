package metrics

import "time"

// Window accumulates per-batch timing between progress log lines.
type Window struct {
	images  int
	batches int
	data    time.Duration
	compute time.Duration
	loss    float64
}

// Record adds one processed batch to the window.
func (w *Window) Record(images int, dataTime, computeTime time.Duration, loss float64) {
	w.images += images
	w.batches++
	w.data += dataTime
	w.compute += computeTime
	w.loss += loss
}

// Batches reports how many batches were recorded since the last snapshot.
func (w *Window) Batches() int { return w.batches }

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	var snap Snapshot
	if total := w.data + w.compute; total > 0 {
		snap.ImagesPerSec = float64(w.images) / total.Seconds()
	}
	if w.batches > 0 {
		snap.AvgDataMS = w.data.Seconds() * 1000 / float64(w.batches)
		snap.AvgComputeMS = w.compute.Seconds() * 1000 / float64(w.batches)
		snap.AvgLoss = w.loss / float64(w.batches)
	}
	*w = Window{}
	return snap
}

// Snapshot represents loggable throughput metrics.
type Snapshot struct {
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	AvgLoss      float64
}
