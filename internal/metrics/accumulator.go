package metrics

// EpochMetrics is the reduced result of one pass over a batch iterator.
type EpochMetrics struct {
	MeanLoss float64
	Accuracy float64
	Batches  int
	Samples  int
}

// Accumulator keeps running loss and correct-prediction totals for an epoch.
// The zero value is ready to use.
type Accumulator struct {
	loss    float64
	correct int
	samples int
}

// Add folds one batch into the running totals. scores holds one row of
// class scores per label, row-major.
func (a *Accumulator) Add(loss float64, scores []float32, labels []int32) {
	a.loss += loss
	n := len(labels)
	if n == 0 {
		return
	}
	classes := len(scores) / n
	if classes == 0 {
		a.samples += n
		return
	}
	for i, label := range labels {
		if Argmax(scores[i*classes:(i+1)*classes]) == int(label) {
			a.correct++
		}
	}
	a.samples += n
}

// Correct returns the number of matching predictions seen so far.
func (a *Accumulator) Correct() int { return a.correct }

// Samples returns the number of labelled samples seen so far.
func (a *Accumulator) Samples() int { return a.samples }

// Finalize reduces the totals using the nominal sample count
// numBatches*batchSize. A short final batch therefore lowers accuracy
// slightly; FinalizeExact divides by the samples actually seen.
func (a *Accumulator) Finalize(numBatches, batchSize int) EpochMetrics {
	return EpochMetrics{
		MeanLoss: a.loss / float64(numBatches),
		Accuracy: float64(a.correct) / float64(numBatches*batchSize),
		Batches:  numBatches,
		Samples:  a.samples,
	}
}

// FinalizeExact reduces the totals using the true number of samples.
func (a *Accumulator) FinalizeExact(numBatches int) EpochMetrics {
	m := EpochMetrics{
		MeanLoss: a.loss / float64(numBatches),
		Batches:  numBatches,
		Samples:  a.samples,
	}
	if a.samples > 0 {
		m.Accuracy = float64(a.correct) / float64(a.samples)
	}
	return m
}

// Argmax returns the index of the largest score. Ties resolve to the
// lowest index.
func Argmax(row []float32) int {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}
