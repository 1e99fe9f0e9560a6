package trainer

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resnet-forge/internal/dataset"
)

type sliceIterator struct {
	batches   []dataset.Batch
	batchSize int
	pos       int
	err       error
}

func (s *sliceIterator) Next(context.Context) (dataset.Batch, error) {
	if s.err != nil && s.pos == 1 {
		return dataset.Batch{}, s.err
	}
	if s.pos >= len(s.batches) {
		return dataset.Batch{}, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

func (s *sliceIterator) Len() int       { return len(s.batches) }
func (s *sliceIterator) BatchSize() int { return s.batchSize }

// scriptedStep predicts class 0 for every sample and reports a fixed loss.
type scriptedStep struct {
	mode  Mode
	loss  float64
	calls int
	err   error
}

func (s *scriptedStep) Mode() Mode { return s.mode }

func (s *scriptedStep) Run(batch dataset.Batch) (StepOutput, error) {
	s.calls++
	if s.err != nil {
		return StepOutput{}, s.err
	}
	scores := make([]float32, 2*len(batch.Labels))
	for i := range batch.Labels {
		scores[2*i] = 1
	}
	return StepOutput{Loss: s.loss, Scores: scores, Labels: batch.Labels}, nil
}

func labelBatches(labels ...[]int32) []dataset.Batch {
	out := make([]dataset.Batch, len(labels))
	for i, l := range labels {
		out[i] = dataset.Batch{Index: i, Labels: l}
	}
	return out
}

func TestRunEpochAccumulates(t *testing.T) {
	it := &sliceIterator{batchSize: 2, batches: labelBatches([]int32{0, 1}, []int32{0, 0})}
	step := &scriptedStep{mode: ModeEval, loss: 0.5}

	m, err := RunEpoch(context.Background(), step, it, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, step.calls)
	assert.InDelta(t, 0.5, m.MeanLoss, 1e-12)
	assert.InDelta(t, 0.75, m.Accuracy, 1e-12)
	assert.Equal(t, 2, m.Batches)
}

func TestRunEpochShortFinalBatch(t *testing.T) {
	batches := labelBatches([]int32{0, 0}, []int32{0})

	nominal, err := RunEpoch(context.Background(), &scriptedStep{}, &sliceIterator{batchSize: 2, batches: batches}, RunOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, nominal.Accuracy, 1e-12)

	exact, err := RunEpoch(context.Background(), &scriptedStep{}, &sliceIterator{batchSize: 2, batches: batches}, RunOptions{ExactAccuracy: true})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, exact.Accuracy, 1e-12)
}

func TestRunEpochWrapsIteratorError(t *testing.T) {
	boom := errors.New("boom")
	it := &sliceIterator{batchSize: 1, batches: labelBatches([]int32{0}, []int32{0}), err: boom}

	_, err := RunEpoch(context.Background(), &scriptedStep{mode: ModeTrain}, it, RunOptions{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "train batch 1")
}

func TestRunEpochWrapsStepError(t *testing.T) {
	boom := errors.New("bad shape")
	it := &sliceIterator{batchSize: 1, batches: labelBatches([]int32{0})}

	_, err := RunEpoch(context.Background(), &scriptedStep{err: boom}, it, RunOptions{})
	require.ErrorIs(t, err, boom)
}

func TestRunEpochStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	step := &scriptedStep{}

	_, err := RunEpoch(ctx, step, &sliceIterator{batchSize: 1, batches: labelBatches([]int32{0})}, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, step.calls)
}

func TestRunEpochEmpty(t *testing.T) {
	_, err := RunEpoch(context.Background(), &scriptedStep{}, &sliceIterator{batchSize: 1}, RunOptions{})
	require.Error(t, err)
}

func TestRunEpochLogsProgress(t *testing.T) {
	it := &sliceIterator{batchSize: 1, batches: labelBatches([]int32{0}, []int32{1}, []int32{0})}
	m, err := RunEpoch(context.Background(), &scriptedStep{loss: 1}, it, RunOptions{LogEvery: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Batches)
}
