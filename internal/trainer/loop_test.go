package trainer

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resnet-forge/internal/config"
	"resnet-forge/internal/dataset"
	"resnet-forge/internal/device"
	"resnet-forge/internal/tracking"
)

type fakeTracker struct {
	steps    []int
	records  []tracking.Record
	closed   bool
	closeErr error
}

func (f *fakeTracker) Log(step int, rec tracking.Record) error {
	f.steps = append(f.steps, step)
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeTracker) Close() error {
	f.closed = true
	return f.closeErr
}

func syntheticCIFAR(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	const size = dataset.Channels * dataset.ImageSize * dataset.ImageSize
	labels := make([]int32, n)
	pixels := make([]uint8, n*size)
	for i := range labels {
		labels[i] = int32(i % dataset.NumClasses)
		for j := 0; j < size; j++ {
			pixels[i*size+j] = uint8((i*31 + j) % 256)
		}
	}
	ds, err := dataset.NewDataset(dataset.Channels, dataset.ImageSize, dataset.ImageSize, labels, pixels)
	require.NoError(t, err)
	return ds
}

func tinyConfig() *config.Config {
	cfg := config.Default()
	cfg.Epochs = 2
	cfg.Arch = "simplecnn"
	cfg.Width = 4
	cfg.TrainBatchSize = 4
	cfg.EvalBatchSize = 2
	cfg.Download = false
	cfg.LogEvery = 0
	cfg.Seed = 7
	return cfg
}

var (
	trainLine = regexp.MustCompile(`^Epoch: (\d+), Train Loss: [0-9.e+-]+, Train Acc: [0-9.e+-]+$`)
	valLine   = regexp.MustCompile(`^Epoch: (\d+), Val Loss: [0-9.e+-]+, Val Acc: [0-9.e+-]+$`)
)

func TestOrchestratorRun(t *testing.T) {
	cfg := tinyConfig()
	require.NoError(t, cfg.Validate())

	var out bytes.Buffer
	tracker := &fakeTracker{}
	o := &Orchestrator[device.CPU]{
		Config:  cfg,
		Backend: device.NewCPU(),
		Train:   syntheticCIFAR(t, 6),
		Eval:    syntheticCIFAR(t, 4),
		Tracker: tracker,
		Out:     &out,
	}
	require.NoError(t, o.Run(context.Background()))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)
	assert.Equal(t, "1", trainLine.FindStringSubmatch(string(lines[0]))[1])
	assert.Equal(t, "1", valLine.FindStringSubmatch(string(lines[1]))[1])
	assert.Equal(t, "2", trainLine.FindStringSubmatch(string(lines[2]))[1])
	assert.Equal(t, "2", valLine.FindStringSubmatch(string(lines[3]))[1])

	require.Equal(t, []int{1, 2}, tracker.steps)
	assert.InDelta(t, 0.1, tracker.records[0][tracking.LearningRate], 1e-12)
	assert.InDelta(t, 0.05, tracker.records[1][tracking.LearningRate], 1e-12)
	for _, rec := range tracker.records {
		for _, key := range []string{tracking.TrainLoss, tracking.TrainAcc, tracking.ValLoss, tracking.ValAcc} {
			require.Contains(t, rec, key)
		}
		assert.GreaterOrEqual(t, rec[tracking.TrainAcc], 0.0)
		assert.LessOrEqual(t, rec[tracking.ValAcc], 1.0)
		assert.GreaterOrEqual(t, rec[tracking.ValLoss], 0.0)
	}
	assert.False(t, tracker.closed)
}

func TestOrchestratorHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := &Orchestrator[device.CPU]{
		Config:  tinyConfig(),
		Backend: device.NewCPU(),
		Train:   syntheticCIFAR(t, 6),
		Eval:    syntheticCIFAR(t, 4),
		Out:     &bytes.Buffer{},
	}
	require.ErrorIs(t, o.Run(ctx), context.Canceled)
}

func TestOrchestratorRejectsUnknownArch(t *testing.T) {
	cfg := tinyConfig()
	cfg.Arch = "vgg"
	o := &Orchestrator[device.CPU]{
		Config:  cfg,
		Backend: device.NewCPU(),
		Train:   syntheticCIFAR(t, 2),
		Eval:    syntheticCIFAR(t, 2),
		Out:     &bytes.Buffer{},
	}
	require.Error(t, o.Run(context.Background()))
}

func TestRunReportsMissingDataset(t *testing.T) {
	cfg := tinyConfig()
	cfg.Epochs = 1
	cfg.DataDir = t.TempDir()
	cfg.Tracking.Enabled = true
	cfg.Tracking.Dir = t.TempDir()

	err := Run(context.Background(), cfg, device.NewCPU())
	require.ErrorIs(t, err, dataset.ErrNotFound)
}

func TestRunSurfacesTrackerCloseError(t *testing.T) {
	flush := errors.New("disk full")
	tracker := &fakeTracker{closeErr: flush}
	cfg := tinyConfig()
	cfg.Epochs = 1
	o := &Orchestrator[device.CPU]{
		Config:  cfg,
		Backend: device.NewCPU(),
		Train:   syntheticCIFAR(t, 4),
		Eval:    syntheticCIFAR(t, 2),
		Tracker: tracker,
		Out:     &bytes.Buffer{},
	}
	require.ErrorIs(t, runAndClose(context.Background(), o), flush)
	assert.True(t, tracker.closed)
	assert.Len(t, tracker.steps, 1)
}

func TestRunKeepsRunErrorOverCloseError(t *testing.T) {
	tracker := &fakeTracker{closeErr: errors.New("disk full")}
	cfg := tinyConfig()
	cfg.Arch = "vgg"
	o := &Orchestrator[device.CPU]{
		Config:  cfg,
		Backend: device.NewCPU(),
		Train:   syntheticCIFAR(t, 2),
		Eval:    syntheticCIFAR(t, 2),
		Tracker: tracker,
		Out:     &bytes.Buffer{},
	}
	err := runAndClose(context.Background(), o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown architecture")
	assert.True(t, tracker.closed)
}

func TestLoaderOptionsFollowConfig(t *testing.T) {
	cfg := tinyConfig()
	train, eval := loaderOptions(cfg)
	assert.True(t, train.Shuffle)
	assert.False(t, eval.Shuffle)
	assert.Equal(t, 4, train.BatchSize)
	assert.Equal(t, 2, eval.BatchSize)

	cfg.ShuffleTrain, cfg.ShuffleEval = false, true
	train, eval = loaderOptions(cfg)
	assert.False(t, train.Shuffle)
	assert.True(t, eval.Shuffle)
}
