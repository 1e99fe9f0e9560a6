package dataset

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tinyDataset returns n 1x2x2 images whose pixels and label equal the index.
func tinyDataset(t *testing.T, n int) *Dataset {
	t.Helper()
	labels := make([]int32, n)
	pixels := make([]uint8, 0, n*4)
	for i := 0; i < n; i++ {
		labels[i] = int32(i)
		pixels = append(pixels, uint8(i), uint8(i), uint8(i), uint8(i))
	}
	ds, err := NewDataset(1, 2, 2, labels, pixels)
	require.NoError(t, err)
	return ds
}

func drain(t *testing.T, it *Iterator) []Batch {
	t.Helper()
	defer it.Close()
	var out []Batch
	for {
		b, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, b)
	}
}

func labelsOf(batches []Batch) []int32 {
	var out []int32
	for _, b := range batches {
		out = append(out, b.Labels...)
	}
	return out
}

func TestLoaderSequentialWithShortTail(t *testing.T) {
	l, err := NewLoader(tinyDataset(t, 10), LoaderOptions{BatchSize: 4, NumWorkers: 3})
	require.NoError(t, err)
	require.Equal(t, 3, l.Len())

	batches := drain(t, l.Epoch(context.Background(), 1))
	require.Len(t, batches, 3)
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, labelsOf(batches))
	assert.Equal(t, [4]int{4, 1, 2, 2}, batches[0].Shape)
	assert.Equal(t, [4]int{2, 1, 2, 2}, batches[2].Shape)
	assert.Len(t, batches[2].Inputs, 2*4)
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
	}
	assert.InDelta(t, 9.0/255, batches[2].Inputs[7], 1e-7)
}

func TestLoaderShuffleCoversAllAndIsDeterministic(t *testing.T) {
	opts := LoaderOptions{BatchSize: 3, Shuffle: true, NumWorkers: 2, Seed: 42}
	l, err := NewLoader(tinyDataset(t, 11), opts)
	require.NoError(t, err)

	first := labelsOf(drain(t, l.Epoch(context.Background(), 1)))
	again := labelsOf(drain(t, l.Epoch(context.Background(), 1)))
	next := labelsOf(drain(t, l.Epoch(context.Background(), 2)))

	assert.Equal(t, first, again)
	assert.NotEqual(t, first, next)

	sorted := append([]int32(nil), first...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, sorted)
}

func TestLoaderAugmentationIndependentOfWorkers(t *testing.T) {
	build := func(workers int) []Batch {
		l, err := NewLoader(tinyDataset(t, 9), LoaderOptions{
			BatchSize:  2,
			NumWorkers: workers,
			Seed:       7,
			Transform:  Compose{RandomCrop{Size: 2, Padding: 1}, RandomHorizontalFlip{P: 0.5}},
		})
		require.NoError(t, err)
		return drain(t, l.Epoch(context.Background(), 3))
	}
	assert.Equal(t, build(1), build(4))
}

func TestIteratorHonoursContext(t *testing.T) {
	l, err := NewLoader(tinyDataset(t, 4), LoaderOptions{BatchSize: 1})
	require.NoError(t, err)
	it := l.Epoch(context.Background(), 1)
	defer it.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = it.Next(ctx)
	// a ready batch may win the race against the cancelled context
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, 4, it.Len())
	assert.Equal(t, 1, it.BatchSize())
}

func TestNewLoaderValidates(t *testing.T) {
	_, err := NewLoader(tinyDataset(t, 2), LoaderOptions{})
	require.Error(t, err)
	_, err = NewLoader(nil, LoaderOptions{BatchSize: 1})
	require.Error(t, err)
}
