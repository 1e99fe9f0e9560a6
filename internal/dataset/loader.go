package dataset

import (
	"context"
	"errors"
	"io"
	"math/rand"
)

// Batch is a minibatch of images in NCHW order.
type Batch struct {
	Index  int
	Inputs []float32
	Shape  [4]int
	Labels []int32
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int { return len(b.Labels) }

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize  int
	Shuffle    bool
	NumWorkers int
	Prefetch   int
	Seed       int64
	Transform  Transform
}

// Loader slices a Dataset into minibatches. The final batch may be short.
type Loader struct {
	data *Dataset
	opts LoaderOptions
}

// NewLoader validates opts and binds them to data.
func NewLoader(data *Dataset, opts LoaderOptions) (*Loader, error) {
	if data == nil || data.Len() == 0 {
		return nil, errors.New("loader: empty dataset")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.New("loader: batch size must be > 0")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 2 * opts.NumWorkers
	}
	return &Loader{data: data, opts: opts}, nil
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	return (l.data.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.opts.BatchSize }

// Epoch starts assembling the batches of one epoch on the worker pool.
// Batches are delivered in order; at most Prefetch of them are built
// ahead of the consumer. Cancel ctx or call Close to stop the workers.
func (l *Loader) Epoch(ctx context.Context, epoch int) *Iterator {
	ctx, cancel := context.WithCancel(ctx)
	n := l.Len()
	it := &Iterator{
		cancel:    cancel,
		slots:     make([]chan Batch, n),
		window:    make(chan struct{}, l.opts.Prefetch),
		batchSize: l.opts.BatchSize,
	}
	for i := range it.slots {
		it.slots[i] = make(chan Batch, 1)
	}

	order := l.order(epoch)
	jobs := make(chan int)
	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case it.window <- struct{}{}:
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	for w := 0; w < l.opts.NumWorkers; w++ {
		go func() {
			for i := range jobs {
				it.slots[i] <- l.assemble(epoch, i, order)
			}
		}()
	}
	return it
}

func (l *Loader) order(epoch int) []int {
	n := l.data.Len()
	if !l.opts.Shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	rng := rand.New(rand.NewSource(mixSeed(l.opts.Seed, int64(epoch), -1)))
	return rng.Perm(n)
}

func (l *Loader) assemble(epoch, index int, order []int) Batch {
	bs := l.opts.BatchSize
	start := index * bs
	end := start + bs
	if end > len(order) {
		end = len(order)
	}
	rng := rand.New(rand.NewSource(mixSeed(l.opts.Seed, int64(epoch), int64(index))))

	d := l.data
	batch := Batch{Index: index, Labels: make([]int32, 0, end-start)}
	for _, sample := range order[start:end] {
		img := ToImage(d.Pixels(sample), d.Channels, d.Height, d.Width)
		if l.opts.Transform != nil {
			img = l.opts.Transform.Apply(img, rng)
		}
		if batch.Inputs == nil {
			batch.Inputs = make([]float32, 0, (end-start)*len(img.Pix))
		}
		batch.Inputs = append(batch.Inputs, img.Pix...)
		batch.Labels = append(batch.Labels, d.Label(sample))
		batch.Shape = [4]int{0, img.C, img.H, img.W}
	}
	batch.Shape[0] = len(batch.Labels)
	return batch
}

// mixSeed derives an independent stream per (seed, epoch, batch) so that
// augmentation does not depend on which worker builds a batch.
func mixSeed(seed, epoch, batch int64) int64 {
	z := uint64(seed) ^ uint64(epoch)*0x9e3779b97f4a7c15 ^ uint64(batch)*0xbf58476d1ce4e5b9
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

// Iterator yields the batches of one epoch.
type Iterator struct {
	cancel    context.CancelFunc
	slots     []chan Batch
	window    chan struct{}
	next      int
	batchSize int
}

// Next blocks until the next batch is ready. It returns io.EOF once every
// batch has been delivered.
func (it *Iterator) Next(ctx context.Context) (Batch, error) {
	if it.next >= len(it.slots) {
		return Batch{}, io.EOF
	}
	select {
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	case b := <-it.slots[it.next]:
		it.next++
		<-it.window
		return b, nil
	}
}

// Len returns the number of batches in the epoch.
func (it *Iterator) Len() int { return len(it.slots) }

// BatchSize returns the nominal batch size.
func (it *Iterator) BatchSize() int { return it.batchSize }

// Close stops the workers. Undelivered batches are dropped.
func (it *Iterator) Close() { it.cancel() }
