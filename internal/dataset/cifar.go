// Package dataset loads CIFAR-10, applies augmentation and assembles
// shuffled minibatches on a worker pool.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CIFAR-10 binary layout.
const (
	NumClasses = 10
	Channels   = 3
	ImageSize  = 32
	recordSize = 1 + Channels*ImageSize*ImageSize

	// BatchDir is the directory the binary archive unpacks into.
	BatchDir = "cifar-10-batches-bin"
)

var (
	// ErrNotFound reports a missing batch file under the cache directory.
	ErrNotFound = errors.New("dataset: batch file not found")
	// ErrCorrupt reports a batch file that does not decode into whole records.
	ErrCorrupt = errors.New("dataset: corrupt batch file")
)

var (
	trainFiles = []string{
		"data_batch_1.bin",
		"data_batch_2.bin",
		"data_batch_3.bin",
		"data_batch_4.bin",
		"data_batch_5.bin",
	}
	testFiles = []string{"test_batch.bin"}
)

// CIFARMean and CIFARStd are the per-channel statistics used for normalisation.
var (
	CIFARMean = []float32{0.4914, 0.4822, 0.4465}
	CIFARStd  = []float32{0.2023, 0.1994, 0.2010}
)

// Dataset is an in-memory labelled image set stored as raw CHW bytes.
type Dataset struct {
	Channels int
	Height   int
	Width    int
	Classes  []string

	labels []int32
	pixels []uint8
}

// NewDataset wraps labels and pixel bytes. pixels holds len(labels) images
// of c*h*w bytes each.
func NewDataset(c, h, w int, labels []int32, pixels []uint8) (*Dataset, error) {
	if c <= 0 || h <= 0 || w <= 0 {
		return nil, fmt.Errorf("dataset: invalid image shape %dx%dx%d", c, h, w)
	}
	if len(pixels) != len(labels)*c*h*w {
		return nil, fmt.Errorf("dataset: %d pixel bytes for %d images of %d bytes", len(pixels), len(labels), c*h*w)
	}
	return &Dataset{Channels: c, Height: h, Width: w, labels: labels, pixels: pixels}, nil
}

// Len returns the number of images.
func (d *Dataset) Len() int { return len(d.labels) }

// Label returns the class index of image i.
func (d *Dataset) Label(i int) int32 { return d.labels[i] }

// Pixels returns the raw CHW bytes of image i. The slice aliases the dataset.
func (d *Dataset) Pixels(i int) []uint8 {
	n := d.Channels * d.Height * d.Width
	return d.pixels[i*n : (i+1)*n]
}

// Load reads the training or test split from root, which must contain the
// unpacked BatchDir.
func Load(root string, train bool) (*Dataset, error) {
	files := testFiles
	if train {
		files = trainFiles
	}
	paths, err := DiscoverBatches(root, files)
	if err != nil {
		return nil, err
	}

	var (
		labels []int32
		pixels []uint8
	)
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read batch: %w", err)
		}
		l, p, err := decodeRecords(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		labels = append(labels, l...)
		pixels = append(pixels, p...)
	}

	ds, err := NewDataset(Channels, ImageSize, ImageSize, labels, pixels)
	if err != nil {
		return nil, err
	}
	ds.Classes = readClassNames(filepath.Join(root, BatchDir, "batches.meta.txt"))
	return ds, nil
}

// DiscoverBatches resolves the named batch files under root/BatchDir.
func DiscoverBatches(root string, names []string) ([]string, error) {
	dir := filepath.Join(root, BatchDir)
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("stat batch: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Present reports whether every batch file of both splits exists under root.
func Present(root string) bool {
	if _, err := DiscoverBatches(root, trainFiles); err != nil {
		return false
	}
	_, err := DiscoverBatches(root, testFiles)
	return err == nil
}

func decodeRecords(raw []byte) ([]int32, []uint8, error) {
	if len(raw) == 0 || len(raw)%recordSize != 0 {
		return nil, nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrCorrupt, len(raw), recordSize)
	}
	n := len(raw) / recordSize
	labels := make([]int32, n)
	pixels := make([]uint8, 0, n*(recordSize-1))
	for i := 0; i < n; i++ {
		rec := raw[i*recordSize : (i+1)*recordSize]
		if rec[0] >= NumClasses {
			return nil, nil, fmt.Errorf("%w: record %d has label %d", ErrCorrupt, i, rec[0])
		}
		labels[i] = int32(rec[0])
		pixels = append(pixels, rec[1:]...)
	}
	return labels, pixels, nil
}

// readClassNames returns nil when the metadata file is absent.
func readClassNames(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	return names
}
