// Package model defines the image classifiers trained by resnet-forge on
// top of born's nn layers.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"resnet-forge/internal/dataset"
)

// Network is a classifier mapping [N,C,H,W] images to [N,classes] logits.
type Network[B tensor.Backend] interface {
	nn.Module[B]
}

// Config selects and sizes an architecture.
type Config struct {
	Arch          string
	NumClasses    int
	InputChannels int
	// Width is the channel count of the first stage (64 for the reference
	// ResNets). Smaller values build narrow variants.
	Width int
	Seed  int64
}

func (c Config) withDefaults() Config {
	if c.NumClasses <= 0 {
		c.NumClasses = dataset.NumClasses
	}
	if c.InputChannels <= 0 {
		c.InputChannels = dataset.Channels
	}
	if c.Width <= 0 {
		c.Width = 64
	}
	return c
}

// Architectures lists the names accepted by New.
var Architectures = []string{"resnet18", "resnet34", "resnet50", "simplecnn"}

// New builds the architecture named in cfg.Arch with deterministic
// initial weights derived from cfg.Seed.
func New[B tensor.Backend](cfg Config, backend B) (Network[B], error) {
	cfg = cfg.withDefaults()
	var net Network[B]
	switch cfg.Arch {
	case "resnet18":
		net = NewResNet(BasicBlock, []int{2, 2, 2, 2}, cfg, backend)
	case "resnet34":
		net = NewResNet(BasicBlock, []int{3, 4, 6, 3}, cfg, backend)
	case "resnet50":
		net = NewResNet(Bottleneck, []int{3, 4, 6, 3}, cfg, backend)
	case "simplecnn":
		net = NewSimpleCNN(cfg, backend)
	default:
		return nil, fmt.Errorf("model: unknown architecture %q (want one of %v)", cfg.Arch, Architectures)
	}
	if r, ok := net.(interface{ Reinit(*rand.Rand) }); ok {
		r.Reinit(rand.New(rand.NewSource(cfg.Seed)))
	}
	return net, nil
}

// CountParameters returns the number of scalar weights in params.
func CountParameters[B tensor.Backend](params []*nn.Parameter[B]) int {
	total := 0
	for _, p := range params {
		total += p.Tensor().NumElements()
	}
	return total
}

// KaimingUniform fills multi-dimensional parameters from
// U(-sqrt(6/fan_in), sqrt(6/fan_in)) and zeroes one-dimensional ones.
func KaimingUniform[B tensor.Backend](params []*nn.Parameter[B], rng *rand.Rand) {
	for _, p := range params {
		shape := p.Tensor().Shape()
		data := p.Tensor().Raw().AsFloat32()
		if len(shape) < 2 {
			clear(data)
			continue
		}
		fanIn := 1
		for _, d := range shape[1:] {
			fanIn *= d
		}
		bound := math.Sqrt(6 / float64(fanIn))
		for i := range data {
			data[i] = float32((rng.Float64()*2 - 1) * bound)
		}
	}
}

// ToTensors converts a batch into born input and target tensors.
func ToTensors[B tensor.Backend](batch dataset.Batch, backend B) (*tensor.Tensor[float32, B], *tensor.Tensor[int32, B], error) {
	s := batch.Shape
	inputs, err := tensor.FromSlice(batch.Inputs, tensor.Shape{s[0], s[1], s[2], s[3]}, backend)
	if err != nil {
		return nil, nil, fmt.Errorf("batch %d inputs: %w", batch.Index, err)
	}
	targets, err := tensor.FromSlice(batch.Labels, tensor.Shape{len(batch.Labels)}, backend)
	if err != nil {
		return nil, nil, fmt.Errorf("batch %d labels: %w", batch.Index, err)
	}
	return inputs, targets, nil
}
