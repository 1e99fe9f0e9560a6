package model

import (
	"math/rand"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// SimpleCNN is a single convolution followed by pooling and a linear
// classifier. It trains in seconds on CPU and is used for smoke runs.
type SimpleCNN[B tensor.Backend] struct {
	conv *nn.Conv2D[B]
	relu *nn.ReLU[B]
	pool *globalAvgPool[B]
	fc   *nn.Linear[B]
}

// NewSimpleCNN constructs the model.
func NewSimpleCNN[B tensor.Backend](cfg Config, backend B) *SimpleCNN[B] {
	cfg = cfg.withDefaults()
	return &SimpleCNN[B]{
		conv: nn.NewConv2D(cfg.InputChannels, cfg.Width, 3, 3, 1, 1, true, backend),
		relu: nn.NewReLU[B](),
		pool: newGlobalAvgPool(backend),
		fc:   nn.NewLinear[B](cfg.Width, cfg.NumClasses, backend),
	}
}

// Forward maps [N,C,H,W] images to [N,classes] logits.
func (m *SimpleCNN[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return m.fc.Forward(m.pool.Forward(m.relu.Forward(m.conv.Forward(input))))
}

// Parameters returns the trainable parameters.
func (m *SimpleCNN[B]) Parameters() []*nn.Parameter[B] {
	return append(m.conv.Parameters(), m.fc.Parameters()...)
}

// Reinit draws fresh weights from rng.
func (m *SimpleCNN[B]) Reinit(rng *rand.Rand) {
	KaimingUniform(m.Parameters(), rng)
}
