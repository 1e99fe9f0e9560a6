// Package optimizer adds L2 weight decay and learning-rate control on top
// of born's SGD.
package optimizer

import (
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
)

// Config holds SGD hyperparameters.
type Config struct {
	LR          float32
	Momentum    float32
	WeightDecay float32
}

// Gradients maps parameter storage to its gradient, as produced by the
// autodiff tape.
type Gradients = map[*tensor.RawTensor]*tensor.RawTensor

// SGD is momentum SGD with coupled weight decay: every gradient is
// replaced by grad + WeightDecay*param before the momentum update.
type SGD[B tensor.Backend] struct {
	inner       *optim.SGD[B]
	params      []*nn.Parameter[B]
	weightDecay float32
}

// NewSGD creates an optimizer over params.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], cfg Config, backend B) *SGD[B] {
	return &SGD[B]{
		inner:       optim.NewSGD(params, optim.SGDConfig{LR: cfg.LR, Momentum: cfg.Momentum}, backend),
		params:      params,
		weightDecay: cfg.WeightDecay,
	}
}

// Step applies one update. grads is modified: decayed gradients replace
// the entries for every parameter that has one.
func (s *SGD[B]) Step(grads Gradients) {
	if s.weightDecay != 0 {
		s.applyWeightDecay(grads)
	}
	s.inner.Step(grads)
}

func (s *SGD[B]) applyWeightDecay(grads Gradients) {
	for _, p := range s.params {
		raw := p.Tensor().Raw()
		grad, ok := grads[raw]
		if !ok || grad == nil {
			continue
		}
		// The tape may share gradient buffers between outputs.
		decayed := grad.Clone()
		g := decayed.AsFloat32()
		w := raw.AsFloat32()
		for i := range g {
			g[i] += s.weightDecay * w[i]
		}
		grads[raw] = decayed
	}
}

// ZeroGrad clears parameter gradients.
func (s *SGD[B]) ZeroGrad() { s.inner.ZeroGrad() }

// GetLR returns the current learning rate.
func (s *SGD[B]) GetLR() float32 { return s.inner.GetLR() }

// SetLR changes the learning rate used by subsequent steps.
func (s *SGD[B]) SetLR(lr float32) { s.inner.SetLR(lr) }

// WeightDecay returns the L2 penalty factor.
func (s *SGD[B]) WeightDecay() float32 { return s.weightDecay }
