package optimizer

import (
	"testing"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Backend = *autodiff.Backend[*cpu.Backend]

func newParam(t *testing.T, backend Backend, values ...float32) *nn.Parameter[Backend] {
	t.Helper()
	w, err := tensor.FromSlice[float32](values, tensor.Shape{len(values)}, backend)
	require.NoError(t, err)
	return nn.NewParameter("w", w)
}

func gradFor(t *testing.T, backend Backend, values ...float32) *tensor.RawTensor {
	t.Helper()
	g, err := tensor.FromSlice[float32](values, tensor.Shape{len(values)}, backend)
	require.NoError(t, err)
	return g.Raw()
}

func TestSGDWeightDecay(t *testing.T) {
	backend := autodiff.New(cpu.New())
	p := newParam(t, backend, 1, -2)
	opt := NewSGD([]*nn.Parameter[Backend]{p}, Config{LR: 0.1, WeightDecay: 0.5}, backend)

	grad := gradFor(t, backend, 0.2, 0.2)
	opt.Step(Gradients{p.Tensor().Raw(): grad})

	// w - lr*(g + wd*w)
	got := p.Tensor().Raw().AsFloat32()
	assert.InDelta(t, 1-0.1*(0.2+0.5*1), got[0], 1e-6)
	assert.InDelta(t, -2-0.1*(0.2+0.5*-2), got[1], 1e-6)

	// the caller's gradient buffer is left untouched
	assert.InDelta(t, 0.2, grad.AsFloat32()[0], 1e-7)
}

func TestSGDMomentumWithoutDecay(t *testing.T) {
	backend := autodiff.New(cpu.New())
	p := newParam(t, backend, 1)
	opt := NewSGD([]*nn.Parameter[Backend]{p}, Config{LR: 0.1, Momentum: 0.9}, backend)

	opt.Step(Gradients{p.Tensor().Raw(): gradFor(t, backend, 1)})
	opt.Step(Gradients{p.Tensor().Raw(): gradFor(t, backend, 1)})

	// v1 = 1, v2 = 1.9; w = 1 - 0.1 - 0.19
	assert.InDelta(t, 0.71, p.Tensor().Raw().AsFloat32()[0], 1e-6)
}

func TestSGDSkipsParamsWithoutGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	p := newParam(t, backend, 3)
	opt := NewSGD([]*nn.Parameter[Backend]{p}, Config{LR: 0.1, WeightDecay: 0.1}, backend)

	opt.Step(Gradients{})
	assert.Equal(t, float32(3), p.Tensor().Raw().AsFloat32()[0])
}

func TestSGDSetLR(t *testing.T) {
	backend := autodiff.New(cpu.New())
	opt := NewSGD([]*nn.Parameter[Backend]{newParam(t, backend, 0)}, Config{LR: 0.1}, backend)
	opt.SetLR(0.025)
	assert.Equal(t, float32(0.025), opt.GetLR())
	assert.Equal(t, float32(0), opt.WeightDecay())
}
