package model

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// BlockKind selects the residual block used by every stage.
type BlockKind int

const (
	BasicBlock BlockKind = iota
	Bottleneck
)

func (k BlockKind) expansion() int {
	if k == Bottleneck {
		return 4
	}
	return 1
}

// ResNet is the CIFAR variant of a residual network: a 3x3 stride-1 stem,
// four residual stages, global average pooling and a linear classifier.
type ResNet[B tensor.Backend] struct {
	stem    *nn.Conv2D[B]
	relu    *nn.ReLU[B]
	blocks  []*residualBlock[B]
	pool    *globalAvgPool[B]
	fc      *nn.Linear[B]
	arch    string
	backend B
}

// NewResNet assembles a ResNet with depths[i] blocks in stage i.
func NewResNet[B tensor.Backend](kind BlockKind, depths []int, cfg Config, backend B) *ResNet[B] {
	cfg = cfg.withDefaults()
	m := &ResNet[B]{
		stem:    nn.NewConv2D(cfg.InputChannels, cfg.Width, 3, 3, 1, 1, true, backend),
		relu:    nn.NewReLU[B](),
		pool:    newGlobalAvgPool(backend),
		arch:    cfg.Arch,
		backend: backend,
	}
	in := cfg.Width
	for stage, depth := range depths {
		planes := cfg.Width << stage
		stride := 2
		if stage == 0 {
			stride = 1
		}
		for i := 0; i < depth; i++ {
			if i > 0 {
				stride = 1
			}
			blk := newResidualBlock(kind, in, planes, stride, backend)
			m.blocks = append(m.blocks, blk)
			in = planes * kind.expansion()
		}
	}
	m.fc = nn.NewLinear[B](in, cfg.NumClasses, backend)
	return m
}

// Forward maps [N,C,H,W] images to [N,classes] logits.
func (m *ResNet[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x := m.relu.Forward(m.stem.Forward(input))
	for _, blk := range m.blocks {
		x = blk.Forward(x)
	}
	return m.fc.Forward(m.pool.Forward(x))
}

// Parameters returns every trainable parameter.
func (m *ResNet[B]) Parameters() []*nn.Parameter[B] {
	params := append([]*nn.Parameter[B]{}, m.stem.Parameters()...)
	for _, blk := range m.blocks {
		params = append(params, blk.Parameters()...)
	}
	return append(params, m.fc.Parameters()...)
}

// Reinit draws fresh Kaiming-uniform weights from rng and zeroes the last
// convolution of every residual branch, so each block starts as its
// shortcut.
func (m *ResNet[B]) Reinit(rng *rand.Rand) {
	KaimingUniform(m.Parameters(), rng)
	for _, blk := range m.blocks {
		last := blk.convs[len(blk.convs)-1]
		for _, p := range last.Parameters() {
			clear(p.Tensor().Raw().AsFloat32())
		}
	}
}

// String summarises the architecture.
func (m *ResNet[B]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(\n  stem: %s\n", m.arch, m.stem.String())
	for i, blk := range m.blocks {
		fmt.Fprintf(&sb, "  block%d: %s\n", i, blk)
	}
	fmt.Fprintf(&sb, "  fc: Linear(in=%d, out=%d)\n)", m.fc.InFeatures(), m.fc.OutFeatures())
	return sb.String()
}

// residualBlock computes relu(branch(x) + shortcut(x)). The branch is two
// 3x3 convolutions for a basic block and 1x1-3x3-1x1 for a bottleneck.
type residualBlock[B tensor.Backend] struct {
	kind     BlockKind
	convs    []*nn.Conv2D[B]
	relu     *nn.ReLU[B]
	shortcut *nn.Conv2D[B]
}

func newResidualBlock[B tensor.Backend](kind BlockKind, in, planes, stride int, backend B) *residualBlock[B] {
	out := planes * kind.expansion()
	blk := &residualBlock[B]{kind: kind, relu: nn.NewReLU[B]()}
	switch kind {
	case Bottleneck:
		blk.convs = []*nn.Conv2D[B]{
			nn.NewConv2D(in, planes, 1, 1, 1, 0, true, backend),
			nn.NewConv2D(planes, planes, 3, 3, stride, 1, true, backend),
			nn.NewConv2D(planes, out, 1, 1, 1, 0, true, backend),
		}
	default:
		blk.convs = []*nn.Conv2D[B]{
			nn.NewConv2D(in, planes, 3, 3, stride, 1, true, backend),
			nn.NewConv2D(planes, out, 3, 3, 1, 1, true, backend),
		}
	}
	if stride != 1 || in != out {
		blk.shortcut = nn.NewConv2D(in, out, 1, 1, stride, 0, true, backend)
	}
	return blk
}

func (b *residualBlock[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := x
	for i, conv := range b.convs {
		out = conv.Forward(out)
		if i < len(b.convs)-1 {
			out = b.relu.Forward(out)
		}
	}
	sc := x
	if b.shortcut != nil {
		sc = b.shortcut.Forward(x)
	}
	return b.relu.Forward(out.Add(sc))
}

func (b *residualBlock[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, conv := range b.convs {
		params = append(params, conv.Parameters()...)
	}
	if b.shortcut != nil {
		params = append(params, b.shortcut.Parameters()...)
	}
	return params
}

func (b *residualBlock[B]) String() string {
	name := "BasicBlock"
	if b.kind == Bottleneck {
		name = "Bottleneck"
	}
	first, last := b.convs[0], b.convs[len(b.convs)-1]
	return fmt.Sprintf("%s(in=%d, out=%d, stride=%d, projection=%t)",
		name, first.InChannels(), last.OutChannels(), b.stride(), b.shortcut != nil)
}

func (b *residualBlock[B]) stride() int {
	s := 1
	for _, conv := range b.convs {
		s *= conv.Stride()
	}
	return s
}

// globalAvgPool averages each feature map to a single value, turning
// [N,C,H,W] into [N,C]. It is expressed as a convolution with a constant
// 1/(H*W) kernel over [N*C,1,H,W] so the tape differentiates it.
type globalAvgPool[B tensor.Backend] struct {
	backend B
	kernels map[[2]int]*tensor.Tensor[float32, B]
}

func newGlobalAvgPool[B tensor.Backend](backend B) *globalAvgPool[B] {
	return &globalAvgPool[B]{backend: backend, kernels: make(map[[2]int]*tensor.Tensor[float32, B])}
}

func (p *globalAvgPool[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	s := x.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]
	key := [2]int{h, w}
	kernel, ok := p.kernels[key]
	if !ok {
		kernel = tensor.Full[float32](tensor.Shape{1, 1, h, w}, 1/float32(h*w), p.backend)
		p.kernels[key] = kernel
	}
	planes := x.Reshape(n*c, 1, h, w)
	pooled := tensor.New[float32](p.backend.Conv2D(planes.Raw(), kernel.Raw(), 1, 0), p.backend)
	return pooled.Reshape(n, c)
}
