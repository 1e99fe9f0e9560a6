package trainer

import (
	"fmt"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"

	"resnet-forge/internal/dataset"
	"resnet-forge/internal/model"
	"resnet-forge/internal/optimizer"
)

// Mode tells a Step whether it updates parameters.
type Mode int

const (
	ModeTrain Mode = iota
	ModeEval
)

func (m Mode) String() string {
	if m == ModeTrain {
		return "train"
	}
	return "eval"
}

// Backend is a born backend that records operations on a gradient tape.
type Backend interface {
	tensor.Backend
	Tape() *autodiff.GradientTape
}

// Criterion computes a scalar loss from logits and integer targets.
type Criterion[B tensor.Backend] interface {
	Forward(logits *tensor.Tensor[float32, B], targets *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B]
}

// Optimizer updates parameters from tape gradients.
type Optimizer interface {
	ZeroGrad()
	Step(grads optimizer.Gradients)
}

// StepOutput is what a single batch contributes to the epoch metrics.
type StepOutput struct {
	Loss   float64
	Scores []float32
	Labels []int32
}

// Step processes one batch.
type Step interface {
	Mode() Mode
	Run(batch dataset.Batch) (StepOutput, error)
}

// NewStep returns a TrainStep when opt is non-nil and an EvalStep otherwise.
// opt must be an untyped nil to select evaluation.
func NewStep[B Backend](net model.Network[B], criterion Criterion[B], backend B, opt Optimizer) Step {
	if opt == nil {
		return &EvalStep[B]{net: net, criterion: criterion, backend: backend}
	}
	return &TrainStep[B]{net: net, criterion: criterion, backend: backend, opt: opt}
}

// TrainStep runs forward, backward and an optimizer update.
type TrainStep[B Backend] struct {
	net       model.Network[B]
	criterion Criterion[B]
	backend   B
	opt       Optimizer
}

// Mode implements Step.
func (s *TrainStep[B]) Mode() Mode { return ModeTrain }

// Run implements Step.
func (s *TrainStep[B]) Run(batch dataset.Batch) (StepOutput, error) {
	inputs, targets, err := model.ToTensors(batch, s.backend)
	if err != nil {
		return StepOutput{}, err
	}

	tape := s.backend.Tape()
	if !tape.IsRecording() {
		tape.StartRecording()
	}
	defer tape.Clear()

	s.opt.ZeroGrad()
	logits := s.net.Forward(inputs)
	loss := s.criterion.Forward(logits, targets)

	outputGrad, err := tensor.NewRaw(loss.Shape(), loss.DType(), s.backend.Device())
	if err != nil {
		return StepOutput{}, fmt.Errorf("loss gradient: %w", err)
	}
	seed := outputGrad.AsFloat32()
	for i := range seed {
		seed[i] = 1
	}
	grads := tape.Backward(outputGrad, s.backend)
	s.opt.Step(grads)

	return StepOutput{
		Loss:   float64(loss.Raw().AsFloat32()[0]),
		Scores: logits.Raw().AsFloat32(),
		Labels: batch.Labels,
	}, nil
}

// EvalStep runs forward and loss with the tape stopped.
type EvalStep[B Backend] struct {
	net       model.Network[B]
	criterion Criterion[B]
	backend   B
}

// Mode implements Step.
func (s *EvalStep[B]) Mode() Mode { return ModeEval }

// Run implements Step.
func (s *EvalStep[B]) Run(batch dataset.Batch) (StepOutput, error) {
	inputs, targets, err := model.ToTensors(batch, s.backend)
	if err != nil {
		return StepOutput{}, err
	}

	tape := s.backend.Tape()
	if tape.IsRecording() {
		tape.StopRecording()
		defer tape.StartRecording()
	}

	logits := s.net.Forward(inputs)
	loss := s.criterion.Forward(logits, targets)
	return StepOutput{
		Loss:   float64(loss.Raw().AsFloat32()[0]),
		Scores: logits.Raw().AsFloat32(),
		Labels: batch.Labels,
	}, nil
}
