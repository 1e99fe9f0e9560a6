// Package schedule holds per-epoch learning-rate schedules.
package schedule

import "math"

// Target receives learning-rate updates.
type Target interface {
	SetLR(lr float32)
}

// CosineAnnealing decays the learning rate from Base to Min along half a
// cosine wave over TMax steps. Past TMax the curve continues periodically.
type CosineAnnealing struct {
	Base   float64
	Min    float64
	TMax   int
	target Target
	epoch  int
}

// NewCosineAnnealing binds a schedule to target and sets its initial rate.
func NewCosineAnnealing(target Target, base, min float64, tMax int) *CosineAnnealing {
	s := &CosineAnnealing{Base: base, Min: min, TMax: tMax, target: target}
	if target != nil {
		target.SetLR(float32(s.LR()))
	}
	return s
}

// At returns the learning rate for step t.
func (s *CosineAnnealing) At(t int) float64 {
	if s.TMax <= 0 {
		return s.Base
	}
	return s.Min + (s.Base-s.Min)*(1+math.Cos(math.Pi*float64(t)/float64(s.TMax)))/2
}

// LR returns the learning rate for the current step.
func (s *CosineAnnealing) LR() float64 { return s.At(s.epoch) }

// Epoch returns how many times Step has been called.
func (s *CosineAnnealing) Epoch() int { return s.epoch }

// Step advances the schedule and pushes the new rate to the target.
func (s *CosineAnnealing) Step() {
	s.epoch++
	if s.target != nil {
		s.target.SetLR(float32(s.LR()))
	}
}
