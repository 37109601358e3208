package training

import (
	"fmt"
	"math"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// GetLR maps the training position onto a multiplier of a group's peak
// learning rate.
type LRScheduler interface {
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// OneCycleScheduler implements the one-cycle policy: the learning rate
// warms up linearly to its peak over the first pctStart fraction of
// training, then anneals to nearly zero along a cosine curve. The step
// argument is the global step; the epoch argument is unused.
type OneCycleScheduler struct {
	totalSteps  int
	pctStart    float64
	divFactor   float64
	finalFactor float64
}

// NewOneCycleScheduler creates a one-cycle schedule over totalSteps global
// steps with a warmup fraction of pctStart.
func NewOneCycleScheduler(totalSteps int, pctStart float64) (*OneCycleScheduler, error) {
	if totalSteps <= 0 {
		return nil, fmt.Errorf("total steps must be positive, got %d", totalSteps)
	}
	if pctStart <= 0 || pctStart >= 1 {
		return nil, fmt.Errorf("warmup fraction must lie in (0, 1), got %v", pctStart)
	}
	return &OneCycleScheduler{
		totalSteps:  totalSteps,
		pctStart:    pctStart,
		divFactor:   25,
		finalFactor: 1e4,
	}, nil
}

func (s *OneCycleScheduler) GetLR(_ int, step int, baseLR float64) float64 {
	if step < 0 {
		step = 0
	}
	if step > s.totalSteps {
		step = s.totalSteps
	}

	warmupSteps := s.pctStart * float64(s.totalSteps)
	initialLR := baseLR / s.divFactor
	finalLR := initialLR / s.finalFactor

	if float64(step) < warmupSteps {
		t := float64(step) / warmupSteps
		return initialLR + (baseLR-initialLR)*t
	}
	t := (float64(step) - warmupSteps) / (float64(s.totalSteps) - warmupSteps)
	return finalLR + (baseLR-finalLR)*(1+math.Cos(math.Pi*t))/2
}

func (s *OneCycleScheduler) GetName() string {
	return "OneCycle"
}

// TotalSteps returns the schedule length.
func (s *OneCycleScheduler) TotalSteps() int { return s.totalSteps }

// StepLRScheduler decays the learning rate by gamma every stepSize epochs
type StepLRScheduler struct {
	stepSize int
	gamma    float64
}

// NewStepLRScheduler creates a step decay scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	return &StepLRScheduler{stepSize: stepSize, gamma: gamma}
}

func (s *StepLRScheduler) GetLR(epoch int, _ int, baseLR float64) float64 {
	return baseLR * math.Pow(s.gamma, float64(epoch/s.stepSize))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// CosineAnnealingLRScheduler anneals the learning rate along a cosine
// curve from baseLR to etaMin over tMax epochs
type CosineAnnealingLRScheduler struct {
	tMax   int
	etaMin float64
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	return &CosineAnnealingLRScheduler{tMax: tMax, etaMin: etaMin}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, _ int, baseLR float64) float64 {
	if epoch >= s.tMax {
		return s.etaMin
	}
	return s.etaMin + (baseLR-s.etaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.tMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealing"
}

// NoOpScheduler keeps the learning rate constant
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(_ int, _ int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "NoOp"
}
