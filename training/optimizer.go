package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/driftworks/pimnet/tensor"
)

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate of the first group
	SetLR(lr float64) // Scales every group's learning rate to lr on the first group
}

// AdamW implements the AdamW optimizer with decoupled weight decay over
// parameter groups. Each group keeps its own learning rate and decay
// setting; first and second moment estimates are tracked per parameter.
type AdamW struct {
	groups  []ParamGroup
	beta1   float64
	beta2   float64
	epsilon float64
	step    int
	moments map[*tensor.Tensor]*adamState
	mutex   sync.Mutex
}

type adamState struct {
	m []float32
	v []float32
}

// AdamWConfig holds the moment estimation hyperparameters.
type AdamWConfig struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

// DefaultAdamWConfig returns the standard AdamW hyperparameters.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

// NewAdamW creates an AdamW optimizer over parameter groups.
func NewAdamW(groups []ParamGroup, cfg AdamWConfig) (*AdamW, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("optimizer needs at least one parameter group")
	}
	if cfg.Beta1 <= 0 || cfg.Beta1 >= 1 || cfg.Beta2 <= 0 || cfg.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must lie in (0, 1), got %v and %v", cfg.Beta1, cfg.Beta2)
	}
	if cfg.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %v", cfg.Epsilon)
	}
	return &AdamW{
		groups:  groups,
		beta1:   cfg.Beta1,
		beta2:   cfg.Beta2,
		epsilon: cfg.Epsilon,
		moments: make(map[*tensor.Tensor]*adamState),
	}, nil
}

// Step performs a single optimization step across all groups.
func (a *AdamW) Step() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.step++
	bc1 := 1 - math.Pow(a.beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.beta2, float64(a.step))

	for gi := range a.groups {
		g := &a.groups[gi]
		for _, param := range g.Params {
			if !param.RequiresGrad() || param.Grad() == nil {
				continue
			}
			gradData, err := param.Grad().GetFloat32Data()
			if err != nil {
				return fmt.Errorf("group %s: %w", g.Name, err)
			}
			paramData, err := param.GetFloat32Data()
			if err != nil {
				return fmt.Errorf("group %s: %w", g.Name, err)
			}

			state := a.moments[param]
			if state == nil {
				state = &adamState{
					m: make([]float32, len(paramData)),
					v: make([]float32, len(paramData)),
				}
				a.moments[param] = state
			}

			lr := g.LR
			for i := range paramData {
				grad := float64(gradData[i])
				state.m[i] = float32(a.beta1*float64(state.m[i]) + (1-a.beta1)*grad)
				state.v[i] = float32(a.beta2*float64(state.v[i]) + (1-a.beta2)*grad*grad)

				mHat := float64(state.m[i]) / bc1
				vHat := float64(state.v[i]) / bc2

				update := lr * mHat / (math.Sqrt(vHat) + a.epsilon)
				if g.WeightDecay > 0 {
					// Decoupled decay acts on the parameter directly.
					update += lr * g.WeightDecay * float64(paramData[i])
				}
				paramData[i] -= float32(update)
			}
		}
	}
	return nil
}

// ZeroGrad resets gradients of all parameters in all groups.
func (a *AdamW) ZeroGrad() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	for _, g := range a.groups {
		tensor.ZeroGrad(g.Params)
	}
}

// GetLR returns the current learning rate of the first group.
func (a *AdamW) GetLR() float64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.groups[0].LR
}

// SetLR rescales every group so the first group runs at lr, preserving the
// relative ratios between groups.
func (a *AdamW) SetLR(lr float64) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	base := a.groups[0].MaxLR
	if base == 0 {
		return
	}
	factor := lr / base
	for i := range a.groups {
		a.groups[i].LR = a.groups[i].MaxLR * factor
	}
}

// SetLRFactor sets every group's learning rate to factor times its MaxLR.
// Schedulers drive this once per step.
func (a *AdamW) SetLRFactor(factor float64) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	for i := range a.groups {
		a.groups[i].LR = a.groups[i].MaxLR * factor
	}
}

// Groups returns a snapshot of the current group settings.
func (a *AdamW) Groups() []ParamGroup {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	out := make([]ParamGroup, len(a.groups))
	copy(out, a.groups)
	return out
}
