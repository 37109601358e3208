package nn

import (
	"fmt"

	"github.com/driftworks/pimnet/tensor"
)

// ReLU applies the rectified linear activation elementwise.
type ReLU struct {
	training bool
}

func NewReLU() *ReLU {
	return &ReLU{training: true}
}

func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReLUAutograd(input)
}

func (r *ReLU) Parameters() []*tensor.Tensor { return nil }
func (r *ReLU) DirectParams() []NamedParam   { return nil }
func (r *ReLU) Children() []NamedChild       { return nil }
func (r *ReLU) Train()                       { r.training = true }
func (r *ReLU) Eval()                        { r.training = false }
func (r *ReLU) IsTraining() bool             { return r.training }

// Tanh applies the hyperbolic tangent activation elementwise.
type Tanh struct {
	training bool
}

func NewTanh() *Tanh {
	return &Tanh{training: true}
}

func (t *Tanh) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.TanhAutograd(input)
}

func (t *Tanh) Parameters() []*tensor.Tensor { return nil }
func (t *Tanh) DirectParams() []NamedParam   { return nil }
func (t *Tanh) Children() []NamedChild       { return nil }
func (t *Tanh) Train()                       { t.training = true }
func (t *Tanh) Eval()                        { t.training = false }
func (t *Tanh) IsTraining() bool             { return t.training }

// Identity passes its input through unchanged. It stands in for optional
// stages so module shapes stay uniform.
type Identity struct {
	training bool
}

func NewIdentity() *Identity {
	return &Identity{training: true}
}

func (id *Identity) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return input, nil
}

func (id *Identity) Parameters() []*tensor.Tensor { return nil }
func (id *Identity) DirectParams() []NamedParam   { return nil }
func (id *Identity) Children() []NamedChild       { return nil }
func (id *Identity) Train()                       { id.training = true }
func (id *Identity) Eval()                        { id.training = false }
func (id *Identity) IsTraining() bool             { return id.training }

// Dropout zeroes activations with probability rate during training and
// rescales the survivors by 1/(1-rate). Evaluation mode is a passthrough.
type Dropout struct {
	rate     float64
	training bool
}

func NewDropout(rate float64) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0, 1), got %v", rate)
	}
	return &Dropout{rate: rate, training: true}, nil
}

func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.rate == 0 {
		return input, nil
	}

	scale := float32(1 / (1 - d.rate))
	maskData := make([]float32, input.NumElems)
	for i := range maskData {
		if globalRng.Float64() >= d.rate {
			maskData[i] = scale
		}
	}
	mask, err := tensor.NewTensor(input.Shape, tensor.Float32, maskData)
	if err != nil {
		return nil, err
	}
	return tensor.MulAutograd(input, mask)
}

func (d *Dropout) Parameters() []*tensor.Tensor { return nil }
func (d *Dropout) DirectParams() []NamedParam   { return nil }
func (d *Dropout) Children() []NamedChild       { return nil }
func (d *Dropout) Train()                       { d.training = true }
func (d *Dropout) Eval()                        { d.training = false }
func (d *Dropout) IsTraining() bool             { return d.training }
