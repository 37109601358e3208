package nn

import (
	"fmt"

	"github.com/driftworks/pimnet/tensor"
)

// Linear implements a fully connected layer: y = xW + b, applied over the
// trailing dimension of the input.
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a new Linear layer with Xavier uniform weights.
func NewLinear(inputSize, outputSize int, bias bool) (*Linear, error) {
	weight, err := tensor.XavierUniform(inputSize, outputSize, []int{inputSize, outputSize}, globalRng)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outputSize}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %w", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}
	return linear, nil
}

func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.LinearAutograd(input, l.weight, l.bias)
}

func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) DirectParams() []NamedParam {
	params := []NamedParam{{Name: "weight", Tensor: l.weight}}
	if l.bias != nil {
		params = append(params, NamedParam{Name: "bias", Tensor: l.bias})
	}
	return params
}

func (l *Linear) Children() []NamedChild { return nil }

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }

// InFeatures returns the input width of the layer.
func (l *Linear) InFeatures() int { return l.weight.Shape[0] }

// OutFeatures returns the output width of the layer.
func (l *Linear) OutFeatures() int { return l.weight.Shape[1] }

// Conv1D implements a pointwise (kernel size 1) 1D convolution over
// [batch, channels, length] inputs. It is the channel-mixing analogue of
// Linear for sequence-shaped tensors.
type Conv1D struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewConv1D creates a pointwise convolution mapping inChannels to outChannels.
func NewConv1D(inChannels, outChannels int, bias bool) (*Conv1D, error) {
	weight, err := tensor.XavierUniform(inChannels, outChannels, []int{outChannels, inChannels}, globalRng)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	weight.SetRequiresGrad(true)

	conv := &Conv1D{
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outChannels}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %w", err)
		}
		biasT.SetRequiresGrad(true)
		conv.bias = biasT
	}
	return conv, nil
}

func (c *Conv1D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Conv1x1Autograd(input, c.weight, c.bias)
}

func (c *Conv1D) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{c.weight}
	if c.bias != nil {
		params = append(params, c.bias)
	}
	return params
}

func (c *Conv1D) DirectParams() []NamedParam {
	params := []NamedParam{{Name: "weight", Tensor: c.weight}}
	if c.bias != nil {
		params = append(params, NamedParam{Name: "bias", Tensor: c.bias})
	}
	return params
}

func (c *Conv1D) Children() []NamedChild { return nil }

func (c *Conv1D) Train()           { c.training = true }
func (c *Conv1D) Eval()            { c.training = false }
func (c *Conv1D) IsTraining() bool { return c.training }

// InChannels returns the input channel count.
func (c *Conv1D) InChannels() int { return c.weight.Shape[1] }

// OutChannels returns the output channel count.
func (c *Conv1D) OutChannels() int { return c.weight.Shape[0] }
