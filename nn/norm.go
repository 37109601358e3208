package nn

import (
	"fmt"
	"math"

	"github.com/driftworks/pimnet/tensor"
)

// BatchNorm1D normalizes [batch, channels, length] inputs per channel.
// During training the batch statistics normalize the input and update the
// running estimates; during evaluation the running estimates are used.
// The statistics are treated as constants in the backward pass, so
// gradients flow through the normalization and the affine transform but
// not through the mean and variance themselves.
type BatchNorm1D struct {
	gamma       *tensor.Tensor
	beta        *tensor.Tensor
	runningMean []float32
	runningVar  []float32
	numChannels int
	momentum    float32
	eps         float32
	training    bool
}

// NewBatchNorm1D creates a batch normalization layer over numChannels channels.
func NewBatchNorm1D(numChannels int) (*BatchNorm1D, error) {
	gamma, err := tensor.Ones([]int{numChannels}, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to create gamma tensor: %w", err)
	}
	gamma.SetRequiresGrad(true)

	beta, err := tensor.Zeros([]int{numChannels}, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to create beta tensor: %w", err)
	}
	beta.SetRequiresGrad(true)

	runningVar := make([]float32, numChannels)
	for i := range runningVar {
		runningVar[i] = 1
	}

	return &BatchNorm1D{
		gamma:       gamma,
		beta:        beta,
		runningMean: make([]float32, numChannels),
		runningVar:  runningVar,
		numChannels: numChannels,
		momentum:    0.1,
		eps:         1e-5,
		training:    true,
	}, nil
}

func (bn *BatchNorm1D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 3 {
		return nil, fmt.Errorf("BatchNorm1D expects [batch, channels, length], got %v", input.Shape)
	}
	if input.Shape[1] != bn.numChannels {
		return nil, fmt.Errorf("BatchNorm1D configured for %d channels, got %d", bn.numChannels, input.Shape[1])
	}

	batch, channels, length := input.Shape[0], input.Shape[1], input.Shape[2]
	mean := make([]float32, channels)
	variance := make([]float32, channels)

	if bn.training {
		data, err := input.GetFloat32Data()
		if err != nil {
			return nil, err
		}
		n := float32(batch * length)
		for c := 0; c < channels; c++ {
			var sum float32
			for b := 0; b < batch; b++ {
				off := (b*channels + c) * length
				for l := 0; l < length; l++ {
					sum += data[off+l]
				}
			}
			mean[c] = sum / n
		}
		for c := 0; c < channels; c++ {
			var sum float32
			for b := 0; b < batch; b++ {
				off := (b*channels + c) * length
				for l := 0; l < length; l++ {
					d := data[off+l] - mean[c]
					sum += d * d
				}
			}
			variance[c] = sum / n
		}
		for c := 0; c < channels; c++ {
			bn.runningMean[c] = (1-bn.momentum)*bn.runningMean[c] + bn.momentum*mean[c]
			bn.runningVar[c] = (1-bn.momentum)*bn.runningVar[c] + bn.momentum*variance[c]
		}
	} else {
		copy(mean, bn.runningMean)
		copy(variance, bn.runningVar)
	}

	negMean := make([]float32, channels)
	invStd := make([]float32, channels)
	for c := 0; c < channels; c++ {
		negMean[c] = -mean[c]
		invStd[c] = 1 / float32(math.Sqrt(float64(variance[c]+bn.eps)))
	}

	negMeanT, err := tensor.NewTensor([]int{1, channels, 1}, tensor.Float32, negMean)
	if err != nil {
		return nil, err
	}
	invStdT, err := tensor.NewTensor([]int{1, channels, 1}, tensor.Float32, invStd)
	if err != nil {
		return nil, err
	}

	centered, err := tensor.AddAutograd(input, negMeanT)
	if err != nil {
		return nil, err
	}
	normalized, err := tensor.MulAutograd(centered, invStdT)
	if err != nil {
		return nil, err
	}

	gammaCol, err := tensor.ReshapeAutograd(bn.gamma, []int{1, channels, 1})
	if err != nil {
		return nil, err
	}
	betaCol, err := tensor.ReshapeAutograd(bn.beta, []int{1, channels, 1})
	if err != nil {
		return nil, err
	}
	scaled, err := tensor.MulAutograd(normalized, gammaCol)
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(scaled, betaCol)
}

func (bn *BatchNorm1D) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{bn.gamma, bn.beta}
}

func (bn *BatchNorm1D) DirectParams() []NamedParam {
	return []NamedParam{
		{Name: "gamma", Tensor: bn.gamma},
		{Name: "beta", Tensor: bn.beta},
	}
}

func (bn *BatchNorm1D) Children() []NamedChild { return nil }

func (bn *BatchNorm1D) Train()           { bn.training = true }
func (bn *BatchNorm1D) Eval()            { bn.training = false }
func (bn *BatchNorm1D) IsTraining() bool { return bn.training }

// RunningStats returns copies of the running mean and variance.
func (bn *BatchNorm1D) RunningStats() (mean, variance []float32) {
	mean = append([]float32{}, bn.runningMean...)
	variance = append([]float32{}, bn.runningVar...)
	return mean, variance
}
