package training

import (
	"fmt"
	"math/rand"

	"github.com/driftworks/pimnet/tensor"
)

// Batch pairs an input tensor with its Int32 class labels.
type Batch struct {
	Inputs *tensor.Tensor
	Labels *tensor.Tensor
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	return b.Inputs.Shape[0]
}

// InMemoryDataset holds classification samples as flat float vectors with
// a shared per-sample shape.
type InMemoryDataset struct {
	sampleShape []int
	sampleSize  int
	samples     [][]float32
	labels      []int32
}

// NewInMemoryDataset creates an empty dataset of samples shaped sampleShape.
func NewInMemoryDataset(sampleShape []int) (*InMemoryDataset, error) {
	size := 1
	for _, d := range sampleShape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid sample shape %v", sampleShape)
		}
		size *= d
	}
	return &InMemoryDataset{
		sampleShape: append([]int{}, sampleShape...),
		sampleSize:  size,
	}, nil
}

// Add appends one sample with its class label.
func (d *InMemoryDataset) Add(sample []float32, label int32) error {
	if len(sample) != d.sampleSize {
		return fmt.Errorf("sample has %d values, expected %d", len(sample), d.sampleSize)
	}
	if label < 0 {
		return fmt.Errorf("label must not be negative, got %d", label)
	}
	d.samples = append(d.samples, sample)
	d.labels = append(d.labels, label)
	return nil
}

// Len returns the number of samples.
func (d *InMemoryDataset) Len() int {
	return len(d.samples)
}

// Batches stacks the dataset into batches of batchSize, dropping a trailing
// partial batch. With a non-nil rng the sample order is shuffled first.
func (d *InMemoryDataset) Batches(batchSize int, rng *rand.Rand) ([]Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if len(d.samples) < batchSize {
		return nil, fmt.Errorf("dataset has %d samples, need at least %d", len(d.samples), batchSize)
	}

	order := make([]int, len(d.samples))
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	numBatches := len(d.samples) / batchSize
	batches := make([]Batch, 0, numBatches)
	batchShape := append([]int{batchSize}, d.sampleShape...)

	for b := 0; b < numBatches; b++ {
		inputData := make([]float32, batchSize*d.sampleSize)
		labelData := make([]int32, batchSize)
		for i := 0; i < batchSize; i++ {
			idx := order[b*batchSize+i]
			copy(inputData[i*d.sampleSize:(i+1)*d.sampleSize], d.samples[idx])
			labelData[i] = d.labels[idx]
		}
		inputs, err := tensor.NewTensor(batchShape, tensor.Float32, inputData)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", b, err)
		}
		labels, err := tensor.NewTensor([]int{batchSize}, tensor.Int32, labelData)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", b, err)
		}
		batches = append(batches, Batch{Inputs: inputs, Labels: labels})
	}
	return batches, nil
}
