package training

import (
	"fmt"

	"github.com/driftworks/pimnet/tensor"
)

// Metric names reported during training and validation.
const (
	MetricTrainLoss = "train/loss"
	MetricTrainAcc  = "train/acc"
	MetricValLoss   = "val/loss"
	MetricValAcc    = "val/acc"
)

// MetricSink receives metric samples as they are produced. Implementations
// must tolerate being called from the training loop hot path.
type MetricSink interface {
	Record(name string, step int, value float64)
}

// Accuracy computes the fraction of predictions matching the Int32 target
// classes.
func Accuracy(preds []int, target *tensor.Tensor) (float64, error) {
	labels, err := target.GetInt32Data()
	if err != nil {
		return 0, err
	}
	if len(preds) != len(labels) {
		return 0, fmt.Errorf("got %d predictions for %d labels", len(preds), len(labels))
	}
	if len(preds) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	correct := 0
	for i, p := range preds {
		if int32(p) == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(preds)), nil
}

// ConfusionMatrix counts predictions per (true class, predicted class) pair.
// Row index is the true class, column index the predicted class.
func ConfusionMatrix(preds []int, target *tensor.Tensor, numClasses int) ([][]int, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("numClasses must be positive, got %d", numClasses)
	}
	labels, err := target.GetInt32Data()
	if err != nil {
		return nil, err
	}
	if len(preds) != len(labels) {
		return nil, fmt.Errorf("got %d predictions for %d labels", len(preds), len(labels))
	}
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	for i, p := range preds {
		l := int(labels[i])
		if l < 0 || l >= numClasses || p < 0 || p >= numClasses {
			return nil, fmt.Errorf("sample %d: class pair (%d, %d) out of range [0, %d)", i, l, p, numClasses)
		}
		matrix[l][p]++
	}
	return matrix, nil
}

// averageMeter tracks a running average weighted by sample count.
type averageMeter struct {
	sum   float64
	count int
}

func (m *averageMeter) add(value float64, n int) {
	m.sum += value * float64(n)
	m.count += n
}

func (m *averageMeter) average() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}
