package pim

import (
	"fmt"

	"github.com/driftworks/pimnet/nn"
	"github.com/driftworks/pimnet/tensor"
)

// ScaleClassifier predicts class logits for every token of every scale.
// Each scale owns a convolutional head over the shared pyramid width:
// Conv1D(fpn, fpn), BatchNorm1d, ReLU, Conv1D(fpn, numClasses), applied
// in [batch, channels, tokens] layout.
type ScaleClassifier struct {
	scales     []string
	heads      []*nn.Sequential
	numClasses int
	training   bool
}

// NewScaleClassifier builds one head per scale mapping fpnSize to numClasses.
func NewScaleClassifier(scaleNames []string, fpnSize, numClasses int) (*ScaleClassifier, error) {
	if numClasses <= 1 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", numClasses)
	}
	sc := &ScaleClassifier{
		scales:     append([]string{}, scaleNames...),
		numClasses: numClasses,
		training:   true,
	}
	for _, name := range scaleNames {
		hidden, err := nn.NewConv1D(fpnSize, fpnSize, true)
		if err != nil {
			return nil, fmt.Errorf("head for scale %q: %w", name, err)
		}
		norm, err := nn.NewBatchNorm1D(fpnSize)
		if err != nil {
			return nil, fmt.Errorf("head for scale %q: %w", name, err)
		}
		out, err := nn.NewConv1D(fpnSize, numClasses, true)
		if err != nil {
			return nil, fmt.Errorf("head for scale %q: %w", name, err)
		}
		sc.heads = append(sc.heads, nn.NewSequential(hidden, norm, nn.NewReLU(), out))
	}
	return sc, nil
}

// Forward maps each scale's [batch, tokens, fpnSize] features to
// [batch, tokens, numClasses] logits under the same names.
func (sc *ScaleClassifier) Forward(features *FeatureMaps) (*FeatureMaps, error) {
	out := NewFeatureMaps()
	for i, name := range sc.scales {
		feat, ok := features.Get(name)
		if !ok {
			return nil, fmt.Errorf("missing scale %q", name)
		}
		chanFirst, err := tensor.TransposeAutograd(feat, 1, 2)
		if err != nil {
			return nil, fmt.Errorf("classifying scale %q: %w", name, err)
		}
		logits, err := sc.heads[i].Forward(chanFirst)
		if err != nil {
			return nil, fmt.Errorf("classifying scale %q: %w", name, err)
		}
		logits, err = tensor.TransposeAutograd(logits, 1, 2)
		if err != nil {
			return nil, fmt.Errorf("classifying scale %q: %w", name, err)
		}
		out.Set(name, logits)
	}
	return out, nil
}

func (sc *ScaleClassifier) Parameters() []*tensor.Tensor {
	return nn.CollectParameters(sc)
}

func (sc *ScaleClassifier) DirectParams() []nn.NamedParam { return nil }

func (sc *ScaleClassifier) Children() []nn.NamedChild {
	var children []nn.NamedChild
	for i, name := range sc.scales {
		children = append(children, nn.NamedChild{Name: "head_" + name, Node: sc.heads[i]})
	}
	return children
}

func (sc *ScaleClassifier) Train() {
	sc.training = true
	for _, h := range sc.heads {
		h.Train()
	}
}

func (sc *ScaleClassifier) Eval() {
	sc.training = false
	for _, h := range sc.heads {
		h.Eval()
	}
}

func (sc *ScaleClassifier) IsTraining() bool { return sc.training }
