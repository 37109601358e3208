package pim

import (
	"fmt"

	"github.com/driftworks/pimnet/nn"
	"github.com/driftworks/pimnet/tensor"
)

// FeaturePyramid projects every scale into a shared channel width and fuses
// scales top-down: each scale's tokens are adapted to the next-coarser
// scale's token count and added into it, walking from the last scale back
// to the first.
type FeaturePyramid struct {
	scales   []ScaleShape
	fpnSize  int
	projs    []*nn.Sequential
	adapters []nn.Module // adapters[i] maps scale i tokens onto scale i-1 tokens; index 0 unused
	training bool
}

// NewFeaturePyramid builds projection and token-adapter stages for the
// given ordered scales. fpnSize is the shared channel width.
func NewFeaturePyramid(scales []ScaleShape, fpnSize int) (*FeaturePyramid, error) {
	if len(scales) == 0 {
		return nil, fmt.Errorf("feature pyramid needs at least one scale")
	}
	if fpnSize <= 0 {
		return nil, fmt.Errorf("fpn size must be positive, got %d", fpnSize)
	}

	fp := &FeaturePyramid{
		scales:   append([]ScaleShape{}, scales...),
		fpnSize:  fpnSize,
		training: true,
	}

	for _, s := range scales {
		if s.Tokens <= 0 || s.Channels <= 0 {
			return nil, fmt.Errorf("scale %q has invalid shape %dx%d", s.Name, s.Tokens, s.Channels)
		}
		hidden, err := nn.NewLinear(s.Channels, s.Channels, true)
		if err != nil {
			return nil, fmt.Errorf("projection for scale %q: %w", s.Name, err)
		}
		out, err := nn.NewLinear(s.Channels, fpnSize, true)
		if err != nil {
			return nil, fmt.Errorf("projection for scale %q: %w", s.Name, err)
		}
		fp.projs = append(fp.projs, nn.NewSequential(hidden, nn.NewReLU(), out))
	}

	fp.adapters = append(fp.adapters, nn.NewIdentity())
	for i := 1; i < len(scales); i++ {
		if scales[i].Tokens == scales[i-1].Tokens {
			fp.adapters = append(fp.adapters, nn.NewIdentity())
			continue
		}
		// Tokens act as channels here: [batch, tokens, fpnSize] maps to
		// [batch, prevTokens, fpnSize] through a pointwise convolution.
		adapter, err := nn.NewConv1D(scales[i].Tokens, scales[i-1].Tokens, true)
		if err != nil {
			return nil, fmt.Errorf("adapter for scale %q: %w", scales[i].Name, err)
		}
		fp.adapters = append(fp.adapters, adapter)
	}
	return fp, nil
}

// Forward projects and fuses the raw backbone features. The result holds
// one [batch, tokens, fpnSize] tensor per scale under the original names.
func (fp *FeaturePyramid) Forward(features *FeatureMaps) (*FeatureMaps, error) {
	if err := fp.checkNames(features); err != nil {
		return nil, err
	}

	projected := make([]*tensor.Tensor, len(fp.scales))
	for i, s := range fp.scales {
		raw, _ := features.Get(s.Name)
		if raw.Shape[1] != s.Tokens || raw.Shape[2] != s.Channels {
			return nil, fmt.Errorf("scale %q expects [batch %d %d], got %v", s.Name, s.Tokens, s.Channels, raw.Shape)
		}
		p, err := fp.projs[i].Forward(raw)
		if err != nil {
			return nil, fmt.Errorf("projecting scale %q: %w", s.Name, err)
		}
		projected[i] = p
	}

	for i := len(fp.scales) - 1; i >= 1; i-- {
		adapted, err := fp.adapters[i].Forward(projected[i])
		if err != nil {
			return nil, fmt.Errorf("adapting scale %q: %w", fp.scales[i].Name, err)
		}
		fused, err := tensor.AddAutograd(projected[i-1], adapted)
		if err != nil {
			return nil, fmt.Errorf("fusing scale %q into %q: %w", fp.scales[i].Name, fp.scales[i-1].Name, err)
		}
		projected[i-1] = fused
	}

	out := NewFeatureMaps()
	for i, s := range fp.scales {
		out.Set(s.Name, projected[i])
	}
	return out, nil
}

func (fp *FeaturePyramid) checkNames(features *FeatureMaps) error {
	if features.Len() != len(fp.scales) {
		return fmt.Errorf("expected %d scales, got %d", len(fp.scales), features.Len())
	}
	for _, s := range fp.scales {
		if _, ok := features.Get(s.Name); !ok {
			return fmt.Errorf("missing scale %q", s.Name)
		}
	}
	return nil
}

func (fp *FeaturePyramid) Parameters() []*tensor.Tensor {
	return nn.CollectParameters(fp)
}

func (fp *FeaturePyramid) DirectParams() []nn.NamedParam { return nil }

func (fp *FeaturePyramid) Children() []nn.NamedChild {
	var children []nn.NamedChild
	for i, s := range fp.scales {
		children = append(children, nn.NamedChild{Name: "proj_" + s.Name, Node: fp.projs[i]})
	}
	for i := 1; i < len(fp.adapters); i++ {
		if node, ok := fp.adapters[i].(nn.ParamNode); ok {
			children = append(children, nn.NamedChild{Name: "adapter_" + fp.scales[i].Name, Node: node})
		}
	}
	return children
}

func (fp *FeaturePyramid) Train() {
	fp.training = true
	for _, p := range fp.projs {
		p.Train()
	}
	for _, a := range fp.adapters {
		a.Train()
	}
}

func (fp *FeaturePyramid) Eval() {
	fp.training = false
	for _, p := range fp.projs {
		p.Eval()
	}
	for _, a := range fp.adapters {
		a.Eval()
	}
}

func (fp *FeaturePyramid) IsTraining() bool { return fp.training }
