package pim

import (
	"fmt"

	"github.com/driftworks/pimnet/tensor"
)

// Selection carries the selector outputs: the chosen features per scale
// for the combiner, plus ordered per-scale lists of the chosen and
// discarded token logits. Selects[i] and Drops[i] belong to the i-th
// scale processed; a Drops entry is nil when that scale dropped nothing.
type Selection struct {
	Features *FeatureMaps     // per-scale [batch, numSelect, channels]
	Selects  []*tensor.Tensor // per scale [batch, numSelect, numClasses]
	Drops    []*tensor.Tensor // per scale [batch, tokens-numSelect, numClasses]
}

// Selector ranks each scale's tokens by peak class confidence and keeps
// the top numSelect of them. Confidence is the maximum softmax probability
// of the token's logits; ties keep the earlier token.
type Selector struct {
	scales     []string
	numSelects map[string]int
}

// NewSelector configures per-scale selection counts. Every scale name must
// have a positive count.
func NewSelector(scaleNames []string, numSelects map[string]int) (*Selector, error) {
	if len(numSelects) != len(scaleNames) {
		return nil, fmt.Errorf("numSelects has %d entries for %d scales", len(numSelects), len(scaleNames))
	}
	for _, name := range scaleNames {
		k, ok := numSelects[name]
		if !ok {
			return nil, fmt.Errorf("no selection count for scale %q", name)
		}
		if k <= 0 {
			return nil, fmt.Errorf("selection count for scale %q must be positive, got %d", name, k)
		}
	}
	counts := make(map[string]int, len(numSelects))
	for name, k := range numSelects {
		counts[name] = k
	}
	return &Selector{
		scales:     append([]string{}, scaleNames...),
		numSelects: counts,
	}, nil
}

// Forward selects tokens per scale. features holds the fused pyramid
// outputs and logits the per-token class predictions, under identical
// scale names.
func (s *Selector) Forward(features, logits *FeatureMaps) (*Selection, error) {
	sel := &Selection{Features: NewFeatureMaps()}

	for _, name := range s.scales {
		feat, ok := features.Get(name)
		if !ok {
			return nil, fmt.Errorf("missing features for scale %q", name)
		}
		logit, ok := logits.Get(name)
		if !ok {
			return nil, fmt.Errorf("missing logits for scale %q", name)
		}

		batch, tokens := feat.Shape[0], feat.Shape[1]
		k := s.numSelects[name]
		if k > tokens {
			return nil, fmt.Errorf("scale %q: cannot select %d of %d tokens", name, k, tokens)
		}
		if logit.Shape[0] != batch || logit.Shape[1] != tokens {
			return nil, fmt.Errorf("scale %q: logits %v do not match features %v", name, logit.Shape, feat.Shape)
		}

		probs, err := tensor.Softmax(logit)
		if err != nil {
			return nil, fmt.Errorf("scale %q: %w", name, err)
		}
		scores, err := tensor.MaxLastDim(probs)
		if err != nil {
			return nil, fmt.Errorf("scale %q: %w", name, err)
		}
		ranked, err := tensor.ArgsortDescending(scores)
		if err != nil {
			return nil, fmt.Errorf("scale %q: %w", name, err)
		}

		topIdx, restIdx, err := splitRanking(ranked, batch, tokens, k)
		if err != nil {
			return nil, fmt.Errorf("scale %q: %w", name, err)
		}

		selFeat, err := tensor.GatherAutograd(feat, topIdx)
		if err != nil {
			return nil, fmt.Errorf("scale %q: gathering features: %w", name, err)
		}
		selLogit, err := tensor.GatherAutograd(logit, topIdx)
		if err != nil {
			return nil, fmt.Errorf("scale %q: gathering logits: %w", name, err)
		}

		sel.Features.Set(name, selFeat)
		sel.Selects = append(sel.Selects, selLogit)

		var dropLogit *tensor.Tensor
		if restIdx != nil {
			dropLogit, err = tensor.GatherAutograd(logit, restIdx)
			if err != nil {
				return nil, fmt.Errorf("scale %q: gathering dropped logits: %w", name, err)
			}
		}
		sel.Drops = append(sel.Drops, dropLogit)
	}
	return sel, nil
}

// TotalSelected returns the summed selection count across scales.
func (s *Selector) TotalSelected() int {
	total := 0
	for _, k := range s.numSelects {
		total += k
	}
	return total
}

// splitRanking splits a [batch, tokens] ranking into the first k indices
// and the remainder, as gather-ready index tensors.
func splitRanking(ranked *tensor.Tensor, batch, tokens, k int) (top, rest *tensor.Tensor, err error) {
	data, err := ranked.GetInt32Data()
	if err != nil {
		return nil, nil, err
	}

	topData := make([]int32, batch*k)
	for b := 0; b < batch; b++ {
		copy(topData[b*k:(b+1)*k], data[b*tokens:b*tokens+k])
	}
	top, err = tensor.NewTensor([]int{batch, k}, tensor.Int32, topData)
	if err != nil {
		return nil, nil, err
	}

	if k == tokens {
		return top, nil, nil
	}
	restWidth := tokens - k
	restData := make([]int32, batch*restWidth)
	for b := 0; b < batch; b++ {
		copy(restData[b*restWidth:(b+1)*restWidth], data[b*tokens+k:(b+1)*tokens])
	}
	rest, err = tensor.NewTensor([]int{batch, restWidth}, tensor.Int32, restData)
	if err != nil {
		return nil, nil, err
	}
	return top, rest, nil
}
