package pim

import (
	"fmt"

	"github.com/driftworks/pimnet/nn"
	"github.com/driftworks/pimnet/tensor"
)

// Backbone produces the multi-scale token features the pipeline consumes.
type Backbone interface {
	nn.ParamNode
	Forward(x *tensor.Tensor) (*FeatureMaps, error)
	Scales() []ScaleShape
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}

// Config holds the pipeline hyperparameters.
type Config struct {
	FPNSize    int
	NumClasses int
	NumSelects map[string]int // per-scale selection counts
	DropRate   float64
}

// LossWeights weight the three objective terms.
type LossWeights struct {
	Scale    float64 // cross-entropy on the token-averaged per-scale logits
	Combined float64 // cross-entropy on the combiner output
	Drop     float64 // tanh regression of dropped logits toward -1
}

// DefaultLossWeights returns the standard objective weighting.
func DefaultLossWeights() LossWeights {
	return LossWeights{Scale: 0.5, Combined: 1.0, Drop: 5.0}
}

// Output bundles every prediction head of a forward pass. Selects[i] and
// Drops[i] hold the i-th scale's chosen and discarded token logits, in
// scale order; a Drops entry is nil when that scale kept every token.
type Output struct {
	ScaleLogits *FeatureMaps     // per-scale [batch, tokens, numClasses]
	Selects     []*tensor.Tensor // per scale [batch, numSelect, numClasses]
	Drops       []*tensor.Tensor // per scale [batch, tokens-numSelect, numClasses]
	Select      *tensor.Tensor   // Selects concatenated, [batch, totalSelected, numClasses]
	Drop        *tensor.Tensor   // Drops concatenated, nil when every token was selected
	Combined    *tensor.Tensor   // [batch, numClasses]
}

// Map flattens the output into named logit tensors: one entry per scale
// plus "select", "drop" and "combined".
func (o *Output) Map() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	for _, name := range o.ScaleLogits.Names() {
		t, _ := o.ScaleLogits.Get(name)
		out[name] = t
	}
	out["select"] = o.Select
	if o.Drop != nil {
		out["drop"] = o.Drop
	}
	out["combined"] = o.Combined
	return out
}

// Pipeline is the full classification model: backbone, feature pyramid,
// per-scale classifiers, token selector and graph combiner.
type Pipeline struct {
	backbone   Backbone
	pyramid    *FeaturePyramid
	classifier *ScaleClassifier
	selector   *Selector
	combiner   *Combiner
	numClasses int
	training   bool
}

// NewPipeline assembles the model around a backbone.
func NewPipeline(backbone Backbone, cfg Config) (*Pipeline, error) {
	scales := backbone.Scales()
	if len(scales) == 0 {
		return nil, fmt.Errorf("backbone exposes no scales")
	}
	names := make([]string, len(scales))
	for i, s := range scales {
		names[i] = s.Name
	}

	pyramid, err := NewFeaturePyramid(scales, cfg.FPNSize)
	if err != nil {
		return nil, fmt.Errorf("building feature pyramid: %w", err)
	}
	classifier, err := NewScaleClassifier(names, cfg.FPNSize, cfg.NumClasses)
	if err != nil {
		return nil, fmt.Errorf("building scale classifier: %w", err)
	}
	selector, err := NewSelector(names, cfg.NumSelects)
	if err != nil {
		return nil, fmt.Errorf("building selector: %w", err)
	}
	combiner, err := NewCombiner(selector.TotalSelected(), cfg.FPNSize, cfg.NumClasses, cfg.DropRate)
	if err != nil {
		return nil, fmt.Errorf("building combiner: %w", err)
	}

	return &Pipeline{
		backbone:   backbone,
		pyramid:    pyramid,
		classifier: classifier,
		selector:   selector,
		combiner:   combiner,
		numClasses: cfg.NumClasses,
		training:   true,
	}, nil
}

// Forward runs the full model on an input batch.
func (p *Pipeline) Forward(x *tensor.Tensor) (*Output, error) {
	raw, err := p.backbone.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("backbone output: %w", err)
	}

	fused, err := p.pyramid.Forward(raw)
	if err != nil {
		return nil, fmt.Errorf("feature pyramid: %w", err)
	}
	logits, err := p.classifier.Forward(fused)
	if err != nil {
		return nil, fmt.Errorf("scale classifier: %w", err)
	}
	selection, err := p.selector.Forward(fused, logits)
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}
	combined, err := p.combiner.Forward(selection.Features)
	if err != nil {
		return nil, fmt.Errorf("combiner: %w", err)
	}

	selectAll, err := tensor.ConcatAutograd(selection.Selects, 1)
	if err != nil {
		return nil, fmt.Errorf("pooling selected logits: %w", err)
	}
	var dropAll *tensor.Tensor
	var dropped []*tensor.Tensor
	for _, d := range selection.Drops {
		if d != nil {
			dropped = append(dropped, d)
		}
	}
	if len(dropped) > 0 {
		dropAll, err = tensor.ConcatAutograd(dropped, 1)
		if err != nil {
			return nil, fmt.Errorf("pooling dropped logits: %w", err)
		}
	}

	return &Output{
		ScaleLogits: logits,
		Selects:     selection.Selects,
		Drops:       selection.Drops,
		Select:      selectAll,
		Drop:        dropAll,
		Combined:    combined,
	}, nil
}

// Loss computes the weighted training objective against Int32 class
// targets [batch].
func (p *Pipeline) Loss(out *Output, target *tensor.Tensor, w LossWeights) (*tensor.Tensor, error) {
	total, err := tensor.Zeros([]int{1}, tensor.Float32)
	if err != nil {
		return nil, err
	}

	for _, name := range out.ScaleLogits.Names() {
		logits, _ := out.ScaleLogits.Get(name)
		avg, err := tensor.MeanAutograd(logits, 1)
		if err != nil {
			return nil, fmt.Errorf("scale %q: %w", name, err)
		}
		ce, err := tensor.CrossEntropyAutograd(avg, target)
		if err != nil {
			return nil, fmt.Errorf("scale %q: %w", name, err)
		}
		weighted, err := tensor.ScaleAutograd(ce, w.Scale)
		if err != nil {
			return nil, err
		}
		total, err = tensor.AddAutograd(total, weighted)
		if err != nil {
			return nil, err
		}
	}

	if w.Drop != 0 {
		// Each scale's dropped tokens regress toward the rejected state;
		// the per-scale means are summed, not averaged together.
		for i, dropped := range out.Drops {
			if dropped == nil {
				continue
			}
			drop, err := tensor.TanhMSEAutograd(dropped, -1)
			if err != nil {
				return nil, fmt.Errorf("drop term %d: %w", i, err)
			}
			weighted, err := tensor.ScaleAutograd(drop, w.Drop)
			if err != nil {
				return nil, err
			}
			total, err = tensor.AddAutograd(total, weighted)
			if err != nil {
				return nil, err
			}
		}
	}

	combined, err := tensor.CrossEntropyAutograd(out.Combined, target)
	if err != nil {
		return nil, fmt.Errorf("combined term: %w", err)
	}
	weighted, err := tensor.ScaleAutograd(combined, w.Combined)
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(total, weighted)
}

// ValidationLoss scores a batch with the combined head only.
func (p *Pipeline) ValidationLoss(out *Output, target *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.CrossEntropyAutograd(out.Combined, target)
}

// Predict returns the argmax class per batch item from the combined head.
func (p *Pipeline) Predict(out *Output) ([]int, error) {
	data, err := out.Combined.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	batch := out.Combined.Shape[0]
	classes := out.Combined.Shape[1]
	preds := make([]int, batch)
	for b := 0; b < batch; b++ {
		best := 0
		for c := 1; c < classes; c++ {
			if data[b*classes+c] > data[b*classes+best] {
				best = c
			}
		}
		preds[b] = best
	}
	return preds, nil
}

func (p *Pipeline) Parameters() []*tensor.Tensor {
	return nn.CollectParameters(p)
}

func (p *Pipeline) DirectParams() []nn.NamedParam { return nil }

func (p *Pipeline) Children() []nn.NamedChild {
	return []nn.NamedChild{
		{Name: "backbone", Node: p.backbone},
		{Name: "pyramid", Node: p.pyramid},
		{Name: "classifier", Node: p.classifier},
		{Name: "combiner", Node: p.combiner},
	}
}

func (p *Pipeline) Train() {
	p.training = true
	p.backbone.Train()
	p.pyramid.Train()
	p.classifier.Train()
	p.combiner.Train()
}

func (p *Pipeline) Eval() {
	p.training = false
	p.backbone.Eval()
	p.pyramid.Eval()
	p.classifier.Eval()
	p.combiner.Eval()
}

func (p *Pipeline) IsTraining() bool { return p.training }
