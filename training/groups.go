// Package training provides the optimization harness for the
// classification pipeline: parameter grouping, the AdamW optimizer,
// learning rate schedules, data batching and the train/validate loop.
package training

import (
	"fmt"
	"strings"

	"github.com/driftworks/pimnet/nn"
	"github.com/driftworks/pimnet/tensor"
)

// finetuneLRScale shrinks the learning rate of pretrained parameters.
const finetuneLRScale = 0.1

// ParamGroup holds parameters sharing one learning rate and decay setting.
type ParamGroup struct {
	Name        string
	Params      []*tensor.Tensor
	ParamNames  []string
	LR          float64
	MaxLR       float64
	WeightDecay float64
}

// GroupConfig controls parameter group construction.
type GroupConfig struct {
	BaseLR      float64
	WeightDecay float64
}

// BuildParameterGroups partitions a model's parameters into up to four
// optimizer groups: scratch versus finetuned, each split into decayed and
// undecayed subsets. A node carrying a finetune hint switches the flag for
// its whole subtree; children inherit the flag otherwise. Biases and
// normalization affine parameters are never weight-decayed. Groups that
// end up empty are omitted.
func BuildParameterGroups(root nn.ParamNode, cfg GroupConfig) ([]ParamGroup, error) {
	if cfg.BaseLR <= 0 {
		return nil, fmt.Errorf("base learning rate must be positive, got %v", cfg.BaseLR)
	}
	if cfg.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay must not be negative, got %v", cfg.WeightDecay)
	}

	buckets := map[string]*ParamGroup{}
	bucket := func(finetune, decay bool) *ParamGroup {
		name := "scratch"
		lr := cfg.BaseLR
		if finetune {
			name = "finetune"
			lr = cfg.BaseLR * finetuneLRScale
		}
		wd := 0.0
		if decay {
			name += "_decay"
			wd = cfg.WeightDecay
		} else {
			name += "_no_decay"
		}
		g, ok := buckets[name]
		if !ok {
			g = &ParamGroup{Name: name, LR: lr, MaxLR: lr, WeightDecay: wd}
			buckets[name] = g
		}
		return g
	}

	var walk func(prefix string, node nn.ParamNode, finetune bool)
	walk = func(prefix string, node nn.ParamNode, finetune bool) {
		if fm, ok := node.(nn.FinetuneMarker); ok {
			finetune = fm.FinetuneHint()
		}
		for _, p := range node.DirectParams() {
			if !p.Tensor.RequiresGrad() {
				continue
			}
			full := prefix + p.Name
			g := bucket(finetune, decayable(full))
			g.Params = append(g.Params, p.Tensor)
			g.ParamNames = append(g.ParamNames, full)
		}
		for _, c := range node.Children() {
			walk(prefix+c.Name+".", c.Node, finetune)
		}
	}
	walk("", root, false)

	var groups []ParamGroup
	for _, name := range []string{"scratch_decay", "scratch_no_decay", "finetune_decay", "finetune_no_decay"} {
		if g, ok := buckets[name]; ok {
			groups = append(groups, *g)
		}
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("model has no trainable parameters")
	}
	return groups, nil
}

// decayable reports whether a parameter path should receive weight decay.
// Biases and normalization scales and shifts are exempt.
func decayable(name string) bool {
	for _, suffix := range []string{".bias", ".gamma", ".beta"} {
		if strings.HasSuffix(name, suffix) || name == suffix[1:] {
			return false
		}
	}
	return true
}
