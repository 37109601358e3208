// Package pim implements a plug-in module for fine-grained visual
// classification: a feature pyramid over multi-scale token features, a
// discriminative token selector, a graph-based combiner and the composite
// training objective tying them together.
package pim

import (
	"fmt"

	"github.com/driftworks/pimnet/tensor"
)

// ScaleShape describes one backbone output scale: its name and the token
// grid it produces.
type ScaleShape struct {
	Name     string
	Tokens   int
	Channels int
}

// FeatureMaps is an insertion-ordered collection of per-scale feature
// tensors, each shaped [batch, tokens, channels]. Order matters: the
// pyramid fuses scales from last to first.
type FeatureMaps struct {
	names []string
	data  map[string]*tensor.Tensor
}

func NewFeatureMaps() *FeatureMaps {
	return &FeatureMaps{data: make(map[string]*tensor.Tensor)}
}

// Set stores a tensor under name, appending the name on first insertion.
func (f *FeatureMaps) Set(name string, t *tensor.Tensor) {
	if _, ok := f.data[name]; !ok {
		f.names = append(f.names, name)
	}
	f.data[name] = t
}

// Get returns the tensor stored under name.
func (f *FeatureMaps) Get(name string) (*tensor.Tensor, bool) {
	t, ok := f.data[name]
	return t, ok
}

// Names returns the scale names in insertion order.
func (f *FeatureMaps) Names() []string {
	return append([]string{}, f.names...)
}

// Len returns the number of scales.
func (f *FeatureMaps) Len() int {
	return len(f.names)
}

// Validate checks every stored tensor is [batch, tokens, channels] with a
// consistent batch size.
func (f *FeatureMaps) Validate() error {
	batch := -1
	for _, name := range f.names {
		t := f.data[name]
		if len(t.Shape) != 3 {
			return fmt.Errorf("scale %q must be [batch, tokens, channels], got %v", name, t.Shape)
		}
		if batch == -1 {
			batch = t.Shape[0]
		} else if t.Shape[0] != batch {
			return fmt.Errorf("scale %q has batch %d, expected %d", name, t.Shape[0], batch)
		}
	}
	return nil
}
