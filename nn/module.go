// Package nn provides the neural network building blocks used by the
// classification pipeline: parameterized layers, activations and the
// composite module tree they assemble into.
package nn

import (
	"math/rand"
	"sort"

	"github.com/driftworks/pimnet/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // Returns trainable parameters (tensors with requiresGrad=true)
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode
	IsTraining() bool             // Returns true if in training mode
}

// NamedParam pairs a parameter tensor with its name within the owning module.
type NamedParam struct {
	Name   string
	Tensor *tensor.Tensor
}

// NamedChild pairs a submodule with its name within the owning module.
type NamedChild struct {
	Name string
	Node ParamNode
}

// ParamNode exposes a module's parameter tree. Optimizer grouping and
// checkpointing walk this tree instead of the flat Parameters slice so
// every parameter has a stable dotted path.
type ParamNode interface {
	DirectParams() []NamedParam
	Children() []NamedChild
}

// FinetuneMarker lets a node override the finetune flag it would otherwise
// inherit from its parent during optimizer group construction.
type FinetuneMarker interface {
	FinetuneHint() bool
}

// NamedParameters walks the tree and returns every parameter with its
// dotted path, sorted by name for deterministic ordering.
func NamedParameters(root ParamNode) []NamedParam {
	var out []NamedParam
	var walk func(prefix string, node ParamNode)
	walk = func(prefix string, node ParamNode) {
		for _, p := range node.DirectParams() {
			out = append(out, NamedParam{Name: prefix + p.Name, Tensor: p.Tensor})
		}
		for _, c := range node.Children() {
			walk(prefix+c.Name+".", c.Node)
		}
	}
	walk("", root)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CollectParameters flattens the tree into the plain tensor slice the
// Module interface exposes.
func CollectParameters(root ParamNode) []*tensor.Tensor {
	named := NamedParameters(root)
	params := make([]*tensor.Tensor, len(named))
	for i, p := range named {
		params[i] = p.Tensor
	}
	return params
}
