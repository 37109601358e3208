package nn

import (
	"fmt"

	"github.com/driftworks/pimnet/tensor"
)

// Sequential chains modules, feeding each output into the next.
type Sequential struct {
	modules []Module
}

func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	var err error
	for i, m := range s.modules {
		out, err = m.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("sequential stage %d failed: %w", i, err)
		}
	}
	return out, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

func (s *Sequential) DirectParams() []NamedParam { return nil }

func (s *Sequential) Children() []NamedChild {
	children := make([]NamedChild, 0, len(s.modules))
	for i, m := range s.modules {
		node, ok := m.(ParamNode)
		if !ok {
			continue
		}
		children = append(children, NamedChild{Name: fmt.Sprintf("%d", i), Node: node})
	}
	return children
}

func (s *Sequential) Train() {
	for _, m := range s.modules {
		m.Train()
	}
}

func (s *Sequential) Eval() {
	for _, m := range s.modules {
		m.Eval()
	}
}

func (s *Sequential) IsTraining() bool {
	for _, m := range s.modules {
		if !m.IsTraining() {
			return false
		}
	}
	return len(s.modules) > 0
}

// Len returns the number of chained modules.
func (s *Sequential) Len() int { return len(s.modules) }
