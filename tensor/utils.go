package tensor

import (
	"fmt"
)

// Clone produces a deep copy of the tensor data. The autograd graph is not
// copied.
func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:        append([]int{}, t.Shape...),
		Strides:      append([]int{}, t.Strides...),
		DType:        t.DType,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}

	switch t.DType {
	case Float32:
		data := make([]float32, t.NumElems)
		copy(data, t.Data.([]float32))
		clone.Data = data
	case Int32:
		data := make([]int32, t.NumElems)
		copy(data, t.Data.([]int32))
		clone.Data = data
	default:
		return nil, fmt.Errorf("unsupported dtype for clone: %s", t.DType)
	}
	return clone, nil
}

func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a single-element tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return 0, fmt.Errorf("Item only supports Float32 tensors")
	}
	return t.Data.([]float32)[0], nil
}

// At reads one element by coordinates.
func (t *Tensor) At(indices ...int) (float32, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices for shape %v, got %d", len(t.Shape), t.Shape, len(indices))
	}
	idx := 0
	for i, c := range indices {
		if c < 0 || c >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension %d (size %d)", c, i, t.Shape[i])
		}
		idx += c * t.Strides[i]
	}
	if t.DType != Float32 {
		return 0, fmt.Errorf("At only supports Float32 tensors")
	}
	return t.Data.([]float32)[idx], nil
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// ZeroGrad clears the gradients of every tensor in the slice.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		t.grad = nil
	}
}

// Detach returns the same tensor stripped of its autograd history.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    append([]int{}, t.Shape...),
		Strides:  append([]int{}, t.Strides...),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}
