package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	t := &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		NumElems: calculateNumElements(shape),
	}

	if err := t.setData(data); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		values, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("expected []float32 data for Float32 tensor, got %T", data)
		}
		if len(values) != t.NumElems {
			return fmt.Errorf("data length %d does not match shape %v (%d elements)", len(values), t.Shape, t.NumElems)
		}
		t.Data = values
	case Int32:
		values, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("expected []int32 data for Int32 tensor, got %T", data)
		}
		if len(values) != t.NumElems {
			return fmt.Errorf("data length %d does not match shape %v (%d elements)", len(values), t.Shape, t.NumElems)
		}
		t.Data = values
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

// SetData replaces the tensor's backing data in place, keeping the shape.
func (t *Tensor) SetData(data interface{}) error {
	return t.setData(data)
}

func Zeros(shape []int, dtype DType) (*Tensor, error) {
	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, make([]float32, calculateNumElements(shape)))
	case Int32:
		return NewTensor(shape, dtype, make([]int32, calculateNumElements(shape)))
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

func Ones(shape []int, dtype DType) (*Tensor, error) {
	switch dtype {
	case Float32:
		data := make([]float32, calculateNumElements(shape))
		for i := range data {
			data[i] = 1.0
		}
		return NewTensor(shape, dtype, data)
	case Int32:
		data := make([]int32, calculateNumElements(shape))
		for i := range data {
			data[i] = 1
		}
		return NewTensor(shape, dtype, data)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

func Full(shape []int, value float32) (*Tensor, error) {
	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = value
	}
	return NewTensor(shape, Float32, data)
}

// Eye creates a square identity matrix [n, n].
func Eye(n int) (*Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("identity size must be positive, got %d", n)
	}
	data := make([]float32, n*n)
	for i := 0; i < n; i++ {
		data[i*n+i] = 1.0
	}
	return NewTensor([]int{n, n}, Float32, data)
}

// RandomUniform fills a tensor with values drawn uniformly from [-bound, bound).
func RandomUniform(shape []int, bound float64, rng *rand.Rand) (*Tensor, error) {
	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return NewTensor(shape, Float32, data)
}

// XavierUniform initializes a [fanIn, fanOut]-shaped weight with the
// Glorot uniform bound sqrt(6 / (fanIn + fanOut)).
func XavierUniform(fanIn, fanOut int, shape []int, rng *rand.Rand) (*Tensor, error) {
	if fanIn <= 0 || fanOut <= 0 {
		return nil, fmt.Errorf("fan sizes must be positive, got fanIn=%d fanOut=%d", fanIn, fanOut)
	}
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return RandomUniform(shape, bound, rng)
}

func FromScalar(value float64) *Tensor {
	t, _ := NewTensor([]int{1}, Float32, []float32{float32(value)})
	return t
}
