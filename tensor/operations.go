package tensor

import (
	"fmt"
	"math"
	"sort"
)

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return broadcastBinary(t1, t2, func(a, b float32) float32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return broadcastBinary(t1, t2, func(a, b float32) float32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return broadcastBinary(t1, t2, func(a, b float32) float32 { return a * b })
}

// Scale multiplies every element by a scalar.
func Scale(t *Tensor, s float64) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Scale only supports Float32 tensors")
	}
	result, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	out := result.Data.([]float32)
	f := float32(s)
	for i := range data {
		out[i] = data[i] * f
	}
	return result, nil
}

func ReLU(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("ReLU only supports Float32 tensors")
	}
	result, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	out := result.Data.([]float32)
	for i := range data {
		if data[i] > 0 {
			out[i] = data[i]
		}
	}
	return result, nil
}

func Tanh(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Tanh only supports Float32 tensors")
	}
	result, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	out := result.Data.([]float32)
	for i := range data {
		out[i] = float32(math.Tanh(float64(data[i])))
	}
	return result, nil
}

func Exp(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Exp only supports Float32 tensors")
	}
	result, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	out := result.Data.([]float32)
	for i := range data {
		out[i] = float32(math.Exp(float64(data[i])))
	}
	return result, nil
}

// Softmax normalizes the last dimension into a probability distribution.
func Softmax(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Softmax only supports Float32 tensors")
	}
	if len(t.Shape) < 1 {
		return nil, fmt.Errorf("Softmax requires at least 1 dimension")
	}

	result, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}

	width := t.Shape[len(t.Shape)-1]
	rows := t.NumElems / width
	data := t.Data.([]float32)
	out := result.Data.([]float32)

	for r := 0; r < rows; r++ {
		offset := r * width

		maxVal := data[offset]
		for j := 1; j < width; j++ {
			if data[offset+j] > maxVal {
				maxVal = data[offset+j]
			}
		}

		var sum float32
		for j := 0; j < width; j++ {
			exp := float32(math.Exp(float64(data[offset+j] - maxVal)))
			out[offset+j] = exp
			sum += exp
		}
		for j := 0; j < width; j++ {
			out[offset+j] /= sum
		}
	}
	return result, nil
}

// MaxLastDim reduces the last dimension to its maximum value.
func MaxLastDim(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("MaxLastDim only supports Float32 tensors")
	}
	if len(t.Shape) < 2 {
		return nil, fmt.Errorf("MaxLastDim requires at least 2 dimensions, got shape %v", t.Shape)
	}

	width := t.Shape[len(t.Shape)-1]
	rows := t.NumElems / width
	outShape := append([]int{}, t.Shape[:len(t.Shape)-1]...)

	result, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	out := result.Data.([]float32)
	for r := 0; r < rows; r++ {
		offset := r * width
		maxVal := data[offset]
		for j := 1; j < width; j++ {
			if data[offset+j] > maxVal {
				maxVal = data[offset+j]
			}
		}
		out[r] = maxVal
	}
	return result, nil
}

// ArgsortDescending returns, for each row of the last dimension, the element
// indices ordered by descending value. Equal values keep their original
// order (stable sort), so ties resolve to the lower index first.
func ArgsortDescending(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("ArgsortDescending only supports Float32 tensors")
	}
	if len(t.Shape) < 1 {
		return nil, fmt.Errorf("ArgsortDescending requires at least 1 dimension")
	}

	width := t.Shape[len(t.Shape)-1]
	rows := t.NumElems / width

	result, err := Zeros(t.Shape, Int32)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	out := result.Data.([]int32)
	order := make([]int, width)

	for r := 0; r < rows; r++ {
		offset := r * width
		for j := range order {
			order[j] = j
		}
		sort.SliceStable(order, func(a, b int) bool {
			return data[offset+order[a]] > data[offset+order[b]]
		})
		for j, idx := range order {
			out[offset+j] = int32(idx)
		}
	}
	return result, nil
}

// Mean reduces one dimension to its average, dropping it from the shape.
func Mean(t *Tensor, dim int) (*Tensor, error) {
	summed, err := Sum(t, dim, false)
	if err != nil {
		return nil, err
	}
	return Scale(summed, 1.0/float64(t.Shape[dim]))
}

// Sum reduces one dimension, optionally keeping it with size 1.
func Sum(t *Tensor, dim int, keepDim bool) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Sum only supports Float32 tensors")
	}
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dimension %d out of bounds for shape %v", dim, t.Shape)
	}

	outShape := make([]int, 0, len(t.Shape))
	for i, size := range t.Shape {
		if i == dim {
			if keepDim {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, size)
	}
	if len(outShape) == 0 {
		outShape = []int{1}
	}

	result, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	out := result.Data.([]float32)

	// outer runs over dims before dim, inner over dims after it.
	inner := t.Strides[dim]
	outer := t.NumElems / (t.Shape[dim] * inner)
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			var sum float32
			base := o * t.Shape[dim] * inner
			for k := 0; k < t.Shape[dim]; k++ {
				sum += data[base+k*inner+in]
			}
			out[o*inner+in] = sum
		}
	}
	return result, nil
}
