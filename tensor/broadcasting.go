package tensor

import (
	"fmt"
)

// BroadcastShapes resolves two shapes under the usual trailing-alignment
// rule: dimensions must match or one of them must be 1.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	n := len(shape1)
	if len(shape2) > n {
		n = len(shape2)
	}

	out := make([]int, n)
	for i := 0; i < n; i++ {
		d1, d2 := 1, 1
		if i >= n-len(shape1) {
			d1 = shape1[i-(n-len(shape1))]
		}
		if i >= n-len(shape2) {
			d2 = shape2[i-(n-len(shape2))]
		}
		switch {
		case d1 == d2:
			out[i] = d1
		case d1 == 1:
			out[i] = d2
		case d2 == 1:
			out[i] = d1
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", shape1, shape2)
		}
	}
	return out, nil
}

// sourceIndex maps a coordinate in the broadcast output back to a flat index
// in a tensor of the given (possibly smaller) shape.
func sourceIndex(coords []int, shape, strides []int) int {
	offset := len(coords) - len(shape)
	idx := 0
	for i, dim := range shape {
		c := coords[offset+i]
		if dim == 1 {
			c = 0
		}
		idx += c * strides[i]
	}
	return idx
}

// broadcastBinary applies an elementwise float32 op over two broadcastable
// tensors.
func broadcastBinary(t1, t2 *Tensor, op func(a, b float32) float32) (*Tensor, error) {
	if t1.DType != Float32 || t2.DType != Float32 {
		return nil, fmt.Errorf("broadcast ops require Float32 tensors, got %s and %s", t1.DType, t2.DType)
	}

	outShape, err := BroadcastShapes(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}

	data1 := t1.Data.([]float32)
	data2 := t2.Data.([]float32)
	out := result.Data.([]float32)

	coords := make([]int, len(outShape))
	for i := 0; i < result.NumElems; i++ {
		out[i] = op(data1[sourceIndex(coords, t1.Shape, t1.Strides)],
			data2[sourceIndex(coords, t2.Shape, t2.Strides)])
		incrementCoords(coords, outShape)
	}
	return result, nil
}

func incrementCoords(coords, shape []int) {
	for i := len(coords) - 1; i >= 0; i-- {
		coords[i]++
		if coords[i] < shape[i] {
			return
		}
		coords[i] = 0
	}
}

// reduceToShape sums a gradient over the dimensions that were broadcast so
// it matches the original input shape again.
func reduceToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad.Clone()
	}

	result, err := Zeros(targetShape, grad.DType)
	if err != nil {
		return nil, err
	}

	gradData := grad.Data.([]float32)
	out := result.Data.([]float32)

	coords := make([]int, len(grad.Shape))
	for i := 0; i < grad.NumElems; i++ {
		out[sourceIndex(coords, targetShape, result.Strides)] += gradData[i]
		incrementCoords(coords, grad.Shape)
	}
	return result, nil
}
