package tensor

import (
	"fmt"
)

// MatMul multiplies two 2D tensors [M, K] x [K, N] -> [M, N].
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != Float32 || t2.DType != Float32 {
		return nil, fmt.Errorf("MatMul only supports Float32 tensors")
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2D tensors, got %v and %v", t1.Shape, t2.Shape)
	}
	if t1.Shape[1] != t2.Shape[0] {
		return nil, fmt.Errorf("inner dimensions must match: %v x %v", t1.Shape, t2.Shape)
	}

	m, k, n := t1.Shape[0], t1.Shape[1], t2.Shape[1]
	result, err := Zeros([]int{m, n}, Float32)
	if err != nil {
		return nil, err
	}

	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	out := result.Data.([]float32)

	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				out[i*n+j] += av * b[p*n+j]
			}
		}
	}
	return result, nil
}

// BatchMatMul multiplies [B, M, K] x [B, K, N] -> [B, M, N].
func BatchMatMul(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != Float32 || t2.DType != Float32 {
		return nil, fmt.Errorf("BatchMatMul only supports Float32 tensors")
	}
	if len(t1.Shape) != 3 || len(t2.Shape) != 3 {
		return nil, fmt.Errorf("BatchMatMul requires 3D tensors, got %v and %v", t1.Shape, t2.Shape)
	}
	if t1.Shape[0] != t2.Shape[0] {
		return nil, fmt.Errorf("batch sizes must match: %v x %v", t1.Shape, t2.Shape)
	}
	if t1.Shape[2] != t2.Shape[1] {
		return nil, fmt.Errorf("inner dimensions must match: %v x %v", t1.Shape, t2.Shape)
	}

	batch, m, k, n := t1.Shape[0], t1.Shape[1], t1.Shape[2], t2.Shape[2]
	result, err := Zeros([]int{batch, m, n}, Float32)
	if err != nil {
		return nil, err
	}

	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	out := result.Data.([]float32)

	for bi := 0; bi < batch; bi++ {
		aOff, bOff, oOff := bi*m*k, bi*k*n, bi*m*n
		for i := 0; i < m; i++ {
			for p := 0; p < k; p++ {
				av := a[aOff+i*k+p]
				if av == 0 {
					continue
				}
				for j := 0; j < n; j++ {
					out[oOff+i*n+j] += av * b[bOff+p*n+j]
				}
			}
		}
	}
	return result, nil
}

// LinearForward applies y = x @ w + b over the trailing dimension of x.
// x may have any number of leading dimensions; w is [In, Out]; b is [Out]
// or nil.
func LinearForward(x, w, b *Tensor) (*Tensor, error) {
	if x.DType != Float32 || w.DType != Float32 {
		return nil, fmt.Errorf("LinearForward only supports Float32 tensors")
	}
	if len(w.Shape) != 2 {
		return nil, fmt.Errorf("weight must be 2D [in, out], got %v", w.Shape)
	}
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("input must have at least 2 dimensions, got %v", x.Shape)
	}

	in, out := w.Shape[0], w.Shape[1]
	if x.Shape[len(x.Shape)-1] != in {
		return nil, fmt.Errorf("input width %d does not match weight input size %d", x.Shape[len(x.Shape)-1], in)
	}
	if b != nil && (len(b.Shape) != 1 || b.Shape[0] != out) {
		return nil, fmt.Errorf("bias must be [out]=%d, got %v", out, b.Shape)
	}

	outShape := append([]int{}, x.Shape[:len(x.Shape)-1]...)
	outShape = append(outShape, out)
	result, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}

	rows := x.NumElems / in
	xd := x.Data.([]float32)
	wd := w.Data.([]float32)
	od := result.Data.([]float32)

	for r := 0; r < rows; r++ {
		xOff, oOff := r*in, r*out
		for i := 0; i < in; i++ {
			xv := xd[xOff+i]
			if xv == 0 {
				continue
			}
			for j := 0; j < out; j++ {
				od[oOff+j] += xv * wd[i*out+j]
			}
		}
	}
	if b != nil {
		bd := b.Data.([]float32)
		for r := 0; r < rows; r++ {
			oOff := r * out
			for j := 0; j < out; j++ {
				od[oOff+j] += bd[j]
			}
		}
	}
	return result, nil
}

// Conv1x1Forward applies a pointwise 1D convolution: x [B, C, L], w [O, C],
// b [O] or nil -> [B, O, L].
func Conv1x1Forward(x, w, b *Tensor) (*Tensor, error) {
	if x.DType != Float32 || w.DType != Float32 {
		return nil, fmt.Errorf("Conv1x1Forward only supports Float32 tensors")
	}
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("input must be 3D [batch, channels, length], got %v", x.Shape)
	}
	if len(w.Shape) != 2 {
		return nil, fmt.Errorf("weight must be 2D [out, in], got %v", w.Shape)
	}

	batch, cin, length := x.Shape[0], x.Shape[1], x.Shape[2]
	cout := w.Shape[0]
	if w.Shape[1] != cin {
		return nil, fmt.Errorf("weight input channels %d do not match input channels %d", w.Shape[1], cin)
	}
	if b != nil && (len(b.Shape) != 1 || b.Shape[0] != cout) {
		return nil, fmt.Errorf("bias must be [out]=%d, got %v", cout, b.Shape)
	}

	result, err := Zeros([]int{batch, cout, length}, Float32)
	if err != nil {
		return nil, err
	}

	xd := x.Data.([]float32)
	wd := w.Data.([]float32)
	od := result.Data.([]float32)

	for bi := 0; bi < batch; bi++ {
		xOff, oOff := bi*cin*length, bi*cout*length
		for o := 0; o < cout; o++ {
			for c := 0; c < cin; c++ {
				wv := wd[o*cin+c]
				if wv == 0 {
					continue
				}
				for l := 0; l < length; l++ {
					od[oOff+o*length+l] += wv * xd[xOff+c*length+l]
				}
			}
		}
	}
	if b != nil {
		bd := b.Data.([]float32)
		for bi := 0; bi < batch; bi++ {
			oOff := bi * cout * length
			for o := 0; o < cout; o++ {
				for l := 0; l < length; l++ {
					od[oOff+o*length+l] += bd[o]
				}
			}
		}
	}
	return result, nil
}

// Transpose swaps two dimensions.
func Transpose(t *Tensor, dim0, dim1 int) (*Tensor, error) {
	if dim0 < 0 || dim0 >= len(t.Shape) || dim1 < 0 || dim1 >= len(t.Shape) {
		return nil, fmt.Errorf("transpose dims (%d, %d) out of bounds for shape %v", dim0, dim1, t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("Transpose only supports Float32 tensors")
	}

	outShape := append([]int{}, t.Shape...)
	outShape[dim0], outShape[dim1] = outShape[dim1], outShape[dim0]

	result, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	out := result.Data.([]float32)

	coords := make([]int, len(t.Shape))
	outCoords := make([]int, len(t.Shape))
	for i := 0; i < t.NumElems; i++ {
		copy(outCoords, coords)
		outCoords[dim0], outCoords[dim1] = coords[dim1], coords[dim0]
		out[flatIndex(outCoords, result.Strides)] = data[i]
		incrementCoords(coords, t.Shape)
	}
	return result, nil
}

func flatIndex(coords, strides []int) int {
	idx := 0
	for i, c := range coords {
		idx += c * strides[i]
	}
	return idx
}

// Reshape returns a tensor with the same data and a new shape.
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.Shape, t.NumElems, newShape)
	}

	clone, err := t.Clone()
	if err != nil {
		return nil, err
	}
	clone.Shape = append([]int{}, newShape...)
	clone.Strides = calculateStrides(newShape)
	return clone, nil
}

// Concat joins tensors along one dimension. All other dimensions must match.
func Concat(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot concat zero tensors")
	}
	first := tensors[0]
	if dim < 0 || dim >= len(first.Shape) {
		return nil, fmt.Errorf("concat dim %d out of bounds for shape %v", dim, first.Shape)
	}

	total := 0
	for _, t := range tensors {
		if t.DType != Float32 {
			return nil, fmt.Errorf("Concat only supports Float32 tensors")
		}
		if len(t.Shape) != len(first.Shape) {
			return nil, fmt.Errorf("concat rank mismatch: %v vs %v", first.Shape, t.Shape)
		}
		for i := range t.Shape {
			if i != dim && t.Shape[i] != first.Shape[i] {
				return nil, fmt.Errorf("concat shape mismatch on dim %d: %v vs %v", i, first.Shape, t.Shape)
			}
		}
		total += t.Shape[dim]
	}

	outShape := append([]int{}, first.Shape...)
	outShape[dim] = total
	result, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}

	inner := 1
	for i := dim + 1; i < len(first.Shape); i++ {
		inner *= first.Shape[i]
	}
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= first.Shape[i]
	}

	out := result.Data.([]float32)
	rowWidth := total * inner
	offset := 0
	for _, t := range tensors {
		data := t.Data.([]float32)
		chunk := t.Shape[dim] * inner
		for o := 0; o < outer; o++ {
			copy(out[o*rowWidth+offset:o*rowWidth+offset+chunk], data[o*chunk:(o+1)*chunk])
		}
		offset += chunk
	}
	return result, nil
}

// Gather selects rows along dimension 1: x [B, S, C] with indices [B, K]
// produces [B, K, C].
func Gather(x, indices *Tensor) (*Tensor, error) {
	if x.DType != Float32 {
		return nil, fmt.Errorf("Gather only supports Float32 source tensors")
	}
	if indices.DType != Int32 {
		return nil, fmt.Errorf("Gather indices must be Int32")
	}
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("Gather source must be 3D [batch, rows, cols], got %v", x.Shape)
	}
	if len(indices.Shape) != 2 || indices.Shape[0] != x.Shape[0] {
		return nil, fmt.Errorf("Gather indices must be [batch, k] with batch %d, got %v", x.Shape[0], indices.Shape)
	}

	batch, rows, cols := x.Shape[0], x.Shape[1], x.Shape[2]
	k := indices.Shape[1]

	result, err := Zeros([]int{batch, k, cols}, Float32)
	if err != nil {
		return nil, err
	}

	xd := x.Data.([]float32)
	idx := indices.Data.([]int32)
	out := result.Data.([]float32)

	for b := 0; b < batch; b++ {
		for j := 0; j < k; j++ {
			row := int(idx[b*k+j])
			if row < 0 || row >= rows {
				return nil, fmt.Errorf("gather index %d out of range [0, %d)", row, rows)
			}
			copy(out[(b*k+j)*cols:(b*k+j+1)*cols], xd[(b*rows+row)*cols:(b*rows+row+1)*cols])
		}
	}
	return result, nil
}
