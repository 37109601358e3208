package tensor

import (
	"fmt"
	"math"
)

// opBase carries the recorded inputs shared by every operation.
type opBase struct {
	inputs []*Tensor
}

func (o *opBase) Inputs() []*Tensor {
	return o.inputs
}

// attach records the creator on the result when any input participates in
// the graph, mirroring how tensors propagate requiresGrad.
func attach(result *Tensor, op Operation, inputs ...*Tensor) *Tensor {
	for _, in := range inputs {
		if in.requiresGrad || in.creator != nil {
			result.creator = op
			result.requiresGrad = true
			return result
		}
	}
	return result
}

// Backward runs reverse-mode differentiation from this tensor, accumulating
// gradients into every reachable leaf with requiresGrad set. The seed
// gradient is all ones, so the tensor is normally a scalar loss.
func (t *Tensor) Backward() error {
	if t.creator == nil {
		return fmt.Errorf("tensor has no autograd history")
	}

	seed, err := Ones(t.Shape, t.DType)
	if err != nil {
		return fmt.Errorf("failed to seed gradient: %w", err)
	}

	// Topological order via post-order DFS over creators.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(*Tensor)
	visit = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, n)
	}
	visit(t)

	grads := map[*Tensor]*Tensor{t: seed}
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g := grads[node]
		if g == nil {
			continue
		}

		if node.requiresGrad && node.creator == nil {
			if node.grad == nil {
				node.grad = g
			} else {
				sum, err := Add(node.grad, g)
				if err != nil {
					return fmt.Errorf("gradient accumulation failed: %w", err)
				}
				node.grad = sum
			}
		}

		if node.creator == nil {
			continue
		}
		inGrads, err := node.creator.Backward(g)
		if err != nil {
			return fmt.Errorf("backward pass failed: %w", err)
		}
		for j, in := range node.creator.Inputs() {
			ig := inGrads[j]
			if ig == nil {
				continue
			}
			if existing := grads[in]; existing != nil {
				sum, err := Add(existing, ig)
				if err != nil {
					return fmt.Errorf("gradient accumulation failed: %w", err)
				}
				grads[in] = sum
			} else {
				grads[in] = ig
			}
		}
	}
	return nil
}

// ---- elementwise ----

type addOp struct{ opBase }

func AddAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	return attach(result, &addOp{opBase{[]*Tensor{a, b}}}, a, b), nil
}

func (op *addOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	ga, err := reduceToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	gb, err := reduceToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

type subOp struct{ opBase }

func SubAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Sub(a, b)
	if err != nil {
		return nil, err
	}
	return attach(result, &subOp{opBase{[]*Tensor{a, b}}}, a, b), nil
}

func (op *subOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	ga, err := reduceToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	neg, err := Scale(gradOut, -1)
	if err != nil {
		return nil, err
	}
	gb, err := reduceToShape(neg, op.inputs[1].Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

type mulOp struct{ opBase }

func MulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	return attach(result, &mulOp{opBase{[]*Tensor{a, b}}}, a, b), nil
}

func (op *mulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	gaFull, err := Mul(gradOut, b)
	if err != nil {
		return nil, err
	}
	ga, err := reduceToShape(gaFull, a.Shape)
	if err != nil {
		return nil, err
	}

	gbFull, err := Mul(gradOut, a)
	if err != nil {
		return nil, err
	}
	gb, err := reduceToShape(gbFull, b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

type scaleOp struct {
	opBase
	s float64
}

func ScaleAutograd(a *Tensor, s float64) (*Tensor, error) {
	result, err := Scale(a, s)
	if err != nil {
		return nil, err
	}
	return attach(result, &scaleOp{opBase{[]*Tensor{a}}, s}, a), nil
}

func (op *scaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Scale(gradOut, op.s)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// ---- linear algebra ----

type linearOp struct{ opBase }

// LinearAutograd applies x @ w + b over the trailing dimension with
// gradient support for x, w and b.
func LinearAutograd(x, w, b *Tensor) (*Tensor, error) {
	result, err := LinearForward(x, w, b)
	if err != nil {
		return nil, err
	}
	inputs := []*Tensor{x, w}
	if b != nil {
		inputs = append(inputs, b)
	}
	srcs := append([]*Tensor{}, inputs...)
	return attach(result, &linearOp{opBase{inputs}}, srcs...), nil
}

func (op *linearOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	x, w := op.inputs[0], op.inputs[1]
	in, out := w.Shape[0], w.Shape[1]
	rows := x.NumElems / in

	wT, err := Transpose(w, 0, 1)
	if err != nil {
		return nil, err
	}
	gx, err := LinearForward(gradOut, wT, nil)
	if err != nil {
		return nil, err
	}

	xFlat, err := Reshape(x, []int{rows, in})
	if err != nil {
		return nil, err
	}
	gFlat, err := Reshape(gradOut, []int{rows, out})
	if err != nil {
		return nil, err
	}
	xT, err := Transpose(xFlat, 0, 1)
	if err != nil {
		return nil, err
	}
	gw, err := MatMul(xT, gFlat)
	if err != nil {
		return nil, err
	}

	grads := []*Tensor{gx, gw}
	if len(op.inputs) == 3 {
		gb, err := reduceToShape(gFlat, []int{out})
		if err != nil {
			return nil, err
		}
		grads = append(grads, gb)
	}
	return grads, nil
}

type conv1x1Op struct{ opBase }

// Conv1x1Autograd applies a pointwise convolution over [B, C, L] with
// gradient support.
func Conv1x1Autograd(x, w, b *Tensor) (*Tensor, error) {
	result, err := Conv1x1Forward(x, w, b)
	if err != nil {
		return nil, err
	}
	inputs := []*Tensor{x, w}
	if b != nil {
		inputs = append(inputs, b)
	}
	srcs := append([]*Tensor{}, inputs...)
	return attach(result, &conv1x1Op{opBase{inputs}}, srcs...), nil
}

func (op *conv1x1Op) Backward(gradOut *Tensor) ([]*Tensor, error) {
	x, w := op.inputs[0], op.inputs[1]
	batch, cin, length := x.Shape[0], x.Shape[1], x.Shape[2]
	cout := w.Shape[0]

	wT, err := Transpose(w, 0, 1)
	if err != nil {
		return nil, err
	}
	gx, err := Conv1x1Forward(gradOut, wT, nil)
	if err != nil {
		return nil, err
	}

	gw, err := Zeros([]int{cout, cin}, Float32)
	if err != nil {
		return nil, err
	}
	gd := gradOut.Data.([]float32)
	xd := x.Data.([]float32)
	gwd := gw.Data.([]float32)
	for bi := 0; bi < batch; bi++ {
		gOff, xOff := bi*cout*length, bi*cin*length
		for o := 0; o < cout; o++ {
			for c := 0; c < cin; c++ {
				var sum float32
				for l := 0; l < length; l++ {
					sum += gd[gOff+o*length+l] * xd[xOff+c*length+l]
				}
				gwd[o*cin+c] += sum
			}
		}
	}

	grads := []*Tensor{gx, gw}
	if len(op.inputs) == 3 {
		gb, err := Zeros([]int{cout}, Float32)
		if err != nil {
			return nil, err
		}
		gbd := gb.Data.([]float32)
		for bi := 0; bi < batch; bi++ {
			gOff := bi * cout * length
			for o := 0; o < cout; o++ {
				for l := 0; l < length; l++ {
					gbd[o] += gd[gOff+o*length+l]
				}
			}
		}
		grads = append(grads, gb)
	}
	return grads, nil
}

type batchMatMulOp struct{ opBase }

func BatchMatMulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := BatchMatMul(a, b)
	if err != nil {
		return nil, err
	}
	return attach(result, &batchMatMulOp{opBase{[]*Tensor{a, b}}}, a, b), nil
}

func (op *batchMatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	bT, err := Transpose(b, 1, 2)
	if err != nil {
		return nil, err
	}
	ga, err := BatchMatMul(gradOut, bT)
	if err != nil {
		return nil, err
	}

	aT, err := Transpose(a, 1, 2)
	if err != nil {
		return nil, err
	}
	gb, err := BatchMatMul(aT, gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

// ---- activations ----

type reluOp struct{ opBase }

func ReLUAutograd(a *Tensor) (*Tensor, error) {
	result, err := ReLU(a)
	if err != nil {
		return nil, err
	}
	return attach(result, &reluOp{opBase{[]*Tensor{a}}}, a), nil
}

func (op *reluOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	inputData := op.inputs[0].Data.([]float32)
	gradData := grad.Data.([]float32)
	for i := range gradData {
		if inputData[i] <= 0 {
			gradData[i] = 0
		}
	}
	return []*Tensor{grad}, nil
}

type tanhOp struct {
	opBase
	output *Tensor
}

func TanhAutograd(a *Tensor) (*Tensor, error) {
	result, err := Tanh(a)
	if err != nil {
		return nil, err
	}
	return attach(result, &tanhOp{opBase{[]*Tensor{a}}, result}, a), nil
}

func (op *tanhOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	yd := op.output.Data.([]float32)
	gd := grad.Data.([]float32)
	for i := range gd {
		gd[i] *= 1 - yd[i]*yd[i]
	}
	return []*Tensor{grad}, nil
}

// ---- shape manipulation ----

type transposeOp struct {
	opBase
	dim0, dim1 int
}

func TransposeAutograd(a *Tensor, dim0, dim1 int) (*Tensor, error) {
	result, err := Transpose(a, dim0, dim1)
	if err != nil {
		return nil, err
	}
	return attach(result, &transposeOp{opBase{[]*Tensor{a}}, dim0, dim1}, a), nil
}

func (op *transposeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Transpose(gradOut, op.dim0, op.dim1)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

type reshapeOp struct {
	opBase
	origShape []int
}

func ReshapeAutograd(a *Tensor, newShape []int) (*Tensor, error) {
	result, err := Reshape(a, newShape)
	if err != nil {
		return nil, err
	}
	return attach(result, &reshapeOp{opBase{[]*Tensor{a}}, append([]int{}, a.Shape...)}, a), nil
}

func (op *reshapeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Reshape(gradOut, op.origShape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

type concatOp struct {
	opBase
	dim   int
	sizes []int
}

func ConcatAutograd(tensors []*Tensor, dim int) (*Tensor, error) {
	result, err := Concat(tensors, dim)
	if err != nil {
		return nil, err
	}
	sizes := make([]int, len(tensors))
	for i, t := range tensors {
		sizes[i] = t.Shape[dim]
	}
	op := &concatOp{opBase{append([]*Tensor{}, tensors...)}, dim, sizes}
	return attach(result, op, tensors...), nil
}

func (op *concatOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	inner := 1
	for i := op.dim + 1; i < len(gradOut.Shape); i++ {
		inner *= gradOut.Shape[i]
	}
	outer := 1
	for i := 0; i < op.dim; i++ {
		outer *= gradOut.Shape[i]
	}

	gd := gradOut.Data.([]float32)
	rowWidth := gradOut.Shape[op.dim] * inner

	grads := make([]*Tensor, len(op.inputs))
	offset := 0
	for i, in := range op.inputs {
		g, err := Zeros(in.Shape, Float32)
		if err != nil {
			return nil, err
		}
		out := g.Data.([]float32)
		chunk := op.sizes[i] * inner
		for o := 0; o < outer; o++ {
			copy(out[o*chunk:(o+1)*chunk], gd[o*rowWidth+offset:o*rowWidth+offset+chunk])
		}
		grads[i] = g
		offset += chunk
	}
	return grads, nil
}

type gatherOp struct {
	opBase
	indices *Tensor
}

// GatherAutograd selects rows along dimension 1. The index tensor is a
// constant; gradients scatter-add back into the source rows.
func GatherAutograd(x, indices *Tensor) (*Tensor, error) {
	result, err := Gather(x, indices)
	if err != nil {
		return nil, err
	}
	return attach(result, &gatherOp{opBase{[]*Tensor{x}}, indices}, x), nil
}

func (op *gatherOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	x := op.inputs[0]
	batch, rows, cols := x.Shape[0], x.Shape[1], x.Shape[2]
	k := op.indices.Shape[1]

	g, err := Zeros([]int{batch, rows, cols}, Float32)
	if err != nil {
		return nil, err
	}
	gd := g.Data.([]float32)
	od := gradOut.Data.([]float32)
	idx := op.indices.Data.([]int32)
	for b := 0; b < batch; b++ {
		for j := 0; j < k; j++ {
			row := int(idx[b*k+j])
			dst := (b*rows + row) * cols
			src := (b*k + j) * cols
			for c := 0; c < cols; c++ {
				gd[dst+c] += od[src+c]
			}
		}
	}
	return []*Tensor{g}, nil
}

type meanOp struct {
	opBase
	dim       int
	origShape []int
}

// MeanAutograd averages over one dimension, dropping it.
func MeanAutograd(a *Tensor, dim int) (*Tensor, error) {
	result, err := Mean(a, dim)
	if err != nil {
		return nil, err
	}
	op := &meanOp{opBase{[]*Tensor{a}}, dim, append([]int{}, a.Shape...)}
	return attach(result, op, a), nil
}

func (op *meanOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Zeros(op.origShape, Float32)
	if err != nil {
		return nil, err
	}

	n := op.origShape[op.dim]
	inner := 1
	for i := op.dim + 1; i < len(op.origShape); i++ {
		inner *= op.origShape[i]
	}
	outer := 1
	for i := 0; i < op.dim; i++ {
		outer *= op.origShape[i]
	}

	gd := g.Data.([]float32)
	od := gradOut.Data.([]float32)
	scale := 1 / float32(n)
	for o := 0; o < outer; o++ {
		for k := 0; k < n; k++ {
			for in := 0; in < inner; in++ {
				gd[(o*n+k)*inner+in] = od[o*inner+in] * scale
			}
		}
	}
	return []*Tensor{g}, nil
}

// ---- fused losses ----

type crossEntropyOp struct {
	opBase
	target *Tensor
	probs  *Tensor
}

// CrossEntropyAutograd computes softmax cross-entropy between logits
// [batch, classes] and Int32 class indices [batch], averaged over the
// batch. The backward pass is the usual fused (softmax - onehot) / batch.
func CrossEntropyAutograd(logits, target *Tensor) (*Tensor, error) {
	if logits.DType != Float32 || target.DType != Int32 {
		return nil, fmt.Errorf("cross entropy requires Float32 logits and Int32 targets")
	}
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("logits must be 2D [batch, classes], got %v", logits.Shape)
	}
	if len(target.Shape) != 1 || target.Shape[0] != logits.Shape[0] {
		return nil, fmt.Errorf("target must be [batch]=%d, got %v", logits.Shape[0], target.Shape)
	}

	batch, classes := logits.Shape[0], logits.Shape[1]
	probs, err := Softmax(logits)
	if err != nil {
		return nil, err
	}

	pd := probs.Data.([]float32)
	td := target.Data.([]int32)
	var total float32
	for i := 0; i < batch; i++ {
		cls := int(td[i])
		if cls < 0 || cls >= classes {
			return nil, fmt.Errorf("target class %d out of range [0, %d)", cls, classes)
		}
		p := pd[i*classes+cls]
		if p < 1e-10 {
			p = 1e-10
		}
		total += -float32(math.Log(float64(p)))
	}

	result, err := NewTensor([]int{1}, Float32, []float32{total / float32(batch)})
	if err != nil {
		return nil, err
	}
	op := &crossEntropyOp{opBase{[]*Tensor{logits}}, target, probs}
	return attach(result, op, logits), nil
}

func (op *crossEntropyOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	logits := op.inputs[0]
	batch, classes := logits.Shape[0], logits.Shape[1]

	g, err := op.probs.Clone()
	if err != nil {
		return nil, err
	}
	gd := g.Data.([]float32)
	td := op.target.Data.([]int32)
	scale := gradOut.Data.([]float32)[0] / float32(batch)
	for i := 0; i < batch; i++ {
		gd[i*classes+int(td[i])] -= 1.0
	}
	for i := range gd {
		gd[i] *= scale
	}
	return []*Tensor{g}, nil
}

type tanhMSEOp struct {
	opBase
	target float32
	tanhed []float32
}

// TanhMSEAutograd computes mean((tanh(x) - target)^2) over all elements.
func TanhMSEAutograd(x *Tensor, target float32) (*Tensor, error) {
	if x.DType != Float32 {
		return nil, fmt.Errorf("TanhMSE only supports Float32 tensors")
	}

	xd := x.Data.([]float32)
	tanhed := make([]float32, len(xd))
	var total float32
	for i, v := range xd {
		th := float32(math.Tanh(float64(v)))
		tanhed[i] = th
		diff := th - target
		total += diff * diff
	}

	result, err := NewTensor([]int{1}, Float32, []float32{total / float32(x.NumElems)})
	if err != nil {
		return nil, err
	}
	op := &tanhMSEOp{opBase{[]*Tensor{x}}, target, tanhed}
	return attach(result, op, x), nil
}

func (op *tanhMSEOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	x := op.inputs[0]
	g, err := Zeros(x.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gd := g.Data.([]float32)
	scale := gradOut.Data.([]float32)[0] * 2 / float32(x.NumElems)
	for i, th := range op.tanhed {
		gd[i] = scale * (th - op.target) * (1 - th*th)
	}
	return []*Tensor{g}, nil
}
