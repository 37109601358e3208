package tensor

import (
	"math"
	"testing"
)

func gradData(t *testing.T, tn *Tensor) []float32 {
	t.Helper()
	g := tn.Grad()
	if g == nil {
		t.Fatal("expected gradient, got nil")
	}
	return g.Data.([]float32)
}

func TestAddBackward(t *testing.T) {
	a := mustTensor(t, []int{2}, []float32{1, 2})
	a.SetRequiresGrad(true)
	b := mustTensor(t, []int{2}, []float32{3, 4})
	b.SetRequiresGrad(true)

	sum, err := AddAutograd(a, b)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	loss, err := MeanAutograd(sum, 0)
	if err != nil {
		t.Fatalf("MeanAutograd failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	floatsClose(t, gradData(t, a), []float32{0.5, 0.5}, 1e-6)
	floatsClose(t, gradData(t, b), []float32{0.5, 0.5}, 1e-6)
}

func TestAddBackwardBroadcast(t *testing.T) {
	// Bias broadcast over the batch: its gradient sums across rows.
	x := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b := mustTensor(t, []int{3}, []float32{0, 0, 0})
	b.SetRequiresGrad(true)

	sum, err := AddAutograd(x, b)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	if err := sum.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	floatsClose(t, gradData(t, b), []float32{2, 2, 2}, 1e-6)
}

func TestMulBackward(t *testing.T) {
	a := mustTensor(t, []int{2}, []float32{2, 3})
	a.SetRequiresGrad(true)
	b := mustTensor(t, []int{2}, []float32{5, 7})
	b.SetRequiresGrad(true)

	prod, err := MulAutograd(a, b)
	if err != nil {
		t.Fatalf("MulAutograd failed: %v", err)
	}
	if err := prod.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	floatsClose(t, gradData(t, a), []float32{5, 7}, 1e-6)
	floatsClose(t, gradData(t, b), []float32{2, 3}, 1e-6)
}

func TestGradAccumulatesOverReuse(t *testing.T) {
	// y = x + x means dy/dx = 2 through two graph paths.
	x := mustTensor(t, []int{2}, []float32{1, 1})
	x.SetRequiresGrad(true)

	y, err := AddAutograd(x, x)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	if err := y.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	floatsClose(t, gradData(t, x), []float32{2, 2}, 1e-6)
}

func TestLinearBackward(t *testing.T) {
	x := mustTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
	x.SetRequiresGrad(true)
	w := mustTensor(t, []int{2, 2}, []float32{1, 0, 0, 1})
	w.SetRequiresGrad(true)
	b := mustTensor(t, []int{2}, []float32{0, 0})
	b.SetRequiresGrad(true)

	y, err := LinearAutograd(x, w, b)
	if err != nil {
		t.Fatalf("LinearAutograd failed: %v", err)
	}
	if err := y.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// With identity weights and an all-ones seed:
	// gx = seed @ w^T = ones, gw = x^T @ seed, gb = column sums of seed.
	floatsClose(t, gradData(t, x), []float32{1, 1, 1, 1}, 1e-5)
	floatsClose(t, gradData(t, w), []float32{4, 4, 6, 6}, 1e-5)
	floatsClose(t, gradData(t, b), []float32{2, 2}, 1e-5)
}

func TestReLUBackward(t *testing.T) {
	x := mustTensor(t, []int{4}, []float32{-1, 0, 2, 3})
	x.SetRequiresGrad(true)

	y, err := ReLUAutograd(x)
	if err != nil {
		t.Fatalf("ReLUAutograd failed: %v", err)
	}
	if err := y.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	floatsClose(t, gradData(t, x), []float32{0, 0, 1, 1}, 1e-6)
}

func TestTanhBackward(t *testing.T) {
	x := mustTensor(t, []int{2}, []float32{0, 1})
	x.SetRequiresGrad(true)

	y, err := TanhAutograd(x)
	if err != nil {
		t.Fatalf("TanhAutograd failed: %v", err)
	}
	if err := y.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	th := math.Tanh(1)
	floatsClose(t, gradData(t, x), []float32{1, float32(1 - th*th)}, 1e-5)
}

func TestGatherBackwardScatterAdds(t *testing.T) {
	x := mustTensor(t, []int{1, 3, 2}, []float32{1, 2, 3, 4, 5, 6})
	x.SetRequiresGrad(true)
	idx, err := NewTensor([]int{1, 3}, Int32, []int32{0, 2, 0})
	if err != nil {
		t.Fatalf("index tensor failed: %v", err)
	}

	y, err := GatherAutograd(x, idx)
	if err != nil {
		t.Fatalf("GatherAutograd failed: %v", err)
	}
	if err := y.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// Row 0 is selected twice, row 1 never, row 2 once.
	floatsClose(t, gradData(t, x), []float32{2, 2, 0, 0, 1, 1}, 1e-6)
}

func TestConcatBackwardSplits(t *testing.T) {
	a := mustTensor(t, []int{1, 1, 2}, []float32{1, 2})
	a.SetRequiresGrad(true)
	b := mustTensor(t, []int{1, 2, 2}, []float32{3, 4, 5, 6})
	b.SetRequiresGrad(true)

	c, err := ConcatAutograd([]*Tensor{a, b}, 1)
	if err != nil {
		t.Fatalf("ConcatAutograd failed: %v", err)
	}
	if err := c.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	floatsClose(t, gradData(t, a), []float32{1, 1}, 1e-6)
	floatsClose(t, gradData(t, b), []float32{1, 1, 1, 1}, 1e-6)
}

func TestCrossEntropyBackward(t *testing.T) {
	logits := mustTensor(t, []int{2, 2}, []float32{0, 0, 0, 0})
	logits.SetRequiresGrad(true)
	target, err := NewTensor([]int{2}, Int32, []int32{0, 1})
	if err != nil {
		t.Fatalf("target tensor failed: %v", err)
	}

	loss, err := CrossEntropyAutograd(logits, target)
	if err != nil {
		t.Fatalf("CrossEntropyAutograd failed: %v", err)
	}

	// Uniform logits over 2 classes give loss ln(2).
	v, err := loss.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if math.Abs(float64(v)-math.Log(2)) > 1e-5 {
		t.Errorf("expected ln(2), got %v", v)
	}

	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// Gradient is (softmax - onehot) / batch.
	want := []float32{-0.25, 0.25, 0.25, -0.25}
	floatsClose(t, gradData(t, logits), want, 1e-5)
}

func TestCrossEntropyRejectsBadTarget(t *testing.T) {
	logits := mustTensor(t, []int{1, 2}, []float32{0, 0})
	target, err := NewTensor([]int{1}, Int32, []int32{5})
	if err != nil {
		t.Fatalf("target tensor failed: %v", err)
	}
	if _, err := CrossEntropyAutograd(logits, target); err == nil {
		t.Error("expected error for out-of-range class")
	}
}

func TestTanhMSEBackward(t *testing.T) {
	x := mustTensor(t, []int{2}, []float32{0, 0})
	x.SetRequiresGrad(true)

	loss, err := TanhMSEAutograd(x, -1)
	if err != nil {
		t.Fatalf("TanhMSEAutograd failed: %v", err)
	}
	v, err := loss.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	// tanh(0) = 0, so each squared error against -1 is 1.
	if math.Abs(float64(v)-1) > 1e-6 {
		t.Errorf("expected loss 1, got %v", v)
	}

	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	// d/dx mean((tanh(x)+1)^2) at 0 is 2*(0+1)*1/2 = 1.
	floatsClose(t, gradData(t, x), []float32{1, 1}, 1e-5)
}

func TestTanhMSESaturatedIsNearZero(t *testing.T) {
	// tanh(-20) is -1 up to float32 precision, so the error against the
	// -1 target vanishes.
	x := mustTensor(t, []int{3}, []float32{-20, -20, -20})
	loss, err := TanhMSEAutograd(x, -1)
	if err != nil {
		t.Fatalf("TanhMSEAutograd failed: %v", err)
	}
	v, err := loss.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if math.Abs(float64(v)) > 1e-10 {
		t.Errorf("expected vanishing loss, got %v", v)
	}
}

// TestCompositeNumericalGradient checks a small two-layer network against
// finite differences.
func TestCompositeNumericalGradient(t *testing.T) {
	xData := []float32{0.5, -0.3, 0.8, 0.1}
	wData := []float32{0.2, -0.1, 0.4, 0.3}
	tgtData := []int32{1, 0}

	forward := func(w []float32) float32 {
		x := mustTensor(t, []int{2, 2}, append([]float32{}, xData...))
		wt := mustTensor(t, []int{2, 2}, append([]float32{}, w...))
		tgt, err := NewTensor([]int{2}, Int32, tgtData)
		if err != nil {
			t.Fatalf("target tensor failed: %v", err)
		}
		h, err := LinearForward(x, wt, nil)
		if err != nil {
			t.Fatalf("LinearForward failed: %v", err)
		}
		r, err := Tanh(h)
		if err != nil {
			t.Fatalf("Tanh failed: %v", err)
		}
		loss, err := CrossEntropyAutograd(r, tgt)
		if err != nil {
			t.Fatalf("CrossEntropyAutograd failed: %v", err)
		}
		v, err := loss.Item()
		if err != nil {
			t.Fatalf("Item failed: %v", err)
		}
		return v
	}

	// Analytic gradient.
	x := mustTensor(t, []int{2, 2}, append([]float32{}, xData...))
	w := mustTensor(t, []int{2, 2}, append([]float32{}, wData...))
	w.SetRequiresGrad(true)
	tgt, err := NewTensor([]int{2}, Int32, tgtData)
	if err != nil {
		t.Fatalf("target tensor failed: %v", err)
	}
	h, err := LinearAutograd(x, w, nil)
	if err != nil {
		t.Fatalf("LinearAutograd failed: %v", err)
	}
	r, err := TanhAutograd(h)
	if err != nil {
		t.Fatalf("TanhAutograd failed: %v", err)
	}
	loss, err := CrossEntropyAutograd(r, tgt)
	if err != nil {
		t.Fatalf("CrossEntropyAutograd failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	analytic := gradData(t, w)

	const eps = 1e-2
	for i := range wData {
		plus := append([]float32{}, wData...)
		minus := append([]float32{}, wData...)
		plus[i] += eps
		minus[i] -= eps
		numeric := (forward(plus) - forward(minus)) / (2 * eps)
		if math.Abs(float64(numeric-analytic[i])) > 5e-3 {
			t.Errorf("weight %d: numeric %v vs analytic %v", i, numeric, analytic[i])
		}
	}
}

func TestZeroGrad(t *testing.T) {
	x := mustTensor(t, []int{2}, []float32{1, 2})
	x.SetRequiresGrad(true)

	y, err := ScaleAutograd(x, 3)
	if err != nil {
		t.Fatalf("ScaleAutograd failed: %v", err)
	}
	if err := y.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if x.Grad() == nil {
		t.Fatal("expected gradient after backward")
	}

	ZeroGrad([]*Tensor{x})
	if x.Grad() != nil {
		t.Error("expected nil gradient after ZeroGrad")
	}
}
