package backbone

import (
	"testing"

	"github.com/driftworks/pimnet/nn"
	"github.com/driftworks/pimnet/pim"
	"github.com/driftworks/pimnet/tensor"
)

func TestSmallConv(t *testing.T) {
	nn.SetRandomSeed(1)

	scales := []pim.ScaleShape{
		{Name: "layer1", Tokens: 16, Channels: 8},
		{Name: "layer2", Tokens: 4, Channels: 8},
	}

	bb, err := NewSmallConv(3, scales)
	if err != nil {
		t.Fatalf("NewSmallConv failed: %v", err)
	}

	x, err := tensor.NewTensor([]int{2, 3, 8, 8}, tensor.Float32, make([]float32, 2*3*8*8))
	if err != nil {
		t.Fatalf("input tensor failed: %v", err)
	}

	out, err := bb.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("invalid output: %v", err)
	}

	l1, _ := out.Get("layer1")
	if l1.Shape[0] != 2 || l1.Shape[1] != 16 || l1.Shape[2] != 8 {
		t.Errorf("layer1 shape %v, want [2 16 8]", l1.Shape)
	}
	l2, _ := out.Get("layer2")
	if l2.Shape[1] != 4 {
		t.Errorf("layer2 has %d tokens, want 4", l2.Shape[1])
	}
}

func TestSmallConvPooling(t *testing.T) {
	nn.SetRandomSeed(1)

	// One scale, one token: the pooled patch is the image average.
	scales := []pim.ScaleShape{{Name: "s", Tokens: 1, Channels: 2}}
	bb, err := NewSmallConv(1, scales)
	if err != nil {
		t.Fatalf("NewSmallConv failed: %v", err)
	}

	data := []float32{1, 2, 3, 4}
	x, err := tensor.NewTensor([]int{1, 1, 2, 2}, tensor.Float32, data)
	if err != nil {
		t.Fatalf("input tensor failed: %v", err)
	}
	patches, err := poolToGrid(x, 1)
	if err != nil {
		t.Fatalf("poolToGrid failed: %v", err)
	}
	pd, _ := patches.GetFloat32Data()
	if pd[0] != 2.5 {
		t.Errorf("pooled value %v, want 2.5", pd[0])
	}

	if _, err := bb.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
}

func TestSmallConvValidation(t *testing.T) {
	if _, err := NewSmallConv(3, []pim.ScaleShape{{Name: "s", Tokens: 3, Channels: 4}}); err == nil {
		t.Error("expected error for non-square token count")
	}
	if _, err := NewSmallConv(0, []pim.ScaleShape{{Name: "s", Tokens: 4, Channels: 4}}); err == nil {
		t.Error("expected error for zero input channels")
	}

	scales := []pim.ScaleShape{{Name: "s", Tokens: 4, Channels: 4}}
	bb, err := NewSmallConv(3, scales)
	if err != nil {
		t.Fatalf("NewSmallConv failed: %v", err)
	}
	x, err := tensor.NewTensor([]int{1, 3, 3, 3}, tensor.Float32, make([]float32, 27))
	if err != nil {
		t.Fatalf("input tensor failed: %v", err)
	}
	if _, err := bb.Forward(x); err == nil {
		t.Error("expected error for image not divisible by grid")
	}
}

func TestSmallConvFinetuneHint(t *testing.T) {
	scales := []pim.ScaleShape{{Name: "s", Tokens: 4, Channels: 4}}
	bb, err := NewSmallConv(3, scales)
	if err != nil {
		t.Fatalf("NewSmallConv failed: %v", err)
	}
	if bb.FinetuneHint() {
		t.Error("fresh backbone should not be marked pretrained")
	}
	bb.MarkPretrained()
	if !bb.FinetuneHint() {
		t.Error("expected finetune hint after MarkPretrained")
	}
}
