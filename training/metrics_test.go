package training

import (
	"testing"

	"github.com/driftworks/pimnet/tensor"
)

func mustLabels(t *testing.T, labels []int32) *tensor.Tensor {
	t.Helper()
	ten, err := tensor.NewTensor([]int{len(labels)}, tensor.Int32, labels)
	if err != nil {
		t.Fatalf("creating labels: %v", err)
	}
	return ten
}

func TestAccuracy(t *testing.T) {
	t.Run("counts matches", func(t *testing.T) {
		target := mustLabels(t, []int32{0, 1, 2, 1})
		acc, err := Accuracy([]int{0, 1, 1, 1}, target)
		if err != nil {
			t.Fatalf("Accuracy failed: %v", err)
		}
		if acc != 0.75 {
			t.Errorf("accuracy = %v, want 0.75", acc)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		target := mustLabels(t, []int32{0, 1})
		if _, err := Accuracy([]int{0}, target); err == nil {
			t.Error("expected an error for mismatched lengths")
		}
	})
}

func TestConfusionMatrix(t *testing.T) {
	t.Run("counts pairs", func(t *testing.T) {
		target := mustLabels(t, []int32{0, 0, 1, 2})
		matrix, err := ConfusionMatrix([]int{0, 1, 1, 1}, target, 3)
		if err != nil {
			t.Fatalf("ConfusionMatrix failed: %v", err)
		}
		want := [][]int{
			{1, 1, 0},
			{0, 1, 0},
			{0, 1, 0},
		}
		for i := range want {
			for j := range want[i] {
				if matrix[i][j] != want[i][j] {
					t.Errorf("matrix[%d][%d] = %d, want %d", i, j, matrix[i][j], want[i][j])
				}
			}
		}
	})

	t.Run("rejects out-of-range classes", func(t *testing.T) {
		target := mustLabels(t, []int32{0})
		if _, err := ConfusionMatrix([]int{5}, target, 3); err == nil {
			t.Error("expected an error for an out-of-range prediction")
		}
	})
}
