package training

import (
	"math"
	"testing"
)

func TestOneCycleScheduler(t *testing.T) {
	s, err := NewOneCycleScheduler(100, 0.3)
	if err != nil {
		t.Fatalf("NewOneCycleScheduler failed: %v", err)
	}

	base := 1.0

	t.Run("starts at a fraction of peak", func(t *testing.T) {
		start := s.GetLR(0, 0, base)
		if math.Abs(start-base/25) > 1e-9 {
			t.Errorf("start LR %v, want %v", start, base/25)
		}
	})

	t.Run("peaks at the end of warmup", func(t *testing.T) {
		peak := s.GetLR(0, 30, base)
		if math.Abs(peak-base) > 1e-9 {
			t.Errorf("peak LR %v, want %v", peak, base)
		}
	})

	t.Run("warmup rises monotonically", func(t *testing.T) {
		prev := s.GetLR(0, 0, base)
		for step := 1; step <= 30; step++ {
			cur := s.GetLR(0, step, base)
			if cur < prev {
				t.Fatalf("LR fell during warmup at step %d: %v -> %v", step, prev, cur)
			}
			prev = cur
		}
	})

	t.Run("anneal falls monotonically", func(t *testing.T) {
		prev := s.GetLR(0, 30, base)
		for step := 31; step <= 100; step++ {
			cur := s.GetLR(0, step, base)
			if cur > prev {
				t.Fatalf("LR rose during anneal at step %d: %v -> %v", step, prev, cur)
			}
			prev = cur
		}
	})

	t.Run("ends near zero", func(t *testing.T) {
		end := s.GetLR(0, 100, base)
		if end > base/1000 {
			t.Errorf("final LR %v, want well below peak", end)
		}
	})

	t.Run("clamps out-of-range steps", func(t *testing.T) {
		if got := s.GetLR(0, 500, base); got != s.GetLR(0, 100, base) {
			t.Errorf("overshoot LR %v, want clamped", got)
		}
		if got := s.GetLR(0, -5, base); got != s.GetLR(0, 0, base) {
			t.Errorf("undershoot LR %v, want clamped", got)
		}
	})
}

func TestNewOneCycleSchedulerValidation(t *testing.T) {
	if _, err := NewOneCycleScheduler(0, 0.3); err == nil {
		t.Error("expected error for zero steps")
	}
	if _, err := NewOneCycleScheduler(100, 0); err == nil {
		t.Error("expected error for zero warmup")
	}
	if _, err := NewOneCycleScheduler(100, 1); err == nil {
		t.Error("expected error for full warmup")
	}
}

func TestStepLRScheduler(t *testing.T) {
	s := NewStepLRScheduler(10, 0.5)
	if got := s.GetLR(0, 0, 1.0); got != 1.0 {
		t.Errorf("epoch 0 LR %v, want 1.0", got)
	}
	if got := s.GetLR(10, 0, 1.0); got != 0.5 {
		t.Errorf("epoch 10 LR %v, want 0.5", got)
	}
	if got := s.GetLR(25, 0, 1.0); got != 0.25 {
		t.Errorf("epoch 25 LR %v, want 0.25", got)
	}
}

func TestCosineAnnealingLRScheduler(t *testing.T) {
	s := NewCosineAnnealingLRScheduler(10, 0.001)
	if got := s.GetLR(0, 0, 1.0); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("epoch 0 LR %v, want 1.0", got)
	}
	if got := s.GetLR(10, 0, 1.0); got != 0.001 {
		t.Errorf("epoch 10 LR %v, want eta min", got)
	}
	mid := s.GetLR(5, 0, 1.0)
	if mid >= 1.0 || mid <= 0.001 {
		t.Errorf("midpoint LR %v should sit between bounds", mid)
	}
}

func TestNoOpScheduler(t *testing.T) {
	s := &NoOpScheduler{}
	if got := s.GetLR(7, 99, 0.42); got != 0.42 {
		t.Errorf("NoOp changed LR to %v", got)
	}
}
