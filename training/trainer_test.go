package training

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/driftworks/pimnet/backbone"
	"github.com/driftworks/pimnet/nn"
	"github.com/driftworks/pimnet/pim"
)

// recordingSink captures every metric sample for assertions.
type recordingSink struct {
	samples map[string][]float64
}

func newRecordingSink() *recordingSink {
	return &recordingSink{samples: make(map[string][]float64)}
}

func (r *recordingSink) Record(name string, _ int, value float64) {
	r.samples[name] = append(r.samples[name], value)
}

func buildTestTrainer(t *testing.T, sink MetricSink) (*Trainer, []Batch) {
	t.Helper()
	nn.SetRandomSeed(11)

	scales := []pim.ScaleShape{{Name: "layer1", Tokens: 64, Channels: 4}}
	bb, err := backbone.NewSmallConv(1, scales)
	if err != nil {
		t.Fatalf("NewSmallConv failed: %v", err)
	}
	model, err := pim.NewPipeline(bb, pim.Config{
		FPNSize:    4,
		NumClasses: 3,
		NumSelects: map[string]int{"layer1": 32},
		DropRate:   0,
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	groups, err := BuildParameterGroups(model, GroupConfig{BaseLR: 1e-3, WeightDecay: 5e-4})
	if err != nil {
		t.Fatalf("BuildParameterGroups failed: %v", err)
	}
	opt, err := NewAdamW(groups, DefaultAdamWConfig())
	if err != nil {
		t.Fatalf("NewAdamW failed: %v", err)
	}
	sched, err := NewOneCycleScheduler(8, 0.25)
	if err != nil {
		t.Fatalf("NewOneCycleScheduler failed: %v", err)
	}

	var sinks []MetricSink
	if sink != nil {
		sinks = append(sinks, sink)
	}
	trainer, err := NewTrainer(TrainerConfig{
		Model:     model,
		Optimizer: opt,
		Scheduler: sched,
		Weights:   pim.DefaultLossWeights(),
		Logger:    slog.Default(),
		Sinks:     sinks,
	})
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	rng := rand.New(rand.NewSource(5))
	ds, err := NewInMemoryDataset([]int{1, 8, 8})
	if err != nil {
		t.Fatalf("NewInMemoryDataset failed: %v", err)
	}
	for i := 0; i < 8; i++ {
		sample := make([]float32, 64)
		for j := range sample {
			sample[j] = rng.Float32() - 0.5
		}
		if err := ds.Add(sample, int32(i%3)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	batches, err := ds.Batches(2, rng)
	if err != nil {
		t.Fatalf("Batches failed: %v", err)
	}
	return trainer, batches
}

func TestTrainerEpoch(t *testing.T) {
	sink := newRecordingSink()
	trainer, batches := buildTestTrainer(t, sink)

	loss, acc, err := trainer.TrainEpoch(context.Background(), 0, batches)
	if err != nil {
		t.Fatalf("TrainEpoch failed: %v", err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Fatalf("training loss not finite: %v", loss)
	}
	if acc < 0 || acc > 1 {
		t.Fatalf("accuracy %v out of range", acc)
	}
	if trainer.GlobalStep() != len(batches) {
		t.Errorf("global step %d, want %d", trainer.GlobalStep(), len(batches))
	}

	// One sample per optimizer step, not one per epoch.
	if got := len(sink.samples[MetricTrainLoss]); got != len(batches) {
		t.Errorf("recorded %d train/loss samples, want %d", got, len(batches))
	}
	if got := len(sink.samples[MetricTrainAcc]); got != len(batches) {
		t.Errorf("recorded %d train/acc samples, want %d", got, len(batches))
	}
}

func TestTrainerValidate(t *testing.T) {
	sink := newRecordingSink()
	trainer, batches := buildTestTrainer(t, sink)

	loss, acc, err := trainer.Validate(context.Background(), batches)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.Fatalf("validation loss not finite: %v", loss)
	}
	if acc < 0 || acc > 1 {
		t.Fatalf("accuracy %v out of range", acc)
	}
	if trainer.GlobalStep() != 0 {
		t.Errorf("validation advanced the global step to %d", trainer.GlobalStep())
	}
	if got := len(sink.samples[MetricValLoss]); got != len(batches) {
		t.Errorf("recorded %d val/loss samples, want %d", got, len(batches))
	}
	if got := len(sink.samples[MetricValAcc]); got != len(batches) {
		t.Errorf("recorded %d val/acc samples, want %d", got, len(batches))
	}
}

func TestTrainerLossDecreasesOnRepeatedBatch(t *testing.T) {
	trainer, batches := buildTestTrainer(t, nil)
	single := batches[:1]

	first, _, err := trainer.TrainEpoch(context.Background(), 0, single)
	if err != nil {
		t.Fatalf("TrainEpoch failed: %v", err)
	}
	var last float64
	for epoch := 1; epoch <= 5; epoch++ {
		last, _, err = trainer.TrainEpoch(context.Background(), epoch, single)
		if err != nil {
			t.Fatalf("TrainEpoch failed: %v", err)
		}
	}
	if last >= first {
		t.Errorf("loss did not improve on a repeated batch: %v -> %v", first, last)
	}
}

func TestTrainerCancellation(t *testing.T) {
	trainer, batches := buildTestTrainer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := trainer.TrainEpoch(ctx, 0, batches); err == nil {
		t.Error("expected context error")
	}
}

func TestTrainerValidation(t *testing.T) {
	if _, err := NewTrainer(TrainerConfig{}); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestDataset(t *testing.T) {
	ds, err := NewInMemoryDataset([]int{2, 2})
	if err != nil {
		t.Fatalf("NewInMemoryDataset failed: %v", err)
	}
	if err := ds.Add(make([]float32, 3), 0); err == nil {
		t.Error("expected error for wrong sample size")
	}
	if err := ds.Add(make([]float32, 4), -1); err == nil {
		t.Error("expected error for negative label")
	}
	for i := 0; i < 5; i++ {
		if err := ds.Add(make([]float32, 4), int32(i)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if ds.Len() != 5 {
		t.Errorf("Len %d, want 5", ds.Len())
	}

	batches, err := ds.Batches(2, nil)
	if err != nil {
		t.Fatalf("Batches failed: %v", err)
	}
	// 5 samples at batch size 2 drop the trailing sample.
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[0].Size() != 2 {
		t.Errorf("batch size %d, want 2", batches[0].Size())
	}
	labels, err := batches[0].Labels.GetInt32Data()
	if err != nil {
		t.Fatalf("GetInt32Data failed: %v", err)
	}
	if labels[0] != 0 || labels[1] != 1 {
		t.Errorf("unshuffled labels %v, want [0 1]", labels)
	}

	if _, err := ds.Batches(0, nil); err == nil {
		t.Error("expected error for zero batch size")
	}
	if _, err := ds.Batches(10, nil); err == nil {
		t.Error("expected error for oversized batch")
	}
}
