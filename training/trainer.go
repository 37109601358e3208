package training

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/driftworks/pimnet/pim"
)

// Trainer drives the optimization loop for a classification pipeline.
type Trainer struct {
	model      *pim.Pipeline
	optimizer  *AdamW
	scheduler  LRScheduler
	weights    pim.LossWeights
	log        *slog.Logger
	sinks      []MetricSink
	globalStep int
}

// TrainerConfig bundles the trainer collaborators.
type TrainerConfig struct {
	Model     *pim.Pipeline
	Optimizer *AdamW
	Scheduler LRScheduler
	Weights   pim.LossWeights
	Logger    *slog.Logger
	Sinks     []MetricSink
}

// NewTrainer wires up a trainer. Scheduler and logger are optional; a nil
// scheduler keeps learning rates constant.
func NewTrainer(cfg TrainerConfig) (*Trainer, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("trainer needs a model")
	}
	if cfg.Optimizer == nil {
		return nil, fmt.Errorf("trainer needs an optimizer")
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = &NoOpScheduler{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Trainer{
		model:     cfg.Model,
		optimizer: cfg.Optimizer,
		scheduler: sched,
		weights:   cfg.Weights,
		log:       log,
		sinks:     cfg.Sinks,
	}, nil
}

// GlobalStep returns the number of optimizer steps taken so far.
func (t *Trainer) GlobalStep() int { return t.globalStep }

// TrainEpoch runs one pass over the batches, returning the sample-weighted
// average loss and accuracy. The context aborts the loop between batches.
func (t *Trainer) TrainEpoch(ctx context.Context, epoch int, batches []Batch) (loss, acc float64, err error) {
	if len(batches) == 0 {
		return 0, 0, fmt.Errorf("no training batches")
	}
	t.model.Train()

	var lossMeter, accMeter averageMeter
	for i, batch := range batches {
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		default:
		}

		t.globalStep++
		factor := t.scheduler.GetLR(epoch, t.globalStep, 1.0)
		t.optimizer.SetLRFactor(factor)
		t.optimizer.ZeroGrad()

		out, err := t.model.Forward(batch.Inputs)
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d forward: %w", i, err)
		}
		lossT, err := t.model.Loss(out, batch.Labels, t.weights)
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d loss: %w", i, err)
		}
		if err := lossT.Backward(); err != nil {
			return 0, 0, fmt.Errorf("batch %d backward: %w", i, err)
		}
		if err := t.optimizer.Step(); err != nil {
			return 0, 0, fmt.Errorf("batch %d optimizer step: %w", i, err)
		}

		lossVal, err := lossT.Item()
		if err != nil {
			return 0, 0, err
		}
		preds, err := t.model.Predict(out)
		if err != nil {
			return 0, 0, err
		}
		batchAcc, err := Accuracy(preds, batch.Labels)
		if err != nil {
			return 0, 0, err
		}

		lossMeter.add(float64(lossVal), batch.Size())
		accMeter.add(batchAcc, batch.Size())
		t.emit(MetricTrainLoss, float64(lossVal))
		t.emit(MetricTrainAcc, batchAcc)

		if t.globalStep == 1 {
			t.reportMemory()
		}
	}

	loss, acc = lossMeter.average(), accMeter.average()
	t.log.Info("epoch complete",
		"epoch", epoch,
		"step", t.globalStep,
		MetricTrainLoss, loss,
		MetricTrainAcc, acc,
		"lr", t.optimizer.GetLR(),
	)
	return loss, acc, nil
}

// Validate scores the batches with the combined head only, without
// touching gradients or the schedule.
func (t *Trainer) Validate(ctx context.Context, batches []Batch) (loss, acc float64, err error) {
	if len(batches) == 0 {
		return 0, 0, fmt.Errorf("no validation batches")
	}
	t.model.Eval()
	defer t.model.Train()

	var lossMeter, accMeter averageMeter
	for i, batch := range batches {
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		default:
		}

		out, err := t.model.Forward(batch.Inputs)
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d forward: %w", i, err)
		}
		lossT, err := t.model.ValidationLoss(out, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d loss: %w", i, err)
		}
		lossVal, err := lossT.Item()
		if err != nil {
			return 0, 0, err
		}
		preds, err := t.model.Predict(out)
		if err != nil {
			return 0, 0, err
		}
		batchAcc, err := Accuracy(preds, batch.Labels)
		if err != nil {
			return 0, 0, err
		}

		lossMeter.add(float64(lossVal), batch.Size())
		accMeter.add(batchAcc, batch.Size())
		t.emit(MetricValLoss, float64(lossVal))
		t.emit(MetricValAcc, batchAcc)
	}

	loss, acc = lossMeter.average(), accMeter.average()
	t.log.Info("validation complete",
		"step", t.globalStep,
		MetricValLoss, loss,
		MetricValAcc, acc,
	)
	return loss, acc, nil
}

func (t *Trainer) emit(name string, value float64) {
	for _, s := range t.sinks {
		s.Record(name, t.globalStep, value)
	}
}

// reportMemory logs heap usage once, after the first optimizer step, when
// all optimizer state has been allocated.
func (t *Trainer) reportMemory() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	t.log.Info("memory after first step",
		"heap_alloc_mb", ms.HeapAlloc/(1<<20),
		"heap_sys_mb", ms.HeapSys/(1<<20),
		"num_gc", ms.NumGC,
	)
}
