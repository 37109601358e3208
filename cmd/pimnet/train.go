package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/driftworks/pimnet/backbone"
	"github.com/driftworks/pimnet/checkpoints"
	"github.com/driftworks/pimnet/logger"
	"github.com/driftworks/pimnet/monitor"
	"github.com/driftworks/pimnet/nn"
	"github.com/driftworks/pimnet/pim"
	"github.com/driftworks/pimnet/training"
)

func trainCmd() *cli.Command {
	var (
		configPath     string
		trainDataPath  string
		valDataPath    string
		pretrainedPath string
		outPath        string
		monitorURL     string
	)

	return &cli.Command{
		Name:  "train",
		Usage: "Train a classification pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "path to the YAML config file",
				Required:    true,
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "data",
				Usage:       "path to the training dataset (JSON)",
				Required:    true,
				Destination: &trainDataPath,
			},
			&cli.StringFlag{
				Name:        "val-data",
				Usage:       "path to the validation dataset (JSON)",
				Destination: &valDataPath,
			},
			&cli.StringFlag{
				Name:        "pretrained",
				Usage:       "checkpoint to warm-start the backbone from",
				Destination: &pretrainedPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Usage:       "path the final checkpoint is written to",
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:        "monitor",
				Usage:       "base URL of a metrics monitor service",
				Destination: &monitorURL,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(os.Stderr, logger.Config{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
			})
			if err != nil {
				return err
			}

			nn.SetRandomSeed(cfg.Training.Seed)

			pipe, err := buildPipeline(cfg, pretrainedPath, log)
			if err != nil {
				return err
			}

			trainSet, err := loadDataset(trainDataPath)
			if err != nil {
				return err
			}
			var valSet *training.InMemoryDataset
			if valDataPath != "" {
				if valSet, err = loadDataset(valDataPath); err != nil {
					return err
				}
			}

			groups, err := training.BuildParameterGroups(pipe, training.GroupConfig{
				BaseLR:      cfg.Training.BaseLR,
				WeightDecay: cfg.Training.WeightDecay,
			})
			if err != nil {
				return err
			}
			for _, g := range groups {
				log.Info("parameter group",
					"name", g.Name, "params", len(g.Params), "max_lr", g.MaxLR)
			}

			opt, err := training.NewAdamW(groups, training.DefaultAdamWConfig())
			if err != nil {
				return err
			}

			stepsPerEpoch := trainSet.Len() / cfg.Training.BatchSize
			if stepsPerEpoch == 0 {
				return fmt.Errorf("dataset has %d samples, batch size %d leaves no full batch",
					trainSet.Len(), cfg.Training.BatchSize)
			}
			sched, err := training.NewOneCycleScheduler(
				cfg.Training.Epochs*stepsPerEpoch, cfg.Training.WarmupPct)
			if err != nil {
				return err
			}

			var sinks []training.MetricSink
			if monitorURL != "" {
				reporter, err := monitor.NewReporter(ctx, monitorURL, cfg.Model.Name, log)
				if err != nil {
					return fmt.Errorf("connecting to monitor: %w", err)
				}
				log.Info("reporting metrics", "url", monitorURL, "run_id", reporter.RunID())
				sinks = append(sinks, reporter)
			}

			trainer, err := training.NewTrainer(training.TrainerConfig{
				Model:     pipe,
				Optimizer: opt,
				Scheduler: sched,
				Weights:   cfg.LossWeights(),
				Logger:    log,
				Sinks:     sinks,
			})
			if err != nil {
				return err
			}

			rng := rand.New(rand.NewSource(cfg.Training.Seed))
			for epoch := 1; epoch <= cfg.Training.Epochs; epoch++ {
				batches, err := trainSet.Batches(cfg.Training.BatchSize, rng)
				if err != nil {
					return err
				}
				loss, acc, err := trainer.TrainEpoch(ctx, epoch, batches)
				if err != nil {
					return err
				}
				log.Info("epoch complete", "epoch", epoch, "loss", loss, "acc", acc)

				if valSet != nil {
					valBatches, err := valSet.Batches(cfg.Training.BatchSize, nil)
					if err != nil {
						return err
					}
					valLoss, valAcc, err := trainer.Validate(ctx, valBatches)
					if err != nil {
						return err
					}
					log.Info("validation", "epoch", epoch, "loss", valLoss, "acc", valAcc)
				}
			}

			if outPath != "" {
				ckpt, err := checkpoints.Capture(
					cfg.Model.Name, cfg.Training.Epochs, trainer.GlobalStep(), pipe)
				if err != nil {
					return err
				}
				if err := ckpt.SaveFile(outPath); err != nil {
					return err
				}
				log.Info("checkpoint saved", "path", outPath)
			}
			return nil
		},
	}
}

// buildPipeline constructs the model from the config, optionally restoring
// backbone weights from a checkpoint before marking it for finetuning.
func buildPipeline(cfg Config, pretrainedPath string, log *slog.Logger) (*pim.Pipeline, error) {
	bb, err := backbone.NewSmallConv(cfg.Model.InputChannels, cfg.ScaleShapes())
	if err != nil {
		return nil, err
	}

	if pretrainedPath != "" {
		ckpt, err := checkpoints.LoadFile(pretrainedPath)
		if err != nil {
			return nil, fmt.Errorf("loading pretrained weights: %w", err)
		}
		report, err := ckpt.Apply(bb)
		if err != nil {
			return nil, fmt.Errorf("applying pretrained weights: %w", err)
		}
		log.Info("pretrained weights applied",
			"path", pretrainedPath,
			"loaded", len(report.Loaded),
			"shape_mismatch", len(report.SkippedShape),
			"missing", len(report.MissingInCheckpoint),
			"unused", len(report.UnusedInCheckpoint))
		for _, name := range report.SkippedShape {
			log.Warn("shape mismatch, keeping fresh weights", "param", name)
		}
		bb.MarkPretrained()
	}

	return pim.NewPipeline(bb, pim.Config{
		FPNSize:    cfg.Model.FPNSize,
		NumClasses: cfg.Model.NumClasses,
		NumSelects: cfg.Model.NumSelects,
		DropRate:   cfg.Model.DropRate,
	})
}
