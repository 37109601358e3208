package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/driftworks/pimnet/checkpoints"
	"github.com/driftworks/pimnet/logger"
	"github.com/driftworks/pimnet/nn"
	"github.com/driftworks/pimnet/training"
)

func evalCmd() *cli.Command {
	var (
		configPath     string
		checkpointPath string
		dataPath       string
		batchSize      int
	)

	return &cli.Command{
		Name:  "eval",
		Usage: "Evaluate a checkpoint on a dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "path to the YAML config file",
				Required:    true,
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "checkpoint",
				Usage:       "pipeline checkpoint to evaluate",
				Required:    true,
				Destination: &checkpointPath,
			},
			&cli.StringFlag{
				Name:        "data",
				Usage:       "path to the evaluation dataset (JSON)",
				Required:    true,
				Destination: &dataPath,
			},
			&cli.IntFlag{
				Name:        "batch-size",
				Usage:       "evaluation batch size (defaults to the config value)",
				Destination: &batchSize,
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

			pipe, err := buildPipeline(cfg, "", log)
			if err != nil {
				return err
			}
			ckpt, err := checkpoints.LoadFile(checkpointPath)
			if err != nil {
				return err
			}
			report, err := ckpt.Apply(pipe)
			if err != nil {
				return err
			}
			if n := len(report.SkippedShape) + len(report.MissingInCheckpoint); n > 0 {
				return fmt.Errorf("checkpoint does not match the configured model: %d parameters unrestored", n)
			}
			log.Info("checkpoint loaded",
				"path", checkpointPath, "epoch", ckpt.Epoch, "params", len(report.Loaded))

			ds, err := loadDataset(dataPath)
			if err != nil {
				return err
			}
			bs := batchSize
			if bs == 0 {
				bs = cfg.Training.BatchSize
			}
			batches, err := ds.Batches(bs, nil)
			if err != nil {
				return err
			}

			pipe.Eval()
			var lossSum, accSum float64
			var total int
			for i, batch := range batches {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}

				out, err := pipe.Forward(batch.Inputs)
				if err != nil {
					return fmt.Errorf("batch %d forward: %w", i, err)
				}
				lossT, err := pipe.ValidationLoss(out, batch.Labels)
				if err != nil {
					return fmt.Errorf("batch %d loss: %w", i, err)
				}
				lossVal, err := lossT.Item()
				if err != nil {
					return err
				}
				preds, err := pipe.Predict(out)
				if err != nil {
					return err
				}
				acc, err := training.Accuracy(preds, batch.Labels)
				if err != nil {
					return err
				}

				lossSum += float64(lossVal) * float64(batch.Size())
				accSum += acc * float64(batch.Size())
				total += batch.Size()
			}

			loss := lossSum / float64(total)
			acc := accSum / float64(total)
			log.Info("evaluation complete", "samples", total, "loss", loss, "acc", acc)
			fmt.Printf("samples=%d loss=%.4f acc=%.4f\n", total, loss, acc)
			return nil
		},
	}
}
