package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/driftworks/pimnet/checkpoints"
	"github.com/driftworks/pimnet/logger"
	"github.com/driftworks/pimnet/training"
)

func inspectCmd() *cli.Command {
	var (
		checkpointPath string
		configPath     string
		showWeights    bool
		weightFilter   string
		weightLimit    int
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a checkpoint or the configured model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"c"},
				Usage:       "path to a checkpoint file",
				Destination: &checkpointPath,
			},
			&cli.StringFlag{
				Name:        "config",
				Usage:       "YAML config; prints the optimizer group assignment",
				Destination: &configPath,
			},
			&cli.BoolFlag{Name: "weights", Usage: "list every weight tensor", Destination: &showWeights},
			&cli.StringFlag{Name: "filter", Usage: "substring filter for the weight listing", Destination: &weightFilter},
			&cli.IntFlag{Name: "limit", Usage: "limit the weight listing (0 = no limit)", Value: 50, Destination: &weightLimit},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_ = ctx

			if checkpointPath == "" && configPath == "" {
				return fmt.Errorf("nothing to inspect: pass --checkpoint and/or --config")
			}
			if checkpointPath != "" {
				if err := inspectCheckpoint(checkpointPath, showWeights, weightFilter, weightLimit); err != nil {
					return err
				}
			}
			if configPath != "" {
				if err := inspectGroups(configPath); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func inspectCheckpoint(path string, showWeights bool, filter string, limit int) error {
	ckpt, err := checkpoints.LoadFile(path)
	if err != nil {
		return err
	}

	var totalParams int
	for _, w := range ckpt.Weights {
		totalParams += len(w.Data)
	}

	fmt.Printf("Checkpoint: %s\n", path)
	fmt.Printf("%-16s %s\n", "model:", ckpt.ModelName)
	fmt.Printf("%-16s %d\n", "epoch:", ckpt.Epoch)
	fmt.Printf("%-16s %d\n", "global_step:", ckpt.GlobalStep)
	fmt.Printf("%-16s %s\n", "saved_at:", ckpt.SavedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("%-16s %d\n", "tensors:", len(ckpt.Weights))
	fmt.Printf("%-16s %d\n", "parameters:", totalParams)

	if !showWeights {
		return nil
	}

	fmt.Println()
	printed := 0
	for _, w := range ckpt.Weights {
		if filter != "" && !strings.Contains(w.Name, filter) {
			continue
		}
		fmt.Printf("%-48s shape=%v params=%d\n", w.Name, w.Shape, len(w.Data))
		printed++
		if limit > 0 && printed >= limit {
			break
		}
	}
	if limit > 0 && printed < len(ckpt.Weights) {
		fmt.Printf("... (%d shown of %d)\n", printed, len(ckpt.Weights))
	}
	return nil
}

// inspectGroups builds the configured model and prints which optimizer group
// every parameter lands in.
func inspectGroups(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	pipe, err := buildPipeline(cfg, "", logger.Default())
	if err != nil {
		return err
	}
	groups, err := training.BuildParameterGroups(pipe, training.GroupConfig{
		BaseLR:      cfg.Training.BaseLR,
		WeightDecay: cfg.Training.WeightDecay,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nParameter groups (base_lr=%g weight_decay=%g):\n",
		cfg.Training.BaseLR, cfg.Training.WeightDecay)
	for _, g := range groups {
		fmt.Printf("\n%s  max_lr=%g weight_decay=%g params=%d\n",
			g.Name, g.MaxLR, g.WeightDecay, len(g.Params))
		for i, name := range g.ParamNames {
			fmt.Printf("  %-48s shape=%v\n", name, g.Params[i].Shape)
		}
	}
	return nil
}
