package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/checkpoint"
	"github.com/samcharles93/graft/internal/safetensors"
)

func inspectCmd() *cli.Command {
	var (
		dir         string
		showTensors bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a tuner checkpoint directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"d"},
				Usage:       "checkpoint directory",
				Destination: &dir,
				Required:    true,
			},
			&cli.BoolFlag{Name: "tensors", Usage: "list tensors per tuner set", Destination: &showTensors},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			desc, err := checkpoint.ReadDescriptor(dir)
			if err != nil {
				return err
			}
			fmt.Printf("checkpoint:  %s\n", desc.ID)
			fmt.Printf("created:     %s\n", desc.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("tuner sets:  %d\n", len(desc.Sets))
			for _, name := range desc.Sets {
				fmt.Printf("  %s/\n", name)
				if showTensors {
					if err := listSetTensors(dir, name); err != nil {
						return err
					}
				}
			}
			if len(desc.ExtraKeys) > 0 {
				fmt.Printf("extra state: %v\n", desc.ExtraKeys)
			}
			return nil
		},
	}
}

func listSetTensors(dir, name string) error {
	for _, file := range []string{"weights.safetensors", "adapter_model.safetensors"} {
		path := filepath.Join(dir, name, file)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		f, err := safetensors.Open(path)
		if err != nil {
			return err
		}
		for _, tn := range f.Names() {
			info, _ := f.Tensor(tn)
			fmt.Printf("    %-60s %s %v\n", tn, info.DType, info.Shape)
		}
		return nil
	}
	return fmt.Errorf("no weight file found for tuner set %q", name)
}
