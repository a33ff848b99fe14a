package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/alphacombiner/internal/inspect"
	"github.com/samcharles93/alphacombiner/pkg/bam"
)

func diffCmd() *cli.Command {
	var (
		asJSON   bool
		maxDepth int
	)

	return &cli.Command{
		Name:      "diff",
		Usage:     "Compare two BAM files, e.g. a model and its _png rewrite",
		ArgsUsage: "<before.bam> <after.bam>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the changes as JSON", Destination: &asJSON},
			maxHandleDepthFlag(&maxDepth),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 2 {
				return fmt.Errorf("diff: expected two BAM files, got %d", cmd.NArg())
			}
			var sums [2]*inspect.Summary
			for i, path := range cmd.Args().Slice() {
				// Each side is a separate run, so each gets its own state.
				f, err := bam.Open(path, bam.Options{MaxHandleDepth: maxDepth})
				if err != nil {
					return fmt.Errorf("diff %s: %w", path, err)
				}
				if sums[i], err = inspect.Summarize(f); err != nil {
					return fmt.Errorf("diff %s: %w", path, err)
				}
			}

			changes := inspect.Diff(sums[0], sums[1])
			if asJSON {
				if changes == nil {
					changes = []inspect.Change{}
				}
				return inspect.WriteJSON(os.Stdout, changes)
			}
			if len(changes) == 0 {
				fmt.Println("no differences")
				return nil
			}
			for _, c := range changes {
				fmt.Println(c.String())
			}
			return nil
		},
	}
}
