package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/alphacombiner/internal/combiner"
	"github.com/samcharles93/alphacombiner/internal/logger"
	"github.com/samcharles93/alphacombiner/pkg/bam"
)

func convertCmd() *cli.Command {
	var (
		opts          combiner.Options
		targetVersion string
		maxDepth      int
	)

	return &cli.Command{
		Name:      "convert",
		Usage:     "Rewrite BAM models to reference PNG textures",
		ArgsUsage: "<file.bam|pattern>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "jpg",
				Aliases:     []string{"j"},
				Usage:       "convert regular JPG textures to PNG textures",
				Destination: &opts.ConvertPlain,
			},
			&cli.BoolFlag{
				Name:        "rgb",
				Aliases:     []string{"r"},
				Usage:       "convert JPG+RGB texture combos to PNG textures",
				Destination: &opts.ConvertPaired,
			},
			&cli.BoolFlag{
				Name:        "overwrite",
				Aliases:     []string{"o"},
				Usage:       "overwrite models instead of appending _png to the file name",
				Destination: &opts.Overwrite,
			},
			&cli.BoolFlag{
				Name:        "convert-images",
				Aliases:     []string{"c"},
				Usage:       "convert all modified images to PNG in place (needs --phase-files)",
				Destination: &opts.ConvertImages,
			},
			&cli.BoolFlag{
				Name:        "wipe-jpg",
				Aliases:     []string{"w"},
				Usage:       "remove the JPG+RGB files that have been converted to PNG",
				Destination: &opts.WipeOld,
			},
			&cli.BoolFlag{
				Name:        "early-exit",
				Aliases:     []string{"e"},
				Usage:       "stop as soon as an image cannot be converted",
				Destination: &opts.EarlyExit,
			},
			&cli.StringFlag{
				Name:        "phase-files",
				Aliases:     []string{"p"},
				Usage:       "location of the phase files (resource root)",
				Destination: &opts.PhaseFiles,
			},
			&cli.BoolFlag{
				Name:        "convert-relative",
				Aliases:     []string{"l"},
				Usage:       "rewrite texture paths climbing out of the model folder relative to --phase-files",
				Destination: &opts.ConvertRelative,
			},
			&cli.StringFlag{
				Name:        "target-version",
				Usage:       "write models with this BAM version (major.minor) instead of their own",
				Destination: &targetVersion,
			},
			maxHandleDepthFlag(&maxDepth),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyConvertConfig(cmd, configFromContext(ctx), &opts, &maxDepth)
			opts.MaxHandleDepth = maxDepth

			if cmd.NArg() == 0 {
				return fmt.Errorf("convert: at least one input file is required")
			}
			if targetVersion != "" {
				v, err := bam.ParseVersion(targetVersion)
				if err != nil {
					return fmt.Errorf("convert: --target-version: %w", err)
				}
				opts.TargetVersion = v
			}
			if err := opts.Validate(); err != nil {
				if errors.Is(err, combiner.ErrPhaseFilesRequired) {
					return fmt.Errorf("convert: --phase-files is required for --convert-images, --wipe-jpg and --convert-relative")
				}
				return fmt.Errorf("convert: %w", err)
			}

			logEnabled(log, opts.ConvertPlain, "converting regular JPG textures to PNG textures")
			logEnabled(log, opts.ConvertPaired, "converting JPG+RGB texture combos to PNG textures")
			logEnabled(log, opts.Overwrite, "overwriting files in place")
			logEnabled(log, opts.ConvertImages, "converting images to PNG in place")
			logEnabled(log, opts.ConvertImages && opts.WipeOld, "wiping old JPG images")
			logEnabled(log, opts.ConvertRelative, "converting relative paths")

			c := combiner.New(opts, combiner.WithLogger(log))
			sum, err := c.Run(ctx, cmd.Args().Slice())
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}
			if sum.Failed > 0 {
				return fmt.Errorf("convert: %d of %d files failed", sum.Failed, sum.Files)
			}
			return nil
		},
	}
}

func logEnabled(log logger.Logger, enabled bool, what string) {
	log.Info(what, "enabled", enabled)
}
