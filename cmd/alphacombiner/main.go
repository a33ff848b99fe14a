package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/alphacombiner/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "alphacombiner",
		Usage: "Retarget Panda3D BAM models from JPG+RGB textures to PNG textures",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg := LoadConfig()
			applyLoggingConfig(cmd, cfg)
			level := logLevel
			if debug {
				level = "debug"
			}
			log, err := logger.FromFlags(os.Stderr, logFormat, level)
			if err != nil {
				return ctx, err
			}
			ctx = withConfig(ctx, cfg)
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			convertCmd(),
			inspectCmd(),
			diffCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
