package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/alphacombiner/pkg/bam"
)

var (
	logLevel  string
	logFormat string
	debug     bool
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func maxHandleDepthFlag(dst *int) cli.Flag {
	return &cli.IntFlag{
		Name:        "max-handle-depth",
		Usage:       "maximum nesting of type handle definitions accepted while decoding",
		Value:       bam.DefaultMaxHandleDepth,
		Destination: dst,
	}
}
