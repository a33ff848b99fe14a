package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/alphacombiner/internal/inspect"
	"github.com/samcharles93/alphacombiner/pkg/bam"
)

func inspectCmd() *cli.Command {
	var (
		asJSON      bool
		showHandles bool
		showObjects bool
		showAll     bool
		maxDepth    int
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Describe the header, type handles, objects and textures of BAM files",
		ArgsUsage: "<file.bam>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the summary as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "handles", Usage: "list type handles", Destination: &showHandles},
			&cli.BoolFlag{Name: "objects", Usage: "list every object", Destination: &showObjects},
			&cli.BoolFlag{Name: "all", Usage: "show every section", Destination: &showAll},
			maxHandleDepthFlag(&maxDepth),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFromContext(ctx)
			if cfg.MaxHandleDepth != nil && !cmd.IsSet("max-handle-depth") {
				maxDepth = *cfg.MaxHandleDepth
			}
			if cmd.NArg() == 0 {
				return fmt.Errorf("inspect: at least one BAM file is required")
			}
			if showAll {
				showHandles, showObjects = true, true
			}

			// One state for the whole invocation, like a conversion run.
			state := bam.NewEncodingState()
			var summaries []*inspect.Summary
			for _, path := range cmd.Args().Slice() {
				f, err := bam.Open(path, bam.Options{State: state, MaxHandleDepth: maxDepth})
				if err != nil {
					return fmt.Errorf("inspect %s: %w", path, err)
				}
				sum, err := inspect.Summarize(f)
				if err != nil {
					return fmt.Errorf("inspect %s: %w", path, err)
				}
				if !asJSON {
					printSummary(os.Stdout, f, sum, showHandles, showObjects)
				}
				summaries = append(summaries, sum)
			}
			if asJSON {
				if len(summaries) == 1 {
					return inspect.WriteJSON(os.Stdout, summaries[0])
				}
				return inspect.WriteJSON(os.Stdout, summaries)
			}
			return nil
		},
	}
}

func printSummary(w io.Writer, f *bam.File, sum *inspect.Summary, showHandles, showObjects bool) {
	_, _ = fmt.Fprintf(w, "%s: %s\n", sum.Path, f.String())
	_, _ = fmt.Fprintf(w, "header size %d, %d handles, %d objects, %d data blocks\n",
		sum.HeaderSize, len(sum.Handles), len(sum.Objects), len(sum.DataBlocks))

	if len(sum.Textures) > 0 {
		rows := make([][]string, 0, len(sum.Textures))
		for _, t := range sum.Textures {
			kind := "plain"
			if t.Paired {
				kind = "paired"
			}
			rows = append(rows, []string{
				strconv.FormatUint(uint64(t.ObjectID), 10),
				t.Name,
				t.Filename,
				t.AlphaFilename,
				kind,
				strconv.Itoa(int(t.Channels)),
				strconv.Itoa(int(t.AlphaChannel)),
			})
		}
		_, _ = fmt.Fprintln(w, renderTable("Textures",
			[]string{"Object", "Name", "Filename", "Alpha", "Kind", "Channels", "Alpha ch"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight}))
	}

	if showHandles {
		rows := make([][]string, 0, len(sum.Handles))
		for _, h := range sum.Handles {
			parents := make([]string, 0, len(h.Parents))
			for _, p := range h.Parents {
				parents = append(parents, strconv.Itoa(int(p)))
			}
			rows = append(rows, []string{
				strconv.Itoa(int(h.ID)),
				h.Name,
				strings.Join(parents, ","),
				strconv.Itoa(h.Objects),
			})
		}
		_, _ = fmt.Fprintln(w, renderTable("Type handles",
			[]string{"ID", "Name", "Parents", "Objects"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight}))
	}

	if showObjects {
		rows := make([][]string, 0, len(sum.Objects))
		for _, o := range sum.Objects {
			rows = append(rows, []string{
				strconv.FormatUint(uint64(o.ID), 10),
				o.Type,
				strconv.Itoa(int(o.Handle)),
				strconv.Itoa(o.Size),
			})
		}
		_, _ = fmt.Fprintln(w, renderTable("Objects",
			[]string{"ID", "Type", "Handle", "Bytes"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignRight}))
	}
}
