// Package combiner drives a batch of BAM containers through the texture
// retargeting transforms, writes the rewritten containers and optionally
// converts the referenced images.
package combiner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/samcharles93/alphacombiner/internal/imaging"
	"github.com/samcharles93/alphacombiner/internal/logger"
	"github.com/samcharles93/alphacombiner/pkg/bam"
)

// ConvertedSuffix is appended to the base name of containers written next to
// their source.
const ConvertedSuffix = "_png"

const lockName = ".alphacombiner.lock"

var (
	// ErrPhaseFilesRequired is returned when image conversion, wiping or
	// relative path conversion is requested without a phase files folder.
	ErrPhaseFilesRequired = errors.New("combiner: phase files folder required")
	// ErrLocked is returned when another run holds the phase files folder.
	ErrLocked = errors.New("combiner: phase files folder is locked by another run")
	// ErrImageConversion wraps failures of the image merger.
	ErrImageConversion = errors.New("combiner: image conversion failed")
)

// Options selects what a run does.
type Options struct {
	ConvertPlain    bool
	ConvertPaired   bool
	Overwrite       bool
	ConvertImages   bool
	WipeOld         bool
	EarlyExit       bool
	ConvertRelative bool

	// PhaseFiles is the resource root texture references resolve against.
	PhaseFiles string
	// TargetVersion is the version containers are written with. The zero
	// value keeps each file's own version.
	TargetVersion bam.Version
	// MaxHandleDepth bounds nested handle definitions; zero uses the bam default.
	MaxHandleDepth int
}

// NeedsPhaseFiles reports whether the options touch the resource tree.
func (o Options) NeedsPhaseFiles() bool {
	return o.ConvertImages || o.WipeOld || o.ConvertRelative
}

// Validate checks option combinations that cannot work.
func (o Options) Validate() error {
	if !o.NeedsPhaseFiles() {
		return nil
	}
	if o.PhaseFiles == "" {
		return ErrPhaseFilesRequired
	}
	info, err := os.Stat(o.PhaseFiles)
	if err != nil {
		return fmt.Errorf("phase files folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("phase files folder %s is not a directory", o.PhaseFiles)
	}
	return nil
}

// Result describes one processed container.
type Result struct {
	Source string
	Target string
	// Version is the version the container was written with.
	Version bam.Version
	// Conversions holds the de-duplicated old file names per retargeted texture.
	Conversions [][]string
	Modified    bool
	Written     bool
	Data        []byte
}

// Summary totals a run.
type Summary struct {
	RunID       string
	Files       int
	Written     int
	Skipped     int
	Failed      int
	Conversions int
	Converted   int
	Wiped       int
}

// Combiner processes containers sequentially. All files of one Combiner share
// a single pointer width state, so a Combiner must not be used from more
// than one goroutine.
type Combiner struct {
	opts   Options
	log    logger.Logger
	state  *bam.EncodingState
	merger imaging.Merger
	conv   *imaging.Converter
	runID  string

	converted map[string]bool
	toWipe    [][]string
}

// Option configures a Combiner.
type Option func(*Combiner)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Combiner) { c.log = log }
}

// WithMerger replaces the image merger used for --convert-images.
func WithMerger(m imaging.Merger) Option {
	return func(c *Combiner) { c.merger = m }
}

// New creates a Combiner with a fresh encoding state and run id.
func New(opts Options, options ...Option) *Combiner {
	c := &Combiner{
		opts:      opts,
		log:       logger.Discard(),
		state:     bam.NewEncodingState(),
		conv:      imaging.NewConverter(opts.PhaseFiles),
		runID:     uuid.NewString(),
		converted: make(map[string]bool),
	}
	c.merger = c.conv
	for _, o := range options {
		o(c)
	}
	c.log = c.log.With("run", c.runID)
	return c
}

// RunID identifies the run in logs.
func (c *Combiner) RunID() string { return c.runID }

// State returns the encoding state shared by every file of the run.
func (c *Combiner) State() *bam.EncodingState { return c.state }

func (c *Combiner) bamOptions() bam.Options {
	return bam.Options{State: c.state, MaxHandleDepth: c.opts.MaxHandleDepth}
}

// Transform applies the enabled texture transforms to every texture of f. It
// returns the de-duplicated conversion lists and whether any texture changed.
func (c *Combiner) Transform(f *bam.File) ([][]string, bool, error) {
	textures, err := f.Textures()
	if err != nil {
		return nil, false, err
	}

	modelDir := filepath.Dir(f.Path)
	var conversions [][]string
	modified := false
	for _, tex := range textures {
		if c.opts.ConvertRelative {
			before := tex.Filename
			if tex.TransformRelative(modelDir, c.opts.PhaseFiles) {
				c.log.Debug("relativized texture", "texture", tex.Name, "from", before, "to", tex.Filename)
				modified = true
			}
		}

		old := tex.Filename
		conv := tex.TransformToPNG(c.opts.ConvertPlain, c.opts.ConvertPaired)
		if len(conv) == 0 {
			continue
		}
		modified = true
		if !slices.ContainsFunc(conversions, func(e []string) bool { return slices.Equal(e, conv) }) {
			conversions = append(conversions, conv)
		}
		c.log.Info("transformed texture", "texture", tex.Name, "from", old, "to", tex.Filename)
	}
	return conversions, modified, nil
}

func (c *Combiner) target(f *bam.File) bam.Version {
	if c.opts.TargetVersion.IsZero() {
		return f.Version
	}
	return c.opts.TargetVersion
}

// Process transforms a container held in memory and returns the rewritten
// bytes. path names the container for relative path conversion and logs; it
// is not read.
func (c *Combiner) Process(path string, data []byte) (*Result, error) {
	f, err := bam.Parse(data, c.bamOptions())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	f.Path = path
	return c.process(f)
}

func (c *Combiner) process(f *bam.File) (*Result, error) {
	conversions, modified, err := c.Transform(f)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", f.Path, err)
	}
	target := c.target(f)
	data, err := f.Encode(target)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Path, err)
	}
	return &Result{
		Source:      f.Path,
		Version:     target,
		Conversions: conversions,
		Modified:    modified,
		Data:        data,
	}, nil
}

// TargetPath returns where the rewritten container for path is written.
func (c *Combiner) TargetPath(path string) string {
	if c.opts.Overwrite {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	return filepath.Join(filepath.Dir(path), base+ConvertedSuffix+ext)
}

// IsConverted reports whether path is itself the output of an earlier run.
func IsConverted(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), ConvertedSuffix)
}

// ProcessFile loads, transforms and writes one container. In overwrite mode
// an unmodified container is not rewritten.
func (c *Combiner) ProcessFile(ctx context.Context, path string) (*Result, error) {
	c.log.Info("loading", "path", path)
	f, err := bam.Open(path, c.bamOptions())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	c.log.Debug("loaded", "path", path, "container", f.String(), "objects", len(f.Objects))

	res, err := c.process(f)
	if err != nil {
		return nil, err
	}
	res.Target = c.TargetPath(path)

	if c.opts.ConvertImages {
		if err := c.convertImages(ctx, res.Conversions); err != nil {
			return res, err
		}
	}

	if c.opts.Overwrite && !res.Modified {
		c.log.Debug("unchanged, not rewriting", "path", path)
		return res, nil
	}
	c.log.Info("writing", "path", res.Target, "version", res.Version.String())
	if err := os.WriteFile(res.Target, res.Data, 0o644); err != nil {
		return res, fmt.Errorf("write %s: %w", res.Target, err)
	}
	res.Written = true
	return res, nil
}

func conversionKey(conv []string) string {
	return strings.Join(conv, "\x00")
}

// convertImages merges each conversion list not converted earlier in the run.
// Failures are logged and skipped unless EarlyExit is set.
func (c *Combiner) convertImages(ctx context.Context, conversions [][]string) error {
	for _, conv := range conversions {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := conversionKey(conv)
		if c.converted[key] {
			continue
		}
		out, err := c.merger.Merge(conv)
		if err != nil {
			if c.opts.EarlyExit {
				return fmt.Errorf("%w: %s: %w", ErrImageConversion, strings.Join(conv, " + "), err)
			}
			c.log.Error("could not convert image", "sources", strings.Join(conv, ","), "err", err)
			continue
		}
		c.converted[key] = true
		c.log.Info("converted image", "to", out)
		if c.opts.WipeOld {
			c.toWipe = append(c.toWipe, conv)
		}
	}
	return nil
}

// Expand resolves the input patterns. Patterns containing '*' are globbed,
// everything else is taken literally. Containers produced by an earlier run
// are dropped.
func Expand(patterns []string) ([]string, error) {
	var files []string
	for _, p := range patterns {
		matches := []string{p}
		if strings.Contains(p, "*") {
			var err error
			if matches, err = filepath.Glob(p); err != nil {
				return nil, fmt.Errorf("glob %q: %w", p, err)
			}
		}
		for _, m := range matches {
			if IsConverted(m) {
				continue
			}
			files = append(files, m)
		}
	}
	return files, nil
}

// Run processes every container matched by patterns. Per-file failures are
// logged and counted; the run continues with the next file. With EarlyExit an
// image conversion failure stops the run.
func (c *Combiner) Run(ctx context.Context, patterns []string) (*Summary, error) {
	if err := c.opts.Validate(); err != nil {
		return nil, err
	}
	files, err := Expand(patterns)
	if err != nil {
		return nil, err
	}

	if c.opts.NeedsPhaseFiles() {
		lock := flock.New(filepath.Join(c.opts.PhaseFiles, lockName))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock phase files: %w", err)
		}
		if !locked {
			return nil, ErrLocked
		}
		defer func() {
			_ = lock.Unlock()
			_ = os.Remove(lock.Path())
		}()
	}

	sum := &Summary{RunID: c.runID}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Files++
		res, err := c.ProcessFile(ctx, path)
		if res != nil {
			sum.Conversions += len(res.Conversions)
			if res.Written {
				sum.Written++
			} else if err == nil {
				sum.Skipped++
			}
		}
		if err != nil {
			sum.Failed++
			if c.opts.EarlyExit && errors.Is(err, ErrImageConversion) {
				return sum, err
			}
			c.log.Error("failed to process container", "path", path, "err", err)
			continue
		}
	}
	sum.Converted = len(c.converted)

	if c.opts.WipeOld {
		for _, conv := range c.toWipe {
			removed, err := c.conv.Wipe(conv)
			for _, p := range removed {
				c.log.Info("removed old image", "path", p)
			}
			sum.Wiped += len(removed)
			if err != nil {
				c.log.Error("could not remove old image", "sources", strings.Join(conv, ","), "err", err)
			}
		}
	}

	c.log.Info("done", "files", sum.Files, "written", sum.Written, "failed", sum.Failed)
	return sum, nil
}
