package combiner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"github.com/samcharles93/alphacombiner/internal/logger"
	"github.com/samcharles93/alphacombiner/pkg/bam"
	"github.com/samcharles93/alphacombiner/pkg/datagram"
)

var v627 = bam.Version{Major: 6, Minor: 27}

func modelBytes(t *testing.T, v bam.Version, firstID uint32, textures ...*bam.Texture) []byte {
	t.Helper()
	f := bam.NewFile(v, bam.Options{})
	f.Handles.Define(2, "TypedWritable", nil)
	f.Handles.Define(10, "PandaNode", []uint16{2})
	f.Handles.Define(5, bam.TypeTexture, []uint16{2})
	if _, err := f.Add(10, firstID, rawRecord("root")); err != nil {
		t.Fatalf("add node: %v", err)
	}
	for i, tex := range textures {
		if _, err := f.Add(5, firstID+uint32(i)+1, tex); err != nil {
			t.Fatalf("add texture: %v", err)
		}
	}
	data, err := f.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

type rawRecord string

func (r rawRecord) Encode(w *datagram.Writer, _ bam.Version) error {
	w.AppendData([]byte(r))
	return nil
}

func writeModel(t *testing.T, path string, textures ...*bam.Texture) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, modelBytes(t, v627, 1, textures...), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
}

func paired(name string) *bam.Texture {
	return &bam.Texture{
		Name:                   name,
		Filename:               "maps/" + name + ".jpg",
		AlphaFilename:          "maps/" + name + "_a.rgb",
		PrimaryFileNumChannels: 3,
		AlphaFileChannel:       1,
	}
}

func plain(name string) *bam.Texture {
	return &bam.Texture{Name: name, Filename: "maps/" + name + ".jpg", PrimaryFileNumChannels: 3}
}

func textures(t *testing.T, data []byte) []*bam.Texture {
	t.Helper()
	f, err := bam.Parse(data, bam.Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	texs, err := f.Textures()
	if err != nil {
		t.Fatalf("textures: %v", err)
	}
	return texs
}

func readTextures(t *testing.T, path string) []*bam.Texture {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return textures(t, data)
}

// fakeMerger records every conversion and fails for names in fail.
type fakeMerger struct {
	calls [][]string
	fail  map[string]bool
}

func (m *fakeMerger) Merge(sources []string) (string, error) {
	m.calls = append(m.calls, slices.Clone(sources))
	if m.fail[sources[0]] {
		return "", errors.New("broken image")
	}
	return strings.TrimSuffix(sources[0], filepath.Ext(sources[0])) + ".png", nil
}

func TestTargetPath(t *testing.T) {
	t.Parallel()

	c := New(Options{})
	if got, want := c.TargetPath(filepath.Join("models", "house.bam")), filepath.Join("models", "house_png.bam"); got != want {
		t.Fatalf("target: got %q want %q", got, want)
	}
	c = New(Options{Overwrite: true})
	if got := c.TargetPath("house.bam"); got != "house.bam" {
		t.Fatalf("overwrite target: got %q", got)
	}
	if !IsConverted("models/house_png.bam") || IsConverted("models/house.bam") {
		t.Fatalf("IsConverted misclassifies")
	}
}

func TestExpand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"a.bam", "a_png.bam", "b.bam"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	files, err := Expand([]string{filepath.Join(dir, "*.bam"), "literal.bam", "old_png.bam"})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []string{filepath.Join(dir, "a.bam"), filepath.Join(dir, "b.bam"), "literal.bam"}
	if !slices.Equal(files, want) {
		t.Fatalf("expand: got %v want %v", files, want)
	}
}

func TestProcessRetargetsTextures(t *testing.T) {
	t.Parallel()

	data := modelBytes(t, v627, 1, paired("wall"), plain("floor"), paired("wall"))
	c := New(Options{ConvertPlain: true, ConvertPaired: true})
	res, err := c.Process("house.bam", data)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Modified {
		t.Fatalf("expected modified result")
	}
	want := [][]string{
		{"maps/wall.jpg", "maps/wall_a.rgb"},
		{"maps/floor.jpg"},
	}
	if !slices.EqualFunc(res.Conversions, want, slices.Equal[[]string]) {
		t.Fatalf("conversions: got %v want %v", res.Conversions, want)
	}

	texs := textures(t, res.Data)
	if len(texs) != 3 {
		t.Fatalf("textures: got %d want 3", len(texs))
	}
	for _, tex := range texs {
		if filepath.Ext(tex.Filename) != ".png" || tex.AlphaFilename != "" {
			t.Fatalf("texture %s not retargeted: %+v", tex.Name, tex)
		}
		if tex.PrimaryFileNumChannels != 0 || tex.AlphaFileChannel != 0 {
			t.Fatalf("texture %s channels not reset: %+v", tex.Name, tex)
		}
	}
}

func TestProcessPairedOnly(t *testing.T) {
	t.Parallel()

	c := New(Options{ConvertPaired: true})
	res, err := c.Process("house.bam", modelBytes(t, v627, 1, paired("wall"), plain("floor")))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Conversions) != 1 {
		t.Fatalf("conversions: got %v want one paired list", res.Conversions)
	}
	texs := textures(t, res.Data)
	if texs[1].Filename != "maps/floor.jpg" || texs[1].PrimaryFileNumChannels != 3 {
		t.Fatalf("plain texture must be untouched: %+v", texs[1])
	}
}

func TestProcessWithoutFlagsIsIdentity(t *testing.T) {
	t.Parallel()

	data := modelBytes(t, v627, 1, paired("wall"))
	res, err := New(Options{}).Process("house.bam", data)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Modified || len(res.Conversions) != 0 {
		t.Fatalf("expected no change, got %+v", res)
	}
	if !bytes.Equal(res.Data, data) {
		t.Fatalf("unmodified container must round trip byte for byte")
	}
}

func TestProcessTargetVersion(t *testing.T) {
	t.Parallel()

	c := New(Options{ConvertPaired: true, TargetVersion: bam.Version{Major: 6, Minor: 21}})
	res, err := c.Process("house.bam", modelBytes(t, v627, 1, paired("wall")))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	f, err := bam.Parse(res.Data, bam.Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Version != (bam.Version{Major: 6, Minor: 21}) || res.Version != f.Version {
		t.Fatalf("version: got %s (result %s)", f.Version, res.Version)
	}
	if f.HeaderSize != 5 {
		t.Fatalf("header size: got %d want 5", f.HeaderSize)
	}
}

func TestProcessSharesStateAcrossFiles(t *testing.T) {
	t.Parallel()

	c := New(Options{})
	if _, err := c.Process("a.bam", modelBytes(t, v627, 0xFFFF)); err != nil {
		t.Fatalf("process wide file: %v", err)
	}
	if !c.State().ReadWide() {
		t.Fatalf("reading id 0xFFFF must widen the run's read state")
	}

	// A second container whose ids are already 32-bit from its first object.
	wide := bam.NewEncodingState()
	if err := wide.WritePointer(datagram.NewWriter(), 0xFFFF); err != nil {
		t.Fatalf("widen: %v", err)
	}
	f := bam.NewFile(v627, bam.Options{State: wide})
	f.Handles.Define(2, "TypedWritable", nil)
	if _, err := f.Add(2, 0x10000, rawRecord("x")); err != nil {
		t.Fatalf("add: %v", err)
	}
	data, err := f.Encode(v627)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := c.Process("b.bam", data); err != nil {
		t.Fatalf("process second file: %v", err)
	}
	shared, err := bam.Parse(data, bam.Options{State: c.State()})
	if err != nil {
		t.Fatalf("parse shared: %v", err)
	}
	if got := shared.Objects[0].ID; got != 0x10000 {
		t.Fatalf("shared state id: got %#x want 0x10000", got)
	}
	fresh, err := bam.Parse(data, bam.Options{})
	if err != nil {
		t.Fatalf("parse fresh: %v", err)
	}
	if got := fresh.Objects[0].ID; got == 0x10000 {
		t.Fatalf("a fresh state must read the id narrow")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := (Options{ConvertPlain: true}).Validate(); err != nil {
		t.Fatalf("no phase files needed: %v", err)
	}
	if err := (Options{ConvertImages: true}).Validate(); !errors.Is(err, ErrPhaseFilesRequired) {
		t.Fatalf("missing phase files: got %v", err)
	}
	if err := (Options{ConvertRelative: true, PhaseFiles: filepath.Join(t.TempDir(), "nope")}).Validate(); err == nil {
		t.Fatalf("expected error for a missing folder")
	}
	if err := (Options{WipeOld: true, PhaseFiles: t.TempDir()}).Validate(); err != nil {
		t.Fatalf("existing folder: %v", err)
	}
}

func TestRunWritesSuffixedOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "house.bam")
	writeModel(t, src, paired("wall"))
	before, _ := os.ReadFile(src)

	var logs bytes.Buffer
	c := New(Options{ConvertPaired: true}, WithLogger(logger.JSON(&logs, slog.LevelDebug)))
	sum, err := c.Run(context.Background(), []string{filepath.Join(dir, "*.bam")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Files != 1 || sum.Written != 1 || sum.Failed != 0 || sum.Conversions != 1 {
		t.Fatalf("summary: got %+v", sum)
	}
	if sum.RunID != c.RunID() || sum.RunID == "" {
		t.Fatalf("run id: got %q", sum.RunID)
	}

	after, _ := os.ReadFile(src)
	if !bytes.Equal(before, after) {
		t.Fatalf("source container must not change without overwrite")
	}
	texs := readTextures(t, filepath.Join(dir, "house_png.bam"))
	if texs[0].Filename != "maps/wall.png" {
		t.Fatalf("output texture: got %+v", texs[0])
	}
	if !strings.Contains(logs.String(), `"msg":"transformed texture"`) ||
		!strings.Contains(logs.String(), `"run":"`+c.RunID()+`"`) {
		t.Fatalf("expected transform log with run id, got: %s", logs.String())
	}

	// a second run ignores the _png output
	sum, err = New(Options{ConvertPaired: true}).Run(context.Background(), []string{filepath.Join(dir, "*.bam")})
	if err != nil || sum.Files != 1 {
		t.Fatalf("second run: got %+v, %v", sum, err)
	}
}

func TestRunOverwriteSkipsUnmodified(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	changed := filepath.Join(dir, "changed.bam")
	untouched := filepath.Join(dir, "untouched.bam")
	writeModel(t, changed, plain("floor"))
	writeModel(t, untouched, paired("wall"))

	c := New(Options{ConvertPlain: true, Overwrite: true})
	sum, err := c.Run(context.Background(), []string{changed, untouched})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Written != 1 || sum.Skipped != 1 {
		t.Fatalf("summary: got %+v", sum)
	}
	if got := readTextures(t, changed)[0].Filename; got != "maps/floor.png" {
		t.Fatalf("overwritten texture: got %q", got)
	}
	if got := readTextures(t, untouched)[0].Filename; got != "maps/wall.jpg" {
		t.Fatalf("paired texture must stay: got %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "changed_png.bam")); !os.IsNotExist(err) {
		t.Fatalf("overwrite must not create _png files")
	}
}

func TestRunContinuesPastBadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.bam")
	good := filepath.Join(dir, "good.bam")
	if err := os.WriteFile(bad, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeModel(t, good, plain("floor"))

	var logs bytes.Buffer
	c := New(Options{ConvertPlain: true, EarlyExit: true}, WithLogger(logger.JSON(&logs, slog.LevelInfo)))
	sum, err := c.Run(context.Background(), []string{bad, good, filepath.Join(dir, "missing.bam")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Failed != 2 || sum.Written != 1 {
		t.Fatalf("summary: got %+v", sum)
	}
	if !strings.Contains(logs.String(), "invalid BAM header") {
		t.Fatalf("expected failure reason in logs, got: %s", logs.String())
	}
}

func TestRunConvertsAndWipesImages(t *testing.T) {
	t.Parallel()

	phase := t.TempDir()
	models := filepath.Join(phase, "phase_3", "models")
	writeModel(t, filepath.Join(models, "a.bam"), paired("wall"), plain("floor"))
	writeModel(t, filepath.Join(models, "b.bam"), paired("wall"))
	for _, name := range []string{"wall.jpg", "wall_a.rgb", "floor.jpg"} {
		p := filepath.Join(phase, "maps", name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	merger := &fakeMerger{}
	c := New(Options{
		ConvertPlain:  true,
		ConvertPaired: true,
		ConvertImages: true,
		WipeOld:       true,
		PhaseFiles:    phase,
	}, WithMerger(merger))
	sum, err := c.Run(context.Background(), []string{filepath.Join(models, "*.bam")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// wall is shared by both models and converted once
	if len(merger.calls) != 2 || sum.Converted != 2 {
		t.Fatalf("merges: got %v (converted %d)", merger.calls, sum.Converted)
	}
	if sum.Wiped != 3 {
		t.Fatalf("wiped: got %d want 3", sum.Wiped)
	}
	for _, name := range []string{"wall.jpg", "wall_a.rgb", "floor.jpg"} {
		if _, err := os.Stat(filepath.Join(phase, "maps", name)); !os.IsNotExist(err) {
			t.Fatalf("%s should have been wiped", name)
		}
	}
	if _, err := os.Stat(filepath.Join(phase, lockName)); !os.IsNotExist(err) {
		t.Fatalf("lock file must be removed after the run")
	}
}

func TestRunImageFailure(t *testing.T) {
	t.Parallel()

	for _, early := range []bool{false, true} {
		phase := t.TempDir()
		model := filepath.Join(phase, "a.bam")
		writeModel(t, model, plain("floor"))

		merger := &fakeMerger{fail: map[string]bool{"maps/floor.jpg": true}}
		c := New(Options{
			ConvertPlain:  true,
			ConvertImages: true,
			WipeOld:       true,
			EarlyExit:     early,
			PhaseFiles:    phase,
		}, WithMerger(merger))
		sum, err := c.Run(context.Background(), []string{model})

		output := filepath.Join(phase, "a_png.bam")
		if early {
			if !errors.Is(err, ErrImageConversion) {
				t.Fatalf("early exit: got %v want ErrImageConversion", err)
			}
			if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
				t.Fatalf("early exit must stop before writing")
			}
			continue
		}
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if sum.Written != 1 || sum.Converted != 0 || sum.Wiped != 0 {
			t.Fatalf("summary: got %+v", sum)
		}
	}
}

func TestRunRefusesLockedPhaseFiles(t *testing.T) {
	t.Parallel()

	phase := t.TempDir()
	held := flock.New(filepath.Join(phase, lockName))
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("take lock: %v %v", locked, err)
	}
	defer held.Unlock()

	_, err = New(Options{ConvertImages: true, PhaseFiles: phase}).Run(context.Background(), nil)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("got %v want ErrLocked", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeModel(t, filepath.Join(dir, "a.bam"), plain("floor"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{ConvertPlain: true}).Run(ctx, []string{filepath.Join(dir, "a.bam")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
}
