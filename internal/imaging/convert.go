// Package imaging turns the image files a texture referenced into the single
// PNG the rewritten texture points at.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	// Primary textures are mostly JPEG; the SGI decoder registers itself in sgi.go.
	_ "image/jpeg"
)

var (
	// ErrMissingSource is returned when a referenced image does not exist.
	ErrMissingSource = errors.New("imaging: missing source image")
	// ErrBadSources is returned for a conversion list that is neither one
	// nor two file names long.
	ErrBadSources = errors.New("imaging: expected one or two source images")
)

// Merger converts one conversion list, as produced by a texture transform, to
// a PNG on disk and returns the path it wrote.
type Merger interface {
	Merge(sources []string) (string, error)
}

// Converter is the default Merger. Source names are texture references
// (forward slashes, relative to Root).
type Converter struct {
	Root string
}

// NewConverter returns a Converter resolving names against root.
func NewConverter(root string) *Converter {
	return &Converter{Root: root}
}

// Resolve maps a texture reference to a path on disk.
func (c *Converter) Resolve(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return filepath.Join(c.Root, filepath.FromSlash(name))
}

// Target returns where the PNG for a primary reference is written: the same
// folder, same base name, .png extension.
func (c *Converter) Target(primary string) string {
	src := c.Resolve(primary)
	base := filepath.Base(src)
	return filepath.Join(filepath.Dir(src), strings.TrimSuffix(base, path.Ext(base))+".png")
}

// Merge writes the PNG for sources. A single source is re-encoded as is. For
// a pair the colour comes from the first image and the alpha channel from the
// second, scaled to the size of the first.
func (c *Converter) Merge(sources []string) (string, error) {
	if len(sources) != 1 && len(sources) != 2 {
		return "", fmt.Errorf("%w: got %d", ErrBadSources, len(sources))
	}

	primary, err := c.decode(sources[0])
	if err != nil {
		return "", err
	}

	out := primary
	if len(sources) == 2 {
		alpha, err := c.decode(sources[1])
		if err != nil {
			return "", err
		}
		out = MergeAlpha(primary, alpha)
	}

	target := c.Target(sources[0])
	if err := writePNG(target, out); err != nil {
		return "", err
	}
	return target, nil
}

func (c *Converter) decode(name string) (image.Image, error) {
	p := c.Resolve(name)
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSource, p)
		}
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	return img, nil
}

// MergeAlpha returns an NRGBA image with the colour of rgb and the luminance
// of alpha as its alpha channel. alpha is scaled nearest neighbour to the
// size of rgb when the sizes differ.
func MergeAlpha(rgb, alpha image.Image) *image.NRGBA {
	b := rgb.Bounds()
	w, h := b.Dx(), b.Dy()

	mask, ok := alpha.(*image.Gray)
	if !ok || alpha.Bounds() != image.Rect(0, 0, w, h) {
		mask = image.NewGray(image.Rect(0, 0, w, h))
		draw.NearestNeighbor.Scale(mask, mask.Bounds(), alpha, alpha.Bounds(), draw.Src, nil)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(rgb.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := out.PixOffset(x, y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = mask.GrayAt(x, y).Y
		}
	}
	return out
}

func writePNG(target string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".png-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", target, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// Wipe removes the source images of a conversion list. Files that no longer
// exist are skipped. It returns the paths it removed.
func (c *Converter) Wipe(sources []string) ([]string, error) {
	var removed []string
	for _, name := range sources {
		p := c.Resolve(name)
		if p == c.Target(sources[0]) {
			continue
		}
		if err := os.Remove(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}
