package bam

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/samcharles93/alphacombiner/pkg/datagram"
)

// TypeTexture is the BAM type name of texture records.
const TypeTexture = "Texture"

const (
	// PairedAlphaExt marks an alpha file that pairs with a separate primary image.
	PairedAlphaExt = ".rgb"
	// TargetExt is the single-file format textures are retargeted to.
	TargetExt = ".png"
)

// Texture is the decoded head of a Texture record. Only the file references
// are modelled; the rest of the payload is kept in Trailing.
type Texture struct {
	Name          string
	Filename      string
	AlphaFilename string

	// PrimaryFileNumChannels is present from 4.2, AlphaFileChannel from 4.3.
	PrimaryFileNumChannels uint8
	AlphaFileChannel       uint8

	Trailing []byte
}

// DecodeTexture decodes a texture payload written under version v.
func DecodeTexture(it *datagram.Iterator, v Version) (Record, error) {
	t := &Texture{}
	var err error
	if t.Name, err = it.GetString(); err != nil {
		return nil, err
	}
	if t.Filename, err = it.GetString(); err != nil {
		return nil, err
	}
	if t.AlphaFilename, err = it.GetString(); err != nil {
		return nil, err
	}
	if v.AtLeast(VersionTextureChannels) {
		if t.PrimaryFileNumChannels, err = it.GetUint8(); err != nil {
			return nil, err
		}
	}
	if v.AtLeast(VersionTextureAlphaChannel) {
		if t.AlphaFileChannel, err = it.GetUint8(); err != nil {
			return nil, err
		}
	}
	t.Trailing = it.ExtractRemaining()
	return t, nil
}

// Encode writes the texture for the target version followed by the
// unmodelled trailing bytes.
func (t *Texture) Encode(w *datagram.Writer, target Version) error {
	w.AddString(t.Name)
	w.AddString(t.Filename)
	w.AddString(t.AlphaFilename)
	if target.AtLeast(VersionTextureChannels) {
		w.AddUint8(t.PrimaryFileNumChannels)
	}
	if target.AtLeast(VersionTextureAlphaChannel) {
		w.AddUint8(t.AlphaFileChannel)
	}
	w.AppendData(t.Trailing)
	return nil
}

// Paired reports whether the texture couples its primary image with a
// separate alpha source.
func (t *Texture) Paired() bool {
	return strings.HasSuffix(strings.ToLower(t.AlphaFilename), PairedAlphaExt)
}

// TransformRelative rewrites file references that climb out of their folder
// (contain "..") so they are relative to baseFolder instead of modelDir, the
// directory holding the container. Separators become forward slashes.
// References that resolve outside baseFolder are left unchanged, so a second
// call with the same folders is a no-op. It reports whether either reference
// changed.
func (t *Texture) TransformRelative(modelDir, baseFolder string) bool {
	changed := false
	if name, ok := relativize(t.Filename, modelDir, baseFolder); ok {
		t.Filename = name
		changed = true
	}
	if name, ok := relativize(t.AlphaFilename, modelDir, baseFolder); ok {
		t.AlphaFilename = name
		changed = true
	}
	return changed
}

func relativize(name, modelDir, baseFolder string) (string, bool) {
	if name == "" {
		return "", false
	}
	out := strings.Trim(name, `\/`)
	if strings.Contains(out, "..") {
		abs, err := filepath.Abs(filepath.Join(modelDir, filepath.FromSlash(out)))
		if err != nil {
			return "", false
		}
		base, err := filepath.Abs(baseFolder)
		if err != nil {
			return "", false
		}
		rel, err := filepath.Rel(base, abs)
		if err != nil {
			return "", false
		}
		// Outside baseFolder the reference stays relative to the model.
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", false
		}
		out = strings.ReplaceAll(filepath.ToSlash(rel), `\`, "/")
	}
	if out == name {
		return "", false
	}
	return out, true
}

// TransformToPNG retargets the texture to a single PNG file. Paired textures
// are handled only when convertPaired is set, plain ones only when
// convertPlain is set.
//
// It returns the old file names that have to be converted on disk: both for
// a paired texture, one for a plain texture, none when nothing changed. The
// alpha reference is cleared and both channel fields reset to 0, since the
// PNG carries its own alpha channel.
func (t *Texture) TransformToPNG(convertPlain, convertPaired bool) []string {
	paired := t.Paired()
	if paired && !convertPaired {
		return nil
	}
	if !paired && !convertPlain {
		return nil
	}

	old := t.Filename
	t.Filename = strings.TrimSuffix(old, path.Ext(old)) + TargetExt

	var converted []string
	if t.Filename != old {
		if t.AlphaFilename != "" {
			converted = []string{old, t.AlphaFilename}
		} else {
			converted = []string{old}
		}
	}

	t.AlphaFilename = ""
	t.PrimaryFileNumChannels = 0
	t.AlphaFileChannel = 0
	return converted
}
