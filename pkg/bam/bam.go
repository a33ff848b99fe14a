// Package bam reads and writes Panda3D BAM containers.
//
// A BAM file is a magic prefix, a small versioned header and a stream of
// length-prefixed blocks. Each block carries one object record whose type is
// described by handles embedded in the stream itself. Only types with a
// registered codec (see Registry) are decoded; every other record is kept as
// opaque bytes and written back unchanged.
package bam

import (
	"fmt"
	"strconv"
	"strings"
)

// Magic is the fixed prefix of every BAM file.
const Magic = "pbj\x00\n\r"

// Endianness values stored in the header.
const (
	EndianBig    uint8 = 0
	EndianLittle uint8 = 1
)

// Opcode tags a stream block from version 6.21 onwards.
type Opcode uint8

const (
	OpPush     Opcode = 0
	OpPop      Opcode = 1
	OpAdjunct  Opcode = 2
	OpRemove   Opcode = 3
	OpFileData Opcode = 4
)

func (o Opcode) String() string {
	switch o {
	case OpPush:
		return "push"
	case OpPop:
		return "pop"
	case OpAdjunct:
		return "adjunct"
	case OpRemove:
		return "remove"
	case OpFileData:
		return "file_data"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(o))
	}
}

// Version is a BAM (major, minor) pair, ordered lexicographically.
type Version struct {
	Major uint16
	Minor uint16
}

// Format thresholds. A field is present when the container version is at
// least the listed version.
var (
	VersionEndian              = Version{5, 0}
	VersionOpcodes             = Version{6, 21}
	VersionStdFloat            = Version{6, 27}
	VersionTextureChannels     = Version{4, 2}
	VersionTextureAlphaChannel = Version{4, 3}
)

// AtLeast reports whether v >= o.
func (v Version) AtLeast(o Version) bool {
	if v.Major != o.Major {
		return v.Major > o.Major
	}
	return v.Minor >= o.Minor
}

func (v Version) IsZero() bool { return v == Version{} }

func (v Version) String() string {
	return strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor))
}

// ParseVersion parses "major.minor".
func ParseVersion(s string) (Version, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return Version{}, fmt.Errorf("bam: invalid version %q: want major.minor", s)
	}
	ma, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return Version{}, fmt.Errorf("bam: invalid major version %q: %w", major, err)
	}
	mi, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return Version{}, fmt.Errorf("bam: invalid minor version %q: %w", minor, err)
	}
	return Version{Major: uint16(ma), Minor: uint16(mi)}, nil
}

// headerSize is the number of header bytes following the size field itself
// for the given target version.
func headerSize(v Version) uint32 {
	switch {
	case v.AtLeast(VersionStdFloat):
		return 6
	case v.AtLeast(VersionEndian):
		return 5
	default:
		return 4
	}
}
