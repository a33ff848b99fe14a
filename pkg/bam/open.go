package bam

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Open maps a container file read-only and decodes it. If mmap is
// unavailable the file is read into memory instead. Decoded values never
// alias the mapping, which is released before Open returns.
func Open(path string, opts Options) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()

	stat, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("bam: %s too large to map (%d bytes)", path, size64)
	}
	size := int(size64)
	if size < len(Magic) {
		return nil, &FormatError{Err: ErrBadMagic, Block: -1, Offset: 0, Detail: path}
	}

	data, err := unix.Mmap(int(fh.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		f, parseErr := Parse(data, opts)
		if unmapErr := unix.Munmap(data); parseErr == nil && unmapErr != nil {
			return nil, unmapErr
		}
		if parseErr != nil {
			return nil, parseErr
		}
		f.Path = path
		return f, nil
	}

	// Fallback for filesystems that do not support mmap.
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data, opts)
	if err != nil {
		return nil, err
	}
	f.Path = path
	return f, nil
}
