/*
Package container implements the chunked hierarchical archive format used for tile
archives.

A container is a single file of named groups.  Each group holds typed attributes and
named N-dimensional datasets.  Datasets are stored as a grid of chunks; every chunk is
byte-shuffled, optionally compressed, and checksummed with CRC32.  The file layout is

	magic | chunk data ... | index | footer

where the index is a msgpack description of every group, dataset, attribute, and
chunk location, and the fixed-size footer gives the index position and checksum.
The footer is written last, so a file whose writer did not finish has no valid footer
and is rejected by Open with ErrIncomplete.
*/
package container

import (
	"errors"
	"fmt"

	"github.com/blang/semver"
)

// Magic begins every container file.
var Magic = [8]byte{'E', 'M', 'T', 'A', 'R', 'C', 0x0d, 0x0a}

// footerMagic ends every complete container file.
var footerMagic = [4]byte{'E', 'M', 'T', 'F'}

// footerSize is index offset (8) + index length (8) + index CRC32 (4) + magic (4).
const footerSize = 24

// Version is the format version written into every index.  Readers accept any
// version with the same major number.
var Version = semver.MustParse("1.0.0")

var (
	// ErrIncomplete means the file has no valid footer, usually because the writer
	// was interrupted.  Such files must be rewritten, never patched.
	ErrIncomplete = errors.New("container file is incomplete")

	// ErrCorrupt means a checksum or structural check failed.
	ErrCorrupt = errors.New("container file is corrupt")

	// ErrExists is returned when creating a group or dataset whose name is taken.
	ErrExists = errors.New("name already exists in container")

	// ErrNotFound is returned when a named group, dataset, or attribute is absent.
	ErrNotFound = errors.New("name not found in container")

	// ErrClosed is returned when writing to a closed container.
	ErrClosed = errors.New("container writer is closed")
)

// Compression is the compression filter applied to each chunk after shuffling.
type Compression uint8

const (
	Uncompressed Compression = iota
	Zlib
	Zstd
	Snappy
	LZ4
)

func (c Compression) String() string {
	switch c {
	case Uncompressed:
		return "none"
	case Zlib:
		return "zlib"
	case Zstd:
		return "zstd"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown compression %d", uint8(c))
	}
}

// ParseCompression returns the compression with the given name.
func ParseCompression(s string) (Compression, error) {
	for c := Uncompressed; c <= LZ4; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	if s == "" {
		return Uncompressed, nil
	}
	return Uncompressed, fmt.Errorf("unknown compression %q", s)
}

// DType is the element type of a dataset.
type DType uint8

const (
	Uint8 DType = iota + 1
	Int16
)

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Int16:
		return 2
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	default:
		return fmt.Sprintf("unknown dtype %d", uint8(d))
	}
}

// ByteOrder records how multi-byte elements are laid out in stored chunks.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (b ByteOrder) String() string {
	if b == BigEndian {
		return "big-endian"
	}
	return "little-endian"
}

func checkVersion(s string) error {
	v, err := semver.Parse(s)
	if err != nil {
		return fmt.Errorf("bad container version %q: %v: %w", s, err, ErrCorrupt)
	}
	if v.Major != Version.Major {
		return fmt.Errorf("container version %s cannot be read by version %s reader", v, Version)
	}
	return nil
}
