package storage

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Magic bytes to identify a snapshot file
	MagicBytes = "DBND"
	// Current version
	FormatVersion = 1
	// File extension for snapshot files
	FileExtension = ".dbnd"
)

// Snapshot flags
const (
	FlagCompressed uint8 = 1 << iota
)

// FileHeader represents the header of a snapshot file
type FileHeader struct {
	Magic    [4]byte // "DBND"
	Version  uint8   // Format version
	Flags    uint8   // FlagCompressed when the body is an lz4 frame
	Reserved [2]byte
}

// WriteHeader writes the file header to the given writer
func WriteHeader(w io.Writer, flags uint8) error {
	header := FileHeader{
		Magic:   [4]byte{'D', 'B', 'N', 'D'},
		Version: FormatVersion,
		Flags:   flags,
	}

	return binary.Write(w, binary.LittleEndian, header)
}

// ReadHeader reads and validates the file header
func ReadHeader(r io.Reader) (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if string(header.Magic[:]) != MagicBytes {
		return nil, fmt.Errorf("invalid file format: expected %s, got %s", MagicBytes, string(header.Magic[:]))
	}

	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported file version: %d", header.Version)
	}

	return &header, nil
}

// Snapshot is the persisted form of every database held by an engine.
type Snapshot struct {
	Databases map[string]map[string]*CollectionSnapshot `msgpack:"databases"`
}

// CollectionSnapshot holds BSON-encoded documents in insertion order and
// BSON-encoded index descriptors.
type CollectionSnapshot struct {
	Documents [][]byte `msgpack:"documents"`
	Indexes   [][]byte `msgpack:"indexes,omitempty"`
}

// NewSnapshot creates a new empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Databases: make(map[string]map[string]*CollectionSnapshot),
	}
}
