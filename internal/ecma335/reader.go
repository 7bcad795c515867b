// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package ecma335 implements the slice of the ECMA-335 managed-metadata
// format that a ReadyToRun reader needs to resolve method, type and
// assembly handles into names: the metadata root header, the stream
// directory, the "#~"/"#-" compressed tables-stream header, and row
// decoders for the dozen tables MethodDef/InstanceMethod/AvailableTypes
// entrypoints cross-reference.
//
// A Reader can be built two ways: NewReader parses a metadata root that is
// one of a PE image's data directories (the common case, driven off a
// COR20 header's MetaData directory entry); NewReaderFromBytes parses a
// standalone metadata root blob, which is how the ReadyToRun manifest
// metadata section stores its secondary AssemblyRef table.
package ecma335

import (
	"bytes"
	"errors"

	"github.com/readytorun/r2rdump/internal/pefile"
)

// Metadata root signature ("BSJB").
const metadataSignature = 0x424A5342

// Errors.
var (
	ErrBadSignature  = errors.New("ecma335: bad metadata root signature")
	ErrNoTablesStream = errors.New("ecma335: no #~/#- tables stream")
)

// Heap bit positions within the tables-stream header's Heaps byte.
const (
	heapString = 0
	heapGUID   = 1
	heapBlob   = 2
)

// Reader is a parsed ECMA-335 metadata blob.
type Reader struct {
	data    []byte
	streams map[string][]byte

	majorVersion uint8
	minorVersion uint8
	heapsFlags   uint8
	maskValid    uint64
	rowCounts    [maxTableIndex + 1]uint32

	tableOffsets [maxTableIndex + 1]uint32 // byte offset of row 0, within data
	tablesStart  uint32
}

// NewReaderFromBytes parses a standalone metadata root (not embedded as a PE
// data directory) such as an R2R image's manifest-metadata blob.
func NewReaderFromBytes(data []byte) (*Reader, error) {
	r := &Reader{data: data, streams: make(map[string][]byte)}
	if err := r.parse(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewReader parses the metadata root embedded in a PE image's COR20
// directory: metadataRVA/metadataSize identify the COR20 header's MetaData
// data directory, which this function translates to a file offset and reads
// from image's underlying buffer.
func NewReader(image *pefile.File, metadataRVA, metadataSize uint32) (*Reader, error) {
	off, err := image.RVAToOffset(metadataRVA)
	if err != nil {
		return nil, err
	}
	blob, err := image.ReadBytesAtOffset(off, metadataSize)
	if err != nil {
		return nil, err
	}
	return NewReaderFromBytes(blob)
}

func (r *Reader) parse() error {
	if len(r.data) < 16 {
		return ErrBadSignature
	}
	sig, err := r.readUint32(0)
	if err != nil {
		return err
	}
	if sig != metadataSignature {
		return ErrBadSignature
	}
	verStrLen, err := r.readUint32(12)
	if err != nil {
		return err
	}
	off := uint32(16) + verStrLen
	// Flags byte (reserved) + padding byte.
	off += 2
	streamCount, err := r.readUint16(off)
	if err != nil {
		return err
	}
	off += 2

	var tablesOffset, tablesSize uint32
	for i := uint16(0); i < streamCount; i++ {
		streamOff, err := r.readUint32(off)
		if err != nil {
			return err
		}
		streamSize, err := r.readUint32(off + 4)
		if err != nil {
			return err
		}
		off += 8
		name, consumed, err := r.readAlignedCString(off)
		if err != nil {
			return err
		}
		off += consumed

		data, err := r.bytesAt(streamOff, streamSize)
		if err != nil {
			return err
		}
		r.streams[name] = data
		if name == "#~" || name == "#-" {
			tablesOffset, tablesSize = streamOff, streamSize
		}
	}
	if tablesSize == 0 {
		return ErrNoTablesStream
	}
	return r.parseTablesHeader(tablesOffset)
}

// readAlignedCString reads a NUL-terminated ASCII string, consuming bytes up
// to the next 4-byte boundary (ECMA-335 stream headers pad their name field).
func (r *Reader) readAlignedCString(off uint32) (string, uint32, error) {
	start := off
	end := bytes.IndexByte(r.data[off:], 0)
	if end < 0 {
		return "", 0, ErrOutsideBoundary
	}
	name := string(r.data[start : start+uint32(end)])
	consumed := uint32(end) + 1
	if pad := consumed % 4; pad != 0 {
		consumed += 4 - pad
	}
	return name, consumed, nil
}

func (r *Reader) parseTablesHeader(off uint32) error {
	// Reserved uint32, MajorVersion u8, MinorVersion u8, Heaps u8, RID u8,
	// MaskValid u64, Sorted u64.
	var err error
	if r.majorVersion, err = r.readUint8(off + 4); err != nil {
		return err
	}
	if r.minorVersion, err = r.readUint8(off + 5); err != nil {
		return err
	}
	if r.heapsFlags, err = r.readUint8(off + 6); err != nil {
		return err
	}
	maskLo, err := r.readUint32(off + 8)
	if err != nil {
		return err
	}
	maskHi, err := r.readUint32(off + 12)
	if err != nil {
		return err
	}
	r.maskValid = uint64(maskLo) | uint64(maskHi)<<32

	cursor := off + 24 // past Reserved/Major/Minor/Heaps/RID/MaskValid/Sorted
	for i := 0; i <= maxTableIndex; i++ {
		if r.maskValid&(1<<uint(i)) == 0 {
			continue
		}
		n, err := r.readUint32(cursor)
		if err != nil {
			return err
		}
		r.rowCounts[i] = n
		cursor += 4
	}
	r.tablesStart = cursor
	return r.layoutTableOffsets()
}

func (r *Reader) heapIndexSize(bit int) uint32 {
	if r.heapsFlags&(1<<uint(bit)) != 0 {
		return 4
	}
	return 2
}

// layoutTableOffsets walks every present table in index order, computing
// each table's starting byte offset by summing the row sizes of every
// preceding table (each row's size depends on heap/coded-index widths,
// which is why this can't be a constant).
func (r *Reader) layoutTableOffsets() error {
	cursor := r.tablesStart
	for i := 0; i <= maxTableIndex; i++ {
		n := r.rowCounts[i]
		if n == 0 {
			if r.maskValid&(1<<uint(i)) == 0 {
				continue
			}
		}
		r.tableOffsets[i] = cursor
		rowSize, err := r.rowSize(i)
		if err != nil {
			return err
		}
		cursor += rowSize * n
	}
	return nil
}

// RowCount returns the number of rows in the given table index.
func (r *Reader) RowCount(table int) uint32 {
	if table < 0 || table > maxTableIndex {
		return 0
	}
	return r.rowCounts[table]
}
