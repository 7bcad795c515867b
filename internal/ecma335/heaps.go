// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ecma335

import (
	"bytes"
	"errors"

	"golang.org/x/text/encoding/unicode"
)

// ErrOutsideBoundary is returned by any read that would run past the metadata
// blob's bounds.
var ErrOutsideBoundary = errors.New("ecma335: read outside metadata boundary")

func (r *Reader) readUint8(off uint32) (uint8, error) {
	if off+1 > uint32(len(r.data)) {
		return 0, ErrOutsideBoundary
	}
	return r.data[off], nil
}

func (r *Reader) readUint16(off uint32) (uint16, error) {
	if off+2 > uint32(len(r.data)) {
		return 0, ErrOutsideBoundary
	}
	return uint16(r.data[off]) | uint16(r.data[off+1])<<8, nil
}

func (r *Reader) readUint32(off uint32) (uint32, error) {
	if off+4 > uint32(len(r.data)) {
		return 0, ErrOutsideBoundary
	}
	return uint32(r.data[off]) | uint32(r.data[off+1])<<8 |
		uint32(r.data[off+2])<<16 | uint32(r.data[off+3])<<24, nil
}

func (r *Reader) bytesAt(off, size uint32) ([]byte, error) {
	if off+size > uint32(len(r.data)) || off+size < off {
		return nil, ErrOutsideBoundary
	}
	return r.data[off : off+size], nil
}

// String resolves an offset into the #Strings heap to a UTF-8 Go string.
func (r *Reader) String(heapOffset uint32) (string, error) {
	if heapOffset == 0 {
		return "", nil
	}
	heap := r.streams["#Strings"]
	if heapOffset >= uint32(len(heap)) {
		return "", ErrOutsideBoundary
	}
	end := bytes.IndexByte(heap[heapOffset:], 0)
	if end < 0 {
		return "", ErrOutsideBoundary
	}
	return string(heap[heapOffset : heapOffset+uint32(end)]), nil
}

// UserString resolves an offset into the #US heap; #US entries are length
// prefixed (a compressed unsigned) UTF-16 blobs, unlike #Strings which are
// simple NUL-terminated UTF-8.
func (r *Reader) UserString(heapOffset uint32) (string, error) {
	heap := r.streams["#US"]
	if heapOffset >= uint32(len(heap)) {
		return "", ErrOutsideBoundary
	}
	n, width, err := decodeUnsigned(heap, heapOffset)
	if err != nil {
		return "", err
	}
	start := heapOffset + width
	if n == 0 {
		return "", nil
	}
	// The last byte of a #US entry is a trailing marker byte, not part of
	// the UTF-16 payload.
	payloadLen := n
	if payloadLen > 0 {
		payloadLen--
	}
	if start+payloadLen > uint32(len(heap)) {
		return "", ErrOutsideBoundary
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := dec.Bytes(heap[start : start+payloadLen])
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Blob resolves an offset into the #Blob heap to its raw bytes (length
// prefix stripped).
func (r *Reader) Blob(heapOffset uint32) ([]byte, error) {
	heap := r.streams["#Blob"]
	if heapOffset >= uint32(len(heap)) {
		return nil, ErrOutsideBoundary
	}
	n, width, err := decodeUnsigned(heap, heapOffset)
	if err != nil {
		return nil, err
	}
	start := heapOffset + width
	if start+n > uint32(len(heap)) {
		return nil, ErrOutsideBoundary
	}
	return heap[start : start+n], nil
}

// GUID resolves a 1-based index into the #GUID heap (each entry is 16 bytes).
func (r *Reader) GUID(index uint32) ([16]byte, error) {
	var g [16]byte
	if index == 0 {
		return g, nil
	}
	heap := r.streams["#GUID"]
	off := (index - 1) * 16
	if off+16 > uint32(len(heap)) {
		return g, ErrOutsideBoundary
	}
	copy(g[:], heap[off:off+16])
	return g, nil
}

// decodeUnsigned implements the ECMA-335 compressed-unsigned-integer scheme
// used throughout the #Blob and #US heaps: the high bits of the first byte
// indicate how many bytes the value spans.
func decodeUnsigned(buf []byte, off uint32) (value uint32, width uint32, err error) {
	if off >= uint32(len(buf)) {
		return 0, 0, ErrOutsideBoundary
	}
	b0 := buf[off]
	switch {
	case b0&0x80 == 0:
		return uint32(b0), 1, nil
	case b0&0xC0 == 0x80:
		if off+2 > uint32(len(buf)) {
			return 0, 0, ErrOutsideBoundary
		}
		return (uint32(b0&0x3F) << 8) | uint32(buf[off+1]), 2, nil
	case b0&0xE0 == 0xC0:
		if off+4 > uint32(len(buf)) {
			return 0, 0, ErrOutsideBoundary
		}
		v := (uint32(b0&0x1F) << 24) | (uint32(buf[off+1]) << 16) |
			(uint32(buf[off+2]) << 8) | uint32(buf[off+3])
		return v, 4, nil
	default:
		return 0, 0, errors.New("ecma335: invalid compressed integer")
	}
}
