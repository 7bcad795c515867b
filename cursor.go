// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import "github.com/readytorun/r2rdump/internal/pefile"

// cursor is a little-endian byte reader over the image buffer that advances
// a caller-visible offset on every read, the way the teacher's helper.go
// read functions are used from file.go's parse loops - except here the
// caller (not the callee) owns the offset, since the R2R entrypoint/
// instance-method blobs interleave several differently-shaped reads one
// after another.
type cursor struct {
	img *pefile.File
	off uint32
}

func newCursor(img *pefile.File, off uint32) *cursor {
	return &cursor{img: img, off: off}
}

func (c *cursor) u8() (uint8, error) {
	v, err := c.img.ReadUint8(c.off)
	if err != nil {
		return 0, newError(BadImage, "u8", err)
	}
	c.off++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	v, err := c.img.ReadUint16(c.off)
	if err != nil {
		return 0, newError(BadImage, "u16", err)
	}
	c.off += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	v, err := c.img.ReadUint32(c.off)
	if err != nil {
		return 0, newError(BadImage, "u32", err)
	}
	c.off += 4
	return v, nil
}

func (c *cursor) i32() (int32, error) {
	v, err := c.u32()
	return int32(v), err
}

func (c *cursor) u64() (uint64, error) {
	v, err := c.img.ReadUint64(c.off)
	if err != nil {
		return 0, newError(BadImage, "u64", err)
	}
	c.off += 8
	return v, nil
}

func (c *cursor) i64() (int64, error) {
	v, err := c.u64()
	return int64(v), err
}

// unsigned decodes one NativeFormat compressed unsigned integer: the low
// bits of the first byte give the encoding width (1 to 5 bytes), and the
// value is reassembled from the remaining bits across that many bytes. This
// is the container-level varint scheme NativeArray, NativeHashtable and the
// method-entrypoint blobs all share; it is unrelated to (and narrower than)
// the ECMA-335 compressed-integer scheme internal/ecma335 uses for its
// heaps.
func (c *cursor) unsigned() (uint32, error) {
	b0, err := c.u8()
	if err != nil {
		return 0, err
	}
	switch {
	case b0&1 == 0:
		return uint32(b0) >> 1, nil
	case b0&2 == 0:
		b1, err := c.u8()
		if err != nil {
			return 0, err
		}
		return (uint32(b0) >> 2) | (uint32(b1) << 6), nil
	case b0&4 == 0:
		b1, err := c.u8()
		if err != nil {
			return 0, err
		}
		b2, err := c.u8()
		if err != nil {
			return 0, err
		}
		return (uint32(b0) >> 3) | (uint32(b1) << 5) | (uint32(b2) << 13), nil
	case b0&8 == 0:
		b1, err := c.u8()
		if err != nil {
			return 0, err
		}
		b2, err := c.u8()
		if err != nil {
			return 0, err
		}
		b3, err := c.u8()
		if err != nil {
			return 0, err
		}
		return (uint32(b0) >> 4) | (uint32(b1) << 4) | (uint32(b2) << 12) | (uint32(b3) << 20), nil
	default:
		return c.u32()
	}
}

// decodeUnsignedAt is the offset-in/offset-out form used by NativeArray and
// NativeHashtable, which need to report how many bytes a value consumed
// without mutating a shared cursor.
func decodeUnsignedAt(img *pefile.File, off uint32) (value uint32, next uint32, err error) {
	c := newCursor(img, off)
	value, err = c.unsigned()
	return value, c.off, err
}
