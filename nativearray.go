// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import "github.com/readytorun/r2rdump/internal/pefile"

// nativeArrayNotPresent is the sentinel entry value NativeArray uses to mark
// an absent index.
const nativeArrayNotPresent = 0

// NativeArray is a packed, randomly-indexable array of variable-width
// entries, used by ReadyToRun to map a sparse RID space (method definitions)
// to byte offsets of per-element payloads. Per Design Notes, this is a
// leverage point of the format and is kept as its own reusable decoder
// rather than inlined into the MethodDef entrypoint parser.
type NativeArray struct {
	img       *pefile.File
	base      uint32 // offset of the entry table, past the header
	entryBits uint32 // bit width of one entry: 2, 4, 8, 16 or 32
	n         uint32 // element count
}

// NewNativeArray parses the small header at off: the low 3 bits of the
// header byte select the entry bit width (2/4/8/16/32 - five values need
// more than a 2-bit tag), the remaining bits plus however many
// continuation bytes decodeUnsigned needs give the element count.
func NewNativeArray(img *pefile.File, off uint32) (*NativeArray, error) {
	val, next, err := decodeUnsignedAt(img, off)
	if err != nil {
		return nil, newError(BadImage, "NativeArray header", err)
	}
	var bits uint32
	switch val & 0x7 {
	case 0:
		bits = 8
	case 1:
		bits = 16
	case 2:
		bits = 32
	case 3:
		bits = 2
	case 4:
		bits = 4
	default:
		return nil, newError(BadImage, "NativeArray header", ErrInvalidEntryWidth)
	}
	// The remaining bits of the header value are low bits of the count; the
	// NativeFormat encoding shifts by 3 for the width tag.
	n := val >> 3
	return &NativeArray{img: img, base: next, entryBits: bits, n: n}, nil
}

// Count returns the number of indexable elements.
func (a *NativeArray) Count() uint32 { return a.n }

// TryGetAt returns the absolute file offset at which element index's
// varint-encoded payload begins, and whether that index is present (a
// "not present" slot holds the zero entry value).
func (a *NativeArray) TryGetAt(index uint32) (payloadOffset uint32, present bool, err error) {
	if index >= a.n {
		return 0, false, nil
	}
	bitOffset := index * a.entryBits
	byteOffset := a.base + bitOffset/8

	var raw uint32
	switch a.entryBits {
	case 2:
		b, rerr := a.img.ReadUint8(byteOffset)
		if rerr != nil {
			return 0, false, newError(BadImage, "NativeArray entry", rerr)
		}
		shift := bitOffset % 8
		raw = uint32((b >> shift) & 0x3)
	case 4:
		b, rerr := a.img.ReadUint8(byteOffset)
		if rerr != nil {
			return 0, false, newError(BadImage, "NativeArray entry", rerr)
		}
		shift := bitOffset % 8
		raw = uint32((b >> shift) & 0xF)
	case 8:
		b, rerr := a.img.ReadUint8(byteOffset)
		if rerr != nil {
			return 0, false, newError(BadImage, "NativeArray entry", rerr)
		}
		raw = uint32(b)
	case 16:
		v, rerr := a.img.ReadUint16(byteOffset)
		if rerr != nil {
			return 0, false, newError(BadImage, "NativeArray entry", rerr)
		}
		raw = uint32(v)
	case 32:
		v, rerr := a.img.ReadUint32(byteOffset)
		if rerr != nil {
			return 0, false, newError(BadImage, "NativeArray entry", rerr)
		}
		raw = v
	}
	if raw == nativeArrayNotPresent {
		return 0, false, nil
	}
	// The stored value is the 1-based offset (in units of the entry's own
	// bit width's byte granularity) from the end of the entry table to the
	// element's payload; entry 0 is reserved as "absent".
	return a.base + (a.n*a.entryBits+7)/8 + (raw - 1), true, nil
}
