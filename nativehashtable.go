// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package r2r

import "github.com/readytorun/r2rdump/internal/pefile"

// NativeHashtable is a bucketed hash table keyed by an 8-bit "low hash"
// (the caller's full hash, truncated to its low byte), used by ReadyToRun
// for the instance-method-entrypoints and available-types sections. Per
// Design Notes this is a reusable decoder with its own tests, not inlined
// logic.
//
// Layout: a one-byte header whose low 3 bits give NumberOfBucketsShift (bucket
// count = 1 << shift); a table of (bucketCount+1) uint32 offsets, each
// relative to the end of that table, giving where a bucket's entry stream
// starts (and, for the last bucket, where it ends); then, per bucket, a run
// of (lowHash byte, payload offset varint) pairs with no explicit
// terminator - the next bucket's start offset (or the section end) bounds
// it.
type NativeHashtable struct {
	img         *pefile.File
	bucketTable uint32 // offset of the (bucketCount+1)-entry offset table
	entriesBase uint32 // offset the per-bucket offsets are relative to
	buckets     uint32
	end         uint32 // one past the last valid byte of the table
}

// HashEntry is one decoded NativeHashtable entry.
type HashEntry struct {
	LowHash       uint8
	PayloadOffset uint32
}

// NewNativeHashtable parses the header at off; size bounds the whole
// section so enumeration knows where the last bucket ends.
func NewNativeHashtable(img *pefile.File, off, size uint32) (*NativeHashtable, error) {
	hdr, err := img.ReadUint8(off)
	if err != nil {
		return nil, newError(BadImage, "NativeHashtable header", err)
	}
	shift := uint32(hdr & 0x7)
	buckets := uint32(1) << shift
	bucketTable := off + 1
	entriesBase := bucketTable + (buckets+1)*4
	return &NativeHashtable{
		img:         img,
		bucketTable: bucketTable,
		entriesBase: entriesBase,
		buckets:     buckets,
		end:         off + size,
	}, nil
}

func (h *NativeHashtable) bucketBounds(bucket uint32) (start, end uint32, err error) {
	s, err := h.img.ReadUint32(h.bucketTable + bucket*4)
	if err != nil {
		return 0, 0, newError(BadImage, "NativeHashtable bucket start", err)
	}
	e, err := h.img.ReadUint32(h.bucketTable + (bucket+1)*4)
	if err != nil {
		return 0, 0, newError(BadImage, "NativeHashtable bucket end", err)
	}
	return h.entriesBase + s, h.entriesBase + e, nil
}

// EnumerateAll visits every entry across every bucket; ordering is
// bucket-major, not otherwise specified by the format.
func (h *NativeHashtable) EnumerateAll(visit func(HashEntry) error) error {
	for b := uint32(0); b < h.buckets; b++ {
		start, end, err := h.bucketBounds(b)
		if err != nil {
			return err
		}
		if end > h.end {
			end = h.end
		}
		off := start
		for off < end {
			lowHash, err := h.img.ReadUint8(off)
			if err != nil {
				return newError(BadImage, "NativeHashtable entry hash", err)
			}
			off++
			payload, next, err := decodeUnsignedAt(h.img, off)
			if err != nil {
				return newError(BadImage, "NativeHashtable entry payload", err)
			}
			off = next
			if err := visit(HashEntry{LowHash: lowHash, PayloadOffset: payload}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lookup visits every entry in the bucket matching fullHash&0xFF, skipping
// entries whose low-hash byte does not match (since a bucket may contain
// distinct keys that happen to share a bucket index but not a low-hash
// byte).
func (h *NativeHashtable) Lookup(fullHash uint32, visit func(HashEntry) error) error {
	bucket := (fullHash >> 0) & (h.buckets - 1)
	start, end, err := h.bucketBounds(bucket)
	if err != nil {
		return err
	}
	if end > h.end {
		end = h.end
	}
	want := uint8(fullHash & 0xFF)
	off := start
	for off < end {
		lowHash, err := h.img.ReadUint8(off)
		if err != nil {
			return newError(BadImage, "NativeHashtable entry hash", err)
		}
		off++
		payload, next, err := decodeUnsignedAt(h.img, off)
		if err != nil {
			return newError(BadImage, "NativeHashtable entry payload", err)
		}
		off = next
		if lowHash == want {
			if err := visit(HashEntry{LowHash: lowHash, PayloadOffset: payload}); err != nil {
				return err
			}
		}
	}
	return nil
}
